// Package sqlcommon contains the record store implementation shared by the
// SQL backends.
package sqlcommon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/logger"
	"github.com/relationsync/relationsync/pkg/storage"
)

// Store implements [storage.RecordStore] over a database/sql handle. The
// backends differ only in driver, DSN preparation, and placeholder format.
type Store struct {
	db               *sql.DB
	stbl             sq.StatementBuilderType
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
}

var _ storage.RecordStore = (*Store)(nil)

type Option func(*Store)

func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMetrics registers a DBStats collector for the handle under the given
// name.
func WithMetrics(name string) Option {
	return func(s *Store) {
		s.dbStatsCollector = collectors.NewDBStatsCollector(s.db, name)
	}
}

// NewStore wraps db. The placeholder format must match the backend's dialect.
func NewStore(db *sql.DB, placeholder sq.PlaceholderFormat, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		stbl:   sq.StatementBuilder.PlaceholderFormat(placeholder).RunWith(db),
		logger: logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dbStatsCollector != nil {
		if err := prometheus.Register(s.dbStatsCollector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, ref domain.ObjectRef) (*storage.SyncRecord, error) {
	row := s.stbl.
		Select("status", "relationships", "last_synced_at", "updated_at").
		From("sync_records").
		Where(sq.Eq{"object_type": string(ref.Type), "object_id": ref.ID}).
		QueryRowContext(ctx)

	var (
		status       string
		encoded      string
		lastSyncedAt sql.NullTime
		record       storage.SyncRecord
	)
	err := row.Scan(&status, &encoded, &lastSyncedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync record for %s: %w", ref, err)
	}

	record.Ref = ref
	record.Status = storage.Status(status)
	if lastSyncedAt.Valid {
		record.LastSyncedAt = lastSyncedAt.Time
	}
	record.LastApplied, err = decodeRelationships(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sync record for %s: %w", ref, err)
	}
	return &record, nil
}

func (s *Store) Upsert(ctx context.Context, record *storage.SyncRecord) error {
	_, err := s.stbl.
		Insert("sync_records").
		Columns("object_type", "object_id", "status", "relationships", "last_synced_at", "updated_at").
		Values(
			string(record.Ref.Type),
			record.Ref.ID,
			string(record.Status),
			encodeRelationships(record.LastApplied),
			nullableTime(record.LastSyncedAt),
			record.UpdatedAt,
		).
		Suffix(`ON CONFLICT (object_type, object_id) DO UPDATE SET
			status = excluded.status,
			relationships = excluded.relationships,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("upsert sync record for %s: %w", record.Ref, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ref domain.ObjectRef) error {
	_, err := s.stbl.
		Delete("sync_records").
		Where(sq.Eq{"object_type": string(ref.Type), "object_id": ref.ID}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("delete sync record for %s: %w", ref, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*storage.SyncRecord, error) {
	rows, err := s.stbl.
		Select("object_type", "object_id", "status", "relationships", "last_synced_at", "updated_at").
		From("sync_records").
		OrderBy("object_type", "object_id").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer rows.Close()

	var out []*storage.SyncRecord
	for rows.Next() {
		var (
			objectType   string
			encoded      string
			status       string
			lastSyncedAt sql.NullTime
			record       storage.SyncRecord
		)
		if err := rows.Scan(&objectType, &record.Ref.ID, &status, &encoded, &lastSyncedAt, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		record.Ref.Type = domain.ObjectType(objectType)
		record.Status = storage.Status(status)
		if lastSyncedAt.Valid {
			record.LastSyncedAt = lastSyncedAt.Time
		}
		record.LastApplied, err = decodeRelationships(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode sync record for %s: %w", record.Ref, err)
		}
		out = append(out, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	return out, nil
}

func (s *Store) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close database connection", errField(err))
	}
}

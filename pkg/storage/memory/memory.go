// Package memory provides an ephemeral memory-backed implementation of
// [storage.RecordStore]. Instances may be safely shared by multiple
// goroutines.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/storage"
)

type RecordStore struct {
	mu      sync.RWMutex
	records map[domain.ObjectRef]*storage.SyncRecord
}

var _ storage.RecordStore = (*RecordStore)(nil)

func New() *RecordStore {
	return &RecordStore{records: make(map[domain.ObjectRef]*storage.SyncRecord)}
}

func (s *RecordStore) Get(ctx context.Context, ref domain.ObjectRef) (*storage.SyncRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[ref]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyRecord(record), nil
}

func (s *RecordStore) Upsert(ctx context.Context, record *storage.SyncRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Ref] = copyRecord(record)
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, ref domain.ObjectRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ref)
	return nil
}

func (s *RecordStore) List(ctx context.Context) ([]*storage.SyncRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.SyncRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, copyRecord(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.String() < out[j].Ref.String() })
	return out, nil
}

func (s *RecordStore) Close() {}

func copyRecord(record *storage.SyncRecord) *storage.SyncRecord {
	cp := *record
	if record.LastApplied != nil {
		cp.LastApplied = record.LastApplied.Clone()
	}
	return &cp
}

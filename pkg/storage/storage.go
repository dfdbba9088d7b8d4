// Package storage contains the sync record store interface and its
// implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/tuple"
)

// Status is the sync state of one tracked domain object. Synced is the only
// at-rest state; a live object re-enters Syncing on every mutation or
// detected drift, and Failed re-enters Syncing on the next reconciliation
// pass.
type Status string

const (
	StatusUnsynced Status = "unsynced"
	StatusSyncing  Status = "syncing"
	StatusSynced   Status = "synced"
	StatusFailed   Status = "failed"
)

// SyncRecord tracks what was last successfully pushed for one domain object,
// enabling delta computation without re-reading the remote store on every
// mutation.
type SyncRecord struct {
	Ref          domain.ObjectRef
	LastApplied  *tuple.Set
	Status       Status
	LastSyncedAt time.Time
	UpdatedAt    time.Time
}

// ErrNotFound is returned when no sync record exists for a domain object,
// i.e. it has never been synced.
var ErrNotFound = errors.New("sync record not found")

// RecordStore persists sync records. Implementations must be safe for
// concurrent use; the engine serializes writes per domain object above this
// layer.
type RecordStore interface {
	// Get returns the record for ref, or ErrNotFound.
	Get(ctx context.Context, ref domain.ObjectRef) (*SyncRecord, error)

	// Upsert creates or replaces the record for record.Ref.
	Upsert(ctx context.Context, record *SyncRecord) error

	// Delete removes the record for ref. Deleting an absent record is a
	// no-op: record deletion follows a successful empty-set sync, which may
	// be retried.
	Delete(ctx context.Context, ref domain.ObjectRef) error

	// List returns every record, for reconciliation sweeps.
	List(ctx context.Context) ([]*SyncRecord, error)

	// Close releases any held resources.
	Close()
}

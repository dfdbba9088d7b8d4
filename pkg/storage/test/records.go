// Package test contains a conformance suite every RecordStore implementation
// must pass.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/storage"
	"github.com/relationsync/relationsync/pkg/tuple"
)

// RunRecordStoreTest runs the conformance suite against store.
func RunRecordStoreTest(t *testing.T, store storage.RecordStore) {
	t.Helper()
	ctx := context.Background()

	ref := domain.GroupRef("9aca5b38-6bec-4a99-ae3c-54dc7f95f718")
	membership, err := tuple.Parse("group:9aca5b38-6bec-4a99-ae3c-54dc7f95f718#member@user:user_dev")
	require.NoError(t, err)
	nested, err := tuple.Parse("group:9aca5b38-6bec-4a99-ae3c-54dc7f95f718#member@group:platform#member")
	require.NoError(t, err)

	t.Run("get_missing_record", func(t *testing.T) {
		_, err := store.Get(ctx, domain.GroupRef("missing"))
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("upsert_then_get", func(t *testing.T) {
		syncedAt := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, store.Upsert(ctx, &storage.SyncRecord{
			Ref:          ref,
			LastApplied:  tuple.NewSet(membership, nested),
			Status:       storage.StatusSynced,
			LastSyncedAt: syncedAt,
			UpdatedAt:    syncedAt,
		}))

		got, err := store.Get(ctx, ref)
		require.NoError(t, err)
		require.Equal(t, ref, got.Ref)
		require.Equal(t, storage.StatusSynced, got.Status)
		require.True(t, got.LastApplied.Equal(tuple.NewSet(membership, nested)))
		require.Equal(t, syncedAt, got.LastSyncedAt.UTC().Truncate(time.Second))
	})

	t.Run("upsert_replaces", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, store.Upsert(ctx, &storage.SyncRecord{
			Ref:         ref,
			LastApplied: tuple.NewSet(membership),
			Status:      storage.StatusFailed,
			UpdatedAt:   now,
		}))

		got, err := store.Get(ctx, ref)
		require.NoError(t, err)
		require.Equal(t, storage.StatusFailed, got.Status)
		require.Equal(t, 1, got.LastApplied.Len())
		require.True(t, got.LastSyncedAt.IsZero())
	})

	t.Run("empty_set_round_trips", func(t *testing.T) {
		empty := domain.RoleRef("r-empty")
		require.NoError(t, store.Upsert(ctx, &storage.SyncRecord{
			Ref:         empty,
			LastApplied: tuple.NewSet(),
			Status:      storage.StatusSyncing,
			UpdatedAt:   time.Now().UTC(),
		}))

		got, err := store.Get(ctx, empty)
		require.NoError(t, err)
		require.Equal(t, 0, got.LastApplied.Len())
		require.NoError(t, store.Delete(ctx, empty))
	})

	t.Run("list", func(t *testing.T) {
		other := domain.RoleRef("r1")
		require.NoError(t, store.Upsert(ctx, &storage.SyncRecord{
			Ref:         other,
			LastApplied: tuple.NewSet(),
			Status:      storage.StatusSynced,
			UpdatedAt:   time.Now().UTC(),
		}))

		records, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)

		refs := []domain.ObjectRef{records[0].Ref, records[1].Ref}
		require.Contains(t, refs, ref)
		require.Contains(t, refs, other)
		require.NoError(t, store.Delete(ctx, other))
	})

	t.Run("delete_is_idempotent", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, ref))
		require.NoError(t, store.Delete(ctx, ref))

		_, err := store.Get(ctx, ref)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/relationsync/relationsync/internal/translate"
	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/storage"
	"github.com/relationsync/relationsync/pkg/storage/memory"
	"github.com/relationsync/relationsync/pkg/tuple"
)

type fixture struct {
	reader  *domain.StaticReader
	records *memory.RecordStore
	client  *recordingClient
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reader := domain.NewStaticReader()
	records := memory.New()
	client := newRecordingClient()
	executor := NewExecutor(client, WithBackOff(fastBackOff))
	engine := NewEngine(reader, records, client, executor)
	t.Cleanup(engine.Close)
	return &fixture{reader: reader, records: records, client: client, engine: engine}
}

func canonicalFor(t *testing.T, reader domain.StateReader, ref domain.ObjectRef) *tuple.Set {
	t.Helper()
	set, _, err := translate.Canonical(context.Background(), reader, ref)
	require.NoError(t, err)
	return set
}

func TestSyncNowFirstSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev"}, Subgroups: []string{"platform"}})

	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))

	canonical := canonicalFor(t, f.reader, domain.GroupRef("g1"))
	require.True(t, f.client.All().Equal(canonical))

	record, err := f.records.Get(ctx, domain.GroupRef("g1"))
	require.NoError(t, err)
	require.Equal(t, storage.StatusSynced, record.Status)
	require.True(t, record.LastApplied.Equal(canonical))
	require.False(t, record.LastSyncedAt.IsZero())
}

func TestSyncNowAppliesMinimalDelta(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev", "user_ops"}})
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))

	f.reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev", "user_new"}})
	opsBefore := len(f.client.ops)
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))

	require.True(t, f.client.All().Equal(canonicalFor(t, f.reader, domain.GroupRef("g1"))))

	// One touch write for the new member, one delete for the removed one.
	delta := f.client.ops[opsBefore:]
	require.Len(t, delta, 2)
	require.Len(t, delta[0].rels, 1)
	require.Equal(t, "group:g1#member@user:user_new", delta[0].rels[0].String())
	require.Len(t, delta[1].rels, 1)
	require.Equal(t, "group:g1#member@user:user_ops", delta[1].rels[0].String())
}

func TestSyncNowNoChangeIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev"}})
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))

	opsBefore := len(f.client.ops)
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))
	require.Len(t, f.client.ops, opsBefore, "unchanged state must not reach the store")
}

func TestSyncNowDeletesDomainObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev"}})
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))
	require.NotZero(t, f.client.All().Len())

	f.reader.DeleteGroup("g1")
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))

	require.Zero(t, f.client.All().Len())
	_, err := f.records.Get(ctx, domain.GroupRef("g1"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// TestGroupDeletionCascade covers the deletion scenario: removing a group
// tears down its own member tuples and, once the affected role resyncs, the
// binding tuples naming it as subject, while bindings for other groups stay
// untouched.
func TestGroupDeletionCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	perm, err := domain.ParsePermission("inventory:hosts:read")
	require.NoError(t, err)

	f.reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev"}})
	f.reader.SetGroup(&domain.GroupState{ID: "g2", Principals: []string{"user_ops"}})
	f.reader.SetRole(&domain.RoleState{
		ID:                 "r1",
		Accesses:           []domain.Access{{Permission: perm}},
		Groups:             []string{"g1", "g2"},
		DefaultWorkspaceID: "ws-default",
	})

	for _, ref := range []domain.ObjectRef{domain.GroupRef("g1"), domain.GroupRef("g2"), domain.RoleRef("r1")} {
		require.NoError(t, f.engine.SyncNow(ctx, ref))
	}

	// The RBAC layer deletes g1 and drops it from r1's bindings, then
	// notifies for both affected objects.
	f.reader.DeleteGroup("g1")
	f.reader.SetRole(&domain.RoleState{
		ID:                 "r1",
		Accesses:           []domain.Access{{Permission: perm}},
		Groups:             []string{"g2"},
		DefaultWorkspaceID: "ws-default",
	})
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))
	require.NoError(t, f.engine.SyncNow(ctx, domain.RoleRef("r1")))

	for _, r := range f.client.All().Slice() {
		require.NotEqual(t, "group:g1", r.Object.String(), "tuple with deleted group as object survived: %s", r)
		if r.Subject.Relation != "" {
			require.NotEqual(t, "group:g1", r.Subject.Object.String(), "tuple with deleted group as subject survived: %s", r)
		}
	}

	// g2's membership and binding are intact.
	require.True(t, f.client.All().Contains(rel(t, "group:g2#member@user:user_ops")))
	binding := translate.BindingID("r1", "g2",
		tuple.NewObject(translate.TypeRole, "r1"),
		tuple.NewObject(translate.TypeWorkspace, "ws-default"))
	require.True(t, f.client.All().Contains(rel(t, "role_binding:"+binding+"#subject@group:g2#member")))
}

func TestSyncNowIncompleteState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	perm, err := domain.ParsePermission("inventory:hosts:read")
	require.NoError(t, err)

	// Role references a default workspace that is not set: translation must
	// refuse rather than derive a partial set.
	f.reader.SetRole(&domain.RoleState{ID: "r1", Accesses: []domain.Access{{Permission: perm}}})

	err = f.engine.SyncNow(ctx, domain.RoleRef("r1"))
	require.True(t, translate.IsIncompleteState(err))
	require.Zero(t, f.client.All().Len())
}

func TestSyncNowRecordsFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev"}})

	// Two injected failures exhaust the initial attempt plus one retry.
	f.engine.executor.maxRetries = 1
	f.client.failWrites(
		status.Error(codes.Unavailable, "store unavailable"),
		status.Error(codes.Unavailable, "store unavailable"),
	)

	err := f.engine.SyncNow(ctx, domain.GroupRef("g1"))
	require.True(t, IsUnavailable(err))

	record, err := f.records.Get(ctx, domain.GroupRef("g1"))
	require.NoError(t, err)
	require.Equal(t, storage.StatusFailed, record.Status)
	require.Zero(t, record.LastApplied.Len(), "failed first sync must not claim applied tuples")

	// The retry budget resets on the next attempt and the object recovers.
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))
	record, err = f.records.Get(ctx, domain.GroupRef("g1"))
	require.NoError(t, err)
	require.Equal(t, storage.StatusSynced, record.Status)
}

func TestOnDomainObjectChangedCoalesces(t *testing.T) {
	defer goleak.VerifyNone(t)

	reader := domain.NewStaticReader()
	records := memory.New()
	client := newRecordingClient()
	engine := NewEngine(reader, records, client, NewExecutor(client, WithBackOff(fastBackOff)))

	reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev"}})
	for range [25]struct{}{} {
		engine.OnDomainObjectChanged(domain.GroupRef("g1"))
	}
	engine.Close()

	canonical, _, err := translate.Canonical(context.Background(), reader, domain.GroupRef("g1"))
	require.NoError(t, err)
	require.True(t, client.All().Equal(canonical))

	record, err := records.Get(context.Background(), domain.GroupRef("g1"))
	require.NoError(t, err)
	require.Equal(t, storage.StatusSynced, record.Status)
}

func TestConcurrentObjectsSyncIndependently(t *testing.T) {
	defer goleak.VerifyNone(t)

	reader := domain.NewStaticReader()
	records := memory.New()
	client := newRecordingClient()
	engine := NewEngine(reader, records, client, NewExecutor(client, WithBackOff(fastBackOff)), WithMaxConcurrentSyncs(4))

	refs := make([]domain.ObjectRef, 0, 10)
	for _, id := range []string{"g1", "g2", "g3", "g4", "g5", "g6", "g7", "g8", "g9", "g10"} {
		reader.SetGroup(&domain.GroupState{ID: id, Principals: []string{"user_" + id}})
		refs = append(refs, domain.GroupRef(id))
	}
	for _, ref := range refs {
		engine.OnDomainObjectChanged(ref)
	}
	engine.Close()

	for _, ref := range refs {
		record, err := records.Get(context.Background(), ref)
		require.NoError(t, err)
		require.Equal(t, storage.StatusSynced, record.Status)
	}
	require.Equal(t, 10, client.All().Len())
}

func TestReconcileNowRepairsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev", "user_ops"}})
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))

	// Simulate a lost write and a manual edit.
	f.client.Drop(rel(t, "group:g1#member@user:user_dev"))
	f.client.Seed(rel(t, "group:g1#member@user:intruder"))

	drifted, err := f.engine.ReconcileNow(ctx, domain.GroupRef("g1"))
	require.NoError(t, err)
	require.True(t, drifted)
	require.True(t, f.client.All().Equal(canonicalFor(t, f.reader, domain.GroupRef("g1"))))

	drifted, err = f.engine.ReconcileNow(ctx, domain.GroupRef("g1"))
	require.NoError(t, err)
	require.False(t, drifted)
}

// TestReconcileNowConvergesFromArbitraryCorruption covers the convergence
// property: whatever the store holds for the object's tuple space, one pass
// restores the canonical set.
func TestReconcileNowConvergesFromArbitraryCorruption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	perm, err := domain.ParsePermission("cost-management:*:read")
	require.NoError(t, err)
	f.reader.SetRole(&domain.RoleState{
		ID: "r1",
		Accesses: []domain.Access{{
			Permission:          perm,
			ResourceDefinitions: []domain.ResourceDefinition{{Key: "aws.account", Operation: "equal", Values: []string{"123456"}}},
		}},
		Groups:             []string{"g1"},
		DefaultWorkspaceID: "ws-default",
	})
	require.NoError(t, f.engine.SyncNow(ctx, domain.RoleRef("r1")))

	canonical := canonicalFor(t, f.reader, domain.RoleRef("r1"))
	subRole := translate.SubRoleID("r1", perm, []domain.ResourceDefinition{{Key: "aws.account", Operation: "equal", Values: []string{"123456"}}})

	// Wipe everything, then plant garbage in the role's own tuple space.
	for _, r := range f.client.All().Slice() {
		f.client.Drop(r)
	}
	f.client.Seed(rel(t, "role:"+subRole+"#cost_management_all_read@user:intruder"))
	f.client.Seed(rel(t, "rbac/v1role:r1#role@role:bogus"))

	drifted, err := f.engine.ReconcileNow(ctx, domain.RoleRef("r1"))
	require.NoError(t, err)
	require.True(t, drifted)
	require.True(t, f.client.All().Equal(canonical))
}

// A reconciliation pass for one role must not disturb another role's scope
// attachments on a shared resource node.
func TestReconcileNowLeavesSharedScopeNodesAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	perm, err := domain.ParsePermission("cost-management:*:read")
	require.NoError(t, err)
	defs := []domain.ResourceDefinition{{Key: "aws.account", Operation: "equal", Values: []string{"123456"}}}
	for _, id := range []string{"r1", "r2"} {
		f.reader.SetRole(&domain.RoleState{
			ID:                 id,
			Accesses:           []domain.Access{{Permission: perm, ResourceDefinitions: defs}},
			Groups:             []string{"g-" + id},
			DefaultWorkspaceID: "ws-default",
		})
		require.NoError(t, f.engine.SyncNow(ctx, domain.RoleRef(id)))
	}

	before := f.client.All()
	drifted, err := f.engine.ReconcileNow(ctx, domain.RoleRef("r1"))
	require.NoError(t, err)
	require.False(t, drifted)
	require.True(t, f.client.All().Equal(before))
}

func TestReconcileNowTearsDownOrphanedRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.reader.SetGroup(&domain.GroupState{ID: "g1", Principals: []string{"user_dev"}})
	require.NoError(t, f.engine.SyncNow(ctx, domain.GroupRef("g1")))

	// The group is deleted but the deletion event was lost.
	f.reader.DeleteGroup("g1")

	drifted, err := f.engine.ReconcileNow(ctx, domain.GroupRef("g1"))
	require.NoError(t, err)
	require.True(t, drifted)
	require.Zero(t, f.client.All().Len())

	_, err = f.records.Get(ctx, domain.GroupRef("g1"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

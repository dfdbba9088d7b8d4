package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/relations"
	"github.com/relationsync/relationsync/pkg/tuple"
)

type op struct {
	kind string // "write" or "delete"
	rels []tuple.Relationship
}

// recordingClient wraps the in-memory store, recording operations in order
// and optionally failing a number of calls first.
type recordingClient struct {
	*relations.Memory

	mu         sync.Mutex
	ops        []op
	writeErrs  []error
	deleteErrs []error
}

func newRecordingClient() *recordingClient {
	return &recordingClient{Memory: relations.NewMemory()}
}

func (c *recordingClient) failWrites(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErrs = append(c.writeErrs, errs...)
}

func (c *recordingClient) Write(ctx context.Context, touch bool, rels []tuple.Relationship) error {
	c.mu.Lock()
	var injected error
	if len(c.writeErrs) > 0 {
		injected = c.writeErrs[0]
		c.writeErrs = c.writeErrs[1:]
	}
	c.mu.Unlock()
	if injected != nil {
		return injected
	}

	if err := c.Memory.Write(ctx, touch, rels); err != nil {
		return err
	}
	c.mu.Lock()
	c.ops = append(c.ops, op{kind: "write", rels: rels})
	c.mu.Unlock()
	return nil
}

func (c *recordingClient) Delete(ctx context.Context, rels []tuple.Relationship) error {
	c.mu.Lock()
	var injected error
	if len(c.deleteErrs) > 0 {
		injected = c.deleteErrs[0]
		c.deleteErrs = c.deleteErrs[1:]
	}
	c.mu.Unlock()
	if injected != nil {
		return injected
	}

	if err := c.Memory.Delete(ctx, rels); err != nil {
		return err
	}
	c.mu.Lock()
	c.ops = append(c.ops, op{kind: "delete", rels: rels})
	c.mu.Unlock()
	return nil
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func rel(t *testing.T, s string) tuple.Relationship {
	t.Helper()
	r, err := tuple.Parse(s)
	require.NoError(t, err)
	return r
}

func TestApplyWritesGrantsBeforeRevokes(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	oldGrant := rel(t, "role_binding:b1#granted@role:old")
	client.Seed(oldGrant)

	newGrant := rel(t, "role_binding:b1#granted@role:new")
	executor := NewExecutor(client, WithBackOff(fastBackOff))

	require.NoError(t, executor.Apply(ctx, domain.RoleRef("r1"),
		tuple.NewSet(newGrant), tuple.NewSet(oldGrant)))

	require.Len(t, client.ops, 2)
	require.Equal(t, "write", client.ops[0].kind)
	require.Equal(t, "delete", client.ops[1].kind)

	// Replaying the operations, the binding always holds at least one grant:
	// a check performed mid-sync never observes zero access for a replace.
	store := tuple.NewSet(oldGrant)
	for _, o := range client.ops {
		for _, r := range o.rels {
			if o.kind == "write" {
				store.Add(r)
			} else {
				store.Remove(r)
			}
		}
		require.True(t, store.Contains(oldGrant) || store.Contains(newGrant),
			"observable window with zero grants during replacement")
	}
	require.True(t, client.All().Contains(newGrant))
	require.False(t, client.All().Contains(oldGrant))
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	executor := NewExecutor(client, WithBackOff(fastBackOff))

	add := tuple.NewSet(
		rel(t, "group:g1#member@user:user_dev"),
		rel(t, "group:g1#member@user:user_ops"),
	)

	require.NoError(t, executor.Apply(ctx, domain.GroupRef("g1"), add, tuple.NewSet()))
	require.NoError(t, executor.Apply(ctx, domain.GroupRef("g1"), add, tuple.NewSet()))
	require.True(t, client.All().Equal(add))
}

func TestApplyBatches(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	executor := NewExecutor(client, WithBackOff(fastBackOff), WithMaxTuplesPerWrite(2))

	add := tuple.NewSet(
		rel(t, "group:g1#member@user:u1"),
		rel(t, "group:g1#member@user:u2"),
		rel(t, "group:g1#member@user:u3"),
		rel(t, "group:g1#member@user:u4"),
		rel(t, "group:g1#member@user:u5"),
	)

	require.NoError(t, executor.Apply(ctx, domain.GroupRef("g1"), add, tuple.NewSet()))
	require.Len(t, client.ops, 3)
	require.Len(t, client.ops[0].rels, 2)
	require.Len(t, client.ops[1].rels, 2)
	require.Len(t, client.ops[2].rels, 1)
	require.True(t, client.All().Equal(add))
}

func TestApplyRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	client.failWrites(
		status.Error(codes.Unavailable, "store unavailable"),
		status.Error(codes.DeadlineExceeded, "timed out"),
	)
	executor := NewExecutor(client, WithBackOff(fastBackOff))

	add := tuple.NewSet(rel(t, "group:g1#member@user:user_dev"))
	require.NoError(t, executor.Apply(ctx, domain.GroupRef("g1"), add, tuple.NewSet()))
	require.True(t, client.All().Equal(add))
}

func TestApplyExhaustsRetryBudget(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	for range [10]struct{}{} {
		client.failWrites(status.Error(codes.Unavailable, "store unavailable"))
	}
	executor := NewExecutor(client, WithBackOff(fastBackOff), WithMaxRetries(2))

	err := executor.Apply(ctx, domain.GroupRef("g1"),
		tuple.NewSet(rel(t, "group:g1#member@user:user_dev")), tuple.NewSet())
	require.True(t, IsUnavailable(err), "expected unavailable, got %v", err)
}

func TestApplyDoesNotRetryRejections(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	executor := NewExecutor(client, WithBackOff(fastBackOff))

	malformed := tuple.Relationship{
		Object:   tuple.NewObject("", "g1"),
		Relation: "member",
		Subject:  tuple.Direct(tuple.NewObject("user", "user_dev")),
	}

	err := executor.Apply(ctx, domain.GroupRef("g1"), tuple.NewSet(malformed), tuple.NewSet())
	require.True(t, IsRejected(err), "expected rejected, got %v", err)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.NotNil(t, syncErr.Relationship)
	require.Equal(t, malformed, *syncErr.Relationship)
	require.Empty(t, client.ops, "rejected write must not be retried")
}

func TestApplyIsResumable(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	executor := NewExecutor(client, WithBackOff(fastBackOff), WithMaxTuplesPerWrite(1), WithMaxRetries(0))

	add := tuple.NewSet(
		rel(t, "group:g1#member@user:u1"),
		rel(t, "group:g1#member@user:u2"),
	)

	// First batch lands, second fails: partial application.
	client.failWrites(nil, status.Error(codes.Unavailable, "store unavailable"))
	err := executor.Apply(ctx, domain.GroupRef("g1"), add, tuple.NewSet())
	require.True(t, IsUnavailable(err))
	require.Equal(t, 1, client.All().Len())

	// The retry re-issues the whole delta; already-written tuples are
	// re-touched without error.
	require.NoError(t, executor.Apply(ctx, domain.GroupRef("g1"), add, tuple.NewSet()))
	require.True(t, client.All().Equal(add))
}

package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/relationsync/relationsync/internal/translate"
	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/logger"
	"github.com/relationsync/relationsync/pkg/relations"
	"github.com/relationsync/relationsync/pkg/storage"
	"github.com/relationsync/relationsync/pkg/tuple"
)

var tracer = otel.Tracer("relationsync/internal/syncer")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "syncer."+name)
}

const defaultMaxConcurrentSyncs = 16

// Engine keeps the relationship store derived from RBAC state. It is the
// store's sole writer of derived tuples.
//
// Syncs for one domain object are totally ordered: the per-object mutex
// serializes mutation-driven syncs and reconciliation passes, and each sync
// translates the freshest RBAC state, so the later submission always wins.
// Syncs for distinct domain objects proceed concurrently; their canonical
// sets never overlap.
type Engine struct {
	reader   domain.StateReader
	records  storage.RecordStore
	client   relations.Client
	executor *Executor
	logger   logger.Logger

	limiter chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	objects map[domain.ObjectRef]*objectState
	closed  bool
}

// objectState carries the per-domain-object serialization lock and the
// coalescing state of the background worker.
type objectState struct {
	mu     sync.Mutex
	dirty  bool
	active bool
}

type EngineOption func(*Engine)

func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMaxConcurrentSyncs bounds how many domain objects may sync at once.
func WithMaxConcurrentSyncs(n int) EngineOption {
	return func(e *Engine) {
		e.limiter = make(chan struct{}, n)
	}
}

func NewEngine(reader domain.StateReader, records storage.RecordStore, client relations.Client, executor *Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		reader:   reader,
		records:  records,
		client:   client,
		executor: executor,
		logger:   logger.NewNoopLogger(),
		limiter:  make(chan struct{}, defaultMaxConcurrentSyncs),
		objects:  make(map[domain.ObjectRef]*objectState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnDomainObjectChanged is the mutation-event entry point, invoked after an
// RBAC write commits. The sync runs asynchronously; a pending sync for the
// same object that has not yet dispatched is superseded rather than queued,
// since the newer translation covers it.
func (e *Engine) OnDomainObjectChanged(ref domain.ObjectRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.logger.Warn("dropping change event on closed engine", zap.String("domain_object", ref.String()))
		return
	}

	state := e.objectStateLocked(ref)
	state.dirty = true
	if !state.active {
		state.active = true
		e.wg.Add(1)
		go e.worker(ref, state)
	}
}

func (e *Engine) worker(ref domain.ObjectRef, state *objectState) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if !state.dirty {
			state.active = false
			e.mu.Unlock()
			return
		}
		state.dirty = false
		e.mu.Unlock()

		e.limiter <- struct{}{}
		err := e.SyncNow(context.Background(), ref)
		<-e.limiter

		if err != nil {
			// The object is recorded as failed; the next reconciliation
			// pass retries it.
			e.logger.Error("sync failed",
				zap.String("domain_object", ref.String()),
				zap.Error(err),
			)
		}
	}
}

// Close waits for in-flight background syncs to finish. Further change
// events are dropped.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

// SyncNow synchronously syncs one domain object against the last applied
// set recorded for it.
func (e *Engine) SyncNow(ctx context.Context, ref domain.ObjectRef) error {
	ctx, span := startTrace(ctx, "SyncNow")
	defer span.End()

	state := e.objectState(ref)
	state.mu.Lock()
	defer state.mu.Unlock()

	return e.syncLocked(ctx, ref)
}

// ReconcileNow recomputes the canonical set for one domain object, reads the
// store state it is derived into, and repairs any divergence through the
// regular differ/executor path. It reports whether drift was found.
func (e *Engine) ReconcileNow(ctx context.Context, ref domain.ObjectRef) (bool, error) {
	ctx, span := startTrace(ctx, "ReconcileNow")
	defer span.End()

	state := e.objectState(ref)
	state.mu.Lock()
	defer state.mu.Unlock()

	canonical, deleted, err := translate.Canonical(ctx, e.reader, ref)
	if err != nil {
		e.recordFailure(ctx, ref, nil)
		return false, err
	}

	record, err := e.getRecord(ctx, ref)
	if err != nil {
		return false, err
	}
	last := tuple.NewSet()
	if record != nil && record.LastApplied != nil {
		last = record.LastApplied
	}

	observed, err := e.readObserved(ctx, canonical.Union(last))
	if err != nil {
		return false, &SyncError{Kind: KindUnavailable, Ref: ref, Err: err}
	}

	if observed.Equal(canonical) {
		// No drift. Repair bookkeeping if the record disagrees.
		if deleted {
			if record != nil {
				return false, e.records.Delete(ctx, ref)
			}
			return false, nil
		}
		if record == nil || record.Status != storage.StatusSynced || !last.Equal(canonical) {
			return false, e.finish(ctx, ref, canonical, deleted)
		}
		return false, nil
	}

	e.logger.Warn("drift detected",
		zap.String("domain_object", ref.String()),
		zap.Int("observed", observed.Len()),
		zap.Int("canonical", canonical.Len()),
	)

	if err := e.apply(ctx, ref, observed, canonical, deleted); err != nil {
		return true, err
	}
	driftRepairsTotal.Inc()
	return true, nil
}

func (e *Engine) syncLocked(ctx context.Context, ref domain.ObjectRef) error {
	canonical, deleted, err := translate.Canonical(ctx, e.reader, ref)
	if err != nil {
		// IncompleteDomainState surfaces to the caller; the RBAC state must
		// be re-read before the delta can be computed.
		e.recordFailure(ctx, ref, nil)
		return err
	}

	record, err := e.getRecord(ctx, ref)
	if err != nil {
		return err
	}
	var prev *tuple.Set
	if record == nil {
		if deleted {
			// Never synced and already gone; nothing to tear down.
			return nil
		}
		prev = tuple.NewSet()
	} else {
		prev = record.LastApplied
	}
	if prev == nil {
		prev = tuple.NewSet()
	}

	return e.apply(ctx, ref, prev, canonical, deleted)
}

// apply pushes the delta transforming prev into canonical and records the
// outcome. On failure the record keeps prev as the last applied set: any
// partially applied additions are re-touched idempotently on the next
// attempt.
func (e *Engine) apply(ctx context.Context, ref domain.ObjectRef, prev, canonical *tuple.Set, deleted bool) error {
	add, remove := tuple.Diff(prev, canonical)
	if add.Len() == 0 && remove.Len() == 0 {
		return e.finish(ctx, ref, canonical, deleted)
	}

	attempt := ulid.Make().String()
	start := time.Now()
	e.logger.Info("applying relationship delta",
		zap.String("domain_object", ref.String()),
		zap.String("attempt", attempt),
		zap.Int("add", add.Len()),
		zap.Int("remove", remove.Len()),
	)

	e.recordSyncing(ctx, ref, prev)

	if err := e.executor.Apply(ctx, ref, add, remove); err != nil {
		e.recordFailure(ctx, ref, prev)
		syncsTotal.WithLabelValues("failure").Inc()
		return err
	}

	if err := e.finish(ctx, ref, canonical, deleted); err != nil {
		return err
	}

	syncsTotal.WithLabelValues("success").Inc()
	syncDurationSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// finish records a successful sync: the record is deleted after an empty-set
// teardown of a deleted object, updated otherwise.
func (e *Engine) finish(ctx context.Context, ref domain.ObjectRef, canonical *tuple.Set, deleted bool) error {
	if deleted {
		return e.records.Delete(ctx, ref)
	}
	now := time.Now().UTC()
	return e.records.Upsert(ctx, &storage.SyncRecord{
		Ref:          ref,
		LastApplied:  canonical,
		Status:       storage.StatusSynced,
		LastSyncedAt: now,
		UpdatedAt:    now,
	})
}

func (e *Engine) recordSyncing(ctx context.Context, ref domain.ObjectRef, prev *tuple.Set) {
	if err := e.records.Upsert(ctx, &storage.SyncRecord{
		Ref:         ref,
		LastApplied: prev,
		Status:      storage.StatusSyncing,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		e.logger.Error("failed to record syncing status", zap.String("domain_object", ref.String()), zap.Error(err))
	}
}

func (e *Engine) recordFailure(ctx context.Context, ref domain.ObjectRef, prev *tuple.Set) {
	if prev == nil {
		record, err := e.getRecord(ctx, ref)
		if err != nil || record == nil {
			return
		}
		prev = record.LastApplied
	}
	if err := e.records.Upsert(ctx, &storage.SyncRecord{
		Ref:         ref,
		LastApplied: prev,
		Status:      storage.StatusFailed,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		e.logger.Error("failed to record failed status", zap.String("domain_object", ref.String()), zap.Error(err))
	}
}

// readObserved reads the store's actual tuples across the object/relation
// spaces the given set spans. Scope attachment reads are narrowed to the
// bindings in the set, since unrelated roles attach their own bindings to
// the same resource nodes.
func (e *Engine) readObserved(ctx context.Context, space *tuple.Set) (*tuple.Set, error) {
	type pair struct {
		object   tuple.ObjectReference
		relation string
	}
	shared := make(map[pair][]tuple.Relationship)
	exclusive := make(map[pair]struct{})
	var order []pair

	for _, rel := range space.Slice() {
		p := pair{object: rel.Object, relation: rel.Relation}
		_, seenShared := shared[p]
		_, seenExclusive := exclusive[p]
		if !seenShared && !seenExclusive {
			order = append(order, p)
		}
		if rel.Relation == translate.RelationUserGrant {
			shared[p] = append(shared[p], rel)
			continue
		}
		exclusive[p] = struct{}{}
	}

	observed := tuple.NewSet()
	for _, p := range order {
		if members, ok := shared[p]; ok {
			for _, member := range members {
				rels, err := e.client.Read(ctx, relations.Filter{
					ObjectType:  p.object.Type,
					ObjectID:    p.object.ID,
					Relation:    p.relation,
					SubjectType: member.Subject.Object.Type,
					SubjectID:   member.Subject.Object.ID,
				})
				if err != nil {
					return nil, err
				}
				for _, rel := range rels {
					observed.Add(rel)
				}
			}
			continue
		}

		rels, err := e.client.Read(ctx, relations.Filter{
			ObjectType: p.object.Type,
			ObjectID:   p.object.ID,
			Relation:   p.relation,
		})
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			observed.Add(rel)
		}
	}
	return observed, nil
}

func (e *Engine) getRecord(ctx context.Context, ref domain.ObjectRef) (*storage.SyncRecord, error) {
	record, err := e.records.Get(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (e *Engine) objectState(ref domain.ObjectRef) *objectState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.objectStateLocked(ref)
}

func (e *Engine) objectStateLocked(ref domain.ObjectRef) *objectState {
	state, ok := e.objects[ref]
	if !ok {
		state = &objectState{}
		e.objects[ref] = state
	}
	return state
}

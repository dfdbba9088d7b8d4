package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/logger"
	"github.com/relationsync/relationsync/pkg/relations"
	"github.com/relationsync/relationsync/pkg/tuple"
)

const (
	defaultMaxTuplesPerWrite = 100
	defaultMaxRetries        = 5
)

// Executor applies add/remove deltas to the remote relationship store.
//
// Additions are written with touch semantics and removals with
// delete-if-exists semantics, so every batch is idempotent. All additions are
// durably written before any removal is issued: a replacement never opens a
// window where the subject holds neither the old grant nor the new one.
// Transient failures are retried with bounded exponential backoff; a failed
// application is resumable because the retry re-issues batches from the first
// unconfirmed one.
type Executor struct {
	client      relations.Client
	logger      logger.Logger
	maxPerWrite int
	maxRetries  uint64
	newBackOff  func() backoff.BackOff
}

type ExecutorOption func(*Executor)

func WithExecutorLogger(l logger.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithMaxTuplesPerWrite caps the number of tuples submitted per store call.
func WithMaxTuplesPerWrite(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxPerWrite = n
	}
}

// WithMaxRetries caps the number of retries per batch for transient store
// failures.
func WithMaxRetries(n uint64) ExecutorOption {
	return func(e *Executor) {
		e.maxRetries = n
	}
}

// WithBackOff overrides the retry policy factory.
func WithBackOff(factory func() backoff.BackOff) ExecutorOption {
	return func(e *Executor) {
		e.newBackOff = factory
	}
}

func NewExecutor(client relations.Client, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:      client,
		logger:      logger.NewNoopLogger(),
		maxPerWrite: defaultMaxTuplesPerWrite,
		maxRetries:  defaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = 100 * time.Millisecond
			policy.MaxInterval = 5 * time.Second
			return policy
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply pushes the delta for one domain object: every add batch first, then
// every remove batch.
func (e *Executor) Apply(ctx context.Context, ref domain.ObjectRef, add, remove *tuple.Set) error {
	for _, batch := range batches(add.Slice(), e.maxPerWrite) {
		if err := e.retry(ctx, ref, batch, func(ctx context.Context) error {
			return e.client.Write(ctx, true, batch)
		}); err != nil {
			return err
		}
		tuplesWrittenTotal.Add(float64(len(batch)))
	}

	for _, batch := range batches(remove.Slice(), e.maxPerWrite) {
		if err := e.retry(ctx, ref, batch, func(ctx context.Context) error {
			return e.client.Delete(ctx, batch)
		}); err != nil {
			return err
		}
		tuplesDeletedTotal.Add(float64(len(batch)))
	}

	return nil
}

func (e *Executor) retry(ctx context.Context, ref domain.ObjectRef, batch []tuple.Relationship, op func(context.Context) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), e.maxRetries), ctx)

	err := backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if relations.Transient(err) {
			e.logger.Warn("transient store failure, retrying",
				zap.String("domain_object", ref.String()),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err == nil {
		return nil
	}

	var rejected *relations.RejectedError
	if errors.As(err, &rejected) {
		return &SyncError{Kind: KindRejected, Ref: ref, Relationship: rejected.Relationship, Err: err}
	}
	var conflict *relations.ConflictError
	if errors.As(err, &conflict) {
		return &SyncError{Kind: KindRejected, Ref: ref, Relationship: &conflict.Relationship, Err: err}
	}
	return &SyncError{Kind: KindUnavailable, Ref: ref, Err: err}
}

func batches(rels []tuple.Relationship, size int) [][]tuple.Relationship {
	if len(rels) == 0 {
		return nil
	}
	var out [][]tuple.Relationship
	for start := 0; start < len(rels); start += size {
		end := start + size
		if end > len(rels) {
			end = len(rels)
		}
		out = append(out, rels[start:end])
	}
	return out
}

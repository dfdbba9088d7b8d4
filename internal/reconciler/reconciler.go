// Package reconciler periodically sweeps every known domain object and
// repairs drift between the relationship store and the canonical sets derived
// from relational state.
package reconciler

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/relationsync/relationsync/pkg/domain"
	"github.com/relationsync/relationsync/pkg/logger"
	"github.com/relationsync/relationsync/pkg/storage"
)

// Engine is the per-object reconciliation entry point, implemented by
// syncer.Engine.
type Engine interface {
	ReconcileNow(ctx context.Context, ref domain.ObjectRef) (bool, error)
}

// Result summarizes one full sweep.
type Result struct {
	Scanned int
	Drifted int
	Failed  int
}

type Reconciler struct {
	reader  domain.StateReader
	records storage.RecordStore
	engine  Engine
	logger  logger.Logger

	interval    time.Duration
	parallelism int
	kick        chan chan Result
}

type Option func(*Reconciler)

// WithInterval sets the period between sweeps. Zero disables periodic
// sweeps; ForceSweep still works.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

// WithParallelism bounds how many objects are reconciled at once per sweep.
func WithParallelism(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func New(reader domain.StateReader, records storage.RecordStore, engine Engine, opts ...Option) *Reconciler {
	r := &Reconciler{
		reader:      reader,
		records:     records,
		engine:      engine,
		logger:      logger.NewNoopLogger(),
		interval:    10 * time.Minute,
		parallelism: 8,
		kick:        make(chan chan Result),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps on the configured interval until ctx is canceled. ForceSweep
// requests are served between ticks. Intervals carry up to 10% jitter so
// replicas started together spread their load on the store.
func (r *Reconciler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	var timer *time.Timer
	if r.interval > 0 {
		timer = time.NewTimer(r.jittered())
		defer timer.Stop()
		tick = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			timer.Reset(r.jittered())
		case reply := <-r.kick:
			result, _ := r.Sweep(ctx)
			reply <- result
		}
	}
}

func (r *Reconciler) jittered() time.Duration {
	return r.interval + rand.N(r.interval/10+1)
}

// ForceSweep triggers an immediate sweep on the Run loop and waits for its
// result. It must only be called while Run is active.
func (r *Reconciler) ForceSweep(ctx context.Context) (Result, error) {
	reply := make(chan Result, 1)
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r.kick <- reply:
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case result := <-reply:
		return result, nil
	}
}

// Sweep reconciles every object known to either side once. The scan set is
// the union of the relational state's live objects and the recorded sync
// state: records without a live object are how lost deletions get torn down.
func (r *Reconciler) Sweep(ctx context.Context) (Result, error) {
	start := time.Now()
	sweepsTotal.Inc()

	refs, err := r.scanSet(ctx)
	if err != nil {
		r.logger.Error("reconciliation sweep aborted", zap.Error(err))
		return Result{}, err
	}

	var drifted, failed atomic.Int64
	p := pool.New().WithContext(ctx).WithMaxGoroutines(r.parallelism)
	for _, ref := range refs {
		p.Go(func(ctx context.Context) error {
			found, err := r.engine.ReconcileNow(ctx, ref)
			if err != nil {
				failed.Add(1)
				r.logger.Warn("reconciliation failed",
					zap.String("domain_object", ref.String()),
					zap.Error(err),
				)
				return nil
			}
			if found {
				drifted.Add(1)
			}
			return nil
		})
	}
	err = p.Wait()

	result := Result{
		Scanned: len(refs),
		Drifted: int(drifted.Load()),
		Failed:  int(failed.Load()),
	}
	sweepDuration.Observe(time.Since(start).Seconds())
	sweepObjectsScanned.Observe(float64(result.Scanned))
	r.logger.Info("reconciliation sweep complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("drifted", result.Drifted),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return result, err
}

func (r *Reconciler) scanSet(ctx context.Context) ([]domain.ObjectRef, error) {
	refs, err := r.reader.ListRefs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.ObjectRef]struct{}, len(refs))
	for _, ref := range refs {
		seen[ref] = struct{}{}
	}

	records, err := r.records.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if _, ok := seen[record.Ref]; ok {
			continue
		}
		seen[record.Ref] = struct{}{}
		refs = append(refs, record.Ref)
	}
	return refs, nil
}

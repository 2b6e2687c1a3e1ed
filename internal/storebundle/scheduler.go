package storebundle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"rerun-core/internal/chunkstore"
)

// SchedulerOptions configures a BundleScheduler's periodic sweep.
type SchedulerOptions struct {
	// Interval is how often the GC sweep runs across every store in the
	// bundle. Required.
	Interval time.Duration
	// Gc is applied to every store on each tick. Stores that error are
	// logged and skipped; one store's failure never blocks another's.
	Gc chunkstore.GcOptions
}

// BundleScheduler drives a gocron-based background sweep that runs
// GcOptions against every store in a Bundle on a fixed cadence, distinct
// from the insert-triggered compaction the store performs inline. This
// generalizes the teacher's cronRotationManager (one cron job per store,
// sealing its active chunk) to one job covering every store in the
// bundle, since GC here is a bundle-wide, not per-store-configured,
// concern.
type BundleScheduler struct {
	bundle    *Bundle
	scheduler gocron.Scheduler
	job       gocron.Job
	logger    *slog.Logger
	opts      SchedulerOptions
}

// NewScheduler creates a BundleScheduler over bundle. The scheduler does
// not start ticking until Start is called.
func NewScheduler(bundle *Bundle, opts SchedulerOptions) (*BundleScheduler, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("storebundle: scheduler interval must be positive")
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("storebundle: create cron scheduler: %w", err)
	}
	return &BundleScheduler{
		bundle:    bundle,
		scheduler: s,
		logger:    newSchedulerLogger(),
		opts:      opts,
	}, nil
}

// Start registers the periodic sweep job and begins executing it.
func (b *BundleScheduler) Start() error {
	j, err := b.scheduler.NewJob(
		gocron.DurationJob(b.opts.Interval),
		gocron.NewTask(b.sweep),
		gocron.WithName("store-bundle-gc-sweep"),
	)
	if err != nil {
		return fmt.Errorf("storebundle: schedule sweep job: %w", err)
	}
	b.job = j
	b.scheduler.Start()
	b.logger.Info("scheduler started", "interval", b.opts.Interval)
	return nil
}

// Stop shuts down the scheduler and waits for any in-flight sweep to
// finish.
func (b *BundleScheduler) Stop() error {
	return b.scheduler.Shutdown()
}

// sweep runs opts.Gc against every store currently in the bundle. Each
// store gets its own deadline-bounded context derived from opts.Gc's
// TimeBudget, so one slow store cannot starve the others' share of the
// tick interval.
func (b *BundleScheduler) sweep() {
	stores := b.bundle.Stores()
	for _, store := range stores {
		ctx := context.Background()
		var cancel context.CancelFunc
		if b.opts.Gc.TimeBudget > 0 {
			ctx, cancel = context.WithTimeout(ctx, b.opts.Gc.TimeBudget)
		}
		events, err := store.Gc(ctx, b.opts.Gc)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			b.logger.Warn("gc sweep failed", "store", store.ID(), "error", err)
			continue
		}
		b.logger.Debug("gc sweep completed", "store", store.ID(), "events", len(events))
	}
}

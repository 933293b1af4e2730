// Package reconciler finalizes orphaned run records.
//
// A run is orphaned when the process died mid-run: the record exists in a
// non-terminal status and will never be finished by its owner. The
// reconciler periodically scans for such records and marks them failed in
// the phase they died in. It never re-executes the work; the next scheduled
// run regenerates the artifact in full anyway.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"jobsync/internal/domain"
	"jobsync/internal/history"
)

// Store defines the interface for fetching and finalizing orphaned runs.
type Store interface {
	Orphans(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Run, error)
	Append(ctx context.Context, run domain.Run) error
}

// MetricsSink records reconciler metrics.
type MetricsSink interface {
	OrphanRunsFinalized(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 10 minutes.
	Interval time.Duration

	// Threshold is the age after which a non-terminal run is considered
	// orphaned. Must comfortably exceed the producer and push timeouts.
	// Default: 1 hour.
	Threshold time.Duration

	// BatchSize is the maximum number of orphans to process per cycle.
	// Default: 50.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  10 * time.Minute,
		Threshold: time.Hour,
		BatchSize: 50,
	}
}

// Reconciler detects orphaned runs and finalizes them as failed.
type Reconciler struct {
	config  Config
	store   Store
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Reconciler{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker.
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	orphans, err := r.store.Orphans(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch orphans: %v", err)
		return
	}

	if len(orphans) == 0 {
		return
	}

	log.Printf("reconciler: found %d orphaned runs", len(orphans))

	finalized := 0
	for _, run := range orphans {
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d orphans", finalized, len(orphans))
			return
		}

		finalizeOrphan(&run, now)

		if err := r.store.Append(ctx, run); err != nil {
			if errors.Is(err, history.ErrRunAlreadyTerminal) {
				// Lost the race against the owner finishing normally.
				continue
			}
			log.Printf("reconciler: finalize run %s: %v", run.ID, err)
			continue
		}

		log.Printf("reconciler: finalized run %s as %s (started %s, age %s)",
			run.ID, run.Status, run.StartedAt.Format(time.RFC3339),
			now.Sub(run.StartedAt).Round(time.Second))
		finalized++
	}

	if r.metrics != nil && finalized > 0 {
		r.metrics.OrphanRunsFinalized(finalized)
	}
	log.Printf("reconciler: cycle complete, finalized=%d", finalized)
}

// finalizeOrphan rewrites a stale non-terminal run as a failure in the
// phase it died in. A run that never entered a phase counts as a produce
// failure.
func finalizeOrphan(run *domain.Run, now time.Time) {
	switch run.Phase {
	case domain.PhaseCommit:
		run.Status = domain.RunStatusFailedCommit
	case domain.PhasePush:
		run.Status = domain.RunStatusFailedPush
	default:
		run.Status = domain.RunStatusFailedProduce
		run.Phase = domain.PhaseProduce
	}
	run.FinishedAt = now
	run.Error = fmt.Sprintf("run abandoned in phase %s, finalized by reconciler", run.Phase)
}

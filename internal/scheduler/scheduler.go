// Package scheduler emits pipeline triggers at the configured cron
// schedule. It only emits trigger events; run execution and its exclusive
// lock belong to the run loop consuming the bus.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"jobsync/internal/domain"
)

// CronParser parses a cron expression into a schedule.
type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

// CronSchedule yields fire times.
type CronSchedule interface {
	Next(after time.Time) time.Time
}

// EventEmitter accepts trigger events for the run loop.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// HistoryReader exposes the most recent run for missed-window detection.
type HistoryReader interface {
	Latest(ctx context.Context) (domain.Run, bool, error)
}

// MetricsSink records scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TriggerEmitted(source string)
	ScheduleDrift(drift time.Duration)
}

type Config struct {
	Expression string
	Timezone   string

	// CatchUp emits one immediate trigger on startup when the previous
	// scheduled window passed without a recorded run (host asleep,
	// daemon down). Bounded to a single trigger: the artifact overwrite
	// on the next run absorbs all missed windows at once.
	CatchUp bool
}

type Scheduler struct {
	config  Config
	parser  CronParser
	emitter EventEmitter
	history HistoryReader // optional, nil disables catch-up
	metrics MetricsSink   // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, parser CronParser, emitter EventEmitter) *Scheduler {
	return &Scheduler{
		config:  config,
		parser:  parser,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithHistory enables catch-up against the given run history.
func (s *Scheduler) WithHistory(history HistoryReader) *Scheduler {
	s.history = history
	return s
}

// WithMetrics attaches a metrics sink.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Run blocks until ctx is cancelled, emitting a trigger at every fire time.
func (s *Scheduler) Run(ctx context.Context) error {
	sched, err := s.parser.Parse(s.config.Expression, s.config.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	log.Printf("scheduler: started (cron=%q, tz=%q)", s.config.Expression, s.config.Timezone)

	if s.config.CatchUp {
		s.catchUp(ctx, sched)
	}

	for {
		now := s.clock().UTC()
		next := sched.Next(now).UTC()

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-timer.C:
			s.fire(ctx, domain.TriggerCron, next)
		}
	}
}

// catchUp emits one immediate trigger if the last recorded run predates the
// previous scheduled fire time. A fresh history (no runs yet) does not
// trigger: the first real window will.
func (s *Scheduler) catchUp(ctx context.Context, sched CronSchedule) {
	if s.history == nil {
		return
	}

	last, ok, err := s.history.Latest(ctx)
	if err != nil {
		log.Printf("scheduler: catch-up: read history: %v", err)
		return
	}
	if !ok {
		return
	}

	now := s.clock().UTC()
	missed := sched.Next(last.FinishedAt.UTC()).UTC()
	if missed.After(now) {
		return
	}

	log.Printf("scheduler: catch-up: window %s was missed (last run %s), triggering now",
		missed.Format(time.RFC3339), last.FinishedAt.UTC().Format(time.RFC3339))
	s.fire(ctx, domain.TriggerCatchUp, missed)
}

func (s *Scheduler) fire(ctx context.Context, source domain.TriggerSource, scheduledAt time.Time) {
	now := s.clock().UTC()
	event := domain.TriggerEvent{
		Source:      source,
		ScheduledAt: scheduledAt,
		EmittedAt:   now,
	}

	if err := s.emitter.Emit(ctx, event); err != nil {
		// A full bus means a run is already queued; the missed trigger
		// is redundant, not lost work.
		log.Printf("scheduler: emit %s trigger: %v", source, err)
		return
	}

	if s.metrics != nil {
		s.metrics.TriggerEmitted(string(source))
		s.metrics.ScheduleDrift(now.Sub(scheduledAt))
	}
	log.Printf("scheduler: emitted %s trigger for %s", source, scheduledAt.Format(time.RFC3339))
}

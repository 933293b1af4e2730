// Package pipeline executes the produce -> commit -> push synchronization
// run. Phase order is fixed: durability never starts before the producer
// succeeds, publication never starts before durability. There is no in-run
// retry anywhere; a failed run is retried in full by the next scheduled
// invocation, whose artifact overwrite absorbs the missed window.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobsync/internal/artifact"
	"jobsync/internal/domain"
	"jobsync/internal/lock"
	"jobsync/internal/producer"
	"jobsync/internal/runlog"
)

// Producer regenerates the artifact at the given staging path.
type Producer interface {
	Produce(ctx context.Context, outputPath string) (producer.Result, error)
}

// VersionControl is the durability collaborator.
type VersionControl interface {
	Stage(ctx context.Context, path string) error
	Commit(ctx context.Context, message string) (domain.CommitResult, error)
}

// Publisher is the publication collaborator.
type Publisher interface {
	Push(ctx context.Context, remote, branch string) domain.PushResult
}

// HistoryStore persists run records. Begin is called with the freshly
// created PENDING run before any phase executes so that a crash mid-run
// leaves a visible non-terminal record; Append records the terminal
// outcome. Both are best-effort from the pipeline's point of view.
type HistoryStore interface {
	Begin(ctx context.Context, run domain.Run) error
	Append(ctx context.Context, run domain.Run) error
}

// MetricsSink records pipeline metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RunStarted(trigger string)
	RunCompleted(status string, duration time.Duration)
	PhaseCompleted(phase string, duration time.Duration)
	ArtifactJobs(count int)
	LockContention()
}

// AnalyticsSink records run outcomes as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, run domain.Run)
}

// Notifier announces a finished run (completion webhook).
type Notifier interface {
	Notify(ctx context.Context, run domain.Run)
}

// Config holds the pipeline's fixed parameters.
type Config struct {
	ArtifactPath string
	Remote       string // default "origin"
	Branch       string // default "main"

	// PushOnNoChange forces a push attempt even when durability was a
	// no-op. Off by default: a no-change run stays network-silent.
	PushOnNoChange bool
}

// Pipeline runs one synchronization cycle per Run call.
type Pipeline struct {
	cfg       Config
	producer  Producer
	vcs       VersionControl
	publisher Publisher
	runLock   lock.RunLock
	runLog    runlog.Appender

	history   HistoryStore  // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	notifier  Notifier      // optional, nil = disabled

	clock func() time.Time
}

// New creates a Pipeline. Remote and branch fall back to origin/main.
func New(cfg Config, prod Producer, vcs VersionControl, pub Publisher, runLock lock.RunLock, runLog runlog.Appender) *Pipeline {
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if runLog == nil {
		runLog = runlog.Discard{}
	}
	return &Pipeline{
		cfg:       cfg,
		producer:  prod,
		vcs:       vcs,
		publisher: pub,
		runLock:   runLock,
		runLog:    runLog,
		clock:     time.Now,
	}
}

// WithHistory attaches a run history store.
func (p *Pipeline) WithHistory(store HistoryStore) *Pipeline {
	p.history = store
	return p
}

// WithMetrics attaches a metrics sink.
func (p *Pipeline) WithMetrics(sink MetricsSink) *Pipeline {
	p.metrics = sink
	return p
}

// WithAnalytics attaches an analytics sink.
func (p *Pipeline) WithAnalytics(sink AnalyticsSink) *Pipeline {
	p.analytics = sink
	return p
}

// WithNotifier attaches a completion notifier.
func (p *Pipeline) WithNotifier(n Notifier) *Pipeline {
	p.notifier = n
	return p
}

// Run executes one full pipeline cycle. Every phase failure is caught and
// converted into a terminal run status; the only error Run returns is
// lock.ErrHeld, when another run is already in progress (no run record is
// produced in that case).
func (p *Pipeline) Run(ctx context.Context, trigger domain.TriggerSource) (domain.Run, error) {
	if err := p.runLock.Acquire(); err != nil {
		if errors.Is(err, lock.ErrHeld) {
			log.Printf("pipeline: lock contention: %v", err)
			p.runLog.Append(p.clock(), "run skipped: %v", err)
			if p.metrics != nil {
				p.metrics.LockContention()
			}
			return domain.Run{}, err
		}
		return domain.Run{}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := p.runLock.Release(); err != nil {
			log.Printf("pipeline: release lock: %v", err)
		}
	}()

	run := domain.Run{
		ID:        uuid.New(),
		Trigger:   trigger,
		StartedAt: p.clock().UTC(),
		Status:    domain.RunStatusPending,
	}

	log.Printf("pipeline: run %s started (trigger=%s)", run.ID, trigger)
	p.runLog.Append(run.StartedAt, "run %s started (trigger=%s)", run.ID, trigger)
	if p.metrics != nil {
		p.metrics.RunStarted(string(trigger))
	}
	if p.history != nil {
		if err := p.history.Begin(ctx, run); err != nil {
			log.Printf("pipeline: record run start: %v", err)
		}
	}

	p.produce(ctx, &run)
	if run.Status == domain.RunStatusProduced {
		p.commit(ctx, &run)
	}
	switch {
	case run.Status == domain.RunStatusCommitted:
		p.push(ctx, &run)
	case run.Status == domain.RunStatusNoChange && p.cfg.PushOnNoChange:
		// Pushing with nothing new is a remote no-op; a failure still
		// surfaces as FAILED_PUSH.
		p.push(ctx, &run)
	}

	p.finish(ctx, &run)
	return run, nil
}

func (p *Pipeline) produce(ctx context.Context, run *domain.Run) {
	run.Status = domain.RunStatusProducing
	run.Phase = domain.PhaseProduce
	start := p.clock()
	staging := artifact.StagingPath(p.cfg.ArtifactPath)

	res, err := p.producer.Produce(ctx, staging)
	if err != nil {
		p.failProduce(run, -1, "", fmt.Sprintf("producer start: %v", err))
		return
	}
	run.ProducerExitCode = res.ExitCode
	run.ProducerOutput = res.Output

	if !res.Succeeded() {
		detail := fmt.Sprintf("producer exit %d", res.ExitCode)
		if res.TimedOut {
			detail = fmt.Sprintf("producer timed out after %s", res.Duration.Round(time.Second))
		}
		artifact.Discard(staging)
		p.failProduce(run, res.ExitCode, res.Output, detail)
		return
	}

	info, err := artifact.Inspect(staging)
	if err != nil {
		artifact.Discard(staging)
		p.failProduce(run, res.ExitCode, res.Output, fmt.Sprintf("artifact rejected: %v", err))
		return
	}
	if err := artifact.Promote(staging, p.cfg.ArtifactPath); err != nil {
		p.failProduce(run, res.ExitCode, res.Output, err.Error())
		return
	}

	run.ArtifactJobs = info.Jobs
	run.ArtifactDigest = info.Digest
	run.Status = domain.RunStatusProduced

	p.runLog.Append(p.clock(), "produce ok: %d jobs, %d bytes", info.Jobs, info.Bytes)
	if p.metrics != nil {
		p.metrics.PhaseCompleted(string(domain.PhaseProduce), p.clock().Sub(start))
		p.metrics.ArtifactJobs(info.Jobs)
	}
}

func (p *Pipeline) failProduce(run *domain.Run, exitCode int, output, detail string) {
	run.ProducerExitCode = exitCode
	run.ProducerOutput = output
	run.Status = domain.RunStatusFailedProduce
	run.Error = detail
	p.runLog.Append(p.clock(), "produce failed: %s", detail)
}

func (p *Pipeline) commit(ctx context.Context, run *domain.Run) {
	run.Status = domain.RunStatusCommitting
	run.Phase = domain.PhaseCommit
	start := p.clock()

	if err := p.vcs.Stage(ctx, p.cfg.ArtifactPath); err != nil {
		run.Status = domain.RunStatusFailedCommit
		run.Error = fmt.Sprintf("stage: %v", err)
		p.runLog.Append(p.clock(), "commit failed: %s", run.Error)
		return
	}

	message := commitMessage(run.StartedAt)
	result, err := p.vcs.Commit(ctx, message)
	if err != nil {
		run.Status = domain.RunStatusFailedCommit
		run.Error = fmt.Sprintf("commit: %v", err)
		p.runLog.Append(p.clock(), "commit failed: %s", run.Error)
		return
	}

	if p.metrics != nil {
		p.metrics.PhaseCompleted(string(domain.PhaseCommit), p.clock().Sub(start))
	}

	if !result.Committed {
		run.Status = domain.RunStatusNoChange
		p.runLog.Append(p.clock(), "commit skipped: artifact unchanged")
		return
	}

	run.Status = domain.RunStatusCommitted
	run.CommitSHA = result.SHA
	run.CommitMessage = message
	p.runLog.Append(p.clock(), "committed %s", shortSHA(result.SHA))
}

func (p *Pipeline) push(ctx context.Context, run *domain.Run) {
	run.Status = domain.RunStatusPushing
	run.Phase = domain.PhasePush
	start := p.clock()

	result := p.publisher.Push(ctx, p.cfg.Remote, p.cfg.Branch)
	if p.metrics != nil {
		p.metrics.PhaseCompleted(string(domain.PhasePush), p.clock().Sub(start))
	}

	if !result.OK {
		run.Status = domain.RunStatusFailedPush
		run.Error = fmt.Sprintf("push %s %s: %s", p.cfg.Remote, p.cfg.Branch, result.Error)
		p.runLog.Append(p.clock(), "push failed: %s", result.Error)
		return
	}

	run.Status = domain.RunStatusPushed
	p.runLog.Append(p.clock(), "pushed %s to %s/%s", shortSHA(run.CommitSHA), p.cfg.Remote, p.cfg.Branch)
}

// finish closes out the run record and fans it out to the optional sinks.
// A NO_CHANGE run that ended before pushing stays NO_CHANGE; a run that
// never left PENDING cannot happen (produce always assigns a status).
func (p *Pipeline) finish(ctx context.Context, run *domain.Run) {
	run.FinishedAt = p.clock().UTC()

	log.Printf("pipeline: run %s finished status=%s duration=%s",
		run.ID, run.Status, run.Duration().Round(time.Millisecond))
	p.runLog.Append(run.FinishedAt, "run %s finished: %s", run.ID, run.Status)

	if p.metrics != nil {
		p.metrics.RunCompleted(string(run.Status), run.Duration())
	}
	if p.history != nil {
		if err := p.history.Append(ctx, *run); err != nil {
			log.Printf("pipeline: record run history: %v", err)
		}
	}
	if p.analytics != nil {
		p.analytics.Record(ctx, *run)
	}
	if p.notifier != nil {
		p.notifier.Notify(ctx, *run)
	}
}

func commitMessage(startedAt time.Time) string {
	return fmt.Sprintf("chore: refresh scraped jobs (%s)", startedAt.UTC().Format(time.RFC3339))
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	if strings.TrimSpace(sha) == "" {
		return "(none)"
	}
	return sha
}

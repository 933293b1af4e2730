package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jobsync/internal/artifact"
	"jobsync/internal/domain"
	"jobsync/internal/lock"
	"jobsync/internal/producer"
	"jobsync/internal/testutil"
)

// fakeProducer writes fixed content to the staging path.
type fakeProducer struct {
	content  string
	exitCode int
	timedOut bool
	startErr error
	block    chan struct{} // if set, Produce waits until closed

	mu    sync.Mutex
	calls int
}

func (f *fakeProducer) Produce(ctx context.Context, outputPath string) (producer.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.startErr != nil {
		return producer.Result{}, f.startErr
	}
	if f.exitCode == 0 && !f.timedOut {
		if err := os.WriteFile(outputPath, []byte(f.content), 0o644); err != nil {
			return producer.Result{}, err
		}
	}
	return producer.Result{
		ExitCode: f.exitCode,
		Output:   "scraper output",
		TimedOut: f.timedOut,
		Duration: time.Second,
	}, nil
}

func (f *fakeProducer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeVCS struct {
	mu        sync.Mutex
	staged    []string
	messages  []string
	committed bool
	sha       string
	stageErr  error
	commitErr error
}

func (f *fakeVCS) Stage(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stageErr != nil {
		return f.stageErr
	}
	f.staged = append(f.staged, path)
	return nil
}

func (f *fakeVCS) Commit(ctx context.Context, message string) (domain.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return domain.CommitResult{}, f.commitErr
	}
	f.messages = append(f.messages, message)
	return domain.CommitResult{Committed: f.committed, SHA: f.sha}, nil
}

func (f *fakeVCS) stageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.staged)
}

type fakePublisher struct {
	mu     sync.Mutex
	pushes int
	result domain.PushResult
}

func (f *fakePublisher) Push(ctx context.Context, remote, branch string) domain.PushResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	return f.result
}

func (f *fakePublisher) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

type fakeHistory struct {
	mu    sync.Mutex
	begun []domain.Run
	runs  []domain.Run
}

func (f *fakeHistory) Begin(ctx context.Context, run domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun = append(f.begun, run)
	return nil
}

func (f *fakeHistory) Append(ctx context.Context, run domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func (f *fakeHistory) beginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.begun)
}

type fakeMetrics struct {
	mu          sync.Mutex
	started     []string
	completed   []string
	contentions int
	jobs        int
}

func (f *fakeMetrics) RunStarted(trigger string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, trigger)
}

func (f *fakeMetrics) RunCompleted(status string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, status)
}

func (f *fakeMetrics) PhaseCompleted(phase string, d time.Duration) {}

func (f *fakeMetrics) ArtifactJobs(count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = count
}

func (f *fakeMetrics) LockContention() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentions++
}

type noopLock struct{}

func (noopLock) Acquire() error { return nil }
func (noopLock) Release() error { return nil }

type heldLock struct{}

func (heldLock) Acquire() error { return lock.ErrHeld }
func (heldLock) Release() error { return nil }

type env struct {
	dir       string
	artifact  string
	producer  *fakeProducer
	vcs       *fakeVCS
	publisher *fakePublisher
	history   *fakeHistory
	metrics   *fakeMetrics
	pipeline  *Pipeline
}

func newEnv(t *testing.T, cfgMod func(*Config)) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:       dir,
		artifact:  filepath.Join(dir, "jobs.json"),
		producer:  &fakeProducer{content: `[{"id":1}]`},
		vcs:       &fakeVCS{committed: true, sha: "abc123def456789"},
		publisher: &fakePublisher{result: domain.PushResult{OK: true}},
		history:   &fakeHistory{},
		metrics:   &fakeMetrics{},
	}
	cfg := Config{ArtifactPath: e.artifact}
	if cfgMod != nil {
		cfgMod(&cfg)
	}
	e.pipeline = New(cfg, e.producer, e.vcs, e.publisher, noopLock{}, nil).
		WithHistory(e.history).
		WithMetrics(e.metrics)
	return e
}

func TestRun_FullSuccess(t *testing.T) {
	e := newEnv(t, nil)

	run, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerCron)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.Status != domain.RunStatusPushed {
		t.Fatalf("Status = %s, want pushed", run.Status)
	}
	if run.Phase != domain.PhasePush {
		t.Errorf("Phase = %s, want push", run.Phase)
	}
	if run.ArtifactJobs != 1 {
		t.Errorf("ArtifactJobs = %d, want 1", run.ArtifactJobs)
	}
	if run.CommitSHA != "abc123def456789" {
		t.Errorf("CommitSHA = %q", run.CommitSHA)
	}
	if !strings.Contains(run.CommitMessage, run.StartedAt.UTC().Format(time.RFC3339)) {
		t.Errorf("commit message %q missing run timestamp", run.CommitMessage)
	}

	data, err := os.ReadFile(e.artifact)
	if err != nil {
		t.Fatalf("artifact not promoted: %v", err)
	}
	if string(data) != `[{"id":1}]` {
		t.Errorf("artifact = %q", data)
	}
	if e.history.count() != 1 {
		t.Errorf("history records = %d, want 1", e.history.count())
	}
	if e.history.beginCount() != 1 {
		t.Errorf("history begin records = %d, want 1", e.history.beginCount())
	}
	if got := e.history.begun[0].Status; got != domain.RunStatusPending {
		t.Errorf("begin status = %s, want pending", got)
	}
}

func TestRun_NoChangeSkipsPush(t *testing.T) {
	e := newEnv(t, nil)
	e.vcs.committed = false

	run, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerCron)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusNoChange {
		t.Fatalf("Status = %s, want no_change", run.Status)
	}
	if e.publisher.pushCount() != 0 {
		t.Error("no push expected for an unchanged artifact")
	}
	if run.CommitSHA != "" {
		t.Errorf("CommitSHA = %q, want empty", run.CommitSHA)
	}
}

func TestRun_NoChangeWithPushOnNoChange(t *testing.T) {
	e := newEnv(t, func(cfg *Config) { cfg.PushOnNoChange = true })
	e.vcs.committed = false

	run, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerCron)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.publisher.pushCount() != 1 {
		t.Error("expected a push attempt with PushOnNoChange")
	}
	if run.Status != domain.RunStatusPushed {
		t.Errorf("Status = %s, want pushed", run.Status)
	}
}

func TestRun_ProducerFailureShortCircuits(t *testing.T) {
	e := newEnv(t, nil)
	e.producer.exitCode = 1

	// Pre-existing artifact must survive the failed run untouched.
	testutil.WriteFile(t, e.dir, "jobs.json", `["previous"]`)

	run, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerCron)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusFailedProduce {
		t.Fatalf("Status = %s, want failed_produce", run.Status)
	}
	if run.ProducerExitCode != 1 {
		t.Errorf("ProducerExitCode = %d, want 1", run.ProducerExitCode)
	}
	if run.ProducerOutput == "" {
		t.Error("producer output must be captured for diagnosis")
	}
	if e.vcs.stageCount() != 0 {
		t.Error("durability must not run after a producer failure")
	}
	if e.publisher.pushCount() != 0 {
		t.Error("publication must not run after a producer failure")
	}

	data, _ := os.ReadFile(e.artifact)
	if string(data) != `["previous"]` {
		t.Errorf("artifact changed by a failed run: %q", data)
	}
	// A run record is produced even on failure.
	if e.history.count() != 1 {
		t.Errorf("history records = %d, want 1", e.history.count())
	}
}

func TestRun_ProducerTimeout(t *testing.T) {
	e := newEnv(t, nil)
	e.producer.timedOut = true
	e.producer.exitCode = 124

	run, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerCron)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusFailedProduce {
		t.Fatalf("Status = %s, want failed_produce", run.Status)
	}
	if !strings.Contains(run.Error, "timed out") {
		t.Errorf("Error = %q, want timeout detail", run.Error)
	}
}

func TestRun_CorruptArtifactAbortsDurability(t *testing.T) {
	e := newEnv(t, nil)
	e.producer.content = `{"jobs": truncated`
	testutil.WriteFile(t, e.dir, "jobs.json", `["previous"]`)

	run, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerCron)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusFailedProduce {
		t.Fatalf("Status = %s, want failed_produce", run.Status)
	}
	if !strings.Contains(run.Error, "artifact rejected") {
		t.Errorf("Error = %q", run.Error)
	}
	if e.vcs.stageCount() != 0 {
		t.Error("corrupt output must never be committed")
	}

	data, _ := os.ReadFile(e.artifact)
	if string(data) != `["previous"]` {
		t.Errorf("artifact replaced with corrupt content: %q", data)
	}
	if _, err := os.Stat(artifact.StagingPath(e.artifact)); !os.IsNotExist(err) {
		t.Error("rejected staging file should be discarded")
	}
}

func TestRun_CommitFailureSkipsPush(t *testing.T) {
	e := newEnv(t, nil)
	e.vcs.commitErr = errors.New("identity not configured")

	run, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerCron)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusFailedCommit {
		t.Fatalf("Status = %s, want failed_commit", run.Status)
	}
	if e.publisher.pushCount() != 0 {
		t.Error("publication must not run after a commit failure")
	}
}

func TestRun_PushFailureKeepsLocalCommit(t *testing.T) {
	e := newEnv(t, nil)
	e.publisher.result = domain.PushResult{OK: false, Error: "connection refused"}

	run, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerCron)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusFailedPush {
		t.Fatalf("Status = %s, want failed_push", run.Status)
	}
	if run.CommitSHA == "" {
		t.Error("local commit must be recorded so the next push carries it")
	}
	if !strings.Contains(run.Error, "connection refused") {
		t.Errorf("Error = %q, want push detail", run.Error)
	}
}

func TestRun_LockContention(t *testing.T) {
	e := newEnv(t, nil)
	e.pipeline.runLock = heldLock{}

	_, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerManual)
	if !errors.Is(err, lock.ErrHeld) {
		t.Fatalf("Run = %v, want ErrHeld", err)
	}
	if e.metrics.contentions != 1 {
		t.Errorf("contentions = %d, want 1", e.metrics.contentions)
	}
	if e.history.count() != 0 {
		t.Error("a contended invocation is not a run and must not be recorded")
	}
}

func TestRun_ConcurrentInvocationsNeverInterleave(t *testing.T) {
	e := newEnv(t, nil)
	fileLock := lock.NewFileLock(filepath.Join(e.dir, "sync.lock"))
	e.pipeline.runLock = fileLock

	release := make(chan struct{})
	e.producer.block = release

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := e.pipeline.Run(context.Background(), domain.TriggerCron); err != nil {
			t.Errorf("first Run: %v", err)
		}
	}()

	// Wait for the first run to hold the lock.
	deadline := time.Now().Add(5 * time.Second)
	for e.producer.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second := New(Config{ArtifactPath: e.artifact}, e.producer, e.vcs, e.publisher,
		lock.NewFileLock(filepath.Join(e.dir, "sync.lock")), nil)
	_, err := second.Run(testutil.TestContext(t), domain.TriggerManual)
	if !errors.Is(err, lock.ErrHeld) {
		t.Fatalf("second Run = %v, want ErrHeld", err)
	}

	close(release)
	<-done
}

func TestRun_ProducerStartError(t *testing.T) {
	e := newEnv(t, nil)
	e.producer.startErr = errors.New("no such file or directory")

	run, err := e.pipeline.Run(testutil.TestContext(t), domain.TriggerCron)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunStatusFailedProduce {
		t.Fatalf("Status = %s, want failed_produce", run.Status)
	}
	if e.history.count() != 1 {
		t.Error("run record required even when the producer never started")
	}
}

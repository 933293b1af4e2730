package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"jobsync/internal/analytics"
	"jobsync/internal/api"
	"jobsync/internal/config"
	"jobsync/internal/cron"
	"jobsync/internal/domain"
	"jobsync/internal/gitvc"
	"jobsync/internal/history"
	"jobsync/internal/lock"
	"jobsync/internal/metrics"
	"jobsync/internal/notify"
	"jobsync/internal/pipeline"
	"jobsync/internal/producer"
	"jobsync/internal/reconciler"
	"jobsync/internal/runlog"
	"jobsync/internal/scheduler"
	"jobsync/internal/trigger"

	_ "github.com/lib/pq"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes for the one-shot `run` command. Cron wrappers and monitoring
// key off these, so they are part of the interface.
const (
	exitSuccess        = 0
	exitFailedProduce  = 1
	exitFailedCommit   = 2
	exitFailedPush     = 3
	exitLockContention = 4
)

// Exit codes for the long-running commands, matching common daemon practice.
const (
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "run":
		os.Exit(runOnce())
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`jobsync - scheduled scrape, commit and push pipeline

Usage:
  jobsync <command>

Commands:
  run        Execute one scrape -> commit -> push cycle and exit
             (--quiet suppresses the stdout progress trace)
  serve      Run as a daemon with internal schedule, status API and reconciler
  validate   Validate configuration (no side effects)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  SCRAPER_CMD           Producer command line, {output} is the artifact path (required)
  SCRAPER_TIMEOUT       Producer timeout (default: "10m")
  WORKING_DIR           Git repository to operate in (default: ".")
  ARTIFACT_PATH         Artifact file inside the repository (default: "jobs.json")
  REMOTE_NAME           Git remote to push to (default: "origin")
  BRANCH                Branch to push (default: "main")
  PUSH_TIMEOUT          Git push timeout (default: "2m")
  PUSH_ON_NO_CHANGE     Push even when nothing was committed (default: "false")

  LOCK_FILE             Run lock pidfile path (default: "jobsync.lock")
  LOCK_KEY              Postgres advisory lock key when DATABASE_URL is set
  RUN_LOG_PATH          Append-only pipeline log (default: "runs.log")
  HISTORY_PATH          JSONL run history file (default: "history/runs.jsonl")
  DATABASE_URL          Postgres run history + advisory lock (optional)

  CRON_EXPRESSION       Schedule for serve mode (default: "0 6 * * *")
  TIMEZONE              IANA timezone for the schedule (default: UTC)
  CATCH_UP              Emit one trigger on startup after a missed window (default: "false")
  TRIGGER_BUFFER_SIZE   Trigger bus capacity (default: "1")

  HTTP_ADDR             Status API address (default: ":8080")
  HTTP_SHUTDOWN_TIMEOUT Graceful HTTP shutdown timeout (default: "10s")
  METRICS_ENABLED       Enable Prometheus metrics (default: "false")
  METRICS_PATH          Metrics endpoint path (default: "/metrics")

  REDIS_ADDR            Redis address for run analytics (optional)
  ANALYTICS_RETENTION   Analytics counter TTL (default: "720h")
  NOTIFY_URL            Completion webhook endpoint (optional)
  NOTIFY_SECRET         HMAC secret for the completion webhook
  NOTIFY_TIMEOUT        Webhook delivery timeout (default: "30s")

  RECONCILE_ENABLED     Finalize orphaned runs, requires DATABASE_URL (default: "false")
  RECONCILE_INTERVAL    How often to scan for orphans (default: "10m")
  RECONCILE_THRESHOLD   Age before a run counts as orphaned (default: "1h")
  RECONCILE_BATCH_SIZE  Max orphans per cycle (default: "50")`)
}

// components is everything a pipeline needs, plus the handles main keeps.
type components struct {
	pipe    *pipeline.Pipeline
	store   historyStore
	pgStore *history.PostgresStore // nil without DATABASE_URL
	db      *sql.DB                // nil without DATABASE_URL
	runLog  *runlog.FileLog
}

// historyStore is the union of the history surfaces main wires up.
type historyStore interface {
	pipeline.HistoryStore
	Latest(ctx context.Context) (domain.Run, bool, error)
	List(ctx context.Context, limit, offset int) ([]domain.Run, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Run, error)
}

func (c *components) close() {
	if c.runLog != nil {
		c.runLog.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
}

// build wires the pipeline and its collaborators from configuration.
// metricsSink may be nil (one-shot runs have no scrape endpoint). With
// console set, pipeline progress is mirrored to stdout for interactive runs.
func build(cfg config.Config, metricsSink metrics.Sink, console bool) (*components, error) {
	c := &components{}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		c.db = db

		pg := history.NewPostgresStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = pg.EnsureSchema(ctx)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		c.pgStore = pg
		c.store = pg
	} else {
		fs, err := history.NewFileStore(cfg.HistoryPath)
		if err != nil {
			return nil, err
		}
		c.store = fs
	}

	runLog, err := runlog.Open(cfg.RunLogPath)
	if err != nil {
		c.close()
		return nil, err
	}
	c.runLog = runLog

	var appender runlog.Appender = runLog
	if console {
		appender = runlog.Multi{runlog.Console{}, runLog}
	}

	git := gitvc.New(cfg.WorkingDir, cfg.PushTimeout)
	if !git.IsWorkTree() {
		c.close()
		return nil, fmt.Errorf("%s is not a git work tree", cfg.WorkingDir)
	}

	prod := &producer.Subprocess{
		Command:    cfg.ScraperCmd,
		WorkingDir: cfg.WorkingDir,
		Timeout:    cfg.ScraperTimeout,
	}

	var runLock lock.RunLock
	if c.db != nil {
		runLock = lock.NewAdvisoryLock(c.db, cfg.LockKey)
	} else {
		runLock = lock.NewFileLock(cfg.LockFile)
	}

	pipeCfg := pipeline.Config{
		ArtifactPath:   cfg.ArtifactPath,
		Remote:         cfg.RemoteName,
		Branch:         cfg.Branch,
		PushOnNoChange: cfg.PushOnNoChange,
	}
	pipe := pipeline.New(pipeCfg, prod, git, git, runLock, appender).
		WithHistory(c.store)
	if metricsSink != nil {
		pipe = pipe.WithMetrics(metricsSink)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		sink := analytics.NewRedisSink(client, domain.AnalyticsConfig{
			Enabled:   true,
			Retention: cfg.AnalyticsRetention,
		})
		pipe = pipe.WithAnalytics(sink)
		log.Printf("jobsync: analytics enabled (redis=%s)", cfg.RedisAddr)
	}

	if cfg.NotifyURL != "" {
		pipe = pipe.WithNotifier(notify.NewWebhook(cfg.NotifyURL, cfg.NotifySecret, cfg.NotifyTimeout))
		log.Printf("jobsync: completion webhook enabled (%s)", cfg.NotifyURL)
	}

	c.pipe = pipe
	return c, nil
}

func runOnce() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitRuntimeError
	}

	quiet := false
	for _, arg := range os.Args[2:] {
		if arg == "--quiet" || arg == "-q" {
			quiet = true
		}
	}

	c, err := build(cfg, nil, !quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobsync: %v\n", err)
		return exitRuntimeError
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := c.pipe.Run(ctx, domain.TriggerCron)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return exitLockContention
		}
		fmt.Fprintf(os.Stderr, "jobsync: %v\n", err)
		return exitRuntimeError
	}

	return exitCodeFor(run.Status)
}

// exitCodeFor maps a terminal run status to the run command's exit code.
func exitCodeFor(status domain.RunStatus) int {
	switch status {
	case domain.RunStatusPushed, domain.RunStatusNoChange:
		return exitSuccess
	case domain.RunStatusFailedProduce:
		return exitFailedProduce
	case domain.RunStatusFailedCommit:
		return exitFailedCommit
	case domain.RunStatusFailedPush:
		return exitFailedPush
	default:
		// A non-terminal status here means the pipeline was interrupted.
		return exitRuntimeError
	}
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	var metricsSink metrics.Sink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("jobsync: metrics enabled (path=%s)", cfg.MetricsPath)
	}

	c, err := build(cfg, metricsSink, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobsync: %v\n", err)
		return exitRuntimeError
	}
	defer c.close()

	// Trigger bus feeding the single run loop.
	var busOpts []trigger.Option
	if metricsSink != nil {
		busOpts = append(busOpts, trigger.WithMetrics(metricsSink))
	}
	bus := trigger.NewBus(cfg.TriggerBufferSize, busOpts...)

	sched := scheduler.New(
		scheduler.Config{
			Expression: cfg.CronExpression,
			Timezone:   cfg.Timezone,
			CatchUp:    cfg.CatchUp,
		},
		&cronParserAdapter{parser: cron.NewParser()},
		bus,
	).WithHistory(c.store)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	// Status API, with the metrics endpoint on the same server.
	apiHandler := api.NewHandler(c.store, bus)
	if c.pgStore != nil {
		apiHandler = apiHandler.WithHealthChecker(c.pgStore)
	}
	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		log.Printf("jobsync: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("jobsync: http server error: %v", err)
		}
	}()

	// Separate contexts per loop so shutdown is ordered: scheduler first
	// (no new triggers), then reconciler, then the run loop.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	runLoopCtx, cancelRunLoop := context.WithCancel(context.Background())

	var schedulerWg, runLoopWg, reconcilerWg sync.WaitGroup
	var cancelReconciler context.CancelFunc

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		if err := sched.Run(schedulerCtx); err != nil {
			log.Printf("jobsync: scheduler: %v", err)
		}
	}()

	runLoopWg.Add(1)
	go func() {
		defer runLoopWg.Done()
		runLoop(runLoopCtx, c.pipe, bus)
	}()

	if cfg.ReconcileEnabled && c.pgStore != nil {
		var reconcilerCtx context.Context
		reconcilerCtx, cancelReconciler = context.WithCancel(context.Background())
		recon := reconciler.New(reconciler.Config{
			Interval:  cfg.ReconcileInterval,
			Threshold: cfg.ReconcileThreshold,
			BatchSize: cfg.ReconcileBatchSize,
		}, c.pgStore)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()
	}

	log.Printf("jobsync: started (schedule=%q, tz=%q, http=%s)",
		cfg.CronExpression, cfg.Timezone, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("jobsync: received signal %v, shutting down", received)

	log.Println("jobsync: stopping scheduler...")
	cancelScheduler()
	schedulerWg.Wait()

	if cancelReconciler != nil {
		log.Println("jobsync: stopping reconciler...")
		cancelReconciler()
		reconcilerWg.Wait()
	}

	log.Println("jobsync: stopping run loop...")
	cancelRunLoop()
	runLoopWg.Wait()

	log.Println("jobsync: stopping http server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("jobsync: http server shutdown error: %v", err)
	}

	log.Println("jobsync: stopped")
	return exitSuccess
}

// runLoop consumes triggers and executes pipeline runs one at a time.
func runLoop(ctx context.Context, pipe *pipeline.Pipeline, bus *trigger.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-bus.Channel():
			run, err := pipe.Run(ctx, event.Source)
			if err != nil {
				// Lock contention is already logged by the pipeline.
				if !errors.Is(err, lock.ErrHeld) {
					log.Printf("jobsync: run failed to start: %v", err)
				}
				continue
			}
			if !run.Status.IsSuccess() {
				log.Printf("jobsync: run %s ended %s: %s", run.ID, run.Status, run.Error)
			}
		}
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("jobsync version %s (commit: %s)\n", version, commit)
	return exitSuccess
}

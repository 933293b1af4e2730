package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Pipeline metrics
	runsTotal           *prometheus.CounterVec
	runDuration         prometheus.Histogram
	phaseDuration       *prometheus.HistogramVec
	artifactJobs        prometheus.Gauge
	lockContentionTotal prometheus.Counter

	// Scheduler metrics
	triggersTotal *prometheus.CounterVec
	scheduleDrift prometheus.Histogram

	// Trigger bus metrics
	busDepth prometheus.Gauge

	// Reconciler metrics
	orphanRunsTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPipelineMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initReconcilerMetrics(reg)
	return s
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobsync_runs_total",
		Help: "Total number of completed pipeline runs by final status.",
	}, []string{"status"})

	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobsync_run_duration_seconds",
		Help:    "End-to-end pipeline run duration in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	s.phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobsync_phase_duration_seconds",
		Help:    "Duration of each pipeline phase in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
	}, []string{"phase"})

	s.artifactJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobsync_artifact_jobs",
		Help: "Number of job records in the most recently produced artifact.",
	})

	s.lockContentionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobsync_lock_contention_total",
		Help: "Total number of runs skipped because the run lock was held.",
	})

	s.register(reg, s.runsTotal, "jobsync_runs_total")
	s.register(reg, s.runDuration, "jobsync_run_duration_seconds")
	s.register(reg, s.phaseDuration, "jobsync_phase_duration_seconds")
	s.register(reg, s.artifactJobs, "jobsync_artifact_jobs")
	s.register(reg, s.lockContentionTotal, "jobsync_lock_contention_total")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobsync_triggers_total",
		Help: "Total number of triggers emitted by source.",
	}, []string{"source"})

	s.scheduleDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobsync_schedule_drift_seconds",
		Help:    "Difference between actual and scheduled trigger time in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.busDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobsync_trigger_bus_depth",
		Help: "Current number of triggers waiting in the bus.",
	})

	s.register(reg, s.triggersTotal, "jobsync_triggers_total")
	s.register(reg, s.scheduleDrift, "jobsync_schedule_drift_seconds")
	s.register(reg, s.busDepth, "jobsync_trigger_bus_depth")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.orphanRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobsync_orphan_runs_finalized_total",
		Help: "Total number of stale non-terminal runs finalized as failed.",
	})

	s.register(reg, s.orphanRunsTotal, "jobsync_orphan_runs_finalized_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Pipeline metrics implementation

func (s *PrometheusSink) RunStarted(trigger string) {
	// Runs are counted on completion; nothing to record at start.
}

func (s *PrometheusSink) RunCompleted(status string, duration time.Duration) {
	s.runsTotal.WithLabelValues(status).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) PhaseCompleted(phase string, duration time.Duration) {
	s.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func (s *PrometheusSink) ArtifactJobs(count int) {
	s.artifactJobs.Set(float64(count))
}

func (s *PrometheusSink) LockContention() {
	s.lockContentionTotal.Inc()
}

// Scheduler metrics implementation

func (s *PrometheusSink) TriggerEmitted(source string) {
	s.triggersTotal.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) ScheduleDrift(drift time.Duration) {
	// Record absolute drift value
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.scheduleDrift.Observe(d)
}

// Trigger bus metrics implementation

func (s *PrometheusSink) TriggerBusDepth(depth int) {
	s.busDepth.Set(float64(depth))
}

// Reconciler metrics implementation

func (s *PrometheusSink) OrphanRunsFinalized(count int) {
	s.orphanRunsTotal.Add(float64(count))
}

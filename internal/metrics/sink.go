package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Pipeline metrics
	RunStarted(trigger string)
	RunCompleted(status string, duration time.Duration)
	PhaseCompleted(phase string, duration time.Duration)
	ArtifactJobs(count int)
	LockContention()

	// Scheduler metrics
	TriggerEmitted(source string)
	ScheduleDrift(drift time.Duration)

	// Trigger bus metrics
	TriggerBusDepth(depth int)

	// Reconciler metrics
	OrphanRunsFinalized(count int)
}

package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) RunStarted(trigger string)                          {}
func (n *NoopSink) RunCompleted(status string, duration time.Duration) {}
func (n *NoopSink) PhaseCompleted(phase string, duration time.Duration) {}
func (n *NoopSink) ArtifactJobs(count int)                             {}
func (n *NoopSink) LockContention()                                    {}
func (n *NoopSink) TriggerEmitted(source string)                       {}
func (n *NoopSink) ScheduleDrift(drift time.Duration)                  {}
func (n *NoopSink) TriggerBusDepth(depth int)                          {}
func (n *NoopSink) OrphanRunsFinalized(count int)                      {}

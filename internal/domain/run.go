package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus tracks a run through the produce -> commit -> push state machine.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProducing  RunStatus = "producing"
	RunStatusProduced   RunStatus = "produced"
	RunStatusCommitting RunStatus = "committing"
	RunStatusCommitted  RunStatus = "committed"
	RunStatusPushing    RunStatus = "pushing"

	// Terminal states.
	RunStatusPushed        RunStatus = "pushed"
	RunStatusNoChange      RunStatus = "no_change"
	RunStatusFailedProduce RunStatus = "failed_produce"
	RunStatusFailedCommit  RunStatus = "failed_commit"
	RunStatusFailedPush    RunStatus = "failed_push"
)

// IsTerminal reports whether the status is an end state for a run.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusPushed, RunStatusNoChange,
		RunStatusFailedProduce, RunStatusFailedCommit, RunStatusFailedPush:
		return true
	}
	return false
}

// IsSuccess reports whether the status is a successful terminal state.
func (s RunStatus) IsSuccess() bool {
	return s == RunStatusPushed || s == RunStatusNoChange
}

// Phase names the pipeline phase a run reached.
type Phase string

const (
	PhaseProduce Phase = "produce"
	PhaseCommit  Phase = "commit"
	PhasePush    Phase = "push"
)

// TriggerSource records what caused a run.
type TriggerSource string

const (
	TriggerCron    TriggerSource = "cron"
	TriggerCatchUp TriggerSource = "catchup"
	TriggerManual  TriggerSource = "manual"
)

// Run is the record of one pipeline execution. It is appended to the run
// history when the run reaches a terminal state and is never mutated after.
type Run struct {
	ID uuid.UUID `json:"id"`

	Trigger TriggerSource `json:"trigger"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Status RunStatus `json:"status"`
	Phase  Phase     `json:"phase"` // deepest phase reached

	// Producer phase.
	ProducerExitCode int    `json:"producer_exit_code"`
	ProducerOutput   string `json:"producer_output,omitempty"` // combined stdout/stderr, verbatim
	ArtifactJobs     int    `json:"artifact_jobs"`             // job records in the artifact
	ArtifactDigest   string `json:"artifact_digest,omitempty"` // sha256 of the artifact bytes

	// Durability phase.
	CommitSHA     string `json:"commit_sha,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`

	// Failure detail for whichever phase failed.
	Error string `json:"error,omitempty"`
}

// Duration is the wall-clock length of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TriggerEvent asks the run loop to execute the pipeline once.
type TriggerEvent struct {
	Source      TriggerSource
	ScheduledAt time.Time // intended fire time (UTC); zero for manual triggers
	EmittedAt   time.Time
}

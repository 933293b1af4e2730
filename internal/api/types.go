package api

import (
	"time"

	"jobsync/internal/domain"
)

type RunResponse struct {
	ID               string  `json:"id"`
	Trigger          string  `json:"trigger"`
	StartedAt        string  `json:"started_at"`
	FinishedAt       string  `json:"finished_at,omitempty"`
	Status           string  `json:"status"`
	Phase            string  `json:"phase,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds,omitempty"`
	ProducerExitCode int     `json:"producer_exit_code"`
	ArtifactJobs     int     `json:"artifact_jobs"`
	ArtifactDigest   string  `json:"artifact_digest,omitempty"`
	CommitSHA        string  `json:"commit_sha,omitempty"`
	CommitMessage    string  `json:"commit_message,omitempty"`
	Error            string  `json:"error,omitempty"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type TriggerResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func runResponse(run domain.Run) RunResponse {
	resp := RunResponse{
		ID:               run.ID.String(),
		Trigger:          string(run.Trigger),
		StartedAt:        formatTime(run.StartedAt),
		Status:           string(run.Status),
		Phase:            string(run.Phase),
		ProducerExitCode: run.ProducerExitCode,
		ArtifactJobs:     run.ArtifactJobs,
		ArtifactDigest:   run.ArtifactDigest,
		CommitSHA:        run.CommitSHA,
		CommitMessage:    run.CommitMessage,
		Error:            run.Error,
	}
	if !run.FinishedAt.IsZero() {
		resp.FinishedAt = formatTime(run.FinishedAt)
		resp.DurationSeconds = run.Duration().Seconds()
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

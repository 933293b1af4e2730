// Package history persists run records. Two backends are provided: an
// append-only JSONL file for single-host deployments and PostgreSQL for
// deployments that need orphan detection and the status API at scale.
package history

import "errors"

// ErrRunAlreadyTerminal is returned when a terminal run record arrives for
// a run that already reached a terminal status. Terminal statuses are final;
// a run never transitions out of one.
var ErrRunAlreadyTerminal = errors.New("run already in terminal state")

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

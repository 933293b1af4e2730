package domain

// CommitResult is the outcome of the durability phase's commit operation.
// Committed=false means the staged diff was empty and no commit object was
// created; that is the expected no-change outcome, not an error.
type CommitResult struct {
	Committed bool
	SHA       string
}

// PushResult is the outcome of the publication phase.
type PushResult struct {
	OK    bool
	Error string
}

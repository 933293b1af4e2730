// Package gitvc drives the git CLI for the durability and publication
// phases. Only three operations are consumed: stage, commit, push.
package gitvc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"jobsync/internal/domain"
)

// Git runs git commands inside a working tree.
type Git struct {
	dir         string
	pushTimeout time.Duration
}

// New creates a Git adapter rooted at dir.
func New(dir string, pushTimeout time.Duration) *Git {
	if pushTimeout <= 0 {
		pushTimeout = 2 * time.Minute
	}
	return &Git{dir: dir, pushTimeout: pushTimeout}
}

// IsWorkTree reports whether dir is inside a git work tree.
func (g *Git) IsWorkTree() bool {
	_, _, code, err := g.run(context.Background(), "rev-parse", "--is-inside-work-tree")
	return err == nil && code == 0
}

// Stage adds the given path to the index.
func (g *Git) Stage(ctx context.Context, path string) error {
	_, stderr, code, err := g.run(ctx, "add", "--", path)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("git add %s: exit %d: %s", path, code, strings.TrimSpace(stderr))
	}
	return nil
}

// Commit creates a commit from the index. An empty staged diff yields
// Committed=false and no commit object; a no-op commit is never created.
func (g *Git) Commit(ctx context.Context, message string) (domain.CommitResult, error) {
	// Exit 0 means the index matches HEAD.
	_, _, code, err := g.run(ctx, "diff", "--cached", "--quiet")
	if err != nil {
		return domain.CommitResult{}, err
	}
	if code == 0 {
		return domain.CommitResult{Committed: false}, nil
	}

	_, stderr, code, err := g.run(ctx, "commit", "-m", message)
	if err != nil {
		return domain.CommitResult{}, err
	}
	if code != 0 {
		return domain.CommitResult{}, fmt.Errorf("git commit: exit %d: %s", code, strings.TrimSpace(stderr))
	}

	sha, err := g.HeadSHA(ctx)
	if err != nil {
		return domain.CommitResult{}, err
	}
	return domain.CommitResult{Committed: true, SHA: sha}, nil
}

// Push publishes the branch to the remote. Failures (auth, network,
// non-fast-forward) are reported in the result; no conflict resolution is
// attempted.
func (g *Git) Push(ctx context.Context, remote, branch string) domain.PushResult {
	pushCtx, cancel := context.WithTimeout(ctx, g.pushTimeout)
	defer cancel()

	_, stderr, code, err := g.run(pushCtx, "push", remote, branch)
	if err != nil {
		return domain.PushResult{OK: false, Error: err.Error()}
	}
	if pushCtx.Err() == context.DeadlineExceeded {
		return domain.PushResult{OK: false, Error: "push timed out"}
	}
	if code != 0 {
		return domain.PushResult{OK: false, Error: fmt.Sprintf("exit %d: %s", code, strings.TrimSpace(stderr))}
	}
	return domain.PushResult{OK: true}
}

// HeadSHA returns the current HEAD commit hash.
func (g *Git) HeadSHA(ctx context.Context) (string, error) {
	stdout, stderr, code, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("git rev-parse HEAD: exit %d: %s", code, strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

func (g *Git) run(ctx context.Context, args ...string) (stdout, stderr string, exitCode int, err error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return "", "", -1, fmt.Errorf("git not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, gitPath, args...)
	cmd.Dir = g.dir

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return out.String(), errBuf.String(), -1, fmt.Errorf("git %s: %w", args[0], runErr)
		}
	}
	return out.String(), errBuf.String(), code, nil
}

// Package producer runs the external scraper process.
package producer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Timed-out subprocesses report exit 124, matching the coreutils timeout
// convention.
const exitTimeout = 124

// Result captures one scraper invocation.
type Result struct {
	ExitCode int
	Output   string // combined stdout/stderr, verbatim
	TimedOut bool
	Duration time.Duration
}

// Succeeded reports whether the scraper exited cleanly.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Subprocess invokes a configured command line as the producer.
//
// The command is split on whitespace; each "{output}" token is replaced
// with the staging path, and JOBSYNC_OUTPUT is set in the child's
// environment for scrapers that read their destination from the
// environment instead.
type Subprocess struct {
	Command    string
	WorkingDir string
	Timeout    time.Duration
}

// Produce runs the scraper, directing its output to outputPath.
// A non-zero exit or a timeout is reported in the Result, not as an error;
// the error return is reserved for failures to start the process at all.
func (p *Subprocess) Produce(ctx context.Context, outputPath string) (Result, error) {
	argv := splitCommand(p.Command)
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("producer: empty command")
	}
	for i, arg := range argv {
		argv[i] = strings.ReplaceAll(arg, "{output}", outputPath)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	if p.WorkingDir != "" {
		cmd.Dir = p.WorkingDir
	}
	cmd.Env = append(os.Environ(), "JOBSYNC_OUTPUT="+outputPath)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("producer: start %s: %w", argv[0], err)
	}
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	timedOut := runCtx.Err() == context.DeadlineExceeded
	exitCode := 0
	switch {
	case timedOut:
		exitCode = exitTimeout
	case waitErr != nil:
		if ee, ok := waitErr.(*exec.ExitError); ok && ee.ProcessState != nil {
			exitCode = ee.ProcessState.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return Result{
		ExitCode: exitCode,
		Output:   out.String(),
		TimedOut: timedOut,
		Duration: elapsed,
	}, nil
}

// splitCommand splits a command line on whitespace. Quoting is deliberately
// not supported; scrapers needing shell features use `sh -c '...'` wrappers
// via a small script.
func splitCommand(s string) []string {
	return strings.Fields(s)
}

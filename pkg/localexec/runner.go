// Package localexec provides an injectable abstraction for running external
// tools as local processes. The orchestrator never shells out directly;
// everything goes through a Runner so the callers can be exercised with fakes.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Result captures the outcome of a single external tool invocation.
type Result struct {
	// Stdout is the captured standard output, trimmed of trailing whitespace.
	Stdout string

	// Stderr is the captured standard error, trimmed of trailing whitespace.
	Stderr string

	// ExitCode is the process exit code. Zero on success, -1 if the process
	// never started or was killed by a signal.
	ExitCode int

	// Duration is the wall-clock time the invocation took.
	Duration time.Duration
}

// Combined returns stdout and stderr joined for diagnostics.
func (r *Result) Combined() string {
	if r.Stdout == "" {
		return r.Stderr
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Command describes one external tool invocation.
type Command struct {
	// Name is the binary to execute (resolved via PATH).
	Name string

	// Args are the command-line arguments, already split.
	Args []string

	// Dir is the working directory. Empty means the process inherits ours.
	Dir string

	// Env holds extra environment variables as KEY=VALUE pairs, appended to
	// the inherited environment.
	Env []string
}

// Runner executes external commands. Implementations must be safe for
// sequential reuse; the orchestrator never runs two commands concurrently.
type Runner interface {
	// Execute runs the command and returns its captured output. A non-zero
	// exit code is reported through Result.ExitCode together with a non-nil
	// error; callers that need the output for diagnostics must read the
	// Result even when err != nil.
	Execute(ctx context.Context, cmd Command) (*Result, error)
}

// Observed wraps next so observe is called with the binary name of every
// invocation before it runs. The workflow uses this to count external tool
// calls per binary.
func Observed(next Runner, observe func(name string)) Runner {
	return &observedRunner{next: next, observe: observe}
}

type observedRunner struct {
	next    Runner
	observe func(name string)
}

// Execute implements Runner.
func (r *observedRunner) Execute(ctx context.Context, cmd Command) (*Result, error) {
	r.observe(cmd.Name)
	return r.next.Execute(ctx, cmd)
}

// ProcessRunner is the production Runner backed by os/exec.
type ProcessRunner struct{}

// NewProcessRunner creates a Runner that executes real processes.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Execute implements Runner.
func (r *ProcessRunner) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command name is required")
	}

	start := time.Now()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	log.Debug().
		Str("command", cmd.Name).
		Strs("args", cmd.Args).
		Msg("executing external tool")

	runErr := c.Run()

	result := &Result{
		Stdout:   trimOutput(stdout.String()),
		Stderr:   trimOutput(stderr.String()),
		ExitCode: exitCode(c, runErr),
		Duration: time.Since(start),
	}

	log.Debug().
		Str("command", cmd.Name).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Err(runErr).
		Msg("external tool completed")

	if runErr != nil {
		return result, fmt.Errorf("%s: %w", cmd.Name, runErr)
	}
	return result, nil
}

func exitCode(c *exec.Cmd, runErr error) int {
	if runErr == nil {
		if c.ProcessState != nil {
			return c.ProcessState.ExitCode()
		}
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func trimOutput(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

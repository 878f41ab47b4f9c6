// Package shell runs command lines through the host shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// DefaultTimeout bounds a command when the Runner sets none.
const DefaultTimeout = 60 * time.Second

// ErrTimeout is returned when a command outlives its timeout.
var ErrTimeout = errors.New("command timed out")

// Runner executes command lines. The zero value uses the platform shell,
// the process working directory, the inherited environment and
// DefaultTimeout.
type Runner struct {
	// Shell overrides the interpreter, e.g. "bash". It is invoked as
	// `<Shell> -c <line>` (or `/C` for cmd).
	Shell   string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Output is the captured result of a command that ran to completion.
type Output struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the command exited with status 0.
func (o Output) Success() bool { return o.ExitCode == 0 }

// Run executes line and waits for it. A non-zero exit status is not an
// error; errors are reserved for commands that could not be started, that
// hit the timeout, or whose ctx ended first (ctx.Err() is returned).
func (r Runner) Run(ctx context.Context, line string) (Output, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := r.argv(line)
	cmd := exec.CommandContext(execCtx, name, args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), r.Env...)
	// Children that inherit stdout can keep the pipes open after the
	// shell is killed; stop waiting for them shortly after.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return out, nil
	}
	// The caller's own cancellation or deadline wins over our timeout and
	// over the exit status of the killed process.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, fmt.Errorf("start %s: %w", name, err)
}

func (r Runner) argv(line string) (string, []string) {
	sh := r.Shell
	if sh == "" {
		if runtime.GOOS == "windows" {
			sh = "cmd"
		} else {
			sh = "sh"
		}
	}
	if sh == "cmd" || sh == "cmd.exe" {
		return sh, []string{"/C", line}
	}
	return sh, []string{"-c", line}
}

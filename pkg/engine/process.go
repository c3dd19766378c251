package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/scenepipe/scenepipe/pkg/envs"
)

// ExitCodeNotStarted is reported when a tool executable cannot be started.
const ExitCodeNotStarted = 127

// ExecRunner runs invocations as child processes with inherited standard streams.
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner creates a runner attached to the current process's standard streams.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run starts the child and waits for it. The context is not used to kill the child:
// an interrupt delivered to the process group reaches the tool directly and the
// orchestrator observes cancellation only between stages.
func (r *ExecRunner) Run(_ context.Context, inv envs.Invocation) (int, error) {
	if len(inv.Argv) == 0 {
		return ExitCodeNotStarted, envs.ErrEmptyCommand
	}

	cmd := exec.Command(inv.Argv[0], inv.Argv[1:]...) // #nosec G204 -- argv comes from pipeline definitions
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}

	return ExitCodeNotStarted, fmt.Errorf("failed to start %s: %w", inv.Argv[0], err)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"evalplane/internal/services"
)

// Executor launches an engine invocation and waits for it to exit.
type Executor interface {
	Run(ctx context.Context, inv Invocation) error
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("engine exited with code %d", e.Code)
}

// ExitCode extracts the exit code from err when the process ran to exit.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// killGrace bounds how long Wait blocks on inherited pipes after a kill.
const killGrace = 5 * time.Second

// CommandExecutor runs invocations with os/exec. Nil writers inherit the
// parent's standard streams.
type CommandExecutor struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run starts the process and waits. A canceled ctx kills the process and
// returns ctx.Err(); a launch failure wraps services.ErrExternalTool.
func (e CommandExecutor) Run(ctx context.Context, inv Invocation) error {
	cmd := exec.CommandContext(ctx, inv.Binary, inv.Args...) //nolint:gosec
	cmd.Env = inv.Environ()
	cmd.Stdin = os.Stdin
	cmd.Stdout = e.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = e.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.WaitDelay = killGrace

	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "engine", "launch", "failed to start "+inv.Binary, err)
	}
	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return services.Wrap(services.ErrExternalTool, "engine", "wait", inv.Binary+" did not exit cleanly", err)
}

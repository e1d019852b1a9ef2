package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"evalplane/internal/config"
	"evalplane/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckEngine verifies the evaluation engine resolves on PATH.
func CheckEngine(ctx context.Context, cfg *config.Config) Result {
	const name = "Evaluation engine"
	status := CheckSystemDeps(ctx, cfg)[0]
	if !status.Available {
		return Result{Name: name, Detail: status.Detail}
	}
	detail := status.Path
	if status.Version != "" {
		detail += " (" + status.Version + ")"
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckListenAddress verifies the address can be bound. It fails while a
// daemon is already serving on it.
func CheckListenAddress(name, addr string) Result {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: address in use; is the daemon already running?)", addr)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	_ = listener.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", addr)}
}

// CheckSystemDeps evaluates the external executables for the given config.
// The engine is always the first entry. Both the daemon and the CLI use this
// to avoid duplicating the requirements list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Evaluation engine",
			Command:     cfg.EngineBinary(),
			Description: "Required to execute evaluation runs and sync the task catalog",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "Python",
			Command:     "python3",
			Description: "Needed by custom task plugins loaded from local modules",
			Optional:    true,
		},
	}
	return deps.CheckBinaries(ctx, requirements)
}

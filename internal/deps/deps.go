// Package deps checks that the external executables evalplane drives are
// installed.
package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const versionProbeTimeout = 5 * time.Second

// Requirement defines an external executable evalplane relies on.
// VersionArgs, when set, are run against the binary to capture its version.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	VersionArgs []string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Version     string
	Detail      string
}

// CheckBinaries resolves each requirement on PATH and probes versions where
// asked. A failed version probe does not make a binary unavailable.
func CheckBinaries(ctx context.Context, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		if len(req.VersionArgs) > 0 {
			version, err := probeVersion(ctx, path, req.VersionArgs)
			if err != nil {
				status.Detail = "version probe failed: " + err.Error()
			} else {
				status.Version = version
			}
		}
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of required dependencies that are absent.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

// probeVersion returns the first non-empty output line.
func probeVersion(ctx context.Context, path string, args []string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, path, args...).CombinedOutput() //nolint:gosec
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", nil
}

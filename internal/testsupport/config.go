package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"evalplane/internal/config"
)

// ConfigOption customizes the config produced by NewConfig.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig returns defaults rooted in a fresh temp directory, with an
// ephemeral API port and one second queue polling.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactsDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1

	b := &configBuilder{t: t, baseDir: base, cfg: &cfg}
	for _, opt := range opts {
		opt(b)
	}
	return b.cfg
}

// WithWorkers sets the workflow worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.WorkerCount = n
	}
}

// WithEngineScript installs a /bin/sh script as the engine executable. The
// script receives the engine arguments unchanged.
func WithEngineScript(script string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Binary = b.writeExecutable("lighteval", "#!/bin/sh\n"+script+"\n")
	}
}

func (b *configBuilder) writeExecutable(name, content string) string {
	b.t.Helper()
	binDir := filepath.Join(b.baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		b.t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte(content), 0o755); err != nil {
		b.t.Fatalf("write %s: %v", name, err)
	}
	return target
}

// BaseDir returns the temp directory backing a config built by NewConfig.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evalplane/internal/config"
	"evalplane/internal/store"
	"evalplane/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(base, "evalplane.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

// openStore opens a second handle on the environment's database for assertions.
func (e *cliTestEnv) openStore(t *testing.T) *store.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, e.cfg)
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
artifacts_dir = %q
log_dir = %q
api_bind = %q

[engine]
binary = %q

[workflow]
worker_count = 1
queue_poll_interval = 1

[logging]
level = "error"
`,
		cfg.Paths.DataDir,
		cfg.Paths.ArtifactsDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.EngineBinary(),
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeJobSpec(t *testing.T, dir, packID, model string) string {
	t.Helper()
	path := filepath.Join(dir, "jobspec-"+model+".json")
	body := fmt.Sprintf(`{
  "benchmark_pack_id": %q,
  "backend": {"type": "openai_compatible", "model_name": %q},
  "tasks": [{"id": "gsm8k", "fewshot": 0}],
  "artifacts": {"output_dir": %q}
}`, packID, model, filepath.Join(dir, "out-"+model))
	testsupport.WriteFile(t, path, []byte(body))
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	ArtifactsDir string `toml:"artifacts_dir"`
	LogDir       string `toml:"log_dir"`
	APIBind      string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on every /api request.
	APIToken     string `toml:"api_token"`
}

// Engine describes how the evaluation engine executable is invoked.
type Engine struct {
	Binary           string `toml:"binary"`
	EvalTimeout      int    `toml:"eval_timeout"`
	ScoringModeEnv   string `toml:"scoring_mode_env"`
	ScoringConfigEnv string `toml:"scoring_config_env"`
}

// Workflow contains configuration for the run queue workers.
type Workflow struct {
	WorkerCount        int `toml:"worker_count"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for evalplane.
//
// Configuration sections by subsystem:
//   - Paths: database, artifact and log directories plus the API bind address
//   - Engine: evaluation engine executable and environment variable names
//   - Workflow: run queue worker pool sizing and polling
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Engine   Engine   `toml:"engine"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("evalplane.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactsDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the SQLite store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "evalplane.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "evalplane.lock")
}

// RunOutputDir returns the default output directory for a run that did not name one.
func (c *Config) RunOutputDir(runID string) string {
	return filepath.Join(c.Paths.ArtifactsDir, runID)
}

// EngineBinary returns the evaluation engine executable name.
func (c *Config) EngineBinary() string {
	if strings.TrimSpace(c.Engine.Binary) == "" {
		return defaultEngineBinary
	}
	return c.Engine.Binary
}

// EvalTimeout returns the per-run engine deadline; zero means unlimited.
func (c *Config) EvalTimeout() time.Duration {
	if c.Engine.EvalTimeout <= 0 {
		return 0
	}
	return time.Duration(c.Engine.EvalTimeout) * time.Second
}

// QueuePollInterval returns how long idle workers wait before checking the queue again.
func (c *Config) QueuePollInterval() time.Duration {
	return time.Duration(c.Workflow.QueuePollInterval) * time.Second
}

// ErrorRetryInterval returns how long a worker backs off after a store error.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

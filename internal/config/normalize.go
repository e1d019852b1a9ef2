package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactsDir) == "" {
		c.Paths.ArtifactsDir = defaultArtifactsDir
	}
	if c.Paths.ArtifactsDir, err = expandPath(c.Paths.ArtifactsDir); err != nil {
		return fmt.Errorf("paths.artifacts_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if value, ok := os.LookupEnv("EVALPLANE_API_BIND"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIBind = value
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("EVALPLANE_API_TOKEN"); ok {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeEngine() {
	if value, ok := os.LookupEnv("EVALPLANE_ENGINE_BINARY"); ok && strings.TrimSpace(value) != "" {
		c.Engine.Binary = value
	}
	c.Engine.Binary = strings.TrimSpace(c.Engine.Binary)
	if c.Engine.Binary == "" {
		c.Engine.Binary = defaultEngineBinary
	}
	c.Engine.ScoringModeEnv = strings.TrimSpace(c.Engine.ScoringModeEnv)
	if c.Engine.ScoringModeEnv == "" {
		c.Engine.ScoringModeEnv = defaultScoringModeEnv
	}
	c.Engine.ScoringConfigEnv = strings.TrimSpace(c.Engine.ScoringConfigEnv)
	if c.Engine.ScoringConfigEnv == "" {
		c.Engine.ScoringConfigEnv = defaultScoringConfigEnv
	}
	if c.Engine.EvalTimeout < 0 {
		c.Engine.EvalTimeout = 0
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval == 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval == 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

package config

const (
	defaultConfigPath         = "~/.config/evalplane/config.toml"
	defaultDataDir            = "~/.local/share/evalplane"
	defaultArtifactsDir       = "~/.local/share/evalplane/artifacts"
	defaultLogDir             = "~/.local/share/evalplane/logs"
	defaultAPIBind            = "127.0.0.1:4000"
	defaultEngineBinary       = "lighteval"
	defaultScoringModeEnv     = "EVALUATOR_SCORING_MODE"
	defaultScoringConfigEnv   = "EVALUATOR_SCORING_CONFIG"
	defaultWorkerCount        = 2
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			ArtifactsDir: defaultArtifactsDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Engine: Engine{
			Binary:           defaultEngineBinary,
			ScoringModeEnv:   defaultScoringModeEnv,
			ScoringConfigEnv: defaultScoringConfigEnv,
		},
		Workflow: Workflow{
			WorkerCount:        defaultWorkerCount,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

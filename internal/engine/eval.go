package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"evalplane/internal/jobspec"
)

// Environment variable names read by the engine and its plugins.
const (
	DefaultScoringModeEnv   = "EVALUATOR_SCORING_MODE"
	DefaultScoringConfigEnv = "EVALUATOR_SCORING_CONFIG"
	EnvBackendBaseURL       = "EVALUATOR_BACKEND_BASE_URL"
	EnvOpenAIAPIBase        = "OPENAI_API_BASE"
	EnvTemperature          = "EVALUATOR_TEMPERATURE"
	EnvMaxNewTokens         = "EVALUATOR_MAX_NEW_TOKENS"
	EnvTopP                 = "EVALUATOR_TOP_P"
	EnvTaskParamsPrefix     = "EVALUATOR_TASK_PARAMS__"
	EnvBenchmarkPackID      = "EVALUATOR_BENCHMARK_PACK_ID"
	EnvRunName              = "EVALUATOR_RUN_NAME"
)

// ProviderOpenAICompatible routes base_url through OPENAI_API_BASE.
const ProviderOpenAICompatible = "openai_compatible"

// EvalOptions parameterizes BuildEvalInvocation.
type EvalOptions struct {
	Binary string
	// OutputDir overrides the job's artifacts.output_dir when set.
	OutputDir string
	// PluginURIs are custom task modules, already deduplicated and ordered.
	PluginURIs       []string
	ScoringModeEnv   string
	ScoringConfigEnv string
}

// BuildEvalInvocation maps a job specification onto an `eval` command line
// and its environment.
func BuildEvalInvocation(spec *jobspec.JobSpec, opts EvalOptions) (Invocation, error) {
	if spec == nil {
		return Invocation{}, fmt.Errorf("build eval invocation: nil job specification")
	}
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "lighteval"
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = spec.Artifacts.OutputDir
	}
	modeEnv := opts.ScoringModeEnv
	if modeEnv == "" {
		modeEnv = DefaultScoringModeEnv
	}
	configEnv := opts.ScoringConfigEnv
	if configEnv == "" {
		configEnv = DefaultScoringConfigEnv
	}

	args := []string{
		"eval",
		"--model", spec.Backend.ModelName,
		"--tasks", strings.Join(spec.TaskSpecs(), ","),
		"--output-dir", outputDir,
	}
	if spec.MaxSamples != nil {
		args = append(args, "--max-samples", strconv.Itoa(*spec.MaxSamples))
	}
	if spec.Artifacts.SaveDetails {
		args = append(args, "--save-details")
	}
	for _, uri := range opts.PluginURIs {
		args = append(args, "--custom-tasks", uri)
	}
	if spec.Backend.Provider != "" {
		args = append(args, "--provider", spec.Backend.Provider)
	}
	if spec.Backend.ParallelCallsCount != nil {
		args = append(args, "--num-workers", strconv.Itoa(*spec.Backend.ParallelCallsCount))
	}
	if spec.NumFewshotSeeds > 1 {
		args = append(args, "--num-fewshot-seeds", strconv.Itoa(spec.NumFewshotSeeds))
	}

	env := []string{modeEnv + "=" + string(spec.EffectiveScoringMode())}
	scoringConfig, ok, err := spec.ScoringConfigJSON()
	if err != nil {
		return Invocation{}, err
	}
	if ok {
		env = append(env, configEnv+"="+scoringConfig)
	}
	if spec.Backend.BaseURL != "" {
		key := EnvBackendBaseURL
		if spec.Backend.Provider == ProviderOpenAICompatible {
			key = EnvOpenAIAPIBase
		}
		env = append(env, key+"="+spec.Backend.BaseURL)
	}
	if g := spec.Generation; g != nil {
		if g.Temperature != nil {
			env = append(env, EnvTemperature+"="+strconv.FormatFloat(*g.Temperature, 'f', -1, 64))
		}
		if g.MaxNewTokens != nil {
			env = append(env, EnvMaxNewTokens+"="+strconv.Itoa(*g.MaxNewTokens))
		}
		if g.TopP != nil {
			env = append(env, EnvTopP+"="+strconv.FormatFloat(*g.TopP, 'f', -1, 64))
		}
	}
	for _, task := range spec.Tasks {
		if len(task.Params) == 0 {
			continue
		}
		data, err := json.Marshal(task.Params)
		if err != nil {
			return Invocation{}, fmt.Errorf("encode params for task %s: %w", task.ID, err)
		}
		env = append(env, EnvTaskParamsPrefix+task.ID+"="+string(data))
	}
	env = append(env, EnvBenchmarkPackID+"="+spec.BenchmarkPackID)
	if spec.RunName != "" {
		env = append(env, EnvRunName+"="+spec.RunName)
	}

	return Invocation{Binary: binary, Args: args, Env: env}, nil
}

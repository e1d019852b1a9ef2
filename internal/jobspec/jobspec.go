package jobspec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"evalplane/internal/services"
)

// CurrentVersion is the job specification version applied when none is given.
const CurrentVersion = "1"

//go:embed jobspec.schema.json
var schemaJSON string

var (
	compileOnce sync.Once
	compiled    *gojsonschema.Schema
	compileErr  error
)

// ScoringMode selects how the engine scores task outputs.
type ScoringMode string

const (
	ScoringDeterministic ScoringMode = "deterministic"
	ScoringJudge         ScoringMode = "judge"
	ScoringJury          ScoringMode = "jury"
)

// ParseScoringMode accepts the three known modes, case-insensitively.
func ParseScoringMode(value string) (ScoringMode, bool) {
	switch ScoringMode(strings.ToLower(strings.TrimSpace(value))) {
	case ScoringDeterministic:
		return ScoringDeterministic, true
	case ScoringJudge:
		return ScoringJudge, true
	case ScoringJury:
		return ScoringJury, true
	default:
		return "", false
	}
}

// Backend names the model under evaluation and how to reach it.
type Backend struct {
	Type               string `json:"type"`
	ModelName          string `json:"model_name"`
	Provider           string `json:"provider,omitempty"`
	BaseURL            string `json:"base_url,omitempty"`
	ParallelCallsCount *int   `json:"parallel_calls_count,omitempty"`
}

// Generation holds optional sampling parameters.
type Generation struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxNewTokens *int     `json:"max_new_tokens,omitempty"`
	TopP         *float64 `json:"top_p,omitempty"`
}

// Task is one engine task reference. ID may already carry a "|<fewshot>" suffix.
type Task struct {
	ID      string         `json:"id"`
	Fewshot int            `json:"fewshot"`
	Params  map[string]any `json:"params,omitempty"`
}

// PluginRef points at a registered plugin by exact name and version.
type PluginRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Artifacts controls where the engine writes its output.
type Artifacts struct {
	OutputDir   string `json:"output_dir"`
	SaveDetails bool   `json:"save_details"`
}

// Judge configures one model-as-judge participant.
type Judge struct {
	ModelName       string   `json:"judge_model_name"`
	Backend         string   `json:"judge_backend"`
	Weight          *float64 `json:"weight,omitempty"`
	MaxTokens       *int     `json:"max_tokens,omitempty"`
	JudgeTemplateID string   `json:"judge_template_id,omitempty"`
}

// ScoringConfig is forwarded verbatim to the engine. Keys this type does not
// model are kept in Extra and survive a decode/encode cycle.
type ScoringConfig struct {
	JudgeTemplateID    string                     `json:"judge_template_id,omitempty"`
	Judges             []Judge                    `json:"judges,omitempty"`
	Aggregation        string                     `json:"aggregation,omitempty"`
	ReportDisagreement *bool                      `json:"report_disagreement,omitempty"`
	Extra              map[string]json.RawMessage `json:"-"`
}

type scoringConfigFields ScoringConfig

var scoringConfigKeys = map[string]struct{}{
	"judge_template_id":   {},
	"judges":              {},
	"aggregation":         {},
	"report_disagreement": {},
}

func (s *ScoringConfig) UnmarshalJSON(data []byte) error {
	var fields scoringConfigFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range scoringConfigKeys {
		delete(raw, key)
	}
	*s = ScoringConfig(fields)
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

func (s ScoringConfig) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(scoringConfigFields(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(s.Extra)+len(scoringConfigKeys))
	for key, value := range s.Extra {
		merged[key] = value
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for key, value := range knownMap {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// JobSpec is a validated request to evaluate one model against one pack.
type JobSpec struct {
	Version         string         `json:"jobspec_version"`
	BenchmarkPackID string         `json:"benchmark_pack_id"`
	RunName         string         `json:"run_name,omitempty"`
	MaxSamples      *int           `json:"max_samples,omitempty"`
	NumFewshotSeeds int            `json:"num_fewshot_seeds"`
	Backend         Backend        `json:"backend"`
	Generation      *Generation    `json:"generation,omitempty"`
	Tasks           []Task         `json:"tasks"`
	CustomPlugins   []PluginRef    `json:"custom_plugins,omitempty"`
	Artifacts       Artifacts      `json:"artifacts"`
	ScoringMode     ScoringMode    `json:"scoring_mode,omitempty"`
	ScoringConfig   *ScoringConfig `json:"scoring_config,omitempty"`
}

// Parse validates raw JSON against the embedded schema, decodes it, and applies
// defaults. Every failure wraps services.ErrValidation.
func Parse(data []byte) (*JobSpec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, services.Wrap(services.ErrValidation, "jobspec", "parse", "empty job specification", nil)
	}
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var spec JobSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, services.Wrap(services.ErrValidation, "jobspec", "decode", "invalid job specification", err)
	}
	spec.applyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func validateSchema(data []byte) error {
	compileOnce.Do(func() {
		compiled, compileErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	})
	if compileErr != nil {
		return fmt.Errorf("compile job specification schema: %w", compileErr)
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return services.Wrap(services.ErrValidation, "jobspec", "parse", "malformed JSON", err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return services.Wrap(services.ErrValidation, "jobspec", "validate", strings.Join(details, "; "), nil)
}

func (s *JobSpec) applyDefaults() {
	if strings.TrimSpace(s.Version) == "" {
		s.Version = CurrentVersion
	}
	if s.NumFewshotSeeds == 0 {
		s.NumFewshotSeeds = 1
	}
}

// Validate enforces the constraints the schema cannot express, and the schema's
// numeric bounds for specs built in code rather than parsed.
func (s *JobSpec) Validate() error {
	fail := func(msg string) error {
		return services.Wrap(services.ErrValidation, "jobspec", "validate", msg, nil)
	}
	if strings.TrimSpace(s.BenchmarkPackID) == "" {
		return fail("benchmark_pack_id is required")
	}
	if strings.TrimSpace(s.Backend.ModelName) == "" {
		return fail("backend.model_name is required")
	}
	if s.Backend.ParallelCallsCount != nil && *s.Backend.ParallelCallsCount <= 0 {
		return fail("backend.parallel_calls_count must be positive")
	}
	if s.MaxSamples != nil && *s.MaxSamples <= 0 {
		return fail("max_samples must be positive")
	}
	if s.NumFewshotSeeds <= 0 {
		return fail("num_fewshot_seeds must be positive")
	}
	if len(s.Tasks) == 0 {
		return fail("tasks must not be empty")
	}
	for i, task := range s.Tasks {
		if strings.TrimSpace(task.ID) == "" {
			return fail(fmt.Sprintf("tasks[%d].id is required", i))
		}
		if task.Fewshot < 0 {
			return fail(fmt.Sprintf("tasks[%d].fewshot must be >= 0", i))
		}
	}
	if s.ScoringMode != "" {
		if _, ok := ParseScoringMode(string(s.ScoringMode)); !ok {
			return fail(fmt.Sprintf("scoring_mode %q is not one of deterministic, judge, jury", s.ScoringMode))
		}
	}
	if g := s.Generation; g != nil {
		if g.Temperature != nil && (*g.Temperature < 0 || *g.Temperature > 2) {
			return fail("generation.temperature must be between 0 and 2")
		}
		if g.TopP != nil && (*g.TopP < 0 || *g.TopP > 1) {
			return fail("generation.top_p must be between 0 and 1")
		}
		if g.MaxNewTokens != nil && *g.MaxNewTokens <= 0 {
			return fail("generation.max_new_tokens must be positive")
		}
	}
	return nil
}

// EffectiveScoringMode returns the requested mode or deterministic when unset.
func (s *JobSpec) EffectiveScoringMode() ScoringMode {
	if s.ScoringMode == "" {
		return ScoringDeterministic
	}
	return s.ScoringMode
}

// TaskSpecs returns the normalized engine task keys in request order.
func (s *JobSpec) TaskSpecs() []string {
	specs := make([]string, 0, len(s.Tasks))
	for _, task := range s.Tasks {
		specs = append(specs, NormalizeTaskSpec(task.ID, task.Fewshot))
	}
	return specs
}

// ScoringConfigJSON serializes the scoring config. ok is false when none was given.
func (s *JobSpec) ScoringConfigJSON() (string, bool, error) {
	if s.ScoringConfig == nil {
		return "", false, nil
	}
	data, err := json.Marshal(s.ScoringConfig)
	if err != nil {
		return "", false, fmt.Errorf("encode scoring config: %w", err)
	}
	return string(data), true, nil
}

// Encode serializes the job specification for storage on the run row.
func (s *JobSpec) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode job specification: %w", err)
	}
	return string(data), nil
}

// Decode restores a spec persisted with Encode. Stored specs were validated at
// submission, so only the decode itself can fail.
func Decode(raw string) (*JobSpec, error) {
	var spec JobSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, fmt.Errorf("decode stored job specification: %w", err)
	}
	spec.applyDefaults()
	return &spec, nil
}

package store

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of an evaluation run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ParseRunStatus accepts the four known statuses.
func ParseRunStatus(value string) (RunStatus, bool) {
	switch RunStatus(value) {
	case RunQueued, RunRunning, RunCompleted, RunFailed:
		return RunStatus(value), true
	default:
		return "", false
	}
}

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Source types recorded on benchmark rows.
const (
	SourceLightevalBuiltin = "lighteval_builtin"
	SourcePackfile         = "packfile"
	SourceManual           = "manual"
)

// Benchmark is a catalog entry for one engine task.
type Benchmark struct {
	ID               string    `json:"benchmark_id"`
	Key              string    `json:"benchmark_key"`
	Suite            string    `json:"suite"`
	TaskName         string    `json:"task_name"`
	SourceType       string    `json:"source_type"`
	ScoringMode      string    `json:"scoring_mode"`
	Description      string    `json:"description,omitempty"`
	HFRepo           string    `json:"hf_repo,omitempty"`
	HFSubset         string    `json:"hf_subset,omitempty"`
	EvaluationSplits []string  `json:"evaluation_splits"`
	HFRevision       string    `json:"hf_revision,omitempty"`
	DefaultFewshot   *int      `json:"default_fewshot"`
	Tags             []string  `json:"tags"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Pack is a named, versioned bundle of weighted tasks scored by one primary metric.
type Pack struct {
	ID            string    `json:"pack_id"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Description   string    `json:"description,omitempty"`
	PrimaryMetric string    `json:"primary_metric"`
	Aggregation   string    `json:"aggregation"`
	Tags          []string  `json:"tags"`
	TaskCount     int       `json:"task_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PackTask is one task entry inside a pack.
type PackTask struct {
	ID           string     `json:"pack_task_id"`
	PackID       string     `json:"pack_id"`
	BenchmarkID  string     `json:"benchmark_id,omitempty"`
	TaskSpec     string     `json:"task_spec"`
	Fewshot      int        `json:"fewshot"`
	Weight       float64    `json:"weight"`
	DisplayOrder int        `json:"display_order"`
	Overrides    string     `json:"overrides"`
	Benchmark    *Benchmark `json:"benchmark,omitempty"`
}

// Plugin is a registered custom-task module the engine can load.
type Plugin struct {
	ID         string    `json:"plugin_id"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	StorageURI string    `json:"storage_uri"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Run is one execution of the engine for a model against a pack.
type Run struct {
	ID                 string          `json:"run_id"`
	PackID             string          `json:"pack_id"`
	RunName            string          `json:"run_name,omitempty"`
	Status             RunStatus       `json:"status"`
	ModelName          string          `json:"model_name"`
	RequestedModelName string          `json:"requested_model_name"`
	BackendType        string          `json:"backend_type"`
	BackendConfig      json.RawMessage `json:"backend_config"`
	MaxSamples         *int            `json:"max_samples"`
	NumFewshotSeeds    int             `json:"num_fewshot_seeds"`
	SaveDetails        bool            `json:"save_details"`
	OutputDir          string          `json:"output_dir"`
	ScoringMode        string          `json:"scoring_mode"`
	ScoringConfig      json.RawMessage `json:"scoring_config"`
	GenerationConfig   json.RawMessage `json:"generation_config"`
	JobSpec            string          `json:"-"`
	Tags               []string        `json:"tags"`
	Notes              string          `json:"notes,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	ExitCode           *int            `json:"exit_code"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	StartedAt          *time.Time      `json:"started_at"`
	FinishedAt         *time.Time      `json:"finished_at"`
	Scores             *Scores         `json:"scores,omitempty"`
}

// NewRun carries the fields recorded when a run is submitted.
type NewRun struct {
	PackID           string
	RunName          string
	ModelName        string
	BackendType      string
	BackendConfig    string
	MaxSamples       *int
	NumFewshotSeeds  int
	SaveDetails      bool
	OutputDir        string
	ScoringMode      string
	ScoringConfig    string
	GenerationConfig string
	JobSpec          string
	Tags             []string
	Notes            string
}

// Artifacts records where a run's engine output lives plus its run-level metadata.
type Artifacts struct {
	RunID            string    `json:"run_id"`
	ResultsJSONURI   string    `json:"results_json_uri,omitempty"`
	DetailsBaseURI   string    `json:"details_base_uri,omitempty"`
	LogsURI          string    `json:"logs_uri,omitempty"`
	ResultsJSON      string    `json:"results_json,omitempty"`
	LightevalSHA     string    `json:"lighteval_sha,omitempty"`
	ModelSHA         string    `json:"model_sha,omitempty"`
	TotalEvalSeconds *float64  `json:"total_eval_seconds"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TaskMetric is one numeric metric value for one task of a run.
type TaskMetric struct {
	TaskKey     string  `json:"task_key"`
	MetricName  string  `json:"metric_name"`
	MetricValue float64 `json:"metric_value"`
}

// TaskHash holds reproducibility fingerprints for one task of a run. Nil means
// the engine did not report the hash.
type TaskHash struct {
	TaskKey         string  `json:"task_key"`
	HashExamples    *string `json:"hash_examples"`
	HashFullPrompts *string `json:"hash_full_prompts"`
	HashInputTokens *string `json:"hash_input_tokens"`
	HashContTokens  *string `json:"hash_cont_tokens"`
}

// Scores is the aggregate score row of a run. PackScore is nil when no pack
// task contributed weight, which is distinct from a score of zero.
type Scores struct {
	RunID           string          `json:"run_id"`
	PackScore       *float64        `json:"pack_score"`
	PackScoreStderr *float64        `json:"pack_score_stderr"`
	AllMetrics      json.RawMessage `json:"all_metrics"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DetailFile points at one per-task parquet file of per-sample details.
type DetailFile struct {
	TaskKey    string `json:"task_key"`
	ParquetURI string `json:"parquet_uri"`
	NumRows    *int64 `json:"num_rows"`
}

// RunResults is the full set of ingested rows for one run, written atomically.
type RunResults struct {
	Artifacts   Artifacts
	Metrics     []TaskMetric
	Hashes      []TaskHash
	Scores      Scores
	DetailFiles []DetailFile
}

// RunDetail is a run with every related record, as shown by run inspection.
type RunDetail struct {
	Run
	Pack        *Pack        `json:"pack,omitempty"`
	Artifacts   *Artifacts   `json:"artifacts,omitempty"`
	TaskMetrics []TaskMetric `json:"task_metrics"`
	TaskHashes  []TaskHash   `json:"task_hashes"`
	DetailFiles []DetailFile `json:"detail_files"`
}

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	PackID      string
	Status      RunStatus
	ScoringMode string
	Limit       int
}

// BenchmarkFilter narrows ListBenchmarks. Query matches a substring of the key.
type BenchmarkFilter struct {
	Query       string
	Suite       string
	ScoringMode string
	Limit       int
}

// LeaderboardEntry is one ranked run of a pack.
type LeaderboardEntry struct {
	Rank            int       `json:"rank"`
	RunID           string    `json:"run_id"`
	ModelName       string    `json:"model_name"`
	PackScore       float64   `json:"pack_score"`
	PackScoreStderr *float64  `json:"pack_score_stderr"`
	ScoringMode     string    `json:"scoring_mode"`
	BackendType     string    `json:"backend_type"`
	CreatedAt       time.Time `json:"created_at"`
}

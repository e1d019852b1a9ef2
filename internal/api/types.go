package api

import (
	"encoding/json"

	"evalplane/internal/store"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// PackSummary describes a pack in list responses.
type PackSummary struct {
	PackID        string   `json:"packId"`
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Description   string   `json:"description"`
	PrimaryMetric string   `json:"primaryMetric"`
	Aggregation   string   `json:"aggregation"`
	Tags          []string `json:"tags"`
	TaskCount     int      `json:"taskCount"`
	CreatedAt     string   `json:"createdAt,omitempty"`
	UpdatedAt     string   `json:"updatedAt,omitempty"`
}

// PackDetail is a pack with its ordered task list.
type PackDetail struct {
	PackID        string     `json:"packId"`
	Name          string     `json:"name"`
	Version       string     `json:"version"`
	Description   string     `json:"description"`
	PrimaryMetric string     `json:"primaryMetric"`
	Aggregation   string     `json:"aggregation"`
	Tags          []string   `json:"tags"`
	CreatedAt     string     `json:"createdAt,omitempty"`
	UpdatedAt     string     `json:"updatedAt,omitempty"`
	Tasks         []PackTask `json:"tasks"`
}

// PackTask is one weighted task of a pack.
type PackTask struct {
	PackTaskID   string        `json:"packTaskId"`
	TaskSpec     string        `json:"taskSpec"`
	Fewshot      int           `json:"fewshot"`
	Weight       float64       `json:"weight"`
	DisplayOrder int           `json:"displayOrder"`
	Benchmark    *BenchmarkRef `json:"benchmark"`
}

// BenchmarkRef is the catalog entry a pack task points at.
type BenchmarkRef struct {
	BenchmarkID  string `json:"benchmarkId"`
	BenchmarkKey string `json:"benchmarkKey"`
	TaskName     string `json:"taskName"`
	Suite        string `json:"suite"`
	ScoringMode  string `json:"scoringMode"`
}

// LeaderboardEntry is one ranked run.
type LeaderboardEntry struct {
	Rank            int      `json:"rank"`
	RunID           string   `json:"runId"`
	ModelName       string   `json:"modelName"`
	PackScore       float64  `json:"packScore"`
	PackScoreStderr *float64 `json:"packScoreStderr"`
	ScoringMode     string   `json:"scoringMode"`
	BackendType     string   `json:"backendType"`
	CreatedAt       string   `json:"createdAt,omitempty"`
}

// LeaderboardResponse ranks the runs of one pack.
type LeaderboardResponse struct {
	PackID        string             `json:"packId"`
	PrimaryMetric string             `json:"primaryMetric"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
}

// BenchmarkInspection pairs a catalog entry with the engine's live
// description of it. Inspect is null when the engine could not be queried.
type BenchmarkInspection struct {
	Benchmark *store.Benchmark `json:"benchmark"`
	Inspect   json.RawMessage  `json:"inspect"`
}

// ComparedRun is one side of a run comparison.
type ComparedRun struct {
	store.Run
	TaskMetrics []store.TaskMetric `json:"task_metrics"`
}

// CompareResponse holds two runs side by side.
type CompareResponse struct {
	RunA *ComparedRun `json:"runA"`
	RunB *ComparedRun `json:"runB"`
}

// DetailsPage is one page of per-sample rows for a run task.
type DetailsPage struct {
	RunID    string           `json:"runId"`
	TaskKey  string           `json:"taskKey"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Rows     []map[string]any `json:"rows"`
	HasMore  bool             `json:"hasMore"`
}

// SubmitResponse acknowledges a queued run.
type SubmitResponse struct {
	RunID string `json:"runId"`
}

// IngestResponse reports what a manual re-ingestion wrote.
type IngestResponse struct {
	RunID       string   `json:"runId"`
	Skipped     bool     `json:"skipped"`
	ResultsPath string   `json:"resultsPath,omitempty"`
	Metrics     int      `json:"metrics"`
	Hashes      int      `json:"hashes"`
	DetailFiles int      `json:"detailFiles"`
	PackScore   *float64 `json:"packScore"`
}

// WorkflowStatus summarizes the run worker pool.
type WorkflowStatus struct {
	Running    bool           `json:"running"`
	Workers    int            `json:"workers"`
	Busy       int            `json:"busy"`
	QueueStats map[string]int `json:"queueStats"`
	LastError  string         `json:"lastError,omitempty"`
	LastRunID  string         `json:"lastRunId,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"databasePath"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

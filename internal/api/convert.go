package api

import (
	"time"

	"evalplane/internal/store"
	"evalplane/internal/workflow"
)

// FromPack converts a stored pack to its list representation.
func FromPack(p *store.Pack) PackSummary {
	return PackSummary{
		PackID:        p.ID,
		Name:          p.Name,
		Version:       p.Version,
		Description:   p.Description,
		PrimaryMetric: p.PrimaryMetric,
		Aggregation:   p.Aggregation,
		Tags:          nonNilStrings(p.Tags),
		TaskCount:     p.TaskCount,
		CreatedAt:     FormatTime(p.CreatedAt),
		UpdatedAt:     FormatTime(p.UpdatedAt),
	}
}

// FromPacks converts a pack list, never returning nil.
func FromPacks(packs []*store.Pack) []PackSummary {
	out := make([]PackSummary, 0, len(packs))
	for _, p := range packs {
		if p != nil {
			out = append(out, FromPack(p))
		}
	}
	return out
}

// FromPackDetail combines a pack with its tasks.
func FromPackDetail(p *store.Pack, tasks []store.PackTask) PackDetail {
	detail := PackDetail{
		PackID:        p.ID,
		Name:          p.Name,
		Version:       p.Version,
		Description:   p.Description,
		PrimaryMetric: p.PrimaryMetric,
		Aggregation:   p.Aggregation,
		Tags:          nonNilStrings(p.Tags),
		CreatedAt:     FormatTime(p.CreatedAt),
		UpdatedAt:     FormatTime(p.UpdatedAt),
		Tasks:         make([]PackTask, 0, len(tasks)),
	}
	for _, task := range tasks {
		view := PackTask{
			PackTaskID:   task.ID,
			TaskSpec:     task.TaskSpec,
			Fewshot:      task.Fewshot,
			Weight:       task.Weight,
			DisplayOrder: task.DisplayOrder,
		}
		if b := task.Benchmark; b != nil {
			view.Benchmark = &BenchmarkRef{
				BenchmarkID:  b.ID,
				BenchmarkKey: b.Key,
				TaskName:     b.TaskName,
				Suite:        b.Suite,
				ScoringMode:  b.ScoringMode,
			}
		}
		detail.Tasks = append(detail.Tasks, view)
	}
	return detail
}

// FromLeaderboard converts ranked store entries.
func FromLeaderboard(p *store.Pack, entries []store.LeaderboardEntry) LeaderboardResponse {
	resp := LeaderboardResponse{
		PackID:        p.ID,
		PrimaryMetric: p.PrimaryMetric,
		Leaderboard:   make([]LeaderboardEntry, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Leaderboard = append(resp.Leaderboard, LeaderboardEntry{
			Rank:            e.Rank,
			RunID:           e.RunID,
			ModelName:       e.ModelName,
			PackScore:       e.PackScore,
			PackScoreStderr: e.PackScoreStderr,
			ScoringMode:     e.ScoringMode,
			BackendType:     e.BackendType,
			CreatedAt:       FormatTime(e.CreatedAt),
		})
	}
	return resp
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	return WorkflowStatus{
		Running:    summary.Running,
		Workers:    summary.Workers,
		Busy:       summary.Busy,
		QueueStats: MergeQueueStats(summary.QueueStats),
		LastError:  summary.LastError,
		LastRunID:  summary.LastRunID,
	}
}

// MergeQueueStats keys run counts by status string and fills in every
// status so consumers always see all four.
func MergeQueueStats(stats map[store.RunStatus]int) map[string]int {
	out := map[string]int{
		string(store.RunQueued):    0,
		string(store.RunRunning):   0,
		string(store.RunCompleted): 0,
		string(store.RunFailed):    0,
	}
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

package ingest

import (
	"sort"

	"evalplane/internal/store"
)

// PackScore is the weight-averaged primary metric over the pack's tasks.
// Tasks missing from the results, or whose primary metric is not a number,
// contribute nothing. It returns nil when no weight contributed, which is
// distinct from a score of zero.
func PackScore(payload *Payload, primaryMetric string, tasks []store.PackTask) *float64 {
	if payload == nil || primaryMetric == "" {
		return nil
	}
	var weightedSum, weightTotal float64
	for _, task := range tasks {
		metrics, ok := payload.TaskMetrics(task.TaskSpec)
		if !ok {
			continue
		}
		value, ok := metrics[primaryMetric]
		if !ok {
			continue
		}
		weightedSum += value * task.Weight
		weightTotal += task.Weight
	}
	if weightTotal <= 0 {
		return nil
	}
	score := weightedSum / weightTotal
	return &score
}

func sortedMetricNames(values map[string]float64) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

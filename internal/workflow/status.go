package workflow

import (
	"context"

	"evalplane/internal/logging"
	"evalplane/internal/store"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running    bool                    `json:"running"`
	Workers    int                     `json:"workers"`
	Busy       int                     `json:"busy"`
	LastError  string                  `json:"last_error,omitempty"`
	LastRunID  string                  `json:"last_run_id,omitempty"`
	QueueStats map[store.RunStatus]int `json:"queue_stats"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Workers:   m.workers,
		LastRunID: m.lastRunID,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()
	summary.Busy = int(m.busy.Load())

	stats, err := m.store.CountRunsByStatus(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastRun(id string) {
	m.mu.Lock()
	m.lastRunID = id
	m.mu.Unlock()
}

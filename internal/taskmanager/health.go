package taskmanager

import (
	"context"
	"sort"
	"time"

	"github.com/harrison/taskpilot/internal/models"
)

// StalledPhase is a phase active for longer than the stall threshold.
type StalledPhase struct {
	TaskID    string        `json:"task_id"`
	PhaseID   int           `json:"phase_id"`
	Title     string        `json:"title"`
	ActiveFor time.Duration `json:"active_for"`
}

// HealthReport is the outcome of one health check.
type HealthReport struct {
	CheckedAt     time.Time      `json:"checked_at"`
	Stalled       []StalledPhase `json:"stalled,omitempty"`
	Reclaimed     []string       `json:"reclaimed,omitempty"`
	RetriedWrites int            `json:"retried_writes"`
	PendingWrites int            `json:"pending_writes"`
}

// Run calls CheckHealth every HealthInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	m.logger.Infof("Health monitor started (interval %s)", m.cfg.HealthInterval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Infof("Health monitor stopped")
			return nil
		case <-ticker.C:
			m.CheckHealth(ctx)
		}
	}
}

// CheckHealth logs stalled phases, evicts terminal tasks older than the
// retention period from the live map and retries failed saves. Stalled
// phases are only reported, never failed.
func (m *Manager) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	report := HealthReport{CheckedAt: now}

	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t, ok := m.tasks[id]
		if !ok {
			delete(m.pending, id)
			continue
		}
		report.RetriedWrites++
		m.persist(ctx, t)
	}

	for id, t := range m.tasks {
		switch {
		case t.Status == models.TaskActive:
			p := t.ActivePhase()
			if p == nil || p.StartedAt == nil {
				continue
			}
			if d := now.Sub(*p.StartedAt); d > m.cfg.StallThreshold {
				report.Stalled = append(report.Stalled, StalledPhase{TaskID: id, PhaseID: p.ID, Title: p.Title, ActiveFor: d})
				m.logger.Warningf("Task %s phase %d (%q) active for %s", id, p.ID, p.Title, d.Round(time.Second))
			}
		case t.Status.IsTerminal():
			if _, unsaved := m.pending[id]; unsaved || t.CompletedAt == nil {
				continue
			}
			if now.Sub(*t.CompletedAt) > m.cfg.Retention {
				delete(m.tasks, id)
				report.Reclaimed = append(report.Reclaimed, id)
			}
		}
	}
	sort.Slice(report.Stalled, func(i, j int) bool { return report.Stalled[i].TaskID < report.Stalled[j].TaskID })
	sort.Strings(report.Reclaimed)

	report.PendingWrites = len(m.pending)
	if len(report.Reclaimed) > 0 {
		m.logger.Infof("Reclaimed %d terminal tasks from memory", len(report.Reclaimed))
	}
	return report
}

package taskmanager

import (
	"context"
	"time"

	"github.com/harrison/taskpilot/internal/models"
)

// Progress is a point-in-time view of a task's phases.
type Progress struct {
	TaskID             string            `json:"task_id"`
	Status             models.TaskStatus `json:"status"`
	TotalPhases        int               `json:"total_phases"`
	CompletedPhases    int               `json:"completed_phases"`
	FailedPhases       int               `json:"failed_phases"`
	SkippedPhases      int               `json:"skipped_phases"`
	CurrentPhaseID     *int              `json:"current_phase_id,omitempty"`
	ProgressPercentage float64           `json:"progress_percentage"`
	ElapsedTime        time.Duration     `json:"elapsed_time"`
	// EstimatedRemaining is nil until at least one phase has completed.
	EstimatedRemaining *time.Duration `json:"estimated_remaining,omitempty"`
}

// GetTaskProgress computes the progress of a task.
func (m *Manager) GetTaskProgress(ctx context.Context, id string) (*Progress, error) {
	t, err := m.GetTask(ctx, id)
	if err != nil {
		return nil, m.reject(err)
	}
	return ComputeProgress(t, m.clock()), nil
}

// ComputeProgress derives Progress from a task snapshot at now.
// ProgressPercentage is completed over non-skipped phases, so it is 100 only
// when every phase that was meant to run completed and 0 only when none did.
func ComputeProgress(t *models.Task, now time.Time) *Progress {
	p := &Progress{
		TaskID:      t.ID,
		Status:      t.Status,
		TotalPhases: len(t.Phases),
	}
	if t.CurrentPhaseID != nil {
		id := *t.CurrentPhaseID
		p.CurrentPhaseID = &id
	}

	var (
		completedFor time.Duration
		timed        int
		pending      int
	)
	for _, ph := range t.Phases {
		switch ph.Status {
		case models.PhaseCompleted:
			p.CompletedPhases++
			if ph.StartedAt != nil && ph.CompletedAt != nil {
				completedFor += ph.Duration()
				timed++
			}
		case models.PhaseFailed:
			p.FailedPhases++
		case models.PhaseSkipped:
			p.SkippedPhases++
		case models.PhasePending:
			pending++
		}
	}
	if counted := p.TotalPhases - p.SkippedPhases; counted > 0 {
		p.ProgressPercentage = float64(p.CompletedPhases) / float64(counted) * 100
	}

	if t.StartedAt != nil {
		end := now
		if t.CompletedAt != nil {
			end = *t.CompletedAt
		}
		p.ElapsedTime = end.Sub(*t.StartedAt)
	}
	if timed > 0 {
		remaining := completedFor / time.Duration(timed) * time.Duration(pending)
		p.EstimatedRemaining = &remaining
	}
	return p
}

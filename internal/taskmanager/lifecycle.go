package taskmanager

import (
	"context"
	"fmt"

	"github.com/harrison/taskpilot/internal/models"
)

// StartTask activates a pending task and its first pending phase. When
// another task holds the slot the task is queued instead and started is
// false.
func (m *Manager) StartTask(ctx context.Context, id string) (started bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup("start task", id)
	if err != nil {
		return false, err
	}
	if t.Status != models.TaskPending {
		return false, m.reject(fmt.Errorf("start task %s: %w: status is %s", id, ErrInvalidTransition, t.Status))
	}
	if m.queued(id) {
		return false, nil
	}

	if m.active != "" {
		m.enqueue(id)
		m.syncQueue(ctx)
		m.logger.Infof("Task %s queued behind active task %s (position %d)", id, m.active, m.queuePosition(id)+1)
		return false, nil
	}

	m.activate(ctx, t)
	return true, nil
}

// AdvancePhase completes phase from and activates phase to. It fails with
// ErrPhaseMismatch unless from is the current phase, so a repeated call
// after a successful advance is rejected.
func (m *Manager) AdvancePhase(ctx context.Context, id string, from, to int, results map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup("advance phase", id)
	if err != nil {
		return err
	}
	if t.Status != models.TaskActive {
		return m.reject(fmt.Errorf("advance task %s: %w: status is %s", id, ErrInvalidTransition, t.Status))
	}
	fromPhase, toPhase := t.Phase(from), t.Phase(to)
	if fromPhase == nil {
		return m.reject(fmt.Errorf("advance task %s: %w: %d", id, ErrPhaseNotFound, from))
	}
	if toPhase == nil {
		return m.reject(fmt.Errorf("advance task %s: %w: %d", id, ErrPhaseNotFound, to))
	}
	if t.CurrentPhaseID == nil || *t.CurrentPhaseID != from {
		return m.reject(fmt.Errorf("advance task %s from %d: %w (current is %s)", id, from, ErrPhaseMismatch, phaseRef(t.CurrentPhaseID)))
	}
	if toPhase.Status != models.PhasePending {
		return m.reject(fmt.Errorf("advance task %s to %d: %w: phase is %s", id, to, ErrInvalidTransition, toPhase.Status))
	}

	now := m.clock()
	fromPhase.Status = models.PhaseCompleted
	fromPhase.CompletedAt = &now
	fromPhase.Results = models.MergeResults(fromPhase.Results, results)
	toPhase.Status = models.PhaseActive
	toPhase.StartedAt = &now
	t.CurrentPhaseID = &to

	m.persist(ctx, t)
	m.logger.Infof("Task %s advanced from phase %d to phase %d", id, from, to)
	return nil
}

// CompleteTask completes the active phase and the task, then hands the slot
// to the next queued task. Phases that never ran are marked skipped.
func (m *Manager) CompleteTask(ctx context.Context, id string, results map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup("complete task", id)
	if err != nil {
		return err
	}
	if t.Status != models.TaskActive {
		return m.reject(fmt.Errorf("complete task %s: %w: status is %s", id, ErrInvalidTransition, t.Status))
	}

	now := m.clock()
	if p := t.ActivePhase(); p != nil {
		p.Status = models.PhaseCompleted
		p.CompletedAt = &now
	}
	for _, p := range t.Phases {
		if p.Status == models.PhasePending {
			p.Status = models.PhaseSkipped
		}
	}
	t.CurrentPhaseID = nil
	t.Status = models.TaskCompleted
	t.CompletedAt = &now
	t.Results = models.MergeResults(t.Results, results)

	m.persist(ctx, t)
	m.logger.Infof("Task %s completed", id)
	m.release(ctx, id)
	return nil
}

// FailTask fails the active phase and the task. Active and paused tasks can
// fail.
func (m *Manager) FailTask(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup("fail task", id)
	if err != nil {
		return err
	}
	if t.Status != models.TaskActive && t.Status != models.TaskPaused {
		return m.reject(fmt.Errorf("fail task %s: %w: status is %s", id, ErrInvalidTransition, t.Status))
	}

	m.terminate(t, models.TaskFailed, reason)
	m.persist(ctx, t)
	m.logger.Warningf("Task %s failed: %s", id, reason)
	m.release(ctx, id)
	return nil
}

// CancelTask moves any non-terminal task to cancelled.
func (m *Manager) CancelTask(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup("cancel task", id)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return m.reject(fmt.Errorf("cancel task %s: %w: status is %s", id, ErrInvalidTransition, t.Status))
	}

	m.terminate(t, models.TaskCancelled, reason)
	m.persist(ctx, t)
	m.logger.Infof("Task %s cancelled: %s", id, reason)
	m.release(ctx, id)
	return nil
}

// PauseTask pauses the active task and frees the slot. The active phase
// stays active until the task resumes.
func (m *Manager) PauseTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup("pause task", id)
	if err != nil {
		return err
	}
	if t.Status != models.TaskActive {
		return m.reject(fmt.Errorf("pause task %s: %w: status is %s", id, ErrInvalidTransition, t.Status))
	}

	t.Status = models.TaskPaused
	m.persist(ctx, t)
	m.logger.Infof("Task %s paused", id)
	m.release(ctx, id)
	return nil
}

// ResumeTask resumes a paused task when the slot is free. Otherwise the
// task goes to the front of the queue and resumed is false.
func (m *Manager) ResumeTask(ctx context.Context, id string) (resumed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup("resume task", id)
	if err != nil {
		return false, err
	}
	if t.Status != models.TaskPaused {
		return false, m.reject(fmt.Errorf("resume task %s: %w: status is %s", id, ErrInvalidTransition, t.Status))
	}

	if m.active != "" {
		m.dequeue(id)
		m.queue = append([]string{id}, m.queue...)
		m.syncQueue(ctx)
		m.logger.Infof("Task %s queued at front behind active task %s", id, m.active)
		return false, nil
	}

	m.dequeue(id)
	m.activate(ctx, t)
	m.syncQueue(ctx)
	return true, nil
}

// SkipPhase marks a pending phase as skipped.
func (m *Manager) SkipPhase(ctx context.Context, id string, phaseID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup("skip phase", id)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return m.reject(fmt.Errorf("skip phase of task %s: %w: status is %s", id, ErrInvalidTransition, t.Status))
	}
	p := t.Phase(phaseID)
	if p == nil {
		return m.reject(fmt.Errorf("skip phase of task %s: %w: %d", id, ErrPhaseNotFound, phaseID))
	}
	if p.Status != models.PhasePending {
		return m.reject(fmt.Errorf("skip phase %d of task %s: %w: phase is %s", phaseID, id, ErrInvalidTransition, p.Status))
	}

	p.Status = models.PhaseSkipped
	m.persist(ctx, t)
	m.logger.Infof("Task %s phase %d skipped", id, phaseID)
	return nil
}

// activate gives t the slot. A pending task starts its first pending phase;
// a paused task keeps its active phase. Must be called with m.mu held.
func (m *Manager) activate(ctx context.Context, t *models.Task) {
	now := m.clock()
	if t.Status == models.TaskPending {
		t.StartedAt = &now
		for _, p := range t.Phases {
			if p.Status == models.PhasePending {
				p.Status = models.PhaseActive
				p.StartedAt = &now
				id := p.ID
				t.CurrentPhaseID = &id
				break
			}
		}
	}
	t.Status = models.TaskActive
	t.QueuePosition = 0
	m.active = t.ID
	m.persist(ctx, t)
	m.logger.Infof("Task %s active on phase %s", t.ID, phaseRef(t.CurrentPhaseID))
}

// terminate closes the active phase and moves t to a terminal status.
func (m *Manager) terminate(t *models.Task, status models.TaskStatus, reason string) {
	now := m.clock()
	if p := t.ActivePhase(); p != nil {
		p.Status = models.PhaseFailed
		p.CompletedAt = &now
		p.ErrorMessage = reason
	}
	t.CurrentPhaseID = nil
	t.Status = status
	t.CompletedAt = &now
	t.ErrorMessage = reason
	t.QueuePosition = 0
}

func phaseRef(id *int) string {
	if id == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *id)
}

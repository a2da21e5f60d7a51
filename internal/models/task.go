package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true for statuses a task never leaves.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskActive, TaskPaused, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// PhaseStatus is the lifecycle state of a Phase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseActive    PhaseStatus = "active"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// Phase is one ordered step of a Task, mapped to a single tool invocation.
type Phase struct {
	ID                   int            `json:"id"`
	Title                string         `json:"title"`
	Description          string         `json:"description"`
	Tool                 string         `json:"tool,omitempty"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Status               PhaseStatus    `json:"status"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	Results              map[string]any `json:"results,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty"`
}

// Duration returns how long the phase ran. Zero when it never finished.
func (p *Phase) Duration() time.Duration {
	if p.StartedAt == nil || p.CompletedAt == nil {
		return 0
	}
	return p.CompletedAt.Sub(*p.StartedAt)
}

// Task is a unit of work made of ordered phases.
type Task struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Goal           string         `json:"goal"`
	Phases         []*Phase       `json:"phases"`
	Status         TaskStatus     `json:"status"`
	Priority       int            `json:"priority"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CurrentPhaseID *int           `json:"current_phase_id,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Results        map[string]any `json:"results,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	// QueuePosition is the 1-based place of a task waiting for the active
	// slot, 0 when it is not queued.
	QueuePosition int `json:"queue_position,omitempty"`
}

// Phase returns the phase with the given id, or nil.
func (t *Task) Phase(id int) *Phase {
	for _, p := range t.Phases {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PhaseIndex returns the slice position of the phase with the given id, or -1.
func (t *Task) PhaseIndex(id int) int {
	for i, p := range t.Phases {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// ActivePhase returns the phase referenced by CurrentPhaseID, or nil.
func (t *Task) ActivePhase() *Phase {
	if t.CurrentPhaseID == nil {
		return nil
	}
	return t.Phase(*t.CurrentPhaseID)
}

// Validate checks the Task/Phase invariants: phase ids are unique, at most one
// phase is active, and CurrentPhaseID points at the active phase.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Title == "" {
		return errors.New("task title is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid task status %q", t.Status)
	}

	seen := make(map[int]bool, len(t.Phases))
	var active []int
	for _, p := range t.Phases {
		if seen[p.ID] {
			return fmt.Errorf("duplicate phase id %d", p.ID)
		}
		seen[p.ID] = true
		if p.Status == PhaseActive {
			active = append(active, p.ID)
		}
	}

	if len(active) > 1 {
		return fmt.Errorf("task has %d active phases", len(active))
	}
	switch {
	case t.CurrentPhaseID == nil && len(active) == 1:
		return fmt.Errorf("phase %d is active but current_phase_id is unset", active[0])
	case t.CurrentPhaseID != nil && len(active) == 0:
		return fmt.Errorf("current_phase_id %d is not active", *t.CurrentPhaseID)
	case t.CurrentPhaseID != nil && *t.CurrentPhaseID != active[0]:
		return fmt.Errorf("current_phase_id %d does not match active phase %d", *t.CurrentPhaseID, active[0])
	}
	return nil
}

// Clone returns a deep copy so callers never share state with the owner of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	if t.CurrentPhaseID != nil {
		id := *t.CurrentPhaseID
		c.CurrentPhaseID = &id
	}
	c.Context = cloneMap(t.Context)
	c.Results = cloneMap(t.Results)
	c.Phases = make([]*Phase, len(t.Phases))
	for i, p := range t.Phases {
		pc := *p
		pc.StartedAt = cloneTime(p.StartedAt)
		pc.CompletedAt = cloneTime(p.CompletedAt)
		pc.Results = cloneMap(p.Results)
		pc.RequiredCapabilities = append([]string(nil), p.RequiredCapabilities...)
		c.Phases[i] = &pc
	}
	return &c
}

// NormalizeCapabilities turns a capability list into a sorted set.
func NormalizeCapabilities(caps []string) []string {
	if len(caps) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// cloneMap copies one level deep; values are treated as immutable.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// MergeResults copies src into dst, allocating dst when needed.
func MergeResults(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

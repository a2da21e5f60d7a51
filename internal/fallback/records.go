package fallback

import "time"

// Plan sources recorded by RecordPlanGeneration.
const (
	SourcePlanner  = "planner"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

// PlanRecord is one plan-generation outcome.
type PlanRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	TaskID      string    `json:"task_id"`
	PlanSource  string    `json:"plan_source"`
	Success     bool      `json:"success"`
	Attempts    int       `json:"attempts"`
	ErrorReason string    `json:"error_reason,omitempty"`
}

// IsFallback reports whether the predetermined fallback plan was used.
func (r PlanRecord) IsFallback() bool { return r.PlanSource == SourceFallback }

// ValidationRecord is one step validation outcome.
type ValidationRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	PhaseID   int       `json:"phase_id"`
	Tool      string    `json:"tool"`
	Mode      string    `json:"mode,omitempty"`
	Attempt   int       `json:"attempt"`
	Score     float64   `json:"score"`
	// Scored is false for steps checked only by the base validator; their
	// Score carries no completeness information.
	Scored  bool   `json:"scored"`
	Status  string `json:"status"`
	Retried bool   `json:"retried"`
}

// Validation record statuses.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusFailure = "failure"
)

// rolling is an append-only list that keeps the newest max entries.
type rolling[T any] struct {
	items []T
	max   int
}

func (r *rolling[T]) add(v T) {
	r.items = append(r.items, v)
	if over := len(r.items) - r.max; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
}

func (r *rolling[T]) replace(items []T) {
	if over := len(items) - r.max; over > 0 {
		items = items[over:]
	}
	r.items = append([]T(nil), items...)
}

func (r *rolling[T]) snapshot() []T {
	return append([]T(nil), r.items...)
}

// tail returns the last n entries without copying.
func (r *rolling[T]) tail(n int) []T {
	if n >= len(r.items) {
		return r.items
	}
	return r.items[len(r.items)-n:]
}

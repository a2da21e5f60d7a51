// Package taskmanager owns the lifecycle of tasks and their phases: a
// single active slot, a priority-then-FIFO queue for the rest, and a health
// loop that reports stalls, evicts old terminal tasks and retries failed
// persistence.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/taskpilot/internal/log"
	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/store"
)

// PhaseSpec describes one phase of a new task.
type PhaseSpec struct {
	// ID defaults to the 1-based position when every phase leaves it unset.
	ID                   int      `yaml:"id" json:"id,omitempty"`
	Title                string   `yaml:"title" json:"title"`
	Description          string   `yaml:"description" json:"description,omitempty"`
	Tool                 string   `yaml:"tool" json:"tool,omitempty"`
	RequiredCapabilities []string `yaml:"required_capabilities" json:"required_capabilities,omitempty"`
}

// TaskSpec describes a new task.
type TaskSpec struct {
	Title       string         `yaml:"title" json:"title"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Goal        string         `yaml:"goal" json:"goal,omitempty"`
	Phases      []PhaseSpec    `yaml:"phases" json:"phases"`
	Priority    int            `yaml:"priority" json:"priority,omitempty"`
	Context     map[string]any `yaml:"context" json:"context,omitempty"`
}

// Config configures a Manager.
type Config struct {
	Store  store.TaskStore
	Logger log.Logger
	Clock  func() time.Time
	// NewID generates task ids. Defaults to random UUIDs.
	NewID          func() string
	HealthInterval time.Duration
	StallThreshold time.Duration
	// Retention is how long terminal tasks stay in the live map.
	Retention time.Duration
}

func (c *Config) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "taskmanager.Manager"})
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.StallThreshold == 0 {
		c.StallThreshold = time.Hour
	}
	if c.Retention == 0 {
		c.Retention = 24 * time.Hour
	}
	if c.HealthInterval < 0 || c.StallThreshold < 0 || c.Retention < 0 {
		return fmt.Errorf("durations must be positive")
	}
	return nil
}

// Manager is the task manager. Every operation holds one mutex for its
// whole check-and-mutate sequence, so it is safe for concurrent use.
type Manager struct {
	cfg    Config
	store  store.TaskStore
	logger log.Logger
	clock  func() time.Time

	mu      sync.Mutex
	tasks   map[string]*models.Task
	active  string
	queue   []string
	pending map[string]struct{}
}

// New returns a Manager.
func New(cfg Config) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Manager{
		cfg:     cfg,
		store:   cfg.Store,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		tasks:   map[string]*models.Task{},
		pending: map[string]struct{}{},
	}, nil
}

// CreateTask registers a pending task and persists it.
func (m *Manager) CreateTask(ctx context.Context, spec TaskSpec) (string, error) {
	phases, err := buildPhases(spec.Phases)
	if err != nil {
		return "", m.reject(fmt.Errorf("create task: %w", err))
	}
	if strings.TrimSpace(spec.Title) == "" {
		return "", m.reject(fmt.Errorf("create task: %w: title is required", ErrInvalidTask))
	}

	t := &models.Task{
		ID:          m.cfg.NewID(),
		Title:       spec.Title,
		Description: spec.Description,
		Goal:        spec.Goal,
		Phases:      phases,
		Status:      models.TaskPending,
		Priority:    spec.Priority,
		CreatedAt:   m.clock(),
		Context:     models.MergeResults(nil, spec.Context),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return "", m.reject(fmt.Errorf("create task: %w: duplicate id %s", ErrInvalidTask, t.ID))
	}
	m.tasks[t.ID] = t
	m.persist(ctx, t)
	m.logger.Infof("Created task %s (%q) with %d phases", t.ID, t.Title, len(t.Phases))
	return t.ID, nil
}

func buildPhases(specs []PhaseSpec) ([]*models.Phase, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: at least one phase is required", ErrInvalidTask)
	}

	explicit := false
	for _, s := range specs {
		if s.ID != 0 {
			explicit = true
			break
		}
	}

	phases := make([]*models.Phase, len(specs))
	seen := make(map[int]bool, len(specs))
	for i, s := range specs {
		id := s.ID
		if !explicit {
			id = i + 1
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate phase id %d", ErrInvalidTask, id)
		}
		seen[id] = true
		if strings.TrimSpace(s.Title) == "" {
			return nil, fmt.Errorf("%w: phase %d has no title", ErrInvalidTask, id)
		}
		phases[i] = &models.Phase{
			ID:                   id,
			Title:                s.Title,
			Description:          s.Description,
			Tool:                 s.Tool,
			RequiredCapabilities: models.NormalizeCapabilities(s.RequiredCapabilities),
			Status:               models.PhasePending,
		}
	}
	return phases, nil
}

// GetTask returns a copy of the task. Tasks evicted from the live map are
// read back from the store.
func (m *Manager) GetTask(ctx context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		c := t.Clone()
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	t, err := m.store.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get task %s: %w", id, ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns copies of the live tasks with the given status, or all
// of them when status is empty, oldest first.
func (m *Manager) ListTasks(status models.TaskStatus) []*models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if status == "" || t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveTaskID is the id holding the slot, or "".
func (m *Manager) ActiveTaskID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// QueuedTaskIDs returns the queue in activation order.
func (m *Manager) QueuedTaskIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queue...)
}

// PendingWrites returns the ids whose last save failed, sorted.
func (m *Manager) PendingWrites() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for id := range m.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Restore loads the non-terminal tasks from the store into the live map.
// Queued tasks return to the queue in their stored order. The earliest
// started active task takes the slot again; other active tasks are paused
// and queued behind it.
func (m *Manager) Restore(ctx context.Context) error {
	var loaded []*models.Task
	for _, st := range []models.TaskStatus{models.TaskActive, models.TaskPaused, models.TaskPending} {
		ts, err := m.store.ListTasks(ctx, st)
		if err != nil {
			return fmt.Errorf("restore %s tasks: %w", st, err)
		}
		loaded = append(loaded, ts...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var active, queued []*models.Task
	restored := 0
	for _, t := range loaded {
		if _, ok := m.tasks[t.ID]; ok {
			continue
		}
		if err := t.Validate(); err != nil {
			m.logger.Warningf("Skipping stored task %s: %v", t.ID, err)
			continue
		}
		m.tasks[t.ID] = t
		restored++
		switch {
		case t.Status == models.TaskActive:
			active = append(active, t)
		case t.QueuePosition > 0 && !m.queued(t.ID):
			queued = append(queued, t)
		}
	}

	sort.SliceStable(queued, func(i, j int) bool { return queued[i].QueuePosition < queued[j].QueuePosition })
	for _, t := range queued {
		m.queue = append(m.queue, t.ID)
	}

	sort.Slice(active, func(i, j int) bool { return startedAt(active[i]).Before(startedAt(active[j])) })
	for _, t := range active {
		if m.active == "" {
			m.active = t.ID
			continue
		}
		if t.ID == m.active {
			continue
		}
		t.Status = models.TaskPaused
		m.enqueue(t.ID)
		m.persist(ctx, t)
	}
	if m.active == "" {
		m.activateNext(ctx)
	}
	m.syncQueue(ctx)

	m.logger.Infof("Restored %d tasks from store (active: %q, queued: %d)", restored, m.active, len(m.queue))
	return nil
}

func startedAt(t *models.Task) time.Time {
	if t.StartedAt == nil {
		return t.CreatedAt
	}
	return *t.StartedAt
}

// persist saves t. A failed save is logged and queued for the health loop;
// the in-memory state stays authoritative. Must be called with m.mu held.
func (m *Manager) persist(ctx context.Context, t *models.Task) {
	if err := m.store.SaveTask(ctx, t); err != nil {
		m.pending[t.ID] = struct{}{}
		m.logger.Errorf("Could not persist task %s, queued for retry: %v", t.ID, err)
		return
	}
	delete(m.pending, t.ID)
}

// reject logs a precondition violation and returns it.
func (m *Manager) reject(err error) error {
	m.logger.Warningf("%v", err)
	return err
}

// lookup must be called with m.mu held.
func (m *Manager) lookup(op, id string) (*models.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, m.reject(fmt.Errorf("%s %s: %w", op, id, ErrTaskNotFound))
	}
	return t, nil
}

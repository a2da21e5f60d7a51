package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/store"
	"github.com/harrison/taskpilot/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyStore fails every save while broken is set.
type flakyStore struct {
	*memory.Store
	mu     sync.Mutex
	broken bool
}

func (s *flakyStore) setBroken(b bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = b
}

func (s *flakyStore) SaveTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return errors.New("database is locked")
	}
	return s.Store.SaveTask(ctx, t)
}

type fixture struct {
	m     *Manager
	store *flakyStore
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: &flakyStore{Store: memory.New()},
		clock: &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	seq := 0
	m, err := New(Config{
		Store: f.store,
		Clock: f.clock.Now,
		NewID: func() string {
			seq++
			return fmt.Sprintf("task-%d", seq)
		},
	})
	require.NoError(t, err)
	f.m = m
	return f
}

func threePhases(title string, priority int) TaskSpec {
	return TaskSpec{
		Title:    title,
		Goal:     "Preparar un informe",
		Priority: priority,
		Phases: []PhaseSpec{
			{Title: "Buscar", Tool: "web_search"},
			{Title: "Analizar", Tool: "analysis"},
			{Title: "Redactar", Tool: "delivery"},
		},
	}
}

func (f *fixture) create(t *testing.T, title string, priority int) string {
	t.Helper()
	id, err := f.m.CreateTask(context.Background(), threePhases(title, priority))
	require.NoError(t, err)
	return id
}

func phaseStatuses(task *models.Task) []models.PhaseStatus {
	out := make([]models.PhaseStatus, len(task.Phases))
	for i, p := range task.Phases {
		out[i] = p.Status
	}
	return out
}

func TestScenario_CreateStartAdvanceComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "Informe", 0)

	started, err := f.m.StartTask(ctx, id)
	require.NoError(t, err)
	require.True(t, started)
	task, _ := f.m.GetTask(ctx, id)
	assert.Equal(t, []models.PhaseStatus{models.PhaseActive, models.PhasePending, models.PhasePending}, phaseStatuses(task))
	require.NotNil(t, task.CurrentPhaseID)
	assert.Equal(t, 1, *task.CurrentPhaseID)

	require.NoError(t, f.m.AdvancePhase(ctx, id, 1, 2, map[string]any{"count": 3}))
	task, _ = f.m.GetTask(ctx, id)
	assert.Equal(t, []models.PhaseStatus{models.PhaseCompleted, models.PhaseActive, models.PhasePending}, phaseStatuses(task))
	assert.Equal(t, 3, task.Phases[0].Results["count"])

	require.NoError(t, f.m.CompleteTask(ctx, id, map[string]any{"summary": "ok"}))
	task, _ = f.m.GetTask(ctx, id)
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.Equal(t, models.PhaseCompleted, task.Phases[1].Status)
	assert.Nil(t, task.CurrentPhaseID)
	assert.Empty(t, f.m.ActiveTaskID())

	progress, err := f.m.GetTaskProgress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, progress.ProgressPercentage)
}

func TestAdvancePhase_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "Informe", 0)

	err := f.m.AdvancePhase(ctx, id, 1, 2, nil)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "pending task cannot advance: %v", err)

	_, err = f.m.StartTask(ctx, id)
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to int
		want     error
	}{
		{name: "unknown from phase", from: 9, to: 2, want: ErrPhaseNotFound},
		{name: "unknown to phase", from: 1, to: 9, want: ErrPhaseNotFound},
		{name: "stale from phase", from: 2, to: 3, want: ErrPhaseMismatch},
		{name: "target not pending", from: 1, to: 1, want: ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.m.AdvancePhase(ctx, id, tt.from, tt.to, nil)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	err = f.m.AdvancePhase(ctx, "missing", 1, 2, nil)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestAdvancePhase_RepeatedCallFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "Informe", 0)
	_, err := f.m.StartTask(ctx, id)
	require.NoError(t, err)

	require.NoError(t, f.m.AdvancePhase(ctx, id, 1, 2, nil))
	err = f.m.AdvancePhase(ctx, id, 1, 2, nil)

	assert.True(t, errors.Is(err, ErrPhaseMismatch))
}

func TestAdvancePhase_ConcurrentCallersOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "Informe", 0)
	_, err := f.m.StartTask(ctx, id)
	require.NoError(t, err)

	const callers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.m.AdvancePhase(ctx, id, 1, 2, nil) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	task, _ := f.m.GetTask(ctx, id)
	assert.NoError(t, task.Validate())
	assert.Equal(t, 2, *task.CurrentPhaseID)
}

func TestCreateTask_RejectsMalformedSpecs(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		spec TaskSpec
	}{
		{name: "no phases", spec: TaskSpec{Title: "x"}},
		{name: "no title", spec: TaskSpec{Phases: []PhaseSpec{{Title: "p"}}}},
		{name: "duplicate phase ids", spec: TaskSpec{Title: "x", Phases: []PhaseSpec{{ID: 4, Title: "a"}, {ID: 4, Title: "b"}}}},
		{name: "untitled phase", spec: TaskSpec{Title: "x", Phases: []PhaseSpec{{Title: ""}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.CreateTask(context.Background(), tt.spec)
			assert.True(t, errors.Is(err, ErrInvalidTask), "got %v", err)
		})
	}
	assert.Empty(t, f.m.ListTasks(""))
}

func TestCreateTask_PhaseIDsAndCapabilities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.m.CreateTask(ctx, TaskSpec{Title: "x", Phases: []PhaseSpec{
		{ID: 10, Title: "a", RequiredCapabilities: []string{"web", "files", "web"}},
		{ID: 20, Title: "b"},
	}})
	require.NoError(t, err)

	task, err := f.store.GetTask(ctx, id)
	require.NoError(t, err, "created task must be persisted immediately")
	assert.Equal(t, 10, task.Phases[0].ID)
	assert.Equal(t, []string{"files", "web"}, task.Phases[0].RequiredCapabilities)
	assert.Equal(t, models.TaskPending, task.Status)
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", 5)
	b := f.create(t, "B", 5)
	c := f.create(t, "C", 1)
	d := f.create(t, "D", 5)

	for _, id := range []string{a, b, c, d} {
		_, err := f.m.StartTask(ctx, id)
		require.NoError(t, err)
	}

	assert.Equal(t, a, f.m.ActiveTaskID())
	assert.Equal(t, []string{c, b, d}, f.m.QueuedTaskIDs())

	require.NoError(t, f.m.CompleteTask(ctx, a, nil))
	assert.Equal(t, c, f.m.ActiveTaskID())
	task, _ := f.m.GetTask(ctx, c)
	assert.Equal(t, models.TaskActive, task.Status)
	assert.Equal(t, models.PhaseActive, task.Phases[0].Status)
}

func TestStartTask_QueuedTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", 0)
	b := f.create(t, "B", 0)
	_, _ = f.m.StartTask(ctx, a)

	for i := 0; i < 2; i++ {
		started, err := f.m.StartTask(ctx, b)
		require.NoError(t, err)
		assert.False(t, started)
	}
	assert.Equal(t, []string{b}, f.m.QueuedTaskIDs())

	_, err := f.m.StartTask(ctx, a)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", 0)
	b := f.create(t, "B", 0)
	c := f.create(t, "C", 0)
	_, _ = f.m.StartTask(ctx, a)
	_, _ = f.m.StartTask(ctx, b)
	_, _ = f.m.StartTask(ctx, c)
	require.NoError(t, f.m.AdvancePhase(ctx, a, 1, 2, nil))

	require.NoError(t, f.m.PauseTask(ctx, a))
	assert.Equal(t, b, f.m.ActiveTaskID())
	task, _ := f.m.GetTask(ctx, a)
	assert.Equal(t, models.TaskPaused, task.Status)
	assert.NoError(t, task.Validate())

	resumed, err := f.m.ResumeTask(ctx, a)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, []string{a, c}, f.m.QueuedTaskIDs())

	require.NoError(t, f.m.CompleteTask(ctx, b, nil))
	assert.Equal(t, a, f.m.ActiveTaskID())
	task, _ = f.m.GetTask(ctx, a)
	assert.Equal(t, models.TaskActive, task.Status)
	assert.Equal(t, 2, *task.CurrentPhaseID, "resumed task keeps its phase")

	require.NoError(t, f.m.PauseTask(ctx, a))
	assert.Equal(t, c, f.m.ActiveTaskID())
	require.NoError(t, f.m.CompleteTask(ctx, c, nil))
	resumed, err = f.m.ResumeTask(ctx, a)
	require.NoError(t, err)
	assert.True(t, resumed)

	_, err = f.m.ResumeTask(ctx, a)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	err = f.m.PauseTask(ctx, b)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestFailAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", 0)
	b := f.create(t, "B", 0)
	c := f.create(t, "C", 0)
	_, _ = f.m.StartTask(ctx, a)
	_, _ = f.m.StartTask(ctx, b)
	_, _ = f.m.StartTask(ctx, c)

	require.NoError(t, f.m.CancelTask(ctx, b, "ya no hace falta"))
	assert.Equal(t, []string{c}, f.m.QueuedTaskIDs())

	require.NoError(t, f.m.FailTask(ctx, a, "herramienta caída"))
	task, _ := f.m.GetTask(ctx, a)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, models.PhaseFailed, task.Phases[0].Status)
	assert.Equal(t, "herramienta caída", task.Phases[0].ErrorMessage)
	assert.NoError(t, task.Validate())
	assert.Equal(t, c, f.m.ActiveTaskID())

	require.NoError(t, f.m.PauseTask(ctx, c))
	require.NoError(t, f.m.FailTask(ctx, c, "abandonada"))

	err := f.m.FailTask(ctx, a, "again")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	err = f.m.CancelTask(ctx, a, "again")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	err = f.m.CompleteTask(ctx, b, nil)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestSkipPhase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "A", 0)

	require.NoError(t, f.m.SkipPhase(ctx, id, 1))
	_, err := f.m.StartTask(ctx, id)
	require.NoError(t, err)

	task, _ := f.m.GetTask(ctx, id)
	assert.Equal(t, 2, *task.CurrentPhaseID, "start skips over skipped phases")
	assert.True(t, errors.Is(f.m.SkipPhase(ctx, id, 2), ErrInvalidTransition))
	assert.True(t, errors.Is(f.m.SkipPhase(ctx, id, 7), ErrPhaseNotFound))
}

func TestSaveAndReload_ReproducesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "A", 0)
	_, _ = f.m.StartTask(ctx, id)
	require.NoError(t, f.m.AdvancePhase(ctx, id, 1, 2, nil))

	live, _ := f.m.GetTask(ctx, id)
	stored, err := f.store.GetTask(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, live.Status, stored.Status)
	assert.Equal(t, *live.CurrentPhaseID, *stored.CurrentPhaseID)
	assert.Equal(t, phaseStatuses(live), phaseStatuses(stored))
}

func TestPersistenceFailure_QueuedAndRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.setBroken(true)

	id, err := f.m.CreateTask(ctx, threePhases("A", 0))
	require.NoError(t, err, "store failures never fail the operation")
	_, err = f.m.StartTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, f.m.PendingWrites())

	report := f.m.CheckHealth(ctx)
	assert.Equal(t, 1, report.RetriedWrites)
	assert.Equal(t, 1, report.PendingWrites)

	f.store.setBroken(false)
	report = f.m.CheckHealth(ctx)
	assert.Equal(t, 0, report.PendingWrites)
	assert.Empty(t, f.m.PendingWrites())

	stored, err := f.store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskActive, stored.Status)
}

func TestGetTask_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.GetTask(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
	_, err = f.m.GetTaskProgress(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestGetTask_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "A", 0)

	task, _ := f.m.GetTask(ctx, id)
	task.Phases[0].Status = models.PhaseFailed
	task.Title = "changed"

	again, _ := f.m.GetTask(ctx, id)
	assert.Equal(t, "A", again.Title)
	assert.Equal(t, models.PhasePending, again.Phases[0].Status)
}

func TestListTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", 0)
	f.clock.Advance(time.Second)
	b := f.create(t, "B", 0)
	_, _ = f.m.StartTask(ctx, a)

	all := f.m.ListTasks("")
	require.Len(t, all, 2)
	assert.Equal(t, a, all[0].ID)
	pending := f.m.ListTasks(models.TaskPending)
	require.Len(t, pending, 1)
	assert.Equal(t, b, pending[0].ID)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	mk := func(id string, status models.TaskStatus, started time.Time) *models.Task {
		task := &models.Task{ID: id, Title: id, Status: status, CreatedAt: base, Phases: []*models.Phase{{ID: 1, Title: "p", Status: models.PhasePending}}}
		if status == models.TaskActive {
			one := 1
			task.StartedAt = &started
			task.Phases[0].Status = models.PhaseActive
			task.Phases[0].StartedAt = &started
			task.CurrentPhaseID = &one
		}
		return task
	}
	require.NoError(t, st.SaveTask(ctx, mk("late", models.TaskActive, base.Add(time.Hour))))
	require.NoError(t, st.SaveTask(ctx, mk("early", models.TaskActive, base)))
	require.NoError(t, st.SaveTask(ctx, mk("waiting", models.TaskPending, base)))
	require.NoError(t, st.SaveTask(ctx, mk("done", models.TaskCompleted, base)))

	m, err := New(Config{Store: st})
	require.NoError(t, err)
	require.NoError(t, m.Restore(ctx))

	assert.Equal(t, "early", m.ActiveTaskID())
	assert.Equal(t, []string{"late"}, m.QueuedTaskIDs())
	assert.Len(t, m.ListTasks(""), 3)
	late, _ := m.GetTask(ctx, "late")
	assert.Equal(t, models.TaskPaused, late.Status)

	require.NoError(t, m.CompleteTask(ctx, "early", nil))
	assert.Equal(t, "late", m.ActiveTaskID())
}

func TestRestore_RebuildsQueueInStoredOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "A", 5)
	b := f.create(t, "B", 5)
	c := f.create(t, "C", 1)
	d := f.create(t, "D", 5)
	for _, id := range []string{a, b, c, d} {
		_, err := f.m.StartTask(ctx, id)
		require.NoError(t, err)
	}
	require.Equal(t, []string{c, b, d}, f.m.QueuedTaskIDs())

	stored, err := f.store.GetTask(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.QueuePosition)

	restored, err := New(Config{Store: f.store})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, a, restored.ActiveTaskID())
	assert.Equal(t, []string{c, b, d}, restored.QueuedTaskIDs())

	require.NoError(t, restored.CompleteTask(ctx, a, nil))
	assert.Equal(t, c, restored.ActiveTaskID())
	active, err := f.store.GetTask(ctx, c)
	require.NoError(t, err)
	assert.Zero(t, active.QueuePosition)
	stored, err = f.store.GetTask(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.QueuePosition)
}

func TestRestore_FreeSlotStartsQueueHead(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"second", "first"} {
		require.NoError(t, st.SaveTask(ctx, &models.Task{
			ID: id, Title: id, Status: models.TaskPending, CreatedAt: base, QueuePosition: 2 - i,
			Phases: []*models.Phase{{ID: 1, Title: "p", Status: models.PhasePending}},
		}))
	}

	m, err := New(Config{Store: st})
	require.NoError(t, err)
	require.NoError(t, m.Restore(ctx))

	assert.Equal(t, "first", m.ActiveTaskID())
	assert.Equal(t, []string{"second"}, m.QueuedTaskIDs())
	second, err := st.GetTask(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, 1, second.QueuePosition)
}

var _ store.TaskStore = (*flakyStore)(nil)

package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/taskpilot/internal/adaptive"
	"github.com/harrison/taskpilot/internal/fallback"
	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/store/memory"
	"github.com/harrison/taskpilot/internal/taskmanager"
	"github.com/harrison/taskpilot/internal/validation"
)

type step struct {
	result validation.ToolResult
	err    error
}

// scriptedTools replays a fixed sequence of outputs per phase id.
type scriptedTools struct {
	mu       sync.Mutex
	script   map[int][]step
	requests []StepRequest
}

func (s *scriptedTools) Execute(_ context.Context, req StepRequest) (validation.ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	queue := s.script[req.PhaseID]
	if len(queue) == 0 {
		return nil, errors.New("no scripted output")
	}
	next := queue[0]
	s.script[req.PhaseID] = queue[1:]
	return next.result, next.err
}

type recordingProgress struct {
	mu         sync.Mutex
	started    int
	attempts   []AttemptReport
	completed  []PhaseReport
	escalation *EscalationError
	summary    *RunResult
}

func (r *recordingProgress) LogTaskStart(*models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingProgress) LogAttempt(a AttemptReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *recordingProgress) LogPhaseComplete(p PhaseReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, p)
}

func (r *recordingProgress) LogEscalation(err *EscalationError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalation = err
}

func (r *recordingProgress) LogSummary(res RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &res
}

type fixture struct {
	manager  *taskmanager.Manager
	monitor  *fallback.Monitor
	tools    *scriptedTools
	progress *recordingProgress
	runner   *Runner
}

func newFixture(t *testing.T, script map[int][]step) *fixture {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	manager, err := taskmanager.New(taskmanager.Config{Store: memory.New(), Clock: clock})
	require.NoError(t, err)
	monitor, err := fallback.New(fallback.Config{Clock: clock})
	require.NoError(t, err)
	tools := &scriptedTools{script: script}
	progress := &recordingProgress{}

	runner, err := NewRunner(Config{
		Tasks:    manager,
		Tools:    tools,
		Monitor:  monitor,
		Progress: progress,
		Clock:    clock,
	})
	require.NoError(t, err)
	return &fixture{manager: manager, monitor: monitor, tools: tools, progress: progress, runner: runner}
}

func (f *fixture) startTask(t *testing.T, phases ...taskmanager.PhaseSpec) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.manager.CreateTask(ctx, taskmanager.TaskSpec{Title: "Informe", Goal: "Entregar informe", Phases: phases})
	require.NoError(t, err)
	started, err := f.manager.StartTask(ctx, id)
	require.NoError(t, err)
	require.True(t, started)
	return id
}

func goodFile() validation.CreationResult {
	return validation.CreationResult{Success: true, FileCreated: true, FilePath: "/out/informe.md", FileSize: 2048, DownloadURL: "http://dl/informe.md"}
}

func richAnalysis() validation.AnalysisResult {
	content := "## Resultados 2024\n\n" +
		"- Ingresos: 12,5 millones de euros (+15%)\n" +
		"- Clientes: 3.400 según el informe https://example.com/informe\n" +
		"- Margen: 22%\n\n## Contexto\n\n" +
		strings.Repeat("La empresa amplió su presencia en 2023 con un crecimiento del 8% anual. ", 4)
	return validation.AnalysisResult{Success: true, Content: content}
}

func TestRun_CompletesAllPhases(t *testing.T) {
	f := newFixture(t, map[int][]step{
		1: {{result: richAnalysis()}},
		2: {{result: goodFile()}},
	})
	id := f.startTask(t,
		taskmanager.PhaseSpec{Title: "Analizar datos", Tool: "analysis"},
		taskmanager.PhaseSpec{Title: "Crear informe", Tool: "creation"},
	)

	res, err := f.runner.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, models.TaskCompleted, res.Status)
	assert.False(t, res.Escalated)
	require.Len(t, res.Phases, 2)
	assert.Equal(t, adaptive.ModeModerate, res.Phases[0].Mode)
	assert.Greater(t, res.Phases[0].Score, 80.0)
	assert.Equal(t, validation.StatusSuccess, res.Phases[1].Status)

	task, err := f.manager.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, task.Phases[0].Status)
	assert.Equal(t, models.PhaseCompleted, task.Phases[1].Status)
	assert.Equal(t, "success", task.Phases[0].Results["status"])
	assert.Equal(t, "moderate", task.Phases[0].Results["mode"])

	records := f.monitor.ValidationRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "moderate", records[0].Mode)
	assert.True(t, records[0].Scored)
	assert.Empty(t, records[1].Mode)
	assert.False(t, records[1].Scored)
	assert.Equal(t, 1, f.progress.started)
	assert.Len(t, f.progress.completed, 2)
	require.NotNil(t, f.progress.summary)
	assert.Equal(t, models.TaskCompleted, f.progress.summary.Status)
}

func TestRun_RelaxesModeUntilSearchIsAccepted(t *testing.T) {
	f := newFixture(t, map[int][]step{
		1: {
			{err: errors.New("timeout")},
			{err: errors.New("timeout")},
			{result: validation.WebSearchResult{Success: true, Count: 1}},
		},
	})
	id := f.startTask(t, taskmanager.PhaseSpec{Title: "Buscar", Description: "Buscar noticias", Tool: "web_search"})

	res, err := f.runner.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, models.TaskCompleted, res.Status)
	require.Len(t, res.Phases, 1)
	assert.Equal(t, 3, res.Phases[0].Attempts)
	assert.Equal(t, adaptive.ModeMinimal, res.Phases[0].Mode)
	assert.False(t, res.Phases[0].Degraded)

	require.Len(t, f.tools.requests, 3)
	assert.Equal(t, adaptive.ModeModerate, f.tools.requests[0].Mode)
	assert.Equal(t, adaptive.ModeLenient, f.tools.requests[1].Mode)
	assert.Equal(t, adaptive.ModeMinimal, f.tools.requests[2].Mode)
	assert.Empty(t, f.tools.requests[0].Recommendations)
	assert.NotEmpty(t, f.tools.requests[1].Recommendations)

	records := f.monitor.ValidationRecords()
	require.Len(t, records, 3)
	assert.True(t, records[0].Retried)
	assert.Equal(t, "failure", records[0].Status)
	assert.False(t, records[2].Retried)
	assert.Equal(t, "warning", records[2].Status)
}

func TestRun_EscalatesAfterThreeWorthlessAttempts(t *testing.T) {
	f := newFixture(t, map[int][]step{
		1: {
			{result: validation.WebSearchResult{Error: "quota exceeded"}},
			{err: errors.New("timeout")},
			{result: validation.WebSearchResult{Error: "quota exceeded"}},
		},
	})
	id := f.startTask(t,
		taskmanager.PhaseSpec{Title: "Buscar", Tool: "web_search"},
		taskmanager.PhaseSpec{Title: "Entregar", Tool: "delivery"},
	)

	res, err := f.runner.Run(context.Background(), id)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFallbackRequired)
	var esc *EscalationError
	require.ErrorAs(t, err, &esc)
	assert.Equal(t, id, esc.TaskID)
	assert.Equal(t, 1, esc.PhaseID)
	assert.Equal(t, 3, esc.Attempts)

	assert.True(t, res.Escalated)
	assert.Equal(t, models.TaskFailed, res.Status)
	assert.Same(t, esc, f.progress.escalation)

	task, err := f.manager.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, models.PhaseFailed, task.Phases[0].Status)
	assert.Len(t, f.monitor.ValidationRecords(), 3)
}

func TestRun_BaseValidatedPhaseRetriesThenAdvances(t *testing.T) {
	f := newFixture(t, map[int][]step{
		1: {
			{result: validation.CreationResult{}},
			{result: goodFile()},
		},
	})
	id := f.startTask(t, taskmanager.PhaseSpec{Title: "Crear informe", Tool: "creation"})

	res, err := f.runner.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, models.TaskCompleted, res.Status)
	assert.Equal(t, 2, res.Phases[0].Attempts)
	require.Len(t, f.tools.requests, 2)
	assert.Equal(t, []string{"No se creó ningún archivo"}, f.tools.requests[1].Recommendations)

	require.Len(t, f.progress.attempts, 2)
	assert.Equal(t, adaptive.ActionRetry, f.progress.attempts[0].Action)
	assert.Equal(t, -1.0, f.progress.attempts[0].Score)
	assert.Equal(t, adaptive.ActionAdvance, f.progress.attempts[1].Action)
}

func TestRun_BaseValidatedPhaseFailsWhenAttemptsRunOut(t *testing.T) {
	script := make([]step, 5)
	for i := range script {
		script[i] = step{result: validation.CreationResult{}}
	}
	f := newFixture(t, map[int][]step{1: script})
	id := f.startTask(t, taskmanager.PhaseSpec{Title: "Crear informe", Tool: "creation"})

	res, err := f.runner.Run(context.Background(), id)

	require.ErrorIs(t, err, ErrFallbackRequired)
	assert.Equal(t, models.TaskFailed, res.Status)
	assert.Equal(t, 5, res.Phases[0].Attempts)
	assert.Len(t, f.tools.requests, 5)

	require.Len(t, f.progress.attempts, 5)
	assert.Equal(t, adaptive.ActionRetry, f.progress.attempts[3].Action)
	assert.Equal(t, adaptive.ActionEscalate, f.progress.attempts[4].Action)
	records := f.monitor.ValidationRecords()
	require.Len(t, records, 5)
	assert.False(t, records[4].Retried, "the last attempt escalates instead of retrying")
	assert.False(t, records[4].Scored)
	require.NotNil(t, f.progress.escalation)
	assert.Contains(t, f.progress.escalation.Reason, "la validación falló en los 5 intentos")
}

func TestRun_RejectsTaskThatIsNotActive(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.manager.CreateTask(context.Background(), taskmanager.TaskSpec{
		Title:  "Pendiente",
		Phases: []taskmanager.PhaseSpec{{Title: "Uno"}},
	})
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), id)
	assert.ErrorIs(t, err, ErrTaskNotActive)

	_, err = f.runner.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, taskmanager.ErrTaskNotFound)
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, map[int][]step{1: {{result: goodFile()}}})
	id := f.startTask(t, taskmanager.PhaseSpec{Title: "Crear", Tool: "creation"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.runner.Run(ctx, id)

	assert.ErrorIs(t, err, context.Canceled)
	task, gerr := f.manager.GetTask(context.Background(), id)
	require.NoError(t, gerr)
	assert.Equal(t, models.TaskPaused, task.Status)
	assert.Equal(t, models.PhaseActive, task.Phases[0].Status)
	assert.Empty(t, f.manager.ActiveTaskID())
}

func TestRun_InterruptedTaskHandsSlotToQueuedTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, nil)
	f.runner.cfg.Tools = ToolExecutorFunc(func(ctx context.Context, _ StepRequest) (validation.ToolResult, error) {
		cancel()
		return nil, ctx.Err()
	})
	id := f.startTask(t, taskmanager.PhaseSpec{Title: "Buscar", Tool: "web_search"})
	waiting, err := f.manager.CreateTask(context.Background(), taskmanager.TaskSpec{Title: "Siguiente", Phases: []taskmanager.PhaseSpec{{Title: "Uno"}}})
	require.NoError(t, err)
	started, err := f.manager.StartTask(context.Background(), waiting)
	require.NoError(t, err)
	require.False(t, started)

	_, err = f.runner.Run(ctx, id)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, waiting, f.manager.ActiveTaskID())
	task, err := f.manager.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPaused, task.Status)
	assert.Empty(t, f.monitor.ValidationRecords(), "an interrupted attempt is not recorded")
}

func TestRun_IrrelevantResultsAdvanceDegradedWhenAttemptsRunOut(t *testing.T) {
	// Off-topic hits fail the relevance check but score above the
	// escalation floor, so the phase advances flagged as degraded.
	offTopic := validation.WebSearchResult{Success: true, Results: []validation.SearchHit{{Title: "Recetas de cocina", Link: "http://a"}}}
	script := make([]step, 5)
	for i := range script {
		script[i] = step{result: offTopic}
	}
	f := newFixture(t, map[int][]step{1: script})
	ctx := context.Background()
	id, err := f.manager.CreateTask(ctx, taskmanager.TaskSpec{
		Title:   "Perfil",
		Phases:  []taskmanager.PhaseSpec{{Title: "Buscar", Tool: "web_search"}},
		Context: map[string]any{"query": "Tesla Cybertruck"},
	})
	require.NoError(t, err)
	_, err = f.manager.StartTask(ctx, id)
	require.NoError(t, err)

	res, err := f.runner.Run(ctx, id)
	require.NoError(t, err)

	require.Len(t, f.progress.attempts, 5)
	assert.Equal(t, validation.StatusFailure, f.progress.attempts[0].Status)
	assert.Contains(t, f.progress.attempts[0].Message, "no relevantes")
	assert.InDelta(t, 20.3, f.progress.attempts[0].Score, 0.1)

	require.Len(t, res.Phases, 1)
	assert.Equal(t, 5, res.Phases[0].Attempts)
	assert.True(t, res.Phases[0].Degraded)
	assert.Equal(t, models.TaskCompleted, res.Status)

	task, err := f.manager.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, true, task.Results["degraded"])

	history := f.runner.cfg.Controller.History()
	require.Len(t, history, 5)
	for i, a := range history {
		assert.False(t, a.MeetsRequirements, "attempt %d failed base validation", i+1)
	}
}

func TestNewRunner_InvalidConfig(t *testing.T) {
	_, err := NewRunner(Config{})
	assert.ErrorContains(t, err, "invalid config")

	_, err = NewRunner(Config{Tasks: &taskmanager.Manager{}})
	assert.ErrorContains(t, err, "tool executor is required")
}

func TestEscalationError(t *testing.T) {
	err := &EscalationError{TaskID: "t1", PhaseID: 2, Attempts: 3, Reason: "sin datos"}

	assert.True(t, errors.Is(err, ErrFallbackRequired))
	assert.Equal(t, "task t1 phase 2: fallback plan required after 3 attempts: sin datos", err.Error())
}

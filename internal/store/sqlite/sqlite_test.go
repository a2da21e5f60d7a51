package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/store"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTask(id string, status models.TaskStatus, created time.Time) *models.Task {
	started := created.Add(time.Second)
	current := 2
	return &models.Task{
		ID:        id,
		Title:     "Informe " + id,
		Goal:      "Investigar el mercado",
		Status:    status,
		Priority:  1,
		CreatedAt: created,
		StartedAt: &started,
		Phases: []*models.Phase{
			{ID: 1, Title: "Buscar", Tool: "web_search", Status: models.PhaseCompleted, StartedAt: &started, CompletedAt: &started, Results: map[string]any{"count": float64(3)}},
			{ID: 2, Title: "Analizar", Tool: "analysis", Status: models.PhaseActive, StartedAt: &started},
		},
		CurrentPhaseID: &current,
		Context:        map[string]any{"lang": "es"},
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t, MemoryPath)

	var applied, first int
	row := s.db.QueryRowContext(context.Background(), `SELECT COUNT(*), MIN(version) FROM schema_version`)
	require.NoError(t, row.Scan(&applied, &first))
	assert.Equal(t, len(migrations), applied)
	assert.Equal(t, 1, first)
}

func TestOpen_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "tasks.db")
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	first, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, first.SaveTask(ctx, sampleTask("t1", models.TaskActive, created)))
	require.NoError(t, first.Close())

	second := openTestStore(t, path)
	got, err := second.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Informe t1", got.Title)
}

func TestSaveTask_RoundTripsTheDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, MemoryPath)
	want := sampleTask("t1", models.TaskActive, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))

	require.NoError(t, s.SaveTask(ctx, want))
	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, want.Phases[0].Results, got.Phases[0].Results)
	require.NotNil(t, got.CurrentPhaseID)
	assert.Equal(t, 2, *got.CurrentPhaseID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.NoError(t, got.Validate())
}

func TestSaveTask_Upserts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, MemoryPath)
	task := sampleTask("t1", models.TaskActive, time.Now())
	require.NoError(t, s.SaveTask(ctx, task))

	now := time.Now()
	task.Status = models.TaskCompleted
	task.CompletedAt = &now
	task.CurrentPhaseID = nil
	task.Phases[1].Status = models.PhaseCompleted
	require.NoError(t, s.SaveTask(ctx, task))

	all, err := s.ListTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.TaskCompleted, all[0].Status)
}

func TestGetTask_NotFound(t *testing.T) {
	s := openTestStore(t, MemoryPath)

	_, err := s.GetTask(context.Background(), "missing")

	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestListTasks_FiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, MemoryPath)
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveTask(ctx, sampleTask("c", models.TaskActive, base.Add(2*time.Hour))))
	require.NoError(t, s.SaveTask(ctx, sampleTask("a", models.TaskPending, base)))
	require.NoError(t, s.SaveTask(ctx, sampleTask("b", models.TaskPending, base.Add(time.Hour))))

	pending, err := s.ListTasks(ctx, models.TaskPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.TaskStatus]int{models.TaskPending: 2, models.TaskActive: 1}, counts)
}

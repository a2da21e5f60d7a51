package taskmanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/taskpilot/internal/models"
)

func TestCheckHealth_ReportsStallsWithoutFailing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "A", 0)
	_, _ = f.m.StartTask(ctx, id)

	f.clock.Advance(30 * time.Minute)
	assert.Empty(t, f.m.CheckHealth(ctx).Stalled)

	f.clock.Advance(45 * time.Minute)
	report := f.m.CheckHealth(ctx)

	require.Len(t, report.Stalled, 1)
	assert.Equal(t, id, report.Stalled[0].TaskID)
	assert.Equal(t, 1, report.Stalled[0].PhaseID)
	assert.Equal(t, 75*time.Minute, report.Stalled[0].ActiveFor)
	task, _ := f.m.GetTask(ctx, id)
	assert.Equal(t, models.TaskActive, task.Status)
}

func TestCheckHealth_ReclaimsOldTerminalTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	done := f.create(t, "done", 0)
	waiting := f.create(t, "waiting", 0)
	_, _ = f.m.StartTask(ctx, done)
	require.NoError(t, f.m.CompleteTask(ctx, done, nil))

	f.clock.Advance(23 * time.Hour)
	assert.Empty(t, f.m.CheckHealth(ctx).Reclaimed)

	f.clock.Advance(2 * time.Hour)
	report := f.m.CheckHealth(ctx)

	assert.Equal(t, []string{done}, report.Reclaimed)
	assert.Len(t, f.m.ListTasks(""), 1)
	_, err := f.m.GetTask(ctx, waiting)
	assert.NoError(t, err)

	stored, err := f.m.GetTask(ctx, done)
	require.NoError(t, err, "evicted tasks are still readable from the store")
	assert.Equal(t, models.TaskCompleted, stored.Status)

	err = f.m.FailTask(ctx, done, "late")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestCheckHealth_KeepsUnsavedTerminalTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, "A", 0)
	_, _ = f.m.StartTask(ctx, id)
	f.store.setBroken(true)
	require.NoError(t, f.m.CompleteTask(ctx, id, nil))

	f.clock.Advance(48 * time.Hour)
	report := f.m.CheckHealth(ctx)

	assert.Empty(t, report.Reclaimed)
	assert.Equal(t, 1, report.PendingWrites)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.m.cfg.HealthInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// Package store defines the persistence collaborator of the task manager:
// whole-document task snapshots, saved after every mutation.
package store

import (
	"context"
	"errors"

	"github.com/harrison/taskpilot/internal/models"
)

// ErrNotFound is returned by GetTask for an unknown id.
var ErrNotFound = errors.New("task not found in store")

// TaskStore persists task snapshots. Implementations must not retain the
// passed task; the caller keeps mutating its own copy.
type TaskStore interface {
	SaveTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// ListTasks returns the tasks with the given status, or every task when
	// status is empty, oldest first.
	ListTasks(ctx context.Context, status models.TaskStatus) ([]*models.Task, error)
}

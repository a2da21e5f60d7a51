// Package memory is an in-process TaskStore.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/store"
)

// Store keeps deep copies of saved tasks in a map.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

var _ store.TaskStore = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{tasks: map[string]*models.Task{}}
}

func (s *Store) SaveTask(_ context.Context, t *models.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("save task: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", id, store.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *Store) ListTasks(_ context.Context, status models.TaskStatus) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Task
	for _, t := range s.tasks {
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
	return out, nil
}

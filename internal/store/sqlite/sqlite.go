// Package sqlite is a TaskStore on SQLite. Each task is kept as a JSON
// document next to the columns used for filtering.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/taskpilot/internal/log"
	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/store"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a SQLite backed store.TaskStore.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

var _ store.TaskStore = (*Store)(nil)

// Open opens (creating when needed) the database at path and applies
// pending migrations.
func Open(ctx context.Context, path string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Noop
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if err := execWithRetry(ctx, db, p, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger.WithValues(log.Kv{"svc": "store.SQLite"})}
	if err := s.ApplyMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func execWithRetry(ctx context.Context, db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.ExecContext(ctx, stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveTask(ctx context.Context, t *models.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("save task: missing id")
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}

	var completed, phase sql.NullInt64
	if t.CompletedAt != nil {
		completed = sql.NullInt64{Int64: t.CompletedAt.UnixNano(), Valid: true}
	}
	if t.CurrentPhaseID != nil {
		phase = sql.NullInt64{Int64: int64(*t.CurrentPhaseID), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tasks (id, title, status, priority, created_at, updated_at, completed_at, current_phase_id, document)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    status = excluded.status,
    priority = excluded.priority,
    updated_at = excluded.updated_at,
    completed_at = excluded.completed_at,
    current_phase_id = excluded.current_phase_id,
    document = excluded.document`,
		t.ID, t.Title, string(t.Status), t.Priority, t.CreatedAt.UnixNano(), time.Now().UnixNano(),
		completed, phase, string(doc))
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM tasks WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get task %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return decodeTask(doc)
}

func (s *Store) ListTasks(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT document FROM tasks ORDER BY created_at ASC, id ASC`
	var args []any
	if status != "" {
		query = `SELECT document FROM tasks WHERE status = ? ORDER BY created_at ASC, id ASC`
		args = append(args, string(status))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t, err := decodeTask(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// CountByStatus returns the number of stored tasks per status.
func (s *Store) CountByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	out := map[models.TaskStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[models.TaskStatus(status)] = n
	}
	return out, rows.Err()
}

func decodeTask(doc string) (*models.Task, error) {
	var t models.Task
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("decode task document: %w", err)
	}
	return &t, nil
}

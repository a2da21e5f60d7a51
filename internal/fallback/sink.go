package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/taskpilot/internal/filelock"
)

// Document names written by the monitor.
const (
	PlanRecordsDocument       = "plan_records.json"
	ValidationRecordsDocument = "validation_records.json"
	ReportDocument            = "improvement_report.json"
)

// ErrNoDocument is returned by DocumentStore.Load for a missing document.
var ErrNoDocument = errors.New("document not found")

// Alert is one raised fallback alert.
type Alert struct {
	Rule    string    `json:"rule"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

const alertPrefix = "FALLBACK ALERT: "

// String renders the alert log line.
func (a Alert) String() string {
	return fmt.Sprintf("%s%s - %s", alertPrefix, a.Message, a.At.Format(time.RFC3339))
}

// AlertSink receives raised alerts.
type AlertSink interface {
	WriteAlert(Alert) error
}

// DocumentStore persists named JSON documents.
type DocumentStore interface {
	Save(name string, v any) error
	Load(name string, v any) error
}

// AlertLog appends alerts to a flat file, one line per alert.
type AlertLog struct {
	path string
}

// NewAlertLog returns an AlertLog writing to path.
func NewAlertLog(path string) *AlertLog {
	return &AlertLog{path: path}
}

// Path is the log file location.
func (l *AlertLog) Path() string { return l.path }

// WriteAlert appends a.String() to the log.
func (l *AlertLog) WriteAlert(a Alert) error {
	if err := filelock.AppendLine(l.path, a.String()); err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	return nil
}

// Lines returns every alert line logged so far.
func (l *AlertLog) Lines() ([]string, error) {
	data, err := filelock.ReadLocked(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read alert log: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, alertPrefix) {
			out = append(out, line)
		}
	}
	return out, nil
}

// JSONStore keeps documents as indented JSON files in a directory.
type JSONStore struct {
	dir string
}

// NewJSONStore returns a JSONStore rooted at dir.
func NewJSONStore(dir string) *JSONStore {
	return &JSONStore{dir: dir}
}

// Save atomically replaces the named document.
func (s *JSONStore) Save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := filelock.LockAndWrite(filepath.Join(s.dir, name), data); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Load decodes the named document into v.
func (s *JSONStore) Load(name string, v any) error {
	data, err := filelock.ReadLocked(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", name, ErrNoDocument)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

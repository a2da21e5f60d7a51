package fallback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harrison/taskpilot/internal/log"
)

// DefaultReloadDelay coalesces the burst of events a single flush produces.
const DefaultReloadDelay = 200 * time.Millisecond

// Watcher reloads a Monitor whenever another process flushes records into
// the shared data directory, and logs the resulting alert levels.
type Watcher struct {
	monitor *Monitor
	dir     string
	delay   time.Duration
	logger  log.Logger

	// reloaded is notified after every reload. Nil outside tests.
	reloaded chan struct{}
}

// NewWatcher returns a Watcher for the documents written under dir.
func NewWatcher(m *Monitor, dir string, delay time.Duration, logger log.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	if logger == nil {
		logger = log.Noop
	}
	return &Watcher{
		monitor: m,
		dir:     dir,
		delay:   delay,
		logger:  logger.WithValues(log.Kv{"svc": "fallback.Watcher"}),
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", w.dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.logger.Infof("Watching %s for fallback records", w.dir)

	timer := time.NewTimer(w.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if isRecordsDocument(ev) {
				timer.Reset(w.delay)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warningf("Watch error: %v", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	if err := w.monitor.Load(); err != nil {
		w.logger.Errorf("Could not reload fallback records: %v", err)
		return
	}

	fb := w.monitor.GetFallbackStatistics(reportWindowHours)
	vs := w.monitor.GetValidationStatistics(reportWindowHours)
	switch {
	case fb.AlertLevel != AlertNone || vs.AlertLevel != AlertNone:
		w.logger.Warningf("Fallback rate %.0f%% (%s), step failure rate %.0f%% (%s) over %dh",
			fb.FallbackRate*100, fb.AlertLevel, vs.FailureRate*100, vs.AlertLevel, reportWindowHours)
	default:
		w.logger.Debugf("Reloaded %d plan records and %d validation records", fb.Total, vs.Total)
	}

	if w.reloaded != nil {
		select {
		case w.reloaded <- struct{}{}:
		default:
		}
	}
}

func isRecordsDocument(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	switch filepath.Base(ev.Name) {
	case PlanRecordsDocument, ValidationRecordsDocument:
		return true
	}
	return false
}

package logger

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harrison/taskpilot/internal/adaptive"
	"github.com/harrison/taskpilot/internal/executor"
	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/validation"
)

func newTestLogger(level string) (*ConsoleLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := NewConsoleLogger(buf, level)
	l.now = func() time.Time { return time.Date(2026, 3, 10, 9, 5, 7, 0, time.UTC) }
	return l, buf
}

func TestNewConsoleLogger(t *testing.T) {
	t.Run("with valid writer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewConsoleLogger(buf, "INFO")
		if logger.writer != buf {
			t.Error("writer not set correctly")
		}
		if logger.logLevel != "info" {
			t.Errorf("expected log level %q, got %q", "info", logger.logLevel)
		}
		if logger.colorOutput {
			t.Error("expected no color for a buffer")
		}
	})

	t.Run("with nil writer", func(t *testing.T) {
		logger := NewConsoleLogger(nil, "debug")
		logger.LogInfo("dropped")
		logger.LogTaskStart(&models.Task{ID: "t1"})
		logger.LogSummary(executor.RunResult{TaskID: "t1"})
	})
}

func TestNormalizeLogLevel(t *testing.T) {
	tests := map[string]string{
		"":        "info",
		"DEBUG":   "debug",
		" warn ":  "warn",
		"warning": "warn",
		"verbose": "info",
		"error":   "error",
		"trace":   "trace",
	}
	for in, want := range tests {
		if got := normalizeLogLevel(in); got != want {
			t.Errorf("normalizeLogLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger("warn")

	l.LogDebug("debug message")
	l.LogInfo("info message")
	l.LogWarn("warn message")
	l.LogError("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below warn leaked: %q", out)
	}
	if !strings.Contains(out, "[09:05:07] [WARN] warn message\n") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[09:05:07] [ERROR] error message\n") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestLogTaskStart(t *testing.T) {
	l, buf := newTestLogger("info")
	l.LogTaskStart(&models.Task{ID: "t1", Title: "Informe", Phases: []*models.Phase{{ID: 1}, {ID: 2}}})

	want := "[09:05:07] Starting task Informe (t1): 2 phases\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestLogAttempt(t *testing.T) {
	t.Run("scored attempt at debug", func(t *testing.T) {
		l, buf := newTestLogger("debug")
		l.LogAttempt(executor.AttemptReport{
			PhaseID: 1, Attempt: 2, Mode: adaptive.ModeLenient, Status: validation.StatusWarning,
			Score: 42.5, Action: adaptive.ActionAdvance, Message: "Contenido insuficiente",
		})
		want := "[09:05:07] Phase 1 attempt 2 [lenient]: WARNING score=42.5 -> advance: Contenido insuficiente\n"
		if buf.String() != want {
			t.Errorf("got %q, want %q", buf.String(), want)
		}
	})

	t.Run("unscored success hidden at info", func(t *testing.T) {
		l, buf := newTestLogger("info")
		l.LogAttempt(executor.AttemptReport{PhaseID: 1, Attempt: 1, Status: validation.StatusSuccess, Score: -1, Action: adaptive.ActionAdvance})
		if buf.Len() != 0 {
			t.Errorf("expected no output, got %q", buf.String())
		}
	})

	t.Run("failures shown at info", func(t *testing.T) {
		l, buf := newTestLogger("info")
		l.LogAttempt(executor.AttemptReport{PhaseID: 3, Attempt: 1, Status: validation.StatusFailure, Score: -1, Action: adaptive.ActionRetry, Message: "No se creó ningún archivo"})
		want := "[09:05:07] Phase 3 attempt 1: FAILURE -> retry: No se creó ningún archivo\n"
		if buf.String() != want {
			t.Errorf("got %q, want %q", buf.String(), want)
		}
	})
}

func TestLogPhaseComplete(t *testing.T) {
	l, buf := newTestLogger("info")
	l.LogTaskStart(&models.Task{ID: "t1", Title: "Informe", Phases: []*models.Phase{{ID: 1}, {ID: 2}}})
	buf.Reset()

	l.LogPhaseComplete(executor.PhaseReport{TaskID: "t1", PhaseID: 1, Title: "Buscar", Status: validation.StatusSuccess, Attempts: 1})
	l.LogPhaseComplete(executor.PhaseReport{TaskID: "t1", PhaseID: 2, Title: "Crear", Status: validation.StatusWarning, Attempts: 5, Degraded: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if want := "[09:05:07] Phase 1 Buscar: SUCCESS after 1 attempt [=====     ] 1/2 (50%)"; lines[0] != want {
		t.Errorf("got %q, want %q", lines[0], want)
	}
	if want := "[09:05:07] Phase 2 Crear: WARNING after 5 attempts (degraded) [==========] 2/2 (100%)"; lines[1] != want {
		t.Errorf("got %q, want %q", lines[1], want)
	}
}

func TestLogEscalation(t *testing.T) {
	l, buf := newTestLogger("error")
	l.LogEscalation(&executor.EscalationError{TaskID: "t1", PhaseID: 2, Attempts: 3, Reason: "sin datos"})

	want := "[09:05:07] Escalating task t1 at phase 2 after 3 attempts: sin datos\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestLogSummary(t *testing.T) {
	l, buf := newTestLogger("info")
	l.LogSummary(executor.RunResult{
		TaskID:    "t1",
		Status:    models.TaskFailed,
		Escalated: true,
		Duration:  90 * time.Second,
		Phases: []executor.PhaseReport{
			{Attempts: 1},
			{Attempts: 3, Degraded: true},
		},
	})

	want := "[09:05:07] === Run Summary ===\n" +
		"[09:05:07] Task: t1 (failed)\n" +
		"[09:05:07] Phases run: 2\n" +
		"[09:05:07] Attempts: 4\n" +
		"[09:05:07] Degraded phases: 1\n" +
		"[09:05:07] Escalated to fallback plan\n" +
		"[09:05:07] Duration: 1m30s\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{5 * time.Second, "5s"},
		{time.Minute, "1m"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{time.Hour + time.Minute + time.Second, "1h1m1s"},
		{3 * time.Hour, "3h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConsoleLogger_ConcurrentWrites(t *testing.T) {
	l, buf := newTestLogger("info")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.LogInfo("tick")
		}()
	}
	wg.Wait()

	if n := strings.Count(buf.String(), "[INFO] tick\n"); n != 20 {
		t.Errorf("expected 20 lines, got %d", n)
	}
}

func TestNoOpLogger(t *testing.T) {
	var l executor.Logger = NoOpLogger{}
	l.LogTaskStart(&models.Task{})
	l.LogSummary(executor.RunResult{})
}

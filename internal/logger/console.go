// Package logger renders run progress for humans.
//
// ConsoleLogger implements executor.Logger. Every line is prefixed with a
// [HH:MM:SS] timestamp, messages below the configured level are dropped and
// colors are used only when writing to a terminal.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/harrison/taskpilot/internal/executor"
	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/validation"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

var _ executor.Logger = (*ConsoleLogger)(nil)

// ConsoleLogger logs run progress to a writer. It is safe for concurrent use.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	colorOutput bool
	now         func() time.Time

	mutex  sync.Mutex
	totals map[string]int
	done   map[string]int
}

// NewConsoleLogger creates a ConsoleLogger that writes to writer. A nil
// writer discards everything. Unknown levels fall back to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
		now:         time.Now,
		totals:      map[string]int{},
		done:        map[string]int{},
	}
}

// isTerminal is true for os.Stdout and os.Stderr unless color is disabled
// (not a TTY, or NO_COLOR set).
func isTerminal(w io.Writer) bool {
	if w == nil {
		return false
	}
	if w == os.Stdout || w == os.Stderr {
		return !color.NoColor
	}
	return false
}

func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	case "warning":
		return "warn"
	}
	return "info"
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// LogDebug logs a free-form message at DEBUG level.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs a free-form message at INFO level.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a free-form message at WARN level.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs a free-form message at ERROR level.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := cl.timestamp()
	if cl.colorOutput {
		fmt.Fprint(cl.writer, cl.formatWithColor(ts, level, message))
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, level, message)
}

func (cl *ConsoleLogger) formatWithColor(ts, level, message string) string {
	var coloredLevel string
	switch level {
	case "TRACE":
		coloredLevel = color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		coloredLevel = color.New(color.FgCyan).Sprint(level)
	case "INFO":
		coloredLevel = color.New(color.FgBlue).Sprint(level)
	case "WARN":
		coloredLevel = color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		coloredLevel = color.New(color.FgRed).Sprint(level)
	default:
		coloredLevel = level
	}
	return fmt.Sprintf("[%s] [%s] %s\n", ts, coloredLevel, message)
}

// LogTaskStart logs the start of a run at INFO level.
// Format: "[HH:MM:SS] Starting task <title> (<id>): <n> phases"
func (cl *ConsoleLogger) LogTaskStart(task *models.Task) {
	if cl.writer == nil || task == nil {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.totals[task.ID] = len(task.Phases)
	cl.done[task.ID] = 0

	if !cl.shouldLog("info") {
		return
	}
	title := task.Title
	if cl.colorOutput {
		title = color.New(color.Bold).Sprint(title)
	}
	fmt.Fprintf(cl.writer, "[%s] Starting task %s (%s): %d phases\n", cl.timestamp(), title, task.ID, len(task.Phases))
}

// LogAttempt logs one attempt at DEBUG level, or WARN when it failed.
// Format: "[HH:MM:SS] Phase <id> attempt <n> [<mode>]: <STATUS> score=<s> -> <action>: <message>"
func (cl *ConsoleLogger) LogAttempt(a executor.AttemptReport) {
	if cl.writer == nil {
		return
	}
	level := "debug"
	if a.Status == validation.StatusFailure {
		level = "warn"
	}
	if !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	status := strings.ToUpper(string(a.Status))
	if cl.colorOutput {
		status = statusColor(a.Status).Sprint(status)
	}
	var line strings.Builder
	fmt.Fprintf(&line, "[%s] Phase %d attempt %d", cl.timestamp(), a.PhaseID, a.Attempt)
	if a.Score >= 0 {
		fmt.Fprintf(&line, " [%s]", a.Mode)
	}
	fmt.Fprintf(&line, ": %s", status)
	if a.Score >= 0 {
		fmt.Fprintf(&line, " score=%.1f", a.Score)
	}
	fmt.Fprintf(&line, " -> %s: %s\n", a.Action, a.Message)
	fmt.Fprint(cl.writer, line.String())
}

// LogPhaseComplete logs a finished phase and the task progress bar at INFO
// level.
// Format: "[HH:MM:SS] Phase <id> <title>: <STATUS> after <n> attempt(s) [<bar>]"
func (cl *ConsoleLogger) LogPhaseComplete(p executor.PhaseReport) {
	if cl.writer == nil {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.done[p.TaskID]++

	if !cl.shouldLog("info") {
		return
	}

	status := strings.ToUpper(string(p.Status))
	if cl.colorOutput {
		status = statusColor(p.Status).Sprint(status)
	}
	suffix := ""
	if p.Degraded {
		suffix = " (degraded)"
		if cl.colorOutput {
			suffix = color.New(color.FgYellow).Sprint(suffix)
		}
	}
	line := fmt.Sprintf("[%s] Phase %d %s: %s after %s%s", cl.timestamp(), p.PhaseID, p.Title, status, plural(p.Attempts, "attempt"), suffix)
	if total := cl.totals[p.TaskID]; total > 0 {
		bar := NewProgressBar(total, 10, cl.colorOutput)
		bar.Update(cl.done[p.TaskID])
		line += " " + bar.Render()
	}
	fmt.Fprintln(cl.writer, line)
}

// LogEscalation logs a phase handed to the fallback plan at ERROR level.
func (cl *ConsoleLogger) LogEscalation(err *executor.EscalationError) {
	if cl.writer == nil || err == nil || !cl.shouldLog("error") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	label := "Escalating"
	if cl.colorOutput {
		label = color.New(color.FgRed, color.Bold).Sprint(label)
	}
	fmt.Fprintf(cl.writer, "[%s] %s task %s at phase %d after %s: %s\n",
		cl.timestamp(), label, err.TaskID, err.PhaseID, plural(err.Attempts, "attempt"), err.Reason)
}

// LogSummary logs the run summary at INFO level.
// Format: "[HH:MM:SS] === Run Summary ===\n[HH:MM:SS] Task: <id> (<status>)\n..."
func (cl *ConsoleLogger) LogSummary(result executor.RunResult) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	delete(cl.totals, result.TaskID)
	delete(cl.done, result.TaskID)

	ts := cl.timestamp()
	attempts, degraded := 0, 0
	for _, p := range result.Phases {
		attempts += p.Attempts
		if p.Degraded {
			degraded++
		}
	}

	header := "=== Run Summary ==="
	status := string(result.Status)
	if cl.colorOutput {
		header = color.New(color.Bold).Sprint(header)
		if result.Status == models.TaskCompleted {
			status = color.New(color.FgGreen).Sprint(status)
		} else {
			status = color.New(color.FgRed).Sprint(status)
		}
	}

	var out strings.Builder
	fmt.Fprintf(&out, "[%s] %s\n", ts, header)
	fmt.Fprintf(&out, "[%s] Task: %s (%s)\n", ts, result.TaskID, status)
	fmt.Fprintf(&out, "[%s] Phases run: %d\n", ts, len(result.Phases))
	fmt.Fprintf(&out, "[%s] Attempts: %d\n", ts, attempts)
	if degraded > 0 {
		fmt.Fprintf(&out, "[%s] Degraded phases: %d\n", ts, degraded)
	}
	if result.Escalated {
		fmt.Fprintf(&out, "[%s] Escalated to fallback plan\n", ts)
	}
	fmt.Fprintf(&out, "[%s] Duration: %s\n", ts, formatDuration(result.Duration))
	fmt.Fprint(cl.writer, out.String())
}

func statusColor(s validation.Status) *color.Color {
	switch s {
	case validation.StatusSuccess:
		return color.New(color.FgGreen)
	case validation.StatusWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func (cl *ConsoleLogger) timestamp() string {
	return cl.now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		if remainder%time.Minute == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, (remainder%time.Minute)/time.Second)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, remainder/time.Second)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// NoOpLogger discards all progress events.
type NoOpLogger struct{}

var _ executor.Logger = NoOpLogger{}

func (NoOpLogger) LogTaskStart(*models.Task) {}
func (NoOpLogger) LogAttempt(executor.AttemptReport) {}
func (NoOpLogger) LogPhaseComplete(executor.PhaseReport) {}
func (NoOpLogger) LogEscalation(*executor.EscalationError) {}
func (NoOpLogger) LogSummary(executor.RunResult) {}


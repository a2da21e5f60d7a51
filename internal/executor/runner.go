// Package executor drives an active task through its phases: it runs each
// phase's tool, validates the output, lets the adaptive controller decide
// whether to advance, retry or escalate, records every attempt with the
// fallback monitor and applies the decision through the task manager.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/taskpilot/internal/adaptive"
	"github.com/harrison/taskpilot/internal/fallback"
	"github.com/harrison/taskpilot/internal/log"
	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/validation"
)

// StepRequest is what the tool executor receives for one attempt.
type StepRequest struct {
	TaskID      string
	PhaseID     int
	Title       string
	Description string
	Tool        string
	Goal        string
	Attempt     int
	// Mode is the validation mode the output will be scored under.
	Mode adaptive.Mode
	// Recommendations are advisory hints derived from the previous attempt.
	Recommendations []string
	Context         map[string]any
}

// ToolExecutor runs the tool behind a phase. An error counts as a failed
// attempt.
type ToolExecutor interface {
	Execute(ctx context.Context, req StepRequest) (validation.ToolResult, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, req StepRequest) (validation.ToolResult, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, req StepRequest) (validation.ToolResult, error) {
	return f(ctx, req)
}

// TaskController is the subset of the task manager the runner drives.
type TaskController interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	AdvancePhase(ctx context.Context, id string, from, to int, results map[string]any) error
	CompleteTask(ctx context.Context, id string, results map[string]any) error
	FailTask(ctx context.Context, id, reason string) error
	PauseTask(ctx context.Context, id string) error
}

// Logger receives progress events. Implementations must be safe for
// concurrent use.
type Logger interface {
	LogTaskStart(task *models.Task)
	LogAttempt(report AttemptReport)
	LogPhaseComplete(report PhaseReport)
	LogEscalation(err *EscalationError)
	LogSummary(result RunResult)
}

// AttemptReport describes one attempt on a phase.
type AttemptReport struct {
	TaskID     string
	PhaseID    int
	PhaseTitle string
	Tool       string
	Attempt    int
	Mode       adaptive.Mode
	Status     validation.Status
	Message    string
	// Score is the completeness score; -1 for phases scored only by the
	// base validator.
	Score  float64
	Action adaptive.Action
}

// PhaseReport is the outcome of one phase.
type PhaseReport struct {
	TaskID   string
	PhaseID  int
	Title    string
	Tool     string
	Attempts int
	Status   validation.Status
	Mode     adaptive.Mode
	Score    float64
	Degraded bool
	Message  string
}

// RunResult summarizes a Run.
type RunResult struct {
	TaskID    string
	Status    models.TaskStatus
	Phases    []PhaseReport
	Duration  time.Duration
	Escalated bool
}

// Config configures a Runner.
type Config struct {
	Tasks      TaskController
	Tools      ToolExecutor
	Validator  *validation.Validator
	Controller *adaptive.Controller
	// Monitor is optional.
	Monitor *fallback.Monitor
	// Progress is optional.
	Progress Logger
	Logger   log.Logger
	// QueryFor returns the original query used for relevance checks of a
	// phase. Defaults to the task context value "query".
	QueryFor func(task *models.Task, phase *models.Phase) string
	Clock    func() time.Time
}

func (c *Config) defaults() error {
	if c.Tasks == nil {
		return fmt.Errorf("task controller is required")
	}
	if c.Tools == nil {
		return fmt.Errorf("tool executor is required")
	}
	if c.Validator == nil {
		c.Validator = validation.New(validation.Config{})
	}
	if c.Controller == nil {
		ctrl, err := adaptive.NewController(adaptive.Config{})
		if err != nil {
			return err
		}
		c.Controller = ctrl
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Runner"})
	if c.QueryFor == nil {
		c.QueryFor = contextQuery
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

func contextQuery(task *models.Task, _ *models.Phase) string {
	q, _ := task.Context["query"].(string)
	return q
}

// Runner executes tasks phase by phase.
type Runner struct {
	cfg    Config
	logger log.Logger
}

// NewRunner returns a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Runner{cfg: cfg, logger: cfg.Logger}, nil
}

// Run drives the active task taskID until it completes, fails or ctx ends.
// A task interrupted by ctx is paused and frees the slot. When the
// controller escalates, the task is failed and an
// *EscalationError wrapping ErrFallbackRequired is returned alongside the
// partial result.
func (r *Runner) Run(ctx context.Context, taskID string) (*RunResult, error) {
	start := r.cfg.Clock()
	task, err := r.cfg.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("run task: %w", err)
	}
	if task.Status != models.TaskActive {
		return nil, fmt.Errorf("run task %s: %w (status %s)", taskID, ErrTaskNotActive, task.Status)
	}

	result := &RunResult{TaskID: taskID}
	finish := func() {
		result.Duration = r.cfg.Clock().Sub(start)
		if t, err := r.cfg.Tasks.GetTask(ctx, taskID); err == nil {
			result.Status = t.Status
		}
		if r.cfg.Progress != nil {
			r.cfg.Progress.LogSummary(*result)
		}
	}
	if r.cfg.Progress != nil {
		r.cfg.Progress.LogTaskStart(task)
	}

	for {
		phase := task.ActivePhase()
		if phase == nil {
			if err := r.cfg.Tasks.CompleteTask(ctx, taskID, nil); err != nil {
				return result, fmt.Errorf("complete task %s: %w", taskID, err)
			}
			finish()
			return result, nil
		}

		report, results, escalation, err := r.runPhase(ctx, task, phase)
		if report != nil {
			result.Phases = append(result.Phases, *report)
		}
		if err != nil {
			if ctx.Err() != nil {
				// The phase stays active so a resumed run retries it.
				if perr := r.cfg.Tasks.PauseTask(context.WithoutCancel(ctx), taskID); perr != nil {
					r.logger.Errorf("Could not pause interrupted task %s: %v", taskID, perr)
				} else {
					r.logger.Warningf("Task %s paused on phase %d: %v", taskID, phase.ID, ctx.Err())
				}
			}
			finish()
			return result, err
		}
		if escalation != nil {
			result.Escalated = true
			if err := r.cfg.Tasks.FailTask(ctx, taskID, escalation.Reason); err != nil {
				r.logger.Errorf("Could not fail escalated task %s: %v", taskID, err)
			}
			if r.cfg.Progress != nil {
				r.cfg.Progress.LogEscalation(escalation)
			}
			finish()
			return result, escalation
		}
		if r.cfg.Progress != nil {
			r.cfg.Progress.LogPhaseComplete(*report)
		}

		next := nextPendingPhase(task, phase.ID)
		if next == nil {
			if err := r.cfg.Tasks.CompleteTask(ctx, taskID, results); err != nil {
				return result, fmt.Errorf("complete task %s: %w", taskID, err)
			}
			finish()
			return result, nil
		}
		if err := r.cfg.Tasks.AdvancePhase(ctx, taskID, phase.ID, next.ID, results); err != nil {
			return result, fmt.Errorf("advance task %s: %w", taskID, err)
		}

		if task, err = r.cfg.Tasks.GetTask(ctx, taskID); err != nil {
			return result, fmt.Errorf("reload task %s: %w", taskID, err)
		}
		if task.Status != models.TaskActive {
			finish()
			return result, fmt.Errorf("run task %s: %w (status %s)", taskID, ErrTaskNotActive, task.Status)
		}
	}
}

func nextPendingPhase(task *models.Task, after int) *models.Phase {
	idx := task.PhaseIndex(after)
	for _, p := range task.Phases[idx+1:] {
		if p.Status == models.PhasePending {
			return p
		}
	}
	return nil
}

// runPhase attempts one phase until the decision is advance or escalate, or
// ctx ends.
func (r *Runner) runPhase(ctx context.Context, task *models.Task, phase *models.Phase) (*PhaseReport, map[string]any, *EscalationError, error) {
	ctrl := r.cfg.Controller
	step := adaptive.Step{TaskID: task.ID, PhaseID: phase.ID, Description: phase.Description, Tool: phase.Tool}
	scored := ctrl.IsResearchStep(step)
	query := r.cfg.QueryFor(task, phase)

	var (
		attempts []adaptive.Attempt
		recs     []string
		mode     = ctrl.SelectMode(1, nil)
		report   = &PhaseReport{TaskID: task.ID, PhaseID: phase.ID, Title: phase.Title, Tool: phase.Tool}
	)
	// Both decision paths settle by MaxAttempts: Decide advances degraded
	// and baseDecision escalates.
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return report, nil, nil, fmt.Errorf("run phase %d of task %s: %w", phase.ID, task.ID, err)
		}

		res, execErr := r.cfg.Tools.Execute(ctx, StepRequest{
			TaskID:          task.ID,
			PhaseID:         phase.ID,
			Title:           phase.Title,
			Description:     phase.Description,
			Tool:            phase.Tool,
			Goal:            task.Goal,
			Attempt:         n,
			Mode:            mode,
			Recommendations: recs,
			Context:         task.Context,
		})
		if execErr != nil && errors.Is(execErr, context.Canceled) {
			return report, nil, nil, fmt.Errorf("run phase %d of task %s: %w", phase.ID, task.ID, execErr)
		}

		var outcome validation.Outcome
		switch {
		case execErr != nil:
			outcome = validation.Outcome{Status: validation.StatusFailure, Message: "Error de ejecución: " + execErr.Error()}
			r.logger.Warningf("Tool %s failed on task %s phase %d attempt %d: %v", phase.Tool, task.ID, phase.ID, n, execErr)
		case res == nil:
			outcome = validation.Outcome{Status: validation.StatusFailure, Message: "La herramienta no devolvió resultado"}
		default:
			outcome = r.cfg.Validator.Validate(res, validation.Options{OriginalQuery: query})
		}

		attempt := AttemptReport{
			TaskID: task.ID, PhaseID: phase.ID, PhaseTitle: phase.Title, Tool: phase.Tool,
			Attempt: n, Mode: mode, Status: outcome.Status, Message: outcome.Message, Score: -1,
		}
		var decision adaptive.Decision
		var assessment adaptive.Assessment
		if scored {
			if res != nil && execErr == nil {
				assessment = ctrl.Validate(step, res, mode)
			} else {
				assessment = adaptive.Assessment{Mode: mode, Reasons: []string{outcome.Message}}
			}
			if outcome.Status == validation.StatusFailure {
				assessment.MeetsRequirements = false
				assessment.ShouldContinue = false
			}
			attempts = append(attempts, ctrl.Record(step, assessment))
			decision = ctrl.Decide(attempts)
			attempt.Score = assessment.CompletenessScore
		} else {
			decision = baseDecision(outcome, n, ctrl.MaxAttempts())
		}
		attempt.Action = decision.Action

		if r.cfg.Monitor != nil {
			r.cfg.Monitor.RecordStepValidation(fallback.ValidationRecord{
				TaskID:  task.ID,
				PhaseID: phase.ID,
				Tool:    phase.Tool,
				Mode:    modeLabel(scored, mode),
				Attempt: n,
				Score:   max(attempt.Score, 0),
				Scored:  scored,
				Status:  string(outcome.Status),
				Retried: decision.Action == adaptive.ActionRetry,
			})
		}
		if r.cfg.Progress != nil {
			r.cfg.Progress.LogAttempt(attempt)
		}

		report.Attempts = n
		report.Status = outcome.Status
		report.Mode = mode
		report.Score = max(attempt.Score, 0)
		report.Message = outcome.Message

		switch decision.Action {
		case adaptive.ActionAdvance:
			report.Degraded = decision.Degraded
			if decision.Degraded {
				r.logger.Warningf("Task %s phase %d advanced without meeting requirements: %s", task.ID, phase.ID, decision.Reason)
			}
			return report, phaseResults(res, outcome, report), nil, nil
		case adaptive.ActionEscalate:
			return report, nil, &EscalationError{TaskID: task.ID, PhaseID: phase.ID, Attempts: n, Reason: decision.Reason}, nil
		}

		if scored {
			recs = ctrl.RecommendImprovements(assessment, phase.Tool)
		} else {
			recs = []string{outcome.Message}
		}
		mode = decision.NextMode
		if mode == "" {
			mode = ctrl.SelectMode(n+1, scores(attempts))
		}
	}
}

// baseDecision applies the non-adaptive rule: success and warning advance,
// failure retries and escalates once attempts run out.
func baseDecision(o validation.Outcome, attempt, maxAttempts int) adaptive.Decision {
	switch {
	case o.OK():
		return adaptive.Decision{Action: adaptive.ActionAdvance, Reason: o.Message}
	case attempt >= maxAttempts:
		return adaptive.Decision{
			Action: adaptive.ActionEscalate,
			Reason: fmt.Sprintf("la validación falló en los %d intentos: %s", attempt, o.Message),
		}
	}
	return adaptive.Decision{Action: adaptive.ActionRetry, Reason: o.Message}
}

func modeLabel(scored bool, mode adaptive.Mode) string {
	if !scored {
		return ""
	}
	return string(mode)
}

func scores(attempts []adaptive.Attempt) []float64 {
	out := make([]float64, len(attempts))
	for i, a := range attempts {
		out[i] = a.CompletenessScore
	}
	return out
}

func phaseResults(res validation.ToolResult, o validation.Outcome, report *PhaseReport) map[string]any {
	out := map[string]any{
		"status":   string(o.Status),
		"message":  o.Message,
		"attempts": report.Attempts,
	}
	if report.Mode != "" {
		out["mode"] = string(report.Mode)
		out["score"] = report.Score
	}
	if report.Degraded {
		out["degraded"] = true
	}
	if res != nil {
		if c := validation.ContentOf(res); c != "" {
			out["content"] = c
		}
	}
	return out
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/taskpilot/internal/executor"
	"github.com/harrison/taskpilot/internal/fallback"
	"github.com/harrison/taskpilot/internal/logger"
	"github.com/harrison/taskpilot/internal/models"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan.yaml|dir>",
		Short: "Execute a task plan against recorded tool outputs",
		Long: `Execute a task plan phase by phase.

The plan file describes the task and, for every phase, the tool outputs to
replay, one per attempt. Each output is validated and scored; the phase
advances, retries with recommendations, or escalates. On escalation the task
fails and the plan's fallback section, when present, runs as a new task.

Given a directory, every YAML plan directly inside it runs in name order and
the first plan that fails stops the run.

Only one task runs at a time. When another task holds the slot the run
fails; an interrupted run pauses its task, and --resume <task-id> continues
it from its current phase.

Example plan:

  title: Perfil de empresa
  context:
    query: Acme Robotics
  phases:
    - title: Buscar
      tool: web_search
      outputs:
        - {exec_error: timeout}
        - {results: [{title: Acme Robotics, link: "https://acme.example"}], count: 1}
    - title: Informe
      tool: creation
      outputs:
        - {file_created: true, file_path: /tmp/informe.md, file_size: 900, download_url: "https://dl/informe.md"}
  fallback:
    title: Perfil de empresa (plantilla)
    phases:
      - title: Plantilla
        tool: delivery
        outputs:
          - {content: "..."}`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().Int("max-attempts", 0, "Attempts per phase before giving up (default: config)")
	cmd.Flags().String("resume", "", "Continue this paused or interrupted task with the plan's outputs")

	return cmd
}

// errSlotTaken is returned when another task holds the active slot.
var errSlotTaken = errors.New("another task holds the active slot")

func runCommand(cmd *cobra.Command, args []string) error {
	resumeID, _ := cmd.Flags().GetString("resume")

	paths, err := discoverPlans(args[0])
	if err != nil {
		return err
	}
	if resumeID != "" && len(paths) != 1 {
		return fmt.Errorf("--resume needs a single plan file, %s has %d", args[0], len(paths))
	}
	plans := make([]*plan, 0, len(paths))
	for _, path := range paths {
		p, err := loadPlan(path)
		if err != nil {
			return err
		}
		plans = append(plans, p)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	// An interrupted run pauses its task so the slot is free for the next
	// invocation.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	a.recording = true
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Errorf("Could not close cleanly: %v", err)
		}
	}()

	progress := logger.NewConsoleLogger(cmd.OutOrStdout(), a.cfg.LogLevel)
	for i, p := range plans {
		progress.LogDebug(fmt.Sprintf("Loaded plan %s: %d phases, source %s", paths[i], len(p.Phases), p.Source))
		if err := runPlan(ctx, a, p, resumeID, progress); err != nil {
			if rest := len(plans) - i - 1; rest > 0 {
				progress.LogError(fmt.Sprintf("Plan %s failed; %d remaining plans not run", paths[i], rest))
			}
			return fmt.Errorf("plan %s: %w", paths[i], err)
		}
	}

	if h := a.controller.History(); len(h) > 0 {
		met := 0
		for _, at := range h {
			if at.MeetsRequirements {
				met++
			}
		}
		progress.LogDebug(fmt.Sprintf("Adaptive validation scored %d attempts, %d met their mode's requirements", len(h), met))
	}
	return nil
}

// runPlan runs the plan and, after an escalation, its fallback section. One
// plan record is written per invocation. A non-empty resumeID continues that
// task instead of creating a new one.
func runPlan(ctx context.Context, a *app, p *plan, resumeID string, progress *logger.ConsoleLogger) error {
	res, err := runSection(ctx, a, &p.planSection, resumeID, progress)
	if res == nil {
		return err
	}

	var esc *executor.EscalationError
	if !errors.As(err, &esc) {
		a.monitor.RecordPlanGeneration(fallback.PlanRecord{
			TaskID:      res.TaskID,
			PlanSource:  p.Source,
			Success:     err == nil && res.Status == models.TaskCompleted,
			Attempts:    totalAttempts(res),
			ErrorReason: errorReason(err),
		})
		return err
	}

	if p.Fallback == nil {
		a.monitor.RecordPlanGeneration(fallback.PlanRecord{
			TaskID:      res.TaskID,
			PlanSource:  p.Source,
			Attempts:    totalAttempts(res),
			ErrorReason: esc.Reason,
		})
		return err
	}

	progress.LogWarn(fmt.Sprintf("Phase %d of task %s escalated; running fallback plan", esc.PhaseID, esc.TaskID))
	fb := *p.Fallback
	if fb.Title == "" {
		fb.Title = p.Title + " (fallback)"
	}
	if fb.Goal == "" {
		fb.Goal = p.Goal
	}
	fb.Context = map[string]any{"fallback_for": res.TaskID}
	for k, v := range p.Context {
		fb.Context[k] = v
	}

	fbRes, fbErr := runSection(ctx, a, &fb, "", progress)
	record := fallback.PlanRecord{
		TaskID:      res.TaskID,
		PlanSource:  fallback.SourceFallback,
		Attempts:    totalAttempts(res),
		ErrorReason: esc.Reason,
	}
	if fbRes != nil {
		record.TaskID = fbRes.TaskID
		record.Success = fbErr == nil && fbRes.Status == models.TaskCompleted
		record.Attempts += totalAttempts(fbRes)
	}
	a.monitor.RecordPlanGeneration(record)
	return fbErr
}

// runSection gets a task into the active slot and runs it. A nil result
// means the task never ran.
func runSection(ctx context.Context, a *app, s *planSection, resumeID string, progress *logger.ConsoleLogger) (*executor.RunResult, error) {
	var (
		id  string
		err error
	)
	if resumeID != "" {
		id, err = resumeSection(ctx, a, resumeID, progress)
	} else {
		id, err = startSection(ctx, a, s)
	}
	if err != nil {
		return nil, err
	}

	runner, err := executor.NewRunner(executor.Config{
		Tasks:      a.manager,
		Tools:      newReplayExecutor(s),
		Validator:  a.validator,
		Controller: a.controller,
		Monitor:    a.monitor,
		Progress:   progress,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, id)
}

// startSection creates and starts a task for s. A task that cannot take the
// slot is cancelled rather than left queued, since nothing in this process
// would ever run it.
func startSection(ctx context.Context, a *app, s *planSection) (string, error) {
	id, err := a.manager.CreateTask(ctx, s.taskSpec())
	if err != nil {
		return "", err
	}
	started, err := a.manager.StartTask(ctx, id)
	if err != nil {
		return "", err
	}
	if started {
		return id, nil
	}

	active := a.manager.ActiveTaskID()
	if err := a.manager.CancelTask(ctx, id, "active slot held by task "+active); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: task %s is active; pause or cancel it with 'tasks', or continue it with 'run --resume %s'",
		errSlotTaken, active, active)
}

// resumeSection puts a paused task back in the slot. A task that is still
// active, left behind by a run that never finished, is continued as is.
func resumeSection(ctx context.Context, a *app, id string, progress *logger.ConsoleLogger) (string, error) {
	t, err := a.manager.GetTask(ctx, id)
	if err != nil {
		return "", err
	}

	switch t.Status {
	case models.TaskActive:
		progress.LogInfo(fmt.Sprintf("Continuing active task %s", id))
	case models.TaskPaused:
		resumed, err := a.manager.ResumeTask(ctx, id)
		if err != nil {
			return "", err
		}
		if !resumed {
			return "", fmt.Errorf("%w: task %s is queued at the front behind task %s", errSlotTaken, id, a.manager.ActiveTaskID())
		}
		progress.LogInfo(fmt.Sprintf("Resumed task %s", id))
	default:
		return "", fmt.Errorf("resume task %s: status is %s", id, t.Status)
	}
	return id, nil
}

func totalAttempts(res *executor.RunResult) int {
	n := 0
	for _, p := range res.Phases {
		n += p.Attempts
	}
	return n
}

func errorReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

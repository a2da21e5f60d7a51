package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/taskpilot/internal/models"
	"github.com/harrison/taskpilot/internal/taskmanager"
)

// NewTasksCommand creates the tasks command group
func NewTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage stored tasks",
	}

	cmd.AddCommand(newTasksListCommand())
	cmd.AddCommand(newTasksShowCommand())
	cmd.AddCommand(newTasksCancelCommand())
	cmd.AddCommand(newTasksPauseCommand())
	cmd.AddCommand(newTasksResumeCommand())

	return cmd
}

func newTasksListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest state from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			if status != "" && !models.TaskStatus(status).Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.store.ListTasks(cmd.Context(), models.TaskStatus(status))
			if err != nil {
				return err
			}
			printTaskList(cmd.OutOrStdout(), tasks, time.Now())
			if status != "" || len(tasks) == 0 {
				return nil
			}

			counts, err := a.store.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			printStatusCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	}
	cmd.Flags().String("status", "", "Only list tasks with this status")
	return cmd
}

func printTaskList(w io.Writer, tasks []*models.Task, now time.Time) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tPHASE\tTITLE")
	for _, t := range tasks {
		p := taskmanager.ComputeProgress(t, now)
		phase := "-"
		if p.CurrentPhaseID != nil {
			phase = fmt.Sprintf("%d", *p.CurrentPhaseID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%s\t%s\n", t.ID, statusText(t.Status), p.ProgressPercentage, phase, t.Title)
	}
	tw.Flush()
}

// statusOrder is the order statuses are summarized in.
var statusOrder = []models.TaskStatus{
	models.TaskActive,
	models.TaskPaused,
	models.TaskPending,
	models.TaskCompleted,
	models.TaskFailed,
	models.TaskCancelled,
}

func printStatusCounts(w io.Writer, counts map[models.TaskStatus]int) {
	var parts []string
	for _, s := range statusOrder {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "\nTotal: %s\n", strings.Join(parts, ", "))
	}
}

func statusText(s models.TaskStatus) string {
	switch s {
	case models.TaskCompleted:
		return color.GreenString(string(s))
	case models.TaskFailed, models.TaskCancelled:
		return color.RedString(string(s))
	case models.TaskActive:
		return color.CyanString(string(s))
	case models.TaskPaused:
		return color.YellowString(string(s))
	}
	return string(s)
}

func newTasksShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its phases and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.manager.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			progress := taskmanager.ComputeProgress(t, time.Now())

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Task     *models.Task          `json:"task"`
					Progress *taskmanager.Progress `json:"progress"`
				}{t, progress})
			}
			printTask(cmd.OutOrStdout(), t, progress)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the task and its progress as JSON")
	return cmd
}

func printTask(w io.Writer, t *models.Task, p *taskmanager.Progress) {
	fmt.Fprintf(w, "Task %s: %s\n", t.ID, t.Title)
	fmt.Fprintf(w, "Status: %s\n", statusText(t.Status))
	if t.Goal != "" {
		fmt.Fprintf(w, "Goal: %s\n", t.Goal)
	}
	fmt.Fprintf(w, "Progress: %.0f%% (%d/%d phases completed, %d failed, %d skipped)\n",
		p.ProgressPercentage, p.CompletedPhases, p.TotalPhases, p.FailedPhases, p.SkippedPhases)
	if p.ElapsedTime > 0 {
		fmt.Fprintf(w, "Elapsed: %s\n", p.ElapsedTime.Round(time.Second))
	}
	if p.EstimatedRemaining != nil {
		fmt.Fprintf(w, "Estimated remaining: %s\n", p.EstimatedRemaining.Round(time.Second))
	}
	if t.ErrorMessage != "" {
		fmt.Fprintf(w, "Error: %s\n", t.ErrorMessage)
	}

	fmt.Fprintln(w, "Phases:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, ph := range t.Phases {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", ph.ID, ph.Status, ph.Tool, ph.Title)
	}
	tw.Flush()
}

func newTasksCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.manager.CancelTask(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s cancelled\n", args[0])
			return nil
		},
	}
	cmd.Flags().String("reason", "cancelled from the command line", "Reason recorded on the task")
	return cmd
}

func newTasksPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Pause the active task and free the slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.manager.PauseTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s paused\n", args[0])
			return nil
		},
	}
}

func newTasksResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a paused task, or queue it first if the slot is taken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			resumed, err := a.manager.ResumeTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if resumed {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s resumed\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s queued at the front\n", args[0])
			}
			return nil
		},
	}
}

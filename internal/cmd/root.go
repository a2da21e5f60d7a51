package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for taskpilot
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskpilot",
		Short: "Multi-phase task orchestrator with adaptive step validation",
		Long: `taskpilot runs multi-phase task plans one task at a time.

Every phase output is validated, scored under a strictness mode that relaxes
as attempts accumulate, and either advanced, retried with recommendations or
escalated to a predetermined fallback plan. Plan and validation outcomes feed
a fallback monitor that raises alerts and produces improvement reports.

State lives under $TASKPILOT_HOME (default ./.taskpilot), configured by
$TASKPILOT_HOME/config.yaml. CLI flags override configuration file settings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.String("home", "", "Taskpilot home directory (default: $TASKPILOT_HOME or ./.taskpilot)")
	f.String("config", "", "Path to config file (default: <home>/config.yaml)")
	f.String("log-level", "", "Log level: trace, debug, info, warn, error")
	f.String("log-format", "", "Log format: text or json")
	f.String("db", "", "SQLite database path (:memory: for a throwaway store)")
	f.String("data-dir", "", "Directory for the alert log and monitor documents")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewTasksCommand())
	cmd.AddCommand(NewFallbackCommand())
	cmd.AddCommand(NewMonitorCommand())

	return cmd
}

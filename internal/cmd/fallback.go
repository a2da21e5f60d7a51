package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/taskpilot/internal/fallback"
)

// NewFallbackCommand creates the fallback command group
func NewFallbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fallback",
		Short: "Inspect fallback and validation health",
	}

	cmd.AddCommand(newFallbackStatsCommand())
	cmd.AddCommand(newFallbackReportCommand())
	cmd.AddCommand(newFallbackAlertsCommand())

	return cmd
}

func openMonitor(cmd *cobra.Command) (*fallback.Monitor, *fallback.AlertLog, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return newMonitor(cfg, newLogger(cmd, cfg))
}

func newFallbackStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show fallback and validation statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hours, _ := cmd.Flags().GetInt("hours")
			asJSON, _ := cmd.Flags().GetBool("json")

			monitor, _, err := openMonitor(cmd)
			if err != nil {
				return err
			}
			fb := monitor.GetFallbackStatistics(hours)
			vs := monitor.GetValidationStatistics(hours)

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Fallback   fallback.FallbackStats   `json:"fallback"`
					Validation fallback.ValidationStats `json:"validation"`
				}{fb, vs})
			}
			printFallbackStats(cmd.OutOrStdout(), fb)
			fmt.Fprintln(cmd.OutOrStdout())
			printValidationStats(cmd.OutOrStdout(), vs)
			return nil
		},
	}
	cmd.Flags().Int("hours", 24, "Window in hours (0 for all records)")
	cmd.Flags().Bool("json", false, "Print statistics as JSON")
	return cmd
}

func newFallbackReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate an improvement report from the last day of records",
		Long: `Generate an improvement report from the last day of records and save it
to the fallback data directory. With --latest the saved report is printed
as it was written.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			latest, _ := cmd.Flags().GetBool("latest")

			monitor, _, err := openMonitor(cmd)
			if err != nil {
				return err
			}

			var report fallback.ImprovementReport
			if latest {
				r, ok := monitor.LatestReport()
				if !ok {
					return fmt.Errorf("no improvement report has been generated yet")
				}
				report = r
			} else {
				report = monitor.GenerateImprovementReport()
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	cmd.Flags().Bool("latest", false, "Print the last saved report instead of generating one")
	return cmd
}

func newFallbackAlertsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "Print the alert log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, alerts, err := openMonitor(cmd)
			if err != nil {
				return err
			}
			lines, err := alerts.Lines()
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No alerts in %s\n", alerts.Path())
				return nil
			}
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func levelText(l fallback.AlertLevel) string {
	switch l {
	case fallback.AlertHigh:
		return color.RedString(string(l))
	case fallback.AlertMedium:
		return color.YellowString(string(l))
	case fallback.AlertLow:
		return color.CyanString(string(l))
	}
	return color.GreenString(string(l))
}

func windowText(hours int) string {
	if hours <= 0 {
		return "all records"
	}
	return fmt.Sprintf("last %dh", hours)
}

func printFallbackStats(w io.Writer, s fallback.FallbackStats) {
	fmt.Fprintf(w, "Plan generation (%s)\n", windowText(s.WindowHours))
	fmt.Fprintf(w, "  Plans: %d (%d fallback, %d successful)\n", s.Total, s.Fallbacks, s.Successes)
	fmt.Fprintf(w, "  Fallback rate: %.1f%%  Success rate: %.1f%%\n", s.FallbackRate*100, s.SuccessRate*100)
	fmt.Fprintf(w, "  Mean attempts: %.1f\n", s.MeanAttempts)
	fmt.Fprintf(w, "  Alert level: %s\n", levelText(s.AlertLevel))
	if len(s.BySource) > 0 {
		fmt.Fprintf(w, "  By source: %s\n", formatCounts(s.BySource))
	}
	for _, e := range s.TopErrors {
		fmt.Fprintf(w, "  - %dx %s\n", e.Count, e.Reason)
	}
}

func printValidationStats(w io.Writer, s fallback.ValidationStats) {
	fmt.Fprintf(w, "Step validation (%s)\n", windowText(s.WindowHours))
	fmt.Fprintf(w, "  Validations: %d (%d success, %d warning, %d failure)\n", s.Total, s.Successes, s.Warnings, s.Failures)
	fmt.Fprintf(w, "  Failure rate: %.1f%%  Retry rate: %.1f%%  Mean score: %s\n", s.FailureRate*100, s.RetryRate*100, meanScoreText(s.Scored, s.MeanScore))
	fmt.Fprintf(w, "  Alert level: %s\n", levelText(s.AlertLevel))
	if len(s.ByMode) > 0 {
		fmt.Fprintf(w, "  By mode: %s\n", formatCounts(s.ByMode))
	}
	tools := make([]string, 0, len(s.ByTool))
	for t := range s.ByTool {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	for _, t := range tools {
		ts := s.ByTool[t]
		fmt.Fprintf(w, "  - %s: %d runs, %.0f%% failed, mean score %s\n", t, ts.Total, ts.FailureRate*100, meanScoreText(ts.Scored, ts.MeanScore))
	}
}

func meanScoreText(scored int, mean float64) string {
	if scored == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f (%d scored)", mean, scored)
}

func printReport(w io.Writer, r fallback.ImprovementReport) {
	fmt.Fprintf(w, "Improvement report (%s)\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	printFallbackStats(w, r.Fallback)
	fmt.Fprintln(w)
	printValidationStats(w, r.Validation)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Recommendations:")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(w, "  [%s] %s: %s\n", strings.ToUpper(string(rec.Priority)), rec.Area, rec.Message)
	}
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		name := k
		if name == "" {
			name = "base"
		}
		parts[i] = fmt.Sprintf("%s=%d", name, m[k])
	}
	return strings.Join(parts, ", ")
}

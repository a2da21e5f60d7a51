package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/taskpilot/internal/adaptive"
	"github.com/harrison/taskpilot/internal/validation"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <category> [result.json]",
		Short: "Validate and score a single tool result",
		Long: `Validate a tool result document (JSON, read from the file or stdin) as the
given tool category, then score it adaptively the way the runner would on the
given attempt.

Categories: web_search, creation, analysis, planning, delivery, generic.

Examples:
  taskpilot validate web_search result.json --query "Acme Robotics"
  echo '{"content": "..."}' | taskpilot validate analysis --attempt 3`,
		Args: cobra.RangeArgs(1, 2),
		RunE: validateCommand,
	}

	cmd.Flags().String("query", "", "Original query for the web search relevance check")
	cmd.Flags().Int("attempt", 1, "Attempt number used to select the validation mode")
	cmd.Flags().String("mode", "", "Force a validation mode: strict, moderate, lenient, minimal")
	cmd.Flags().String("description", "", "Step description used by the research gate")

	return cmd
}

func validateCommand(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 2 {
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("open result: %w", err)
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	validator, controller, err := newValidation(cfg, newLogger(cmd, cfg))
	if err != nil {
		return err
	}

	query, _ := cmd.Flags().GetString("query")
	attempt, _ := cmd.Flags().GetInt("attempt")
	modeFlag, _ := cmd.Flags().GetString("mode")
	description, _ := cmd.Flags().GetString("description")

	mode := controller.SelectMode(attempt, nil)
	if modeFlag != "" {
		if mode, err = adaptive.ParseMode(modeFlag); err != nil {
			return err
		}
	}

	return validateResult(cmd.OutOrStdout(), validator, controller, validateInput{
		tool:        args[0],
		data:        data,
		query:       query,
		description: description,
		mode:        mode,
	})
}

type validateInput struct {
	tool        string
	data        []byte
	query       string
	description string
	mode        adaptive.Mode
}

// validateResult prints the base outcome and the adaptive assessment. It
// returns an error when the base outcome is a failure.
func validateResult(w io.Writer, v *validation.Validator, c *adaptive.Controller, in validateInput) error {
	result, err := validation.Decode(in.tool, in.data)
	if err != nil {
		return err
	}

	outcome := v.Validate(result, validation.Options{OriginalQuery: in.query})
	fmt.Fprintf(w, "Category: %s\n", result.Category())
	fmt.Fprintf(w, "Status: %s\n", outcome.Status)
	fmt.Fprintf(w, "Message: %s\n", outcome.Message)
	if rel := outcome.Relevance; rel != nil {
		fmt.Fprintf(w, "Relevance: %d/%d key terms (%.0f%%)\n", len(rel.Matched), len(rel.Terms), rel.Score*100)
	}

	step := adaptive.Step{Description: in.description, Tool: in.tool}
	a := c.Validate(step, result, in.mode)
	fmt.Fprintf(w, "Mode: %s\n", a.Mode)
	fmt.Fprintf(w, "Score: %.1f\n", a.CompletenessScore)
	fmt.Fprintf(w, "Meets requirements: %t\n", a.MeetsRequirements && outcome.OK())
	fmt.Fprintf(w, "Summary: %s\n", a.Summary)
	if recs := c.RecommendImprovements(a, in.tool); len(recs) > 0 {
		fmt.Fprintln(w, "Recommendations:")
		for _, r := range recs {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}

	if !outcome.OK() {
		return fmt.Errorf("validation failed: %s", strings.TrimSpace(outcome.Message))
	}
	return nil
}

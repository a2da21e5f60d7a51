package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/harrison/taskpilot/internal/executor"
	"github.com/harrison/taskpilot/internal/fallback"
	"github.com/harrison/taskpilot/internal/taskmanager"
	"github.com/harrison/taskpilot/internal/validation"
)

// planPhase is a phase plus the tool outputs recorded for it, one per
// attempt.
type planPhase struct {
	taskmanager.PhaseSpec `yaml:",inline"`
	Outputs               []map[string]any `yaml:"outputs"`
}

type planSection struct {
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Goal        string         `yaml:"goal"`
	Priority    int            `yaml:"priority"`
	Context     map[string]any `yaml:"context"`
	Phases      []planPhase    `yaml:"phases"`
}

// plan is the YAML document accepted by the run command.
type plan struct {
	planSection `yaml:",inline"`
	// Source is the plan source recorded with the fallback monitor: planner
	// (default) or cache.
	Source   string       `yaml:"source"`
	Fallback *planSection `yaml:"fallback"`
}

func loadPlan(path string) (*plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	switch p.Source {
	case "":
		p.Source = fallback.SourcePlanner
	case fallback.SourcePlanner, fallback.SourceCache:
	default:
		return nil, fmt.Errorf("parse plan %s: unknown source %q", path, p.Source)
	}
	return &p, nil
}

// discoverPlans returns path itself, or the YAML plans directly inside it in
// name order when path is a directory. Hidden files are skipped.
func discoverPlans(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read plan directory: %w", err)
	}
	var plans []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml":
			plans = append(plans, filepath.Join(path, name))
		}
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("no plan files in %s", path)
	}
	return plans, nil
}

func (s *planSection) taskSpec() taskmanager.TaskSpec {
	spec := taskmanager.TaskSpec{
		Title:       s.Title,
		Description: s.Description,
		Goal:        s.Goal,
		Priority:    s.Priority,
		Context:     s.Context,
	}
	for _, p := range s.Phases {
		spec.Phases = append(spec.Phases, p.PhaseSpec)
	}
	return spec
}

// replayExecutor feeds recorded outputs to the runner. An output carrying
// an "exec_error" key makes the attempt fail as if the tool had crashed.
type replayExecutor struct {
	mu      sync.Mutex
	outputs map[int][]map[string]any
}

var _ executor.ToolExecutor = (*replayExecutor)(nil)

// newReplayExecutor indexes the recorded outputs of s by phase id. Phase ids
// follow the task manager default of 1..n when none is set.
func newReplayExecutor(s *planSection) *replayExecutor {
	explicit := false
	for _, p := range s.Phases {
		if p.ID != 0 {
			explicit = true
		}
	}
	r := &replayExecutor{outputs: map[int][]map[string]any{}}
	for i, p := range s.Phases {
		id := p.ID
		if !explicit {
			id = i + 1
		}
		r.outputs[id] = append([]map[string]any(nil), p.Outputs...)
	}
	return r
}

func (r *replayExecutor) Execute(ctx context.Context, req executor.StepRequest) (validation.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	queue := r.outputs[req.PhaseID]
	if len(queue) == 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("no recorded output for phase %d attempt %d", req.PhaseID, req.Attempt)
	}
	out := queue[0]
	r.outputs[req.PhaseID] = queue[1:]
	r.mu.Unlock()

	if msg, ok := out["exec_error"].(string); ok {
		return nil, errors.New(msg)
	}
	return validation.FromMap(req.Tool, out)
}

package fallback

import (
	"fmt"
	"sort"
	"time"
)

// Priority orders report recommendations.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	}
	return 2
}

// Recommendation is one advisory item of an improvement report.
type Recommendation struct {
	Priority Priority `json:"priority"`
	Area     string   `json:"area"`
	Message  string   `json:"message"`
}

// ImprovementReport is the advisory output of GenerateImprovementReport.
type ImprovementReport struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	Fallback        FallbackStats    `json:"fallback"`
	Validation      ValidationStats  `json:"validation"`
	Recommendations []Recommendation `json:"recommendations"`
}

const (
	reportWindowHours   = 24
	minToolSample       = 3
	frequentErrorCount  = 3
	lowMeanScore        = 40.0
	highRetryRate       = 0.5
	highToolFailureRate = 0.5
	minimalModeShare    = 0.3
)

// GenerateImprovementReport derives prioritized recommendations from the
// last day of statistics and stores the result as the latest report.
func (m *Monitor) GenerateImprovementReport() ImprovementReport {
	report := ImprovementReport{
		GeneratedAt: m.cfg.Clock(),
		Fallback:    m.GetFallbackStatistics(reportWindowHours),
		Validation:  m.GetValidationStatistics(reportWindowHours),
	}
	report.Recommendations = recommend(report.Fallback, report.Validation, m.cfg.Threshold)

	m.mu.Lock()
	m.report = &report
	m.mu.Unlock()

	if m.cfg.Documents != nil {
		if err := m.cfg.Documents.Save(ReportDocument, report); err != nil {
			m.logger.Errorf("Could not persist improvement report: %v", err)
		}
	}
	return report
}

// LatestReport returns the last generated or loaded report, if any.
func (m *Monitor) LatestReport() (ImprovementReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.report == nil {
		return ImprovementReport{}, false
	}
	return *m.report, true
}

func recommend(fb FallbackStats, vs ValidationStats, threshold float64) []Recommendation {
	var recs []Recommendation
	add := func(p Priority, area, format string, args ...any) {
		recs = append(recs, Recommendation{Priority: p, Area: area, Message: fmt.Sprintf(format, args...)})
	}

	switch fb.AlertLevel {
	case AlertHigh:
		add(PriorityHigh, "planning", "Fallback rate %.0f%% is at least twice the %.0f%% threshold: review planner prompts and tool availability",
			fb.FallbackRate*100, threshold*100)
	case AlertMedium:
		add(PriorityMedium, "planning", "Fallback rate %.0f%% exceeds the %.0f%% threshold", fb.FallbackRate*100, threshold*100)
	case AlertLow:
		add(PriorityLow, "planning", "Fallback rate %.0f%% is approaching the %.0f%% threshold", fb.FallbackRate*100, threshold*100)
	}
	if len(fb.TopErrors) > 0 && fb.TopErrors[0].Count >= frequentErrorCount {
		add(PriorityMedium, "planning", "Most frequent plan failure: %q (%d times)", fb.TopErrors[0].Reason, fb.TopErrors[0].Count)
	}

	switch vs.AlertLevel {
	case AlertHigh:
		add(PriorityHigh, "validation", "Step validation failure rate %.0f%% is at least twice the threshold", vs.FailureRate*100)
	case AlertMedium:
		add(PriorityMedium, "validation", "Step validation failure rate %.0f%% exceeds the threshold", vs.FailureRate*100)
	}
	if vs.Scored > 0 && vs.MeanScore < lowMeanScore {
		add(PriorityMedium, "validation", "Mean completeness score %.1f is low: step outputs lack content, sources or concrete data", vs.MeanScore)
	}
	if vs.RetryRate > highRetryRate {
		add(PriorityMedium, "validation", "%.0f%% of step validations needed a retry", vs.RetryRate*100)
	}

	tools := make([]string, 0, len(vs.ByTool))
	for tool := range vs.ByTool {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		ts := vs.ByTool[tool]
		if ts.Total >= minToolSample && ts.FailureRate >= highToolFailureRate {
			if ts.Scored > 0 {
				add(PriorityMedium, "tools", "Tool %s fails %.0f%% of validations (mean score %.1f)", tool, ts.FailureRate*100, ts.MeanScore)
			} else {
				add(PriorityMedium, "tools", "Tool %s fails %.0f%% of validations", tool, ts.FailureRate*100)
			}
		}
	}

	if vs.Total > 0 && rate(vs.ByMode["minimal"], vs.Total) > minimalModeShare {
		add(PriorityLow, "validation", "%.0f%% of validations only ran in minimal mode: first attempts rarely meet requirements",
			rate(vs.ByMode["minimal"], vs.Total)*100)
	}

	if len(recs) == 0 {
		add(PriorityLow, "general", "No issues detected in the last %d hours", reportWindowHours)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority.rank() < recs[j].Priority.rank() })
	return recs
}

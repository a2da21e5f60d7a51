package fallback

import (
	"sort"
	"time"
)

// AlertLevel grades a rate against the configured threshold.
type AlertLevel string

const (
	AlertNone   AlertLevel = "none"
	AlertLow    AlertLevel = "low"
	AlertMedium AlertLevel = "medium"
	AlertHigh   AlertLevel = "high"
)

// LevelFor maps rate to a level: >= 2x threshold high, >= threshold medium,
// >= half the threshold low.
func LevelFor(rate, threshold float64) AlertLevel {
	switch {
	case rate >= 2*threshold:
		return AlertHigh
	case rate >= threshold:
		return AlertMedium
	case rate >= 0.5*threshold:
		return AlertLow
	}
	return AlertNone
}

// ReasonCount is how often an error reason occurred.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// FallbackStats summarizes plan generation over a window.
type FallbackStats struct {
	WindowHours  int            `json:"window_hours"`
	Total        int            `json:"total"`
	Fallbacks    int            `json:"fallbacks"`
	Successes    int            `json:"successes"`
	FallbackRate float64        `json:"fallback_rate"`
	SuccessRate  float64        `json:"success_rate"`
	MeanAttempts float64        `json:"mean_attempts"`
	BySource     map[string]int `json:"by_source"`
	TopErrors    []ReasonCount  `json:"top_errors,omitempty"`
	AlertLevel   AlertLevel     `json:"alert_level"`
}

// ToolStats summarizes validations of one tool.
type ToolStats struct {
	Total       int     `json:"total"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
	// Scored counts the records MeanScore averages.
	Scored    int     `json:"scored"`
	MeanScore float64 `json:"mean_score"`
}

// ValidationStats summarizes step validations over a window.
type ValidationStats struct {
	WindowHours int                  `json:"window_hours"`
	Total       int                  `json:"total"`
	Successes   int                  `json:"successes"`
	Warnings    int                  `json:"warnings"`
	Failures    int                  `json:"failures"`
	SuccessRate float64              `json:"success_rate"`
	FailureRate float64              `json:"failure_rate"`
	Scored      int                  `json:"scored"`
	MeanScore   float64              `json:"mean_score"`
	RetryRate   float64              `json:"retry_rate"`
	ByTool      map[string]ToolStats `json:"by_tool"`
	ByMode      map[string]int       `json:"by_mode"`
	AlertLevel  AlertLevel           `json:"alert_level"`
}

const topErrorsLimit = 5

// GetFallbackStatistics summarizes plan records from the last hours hours.
// hours <= 0 covers the whole log.
func (m *Monitor) GetFallbackStatistics(hours int) FallbackStats {
	m.mu.Lock()
	records := m.plans.snapshot()
	m.mu.Unlock()

	since := windowStart(m.cfg.Clock(), hours)
	st := FallbackStats{WindowHours: hours, BySource: map[string]int{}, AlertLevel: AlertNone}
	reasons := map[string]int{}
	attempts := 0
	for _, r := range records {
		if r.Timestamp.Before(since) {
			continue
		}
		st.Total++
		st.BySource[r.PlanSource]++
		attempts += r.Attempts
		if r.IsFallback() {
			st.Fallbacks++
		}
		if r.Success {
			st.Successes++
		} else if r.ErrorReason != "" {
			reasons[r.ErrorReason]++
		}
	}
	if st.Total == 0 {
		return st
	}

	st.FallbackRate = rate(st.Fallbacks, st.Total)
	st.SuccessRate = rate(st.Successes, st.Total)
	st.MeanAttempts = float64(attempts) / float64(st.Total)
	st.TopErrors = topReasons(reasons, topErrorsLimit)
	st.AlertLevel = LevelFor(st.FallbackRate, m.cfg.Threshold)
	return st
}

// GetValidationStatistics summarizes validation records from the last hours
// hours. The alert level is derived from the failure rate.
func (m *Monitor) GetValidationStatistics(hours int) ValidationStats {
	m.mu.Lock()
	records := m.validations.snapshot()
	m.mu.Unlock()

	since := windowStart(m.cfg.Clock(), hours)
	st := ValidationStats{
		WindowHours: hours,
		ByTool:      map[string]ToolStats{},
		ByMode:      map[string]int{},
		AlertLevel:  AlertNone,
	}
	scoreSum, retried := 0.0, 0
	toolScores := map[string]float64{}
	for _, r := range records {
		if r.Timestamp.Before(since) {
			continue
		}
		st.Total++
		if r.Scored {
			st.Scored++
			scoreSum += r.Score
		}
		if r.Retried {
			retried++
		}
		if r.Mode != "" {
			st.ByMode[r.Mode]++
		}

		ts := st.ByTool[r.Tool]
		ts.Total++
		if r.Scored {
			ts.Scored++
			toolScores[r.Tool] += r.Score
		}
		switch r.Status {
		case StatusSuccess:
			st.Successes++
		case StatusWarning:
			st.Warnings++
		case StatusFailure:
			st.Failures++
			ts.Failures++
		}
		st.ByTool[r.Tool] = ts
	}
	if st.Total == 0 {
		return st
	}

	for tool, ts := range st.ByTool {
		ts.FailureRate = rate(ts.Failures, ts.Total)
		if ts.Scored > 0 {
			ts.MeanScore = toolScores[tool] / float64(ts.Scored)
		}
		st.ByTool[tool] = ts
	}
	st.SuccessRate = rate(st.Successes, st.Total)
	st.FailureRate = rate(st.Failures, st.Total)
	if st.Scored > 0 {
		st.MeanScore = scoreSum / float64(st.Scored)
	}
	st.RetryRate = rate(retried, st.Total)
	st.AlertLevel = LevelFor(st.FailureRate, m.cfg.Threshold)
	return st
}

func windowStart(now time.Time, hours int) time.Time {
	if hours <= 0 {
		return time.Time{}
	}
	return now.Add(-time.Duration(hours) * time.Hour)
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func topReasons(counts map[string]int, limit int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for r, c := range counts {
		out = append(out, ReasonCount{Reason: r, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

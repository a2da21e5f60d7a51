package fallback

import (
	"fmt"
	"time"
)

// Alert rules.
const (
	RuleConsecutive  = "consecutive_fallbacks"
	RuleHourlyVolume = "hourly_fallback_volume"
)

const (
	consecutiveWindow = 10
	consecutiveLimit  = 5
	hourlyLimit       = 20
)

// checkAlerts evaluates the alert rules against the plan log. Must be
// called with m.mu held.
func (m *Monitor) checkAlerts(now time.Time) []Alert {
	var raised []Alert

	if run := longestFallbackRun(m.plans.tail(consecutiveWindow)); run >= consecutiveLimit {
		raised = m.fire(raised, RuleConsecutive, now,
			fmt.Sprintf("%d consecutive fallback plans in the last %d plan generations", run, consecutiveWindow))
	}

	hourly := 0
	since := now.Add(-time.Hour)
	for _, r := range m.plans.items {
		if r.IsFallback() && !r.Timestamp.Before(since) {
			hourly++
		}
	}
	if hourly >= hourlyLimit {
		raised = m.fire(raised, RuleHourlyVolume, now,
			fmt.Sprintf("%d fallback plans in the last hour", hourly))
	}
	return raised
}

func (m *Monitor) fire(raised []Alert, rule string, now time.Time, msg string) []Alert {
	if last, ok := m.lastFired[rule]; ok && now.Sub(last) < m.cfg.AlertCooldown {
		return raised
	}
	m.lastFired[rule] = now
	a := Alert{Rule: rule, Message: msg, At: now}
	m.alerts.add(a)
	return append(raised, a)
}

func longestFallbackRun(records []PlanRecord) int {
	best, cur := 0, 0
	for _, r := range records {
		if r.IsFallback() {
			cur++
			if cur > best {
				best = cur
			}
			continue
		}
		cur = 0
	}
	return best
}

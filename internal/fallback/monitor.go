// Package fallback observes plan generation and step validation outcomes,
// keeps rolling logs of both, computes fallback-rate statistics and raises
// alerts when the fallback plan is used too often. It never blocks the
// caller on failures of its sinks.
package fallback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harrison/taskpilot/internal/log"
)

// Config configures a Monitor.
type Config struct {
	// Threshold is the fallback rate the alert levels are derived from.
	Threshold            float64
	MaxPlanRecords       int
	MaxValidationRecords int
	// AlertCooldown suppresses repeats of the same alert rule.
	AlertCooldown time.Duration
	// Alerts and Documents are optional sinks.
	Alerts    AlertSink
	Documents DocumentStore
	Logger    log.Logger
	Clock     func() time.Time
}

func (c *Config) defaults() error {
	if c.Threshold == 0 {
		c.Threshold = 0.3
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %v", c.Threshold)
	}
	if c.MaxPlanRecords == 0 {
		c.MaxPlanRecords = 1000
	}
	if c.MaxValidationRecords == 0 {
		c.MaxValidationRecords = 2000
	}
	if c.MaxPlanRecords < 0 || c.MaxValidationRecords < 0 {
		return fmt.Errorf("record caps must be positive")
	}
	if c.AlertCooldown == 0 {
		c.AlertCooldown = 10 * time.Minute
	}
	if c.AlertCooldown < 0 {
		c.AlertCooldown = 0
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "fallback.Monitor"})
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// Monitor is the fallback monitor. Safe for concurrent use.
type Monitor struct {
	cfg    Config
	logger log.Logger

	mu          sync.Mutex
	plans       rolling[PlanRecord]
	validations rolling[ValidationRecord]
	alerts      rolling[Alert]
	lastFired   map[string]time.Time
	report      *ImprovementReport
}

// New returns a Monitor.
func New(cfg Config) (*Monitor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Monitor{
		cfg:         cfg,
		logger:      cfg.Logger,
		plans:       rolling[PlanRecord]{max: cfg.MaxPlanRecords},
		validations: rolling[ValidationRecord]{max: cfg.MaxValidationRecords},
		alerts:      rolling[Alert]{max: 100},
		lastFired:   map[string]time.Time{},
	}, nil
}

// Threshold is the configured fallback-rate threshold.
func (m *Monitor) Threshold() float64 { return m.cfg.Threshold }

// RecordPlanGeneration appends r to the plan log and runs the alert check.
// Missing ids and timestamps are filled in.
func (m *Monitor) RecordPlanGeneration(r PlanRecord) {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = m.cfg.Clock()
	}

	m.mu.Lock()
	m.plans.add(r)
	raised := m.checkAlerts(r.Timestamp)
	m.mu.Unlock()

	if r.IsFallback() {
		m.logger.Warningf("Fallback plan used for task %s (success=%t): %s", r.TaskID, r.Success, r.ErrorReason)
	} else {
		m.logger.Debugf("Plan generated for task %s from %s (success=%t)", r.TaskID, r.PlanSource, r.Success)
	}
	for _, a := range raised {
		m.emit(a)
	}
}

// RecordStepValidation appends r to the validation log.
func (m *Monitor) RecordStepValidation(r ValidationRecord) {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = m.cfg.Clock()
	}

	m.mu.Lock()
	m.validations.add(r)
	m.mu.Unlock()

	m.logger.Debugf("Step validation for task %s phase %d: %s (score %.1f, attempt %d)",
		r.TaskID, r.PhaseID, r.Status, r.Score, r.Attempt)
}

// PlanRecords returns a copy of the plan log, oldest first.
func (m *Monitor) PlanRecords() []PlanRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plans.snapshot()
}

// ValidationRecords returns a copy of the validation log, oldest first.
func (m *Monitor) ValidationRecords() []ValidationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validations.snapshot()
}

// Alerts returns the most recent raised alerts, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts.snapshot()
}

func (m *Monitor) emit(a Alert) {
	m.logger.Errorf("%s", a.String())
	if m.cfg.Alerts == nil {
		return
	}
	if err := m.cfg.Alerts.WriteAlert(a); err != nil {
		m.logger.Errorf("Could not write alert: %v", err)
	}
}

// Flush writes both rolling logs to the document store.
func (m *Monitor) Flush() error {
	if m.cfg.Documents == nil {
		return nil
	}
	plans, validations := m.PlanRecords(), m.ValidationRecords()

	if err := m.cfg.Documents.Save(PlanRecordsDocument, plans); err != nil {
		return fmt.Errorf("flush plan records: %w", err)
	}
	if err := m.cfg.Documents.Save(ValidationRecordsDocument, validations); err != nil {
		return fmt.Errorf("flush validation records: %w", err)
	}
	m.logger.Debugf("Flushed %d plan records and %d validation records", len(plans), len(validations))
	return nil
}

// Load restores both rolling logs from the document store. Missing
// documents leave the corresponding log empty.
func (m *Monitor) Load() error {
	if m.cfg.Documents == nil {
		return nil
	}

	var plans []PlanRecord
	if err := m.cfg.Documents.Load(PlanRecordsDocument, &plans); err != nil && !errors.Is(err, ErrNoDocument) {
		return fmt.Errorf("load plan records: %w", err)
	}
	var validations []ValidationRecord
	if err := m.cfg.Documents.Load(ValidationRecordsDocument, &validations); err != nil && !errors.Is(err, ErrNoDocument) {
		return fmt.Errorf("load validation records: %w", err)
	}
	var report ImprovementReport
	hasReport := true
	if err := m.cfg.Documents.Load(ReportDocument, &report); err != nil {
		if !errors.Is(err, ErrNoDocument) {
			return fmt.Errorf("load improvement report: %w", err)
		}
		hasReport = false
	}

	m.mu.Lock()
	m.plans.replace(plans)
	m.validations.replace(validations)
	if hasReport {
		m.report = &report
	}
	m.mu.Unlock()

	m.logger.Infof("Loaded %d plan records and %d validation records", len(plans), len(validations))
	return nil
}

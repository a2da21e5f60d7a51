package adaptive

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harrison/taskpilot/internal/log"
	"github.com/harrison/taskpilot/internal/validation"
)

// Step describes the phase whose output is being scored.
type Step struct {
	TaskID      string
	PhaseID     int
	Description string
	Tool        string
}

// Assessment is the scored verdict on one step output.
type Assessment struct {
	Mode              Mode
	MeetsRequirements bool
	CompletenessScore float64
	// ShouldContinue is true when the step may advance.
	ShouldContinue bool
	Summary        string
	Reasons        []string
	Signals        Signals
	Research       *ResearchVerdict
}

// Attempt is one entry of the rolling validation history.
type Attempt struct {
	TaskID            string
	PhaseID           int
	Mode              Mode
	CompletenessScore float64
	MeetsRequirements bool
	Reasons           []string
	Timestamp         time.Time
}

// Action is what the caller should do after an attempt.
type Action string

const (
	ActionAdvance  Action = "advance"
	ActionRetry    Action = "retry"
	ActionEscalate Action = "escalate"
)

// Decision is the controller's verdict after a series of attempts.
type Decision struct {
	Action Action
	// NextMode is the mode for the next attempt when Action is retry.
	NextMode Mode
	// Degraded marks an advance that happened because attempts ran out.
	Degraded bool
	Reason   string
}

const (
	escalationWindow    = 3
	escalationThreshold = 15.0
)

// Config configures a Controller.
type Config struct {
	Patterns *Patterns
	// FileSystem verifies created files during scoring. Nil trusts the size
	// reported by the tool.
	FileSystem  validation.FileSystem
	HistorySize int
	MaxAttempts int
	Logger      log.Logger
	Clock       func() time.Time
}

func (c *Config) defaults() error {
	if c.Patterns == nil {
		c.Patterns = DefaultPatterns()
	}
	if c.HistorySize == 0 {
		c.HistorySize = 200
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("history size must be >= 0, got %d", c.HistorySize)
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.MaxAttempts < escalationWindow {
		return fmt.Errorf("max attempts must be >= %d, got %d", escalationWindow, c.MaxAttempts)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "adaptive.Controller"})
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// Controller scores step outputs under graduated validation modes.
type Controller struct {
	patterns    *Patterns
	gate        *ResearchGate
	fs          validation.FileSystem
	maxAttempts int
	logger      log.Logger
	clock       func() time.Time

	mu          sync.Mutex
	history     []Attempt
	historySize int
}

// NewController returns a Controller.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Controller{
		patterns:    cfg.Patterns,
		gate:        NewResearchGate(cfg.Patterns),
		fs:          cfg.FileSystem,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		historySize: cfg.HistorySize,
	}, nil
}

// MaxAttempts is the attempt budget per step.
func (c *Controller) MaxAttempts() int { return c.maxAttempts }

// SelectMode picks the mode for an attempt. See the package level SelectMode.
func (c *Controller) SelectMode(attempt int, previousScores []float64) Mode {
	return SelectMode(attempt, previousScores)
}

// IsResearchStep reports whether the research gate applies to step.
func (c *Controller) IsResearchStep(step Step) bool {
	switch validation.ParseCategory(step.Tool) {
	case validation.CategoryWebSearch, validation.CategoryAnalysis:
		return true
	}
	return matchAny(c.patterns.researchTriggers, step.Description)
}

// Validate scores result under mode. It does not touch the history; callers
// that act on the assessment pass it to Record.
func (c *Controller) Validate(step Step, result validation.ToolResult, mode Mode) Assessment {
	req := mode.Requirements()
	a := Assessment{Mode: mode}

	if result == nil {
		a.Reasons = []string{"la herramienta no devolvió resultado"}
	} else if msg := validation.ErrorOf(result); msg != "" {
		a.Reasons = []string{"error de herramienta: " + msg}
	} else {
		card := c.scorerFor(result.Category())(result, req)
		a.CompletenessScore = card.final()
		a.Signals = card.signals
		a.Reasons = card.reasons
		a.MeetsRequirements = a.CompletenessScore >= req.MinScore &&
			(card.signals.Sources >= req.MinSources || card.signals.ContentLength >= req.MinContentLength)

		if c.IsResearchStep(step) {
			if content := validation.ContentOf(result); strings.TrimSpace(content) != "" {
				v := c.gate.Evaluate(step.Description, content, req.MinScore)
				a.Research = &v
				if !v.Passed {
					a.MeetsRequirements = false
					a.Reasons = append(a.Reasons, v.Reason)
				}
			}
		}
	}

	a.ShouldContinue = a.MeetsRequirements
	a.Summary = summarize(a, req)

	c.logger.Debugf("Validated task %s phase %d in %s mode: score %.1f, meets=%t",
		step.TaskID, step.PhaseID, mode, a.CompletenessScore, a.MeetsRequirements)
	return a
}

func summarize(a Assessment, req Requirements) string {
	verdict := "no cumple los requisitos"
	if a.MeetsRequirements {
		verdict = "cumple los requisitos"
	}
	s := fmt.Sprintf("Modo %s: puntuación %.1f/%.0f, %s", a.Mode, a.CompletenessScore, req.MinScore, verdict)
	if !a.MeetsRequirements && len(a.Reasons) > 0 {
		s += " (" + strings.Join(a.Reasons, "; ") + ")"
	}
	return s
}

// Record appends the assessment to the history as it was finally decided and
// returns the entry.
func (c *Controller) Record(step Step, a Assessment) Attempt {
	at := attemptFrom(step, a, c.clock())
	c.record(at)
	return at
}

func attemptFrom(step Step, a Assessment, at time.Time) Attempt {
	return Attempt{
		TaskID:            step.TaskID,
		PhaseID:           step.PhaseID,
		Mode:              a.Mode,
		CompletenessScore: a.CompletenessScore,
		MeetsRequirements: a.MeetsRequirements,
		Reasons:           a.Reasons,
		Timestamp:         at,
	}
}

// ShouldEscalateToFallback is true only after at least three attempts whose
// last three scores average below 15.
func ShouldEscalateToFallback(attempts []Attempt) bool {
	if len(attempts) < escalationWindow {
		return false
	}
	sum := 0.0
	for _, a := range attempts[len(attempts)-escalationWindow:] {
		sum += a.CompletenessScore
	}
	return sum/escalationWindow < escalationThreshold
}

// ShouldEscalateToFallback applies the package level rule.
func (c *Controller) ShouldEscalateToFallback(attempts []Attempt) bool {
	return ShouldEscalateToFallback(attempts)
}

// Decide turns the attempts made so far on one step into the next action.
func (c *Controller) Decide(attempts []Attempt) Decision {
	n := len(attempts)
	if n == 0 {
		return Decision{Action: ActionRetry, NextMode: SelectMode(1, nil), Reason: "sin intentos previos"}
	}

	last := attempts[n-1]
	switch {
	case last.MeetsRequirements:
		return Decision{Action: ActionAdvance, Reason: fmt.Sprintf("intento %d cumple en modo %s", n, last.Mode)}
	case ShouldEscalateToFallback(attempts):
		return Decision{Action: ActionEscalate, Reason: fmt.Sprintf("puntuación media de los últimos %d intentos por debajo de %.0f", escalationWindow, escalationThreshold)}
	case n >= c.maxAttempts:
		return Decision{Action: ActionAdvance, Degraded: true, Reason: fmt.Sprintf("intentos agotados (%d), se avanza con el mejor resultado disponible", n)}
	}

	scores := make([]float64, n)
	for i, a := range attempts {
		scores[i] = a.CompletenessScore
	}
	next := SelectMode(n+1, scores)
	// A retry never runs stricter than the attempt it follows, including
	// when the caller picked the earlier mode itself.
	if last.Mode != "" && next.Strictness() > last.Mode.Strictness() {
		next = last.Mode
	}
	return Decision{Action: ActionRetry, NextMode: next, Reason: fmt.Sprintf("reintento %d en modo %s", n+1, next)}
}

func (c *Controller) record(a Attempt) {
	if c.historySize == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, a)
	if over := len(c.history) - c.historySize; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}

// History returns a copy of the rolling attempt buffer, oldest first.
func (c *Controller) History() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Attempt(nil), c.history...)
}

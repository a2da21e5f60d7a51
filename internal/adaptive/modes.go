// Package adaptive decides whether a step's output is good enough to advance.
// It picks a validation strictness per retry attempt, scores the output
// against that strictness and escalates to a fallback plan only when even
// the most lenient mode keeps failing badly.
package adaptive

import "fmt"

// Mode is a validation strictness level.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeModerate Mode = "moderate"
	ModeLenient  Mode = "lenient"
	ModeMinimal  Mode = "minimal"
)

// Requirements are the acceptance thresholds of a mode.
type Requirements struct {
	MinContentLength int
	MinSources       int
	MinScore         float64
}

var modeRequirements = map[Mode]Requirements{
	ModeStrict:   {MinContentLength: 500, MinSources: 3, MinScore: 80},
	ModeModerate: {MinContentLength: 200, MinSources: 2, MinScore: 60},
	ModeLenient:  {MinContentLength: 100, MinSources: 1, MinScore: 40},
	ModeMinimal:  {MinContentLength: 50, MinSources: 1, MinScore: 20},
}

// Requirements returns the thresholds of m. Unknown modes get moderate.
func (m Mode) Requirements() Requirements {
	if r, ok := modeRequirements[m]; ok {
		return r
	}
	return modeRequirements[ModeModerate]
}

// Strictness orders modes: higher is stricter.
func (m Mode) Strictness() int {
	switch m {
	case ModeStrict:
		return 3
	case ModeModerate:
		return 2
	case ModeLenient:
		return 1
	default:
		return 0
	}
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := modeRequirements[m]; !ok {
		return "", fmt.Errorf("unknown validation mode %q", s)
	}
	return m, nil
}

// SelectMode picks the mode for a 1-based attempt number. The first attempt
// runs moderate, the second drops to lenient when every earlier score was
// below 40, and the third and later attempts run minimal.
func SelectMode(attempt int, previousScores []float64) Mode {
	switch {
	case attempt <= 1:
		return ModeModerate
	case attempt == 2:
		if len(previousScores) > 0 && maxScore(previousScores) < 40 {
			return ModeLenient
		}
		return ModeModerate
	default:
		return ModeMinimal
	}
}

func maxScore(scores []float64) float64 {
	best := scores[0]
	for _, s := range scores[1:] {
		if s > best {
			best = s
		}
	}
	return best
}

package adaptive

import (
	"fmt"
	"math"
	"strings"
)

// FacetCoverage is how well the output covers one requested facet.
type FacetCoverage struct {
	Name     string
	Weight   float64
	Matches  int
	Coverage float64
}

// ResearchVerdict is the outcome of the research gate.
type ResearchVerdict struct {
	Passed    bool
	Score     float64
	Facets    []FacetCoverage
	Forbidden []string
	Reason    string
}

// ResearchGate checks research output against the topical facets the step
// description asks for, and rejects output that narrates intended work
// instead of reporting findings.
type ResearchGate struct {
	patterns *Patterns
}

// NewResearchGate returns a gate over the given tables.
func NewResearchGate(p *Patterns) *ResearchGate {
	if p == nil {
		p = DefaultPatterns()
	}
	return &ResearchGate{patterns: p}
}

// RequestedFacets returns the facets whose triggers match the description.
func (g *ResearchGate) RequestedFacets(description string) []Facet {
	var out []Facet
	for _, f := range g.patterns.Facets {
		if matchAny(f.triggers, description) {
			out = append(out, f)
		}
	}
	return out
}

// ForbiddenMatches returns the meta-content fragments found in output.
func (g *ResearchGate) ForbiddenMatches(output string) []string {
	var found []string
	for _, re := range g.patterns.forbidden {
		if m := re.FindString(output); m != "" {
			found = append(found, m)
		}
	}
	return found
}

// Evaluate scores output for a step description. minScore is the coverage
// required to pass, on the 0-100 scale.
func (g *ResearchGate) Evaluate(description, output string, minScore float64) ResearchVerdict {
	v := ResearchVerdict{Score: 100}

	facets := g.RequestedFacets(description)
	if len(facets) > 0 {
		var total, covered float64
		for _, f := range facets {
			matches := 0
			for _, re := range f.evidence {
				if re.MatchString(output) {
					matches++
				}
			}
			cov := math.Min(float64(matches)/float64(g.patterns.FacetSaturation), 1)
			v.Facets = append(v.Facets, FacetCoverage{Name: f.Name, Weight: f.Weight, Matches: matches, Coverage: cov})
			total += f.Weight
			covered += f.Weight * cov
		}
		v.Score = math.Round(covered/total*1000) / 10
	}

	v.Forbidden = g.ForbiddenMatches(output)
	switch {
	case len(v.Forbidden) > 0:
		v.Reason = fmt.Sprintf("el resultado describe lo que se hará en lugar de hallazgos: %q", v.Forbidden[0])
	case v.Score < minScore:
		v.Reason = fmt.Sprintf("cobertura de temas insuficiente: %.0f%% (mínimo %.0f%%), faltan: %s",
			v.Score, minScore, strings.Join(v.missing(), ", "))
	default:
		v.Passed = true
	}
	return v
}

func (v ResearchVerdict) missing() []string {
	var out []string
	for _, f := range v.Facets {
		if f.Coverage < 1 {
			out = append(out, f.Name)
		}
	}
	return out
}

package adaptive

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// Indicator is a weighted "real data" pattern.
type Indicator struct {
	Name    string  `yaml:"name"`
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`

	re *regexp.Regexp
}

// Facet is a research topic a step description can ask for.
type Facet struct {
	Name     string   `yaml:"name"`
	Weight   float64  `yaml:"weight"`
	Triggers []string `yaml:"triggers"`
	Evidence []string `yaml:"evidence"`

	triggers []*regexp.Regexp
	evidence []*regexp.Regexp
}

// Patterns are the data tables used by the scorers and the research gate.
type Patterns struct {
	ResearchTriggers     []string    `yaml:"research_triggers"`
	Indicators           []Indicator `yaml:"indicators"`
	IndicatorCap         float64     `yaml:"indicator_cap"`
	Boilerplate          []string    `yaml:"boilerplate"`
	BoilerplateAllowance int         `yaml:"boilerplate_allowance"`
	BoilerplatePenalty   float64     `yaml:"boilerplate_penalty"`
	MaxPenalty           float64     `yaml:"max_penalty"`
	Facets               []Facet     `yaml:"facets"`
	FacetSaturation      int         `yaml:"facet_saturation"`
	ForbiddenMeta        []string    `yaml:"forbidden_meta"`

	researchTriggers []*regexp.Regexp
	boilerplate      []*regexp.Regexp
	forbidden        []*regexp.Regexp
}

// DefaultPatterns returns the embedded pattern tables.
func DefaultPatterns() *Patterns {
	p, err := ParsePatterns(defaultPatternsYAML)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded adaptive patterns: %v", err))
	}
	return p
}

// LoadPatterns reads pattern tables from a YAML file.
func LoadPatterns(path string) (*Patterns, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}
	return ParsePatterns(data)
}

// ParsePatterns decodes and compiles pattern tables.
func ParsePatterns(data []byte) (*Patterns, error) {
	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse patterns: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Patterns) compile() error {
	var err error
	if p.researchTriggers, err = compileAll("research_triggers", p.ResearchTriggers); err != nil {
		return err
	}
	if p.boilerplate, err = compileAll("boilerplate", p.Boilerplate); err != nil {
		return err
	}
	if p.forbidden, err = compileAll("forbidden_meta", p.ForbiddenMeta); err != nil {
		return err
	}
	for i := range p.Indicators {
		ind := &p.Indicators[i]
		if ind.re, err = regexp.Compile(ind.Pattern); err != nil {
			return fmt.Errorf("indicator %q: %w", ind.Name, err)
		}
	}
	for i := range p.Facets {
		f := &p.Facets[i]
		if f.Weight <= 0 {
			return fmt.Errorf("facet %q: weight must be > 0", f.Name)
		}
		if f.triggers, err = compileAll("facet "+f.Name+" triggers", f.Triggers); err != nil {
			return err
		}
		if f.evidence, err = compileAll("facet "+f.Name+" evidence", f.Evidence); err != nil {
			return err
		}
	}
	if p.FacetSaturation <= 0 {
		p.FacetSaturation = 1
	}
	return nil
}

func compileAll(table string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, s := range patterns {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("%s pattern %q: %w", table, s, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

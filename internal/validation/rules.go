package validation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Thresholds holds the numeric limits used by the validators.
type Thresholds struct {
	MinSearchContent          int     `yaml:"min_search_content"`
	MinFileSize               int64   `yaml:"min_file_size"`
	MinAnalysisContent        int     `yaml:"min_analysis_content"`
	StructuredAnalysisContent int     `yaml:"structured_analysis_content"`
	MaxGenericErrors          int     `yaml:"max_generic_errors"`
	MaxKeyTerms               int     `yaml:"max_key_terms"`
	RelevanceFailure          float64 `yaml:"relevance_failure"`
	RelevanceWarning          float64 `yaml:"relevance_warning"`
}

// TextRule configures the planning/delivery/generic validators.
type TextRule struct {
	Label       string   `yaml:"label"`
	MinLength   int      `yaml:"min_length"`
	MinKeywords int      `yaml:"min_keywords"`
	Keywords    []string `yaml:"keywords"`
}

// Rules are the data tables driving every validator.
type Rules struct {
	Thresholds          Thresholds            `yaml:"thresholds"`
	StopWords           []string              `yaml:"stop_words"`
	DomainTerms         []string              `yaml:"domain_terms"`
	GenericErrorPhrases []string              `yaml:"generic_error_phrases"`
	Placeholders        []string              `yaml:"placeholders"`
	TextCategories      map[Category]TextRule `yaml:"text_categories"`

	stopWords   map[string]bool
	domainTerms map[string]bool
	placeholder map[string]bool
}

// DefaultRules returns the embedded rule tables.
func DefaultRules() *Rules {
	r, err := parseRules(defaultRulesYAML, nil)
	if err != nil {
		// The embedded document is part of the binary.
		panic(fmt.Sprintf("invalid embedded validation rules: %v", err))
	}
	return r
}

// LoadRules reads a YAML rules file and layers it over the defaults.
// Lists and categories present in the file replace the default ones.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return parseRules(data, DefaultRules())
}

func parseRules(data []byte, base *Rules) (*Rules, error) {
	r := &Rules{}
	if base != nil {
		*r = *base
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.index()
	return r, nil
}

// Validate checks the thresholds are usable.
func (r *Rules) Validate() error {
	t := r.Thresholds
	if t.MaxKeyTerms <= 0 {
		return fmt.Errorf("thresholds.max_key_terms must be > 0, got %d", t.MaxKeyTerms)
	}
	if t.RelevanceFailure < 0 || t.RelevanceWarning > 1 || t.RelevanceFailure > t.RelevanceWarning {
		return fmt.Errorf("relevance thresholds must satisfy 0 <= failure (%.2f) <= warning (%.2f) <= 1",
			t.RelevanceFailure, t.RelevanceWarning)
	}
	if _, ok := r.TextCategories[CategoryGeneric]; !ok {
		return fmt.Errorf("text_categories.generic is required")
	}
	return nil
}

func (r *Rules) index() {
	r.stopWords = toSet(r.StopWords)
	r.domainTerms = toSet(r.DomainTerms)
	r.placeholder = make(map[string]bool, len(r.Placeholders))
	for _, p := range r.Placeholders {
		r.placeholder[normalizePlaceholder(p)] = true
	}
}

func (r *Rules) textRule(c Category) TextRule {
	if rule, ok := r.TextCategories[c]; ok {
		return rule
	}
	return r.TextCategories[CategoryGeneric]
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = true
	}
	return set
}

func normalizePlaceholder(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!… ")
}

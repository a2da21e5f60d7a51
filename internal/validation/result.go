package validation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category identifies the kind of tool that produced a result.
type Category string

const (
	CategoryWebSearch Category = "web_search"
	CategoryCreation  Category = "creation"
	CategoryAnalysis  Category = "analysis"
	CategoryPlanning  Category = "planning"
	CategoryDelivery  Category = "delivery"
	CategoryGeneric   Category = "generic"
)

var categoryAliases = map[string]Category{
	"web_search":    CategoryWebSearch,
	"websearch":     CategoryWebSearch,
	"search":        CategoryWebSearch,
	"web":           CategoryWebSearch,
	"creation":      CategoryCreation,
	"file_creation": CategoryCreation,
	"create_file":   CategoryCreation,
	"analysis":      CategoryAnalysis,
	"analyze":       CategoryAnalysis,
	"planning":      CategoryPlanning,
	"plan":          CategoryPlanning,
	"delivery":      CategoryDelivery,
	"deliver":       CategoryDelivery,
	"generic":       CategoryGeneric,
}

// ParseCategory maps a tool name to its category. Unknown tools are generic.
func ParseCategory(tool string) Category {
	if c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(tool))]; ok {
		return c
	}
	return CategoryGeneric
}

// ToolResult is the raw output of one tool invocation. The concrete types
// below are the only implementations.
type ToolResult interface {
	Category() Category
	isToolResult()
}

// SearchHit is a single web search result entry.
type SearchHit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearchResult is the output of a web_search tool.
type WebSearchResult struct {
	Success bool        `json:"success"`
	Results []SearchHit `json:"results,omitempty"`
	Count   int         `json:"count"`
	Content string      `json:"content,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (WebSearchResult) Category() Category { return CategoryWebSearch }
func (WebSearchResult) isToolResult()      {}

// ResultCount is the larger of the reported count and the listed results.
func (r WebSearchResult) ResultCount() int {
	if len(r.Results) > r.Count {
		return len(r.Results)
	}
	return r.Count
}

// ValidHits returns the results that carry both a title and a link.
func (r WebSearchResult) ValidHits() []SearchHit {
	var hits []SearchHit
	for _, h := range r.Results {
		if strings.TrimSpace(h.Title) != "" && strings.TrimSpace(h.Link) != "" {
			hits = append(hits, h)
		}
	}
	return hits
}

// CollectedText joins content, titles and snippets.
func (r WebSearchResult) CollectedText() string {
	var sb strings.Builder
	sb.WriteString(r.Content)
	for _, h := range r.Results {
		sb.WriteString("\n")
		sb.WriteString(h.Title)
		if h.Snippet != "" {
			sb.WriteString("\n")
			sb.WriteString(h.Snippet)
		}
	}
	return sb.String()
}

// CreationResult is the output of a file creation tool.
type CreationResult struct {
	Success     bool   `json:"success"`
	FileCreated bool   `json:"file_created"`
	FilePath    string `json:"file_path,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (CreationResult) Category() Category { return CategoryCreation }
func (CreationResult) isToolResult()      {}

// AnalysisResult is the output of an analysis tool.
type AnalysisResult struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

func (AnalysisResult) Category() Category { return CategoryAnalysis }
func (AnalysisResult) isToolResult()      {}

// TextResult is the output of planning, delivery and any other text tool.
type TextResult struct {
	Kind    Category `json:"-"`
	Success bool     `json:"success"`
	Content string   `json:"content"`
	Error   string   `json:"error,omitempty"`
}

func (r TextResult) Category() Category {
	switch r.Kind {
	case CategoryPlanning, CategoryDelivery:
		return r.Kind
	}
	return CategoryGeneric
}
func (TextResult) isToolResult() {}

// ContentOf returns the free text carried by a result, if any.
func ContentOf(r ToolResult) string {
	switch v := r.(type) {
	case WebSearchResult:
		return v.CollectedText()
	case AnalysisResult:
		return v.Content
	case TextResult:
		return v.Content
	}
	return ""
}

// ErrorOf returns the explicit error reported by the tool, if any.
func ErrorOf(r ToolResult) string {
	switch v := r.(type) {
	case WebSearchResult:
		return v.Error
	case CreationResult:
		return v.Error
	case AnalysisResult:
		return v.Error
	case TextResult:
		return v.Error
	}
	return ""
}

// Decode builds a ToolResult from the JSON document a tool returned.
func Decode(tool string, data []byte) (ToolResult, error) {
	category := ParseCategory(tool)
	switch category {
	case CategoryWebSearch:
		var r WebSearchResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", category, err)
		}
		return r, nil
	case CategoryCreation:
		var r CreationResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", category, err)
		}
		return r, nil
	case CategoryAnalysis:
		var r AnalysisResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", category, err)
		}
		return r, nil
	default:
		var r TextResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", category, err)
		}
		r.Kind = category
		return r, nil
	}
}

// FromMap builds a ToolResult from an already decoded document.
func FromMap(tool string, m map[string]any) (ToolResult, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return Decode(tool, data)
}

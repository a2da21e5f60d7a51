// Package validation maps raw tool results to a success, warning or failure
// outcome. Validators are pure apart from the optional filesystem check used
// for created files.
package validation

import (
	"fmt"
	"io/fs"
	"os"
)

// Status is the outcome class of a validated step.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusFailure Status = "failure"
)

// Outcome is the result of validating one tool result.
type Outcome struct {
	Status  Status
	Message string
	// Relevance is set when a relevance check ran.
	Relevance *Relevance
}

// OK reports whether the step may advance without retry.
func (o Outcome) OK() bool {
	return o.Status != StatusFailure
}

func success(format string, args ...any) Outcome {
	return Outcome{Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

func warning(format string, args ...any) Outcome {
	return Outcome{Status: StatusWarning, Message: fmt.Sprintf(format, args...)}
}

func failure(format string, args ...any) Outcome {
	return Outcome{Status: StatusFailure, Message: fmt.Sprintf(format, args...)}
}

// Options carry per-call context for a validation.
type Options struct {
	// OriginalQuery enables the relevance check for web search results.
	OriginalQuery string
}

// FileSystem is the existence/size check used by the creation validator.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
}

// OSFileSystem checks files on the local disk.
type OSFileSystem struct{}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// Config configures a Validator.
type Config struct {
	Rules *Rules
	// FileSystem verifies created files. Nil skips the on-disk check and trusts
	// the size reported by the tool.
	FileSystem FileSystem
}

func (c *Config) defaults() {
	if c.Rules == nil {
		c.Rules = DefaultRules()
	}
}

// Validator dispatches tool results to the validator of their category.
type Validator struct {
	rules *Rules
	fs    FileSystem
}

// New returns a Validator. The zero Config uses the embedded rules and skips
// filesystem checks.
func New(cfg Config) *Validator {
	cfg.defaults()
	return &Validator{rules: cfg.Rules, fs: cfg.FileSystem}
}

// Rules returns the tables the validator was built with.
func (v *Validator) Rules() *Rules { return v.rules }

// Validate computes the base outcome for a tool result.
func (v *Validator) Validate(result ToolResult, opts Options) Outcome {
	switch r := result.(type) {
	case WebSearchResult:
		return v.validateWebSearch(r, opts)
	case CreationResult:
		return v.validateCreation(r)
	case AnalysisResult:
		return v.validateAnalysis(r)
	case TextResult:
		return v.validateText(r)
	case nil:
		return failure("Resultado vacío: la herramienta no devolvió datos")
	default:
		return failure("Tipo de resultado no soportado: %T", result)
	}
}

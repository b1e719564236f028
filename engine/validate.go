package engine

import (
	"log/slog"
	"strings"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/controller/query"
	"github.com/c360/watchpost/pipeline"
)

// Issue types.
const (
	IssuePipeline    = "pipeline"
	IssueQuery       = "query"
	IssuePlaceholder = "placeholder"
)

// ValidationIssue describes one problem found while building the engine.
type ValidationIssue struct {
	Type     string `json:"type"`
	Pipeline string `json:"pipeline,omitempty"`
	Message  string `json:"message"`
}

// ValidationResult collects the issues found while building the engine.
// Errors disabled a pipeline; warnings did not.
type ValidationResult struct {
	Status   string            `json:"validation_status"` // "valid", "warnings", "errors"
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

func (r *ValidationResult) addError(issue ValidationIssue) {
	r.Errors = append(r.Errors, issue)
}

func (r *ValidationResult) addWarning(issue ValidationIssue) {
	r.Warnings = append(r.Warnings, issue)
}

func (r *ValidationResult) finish() {
	switch {
	case len(r.Errors) > 0:
		r.Status = "errors"
	case len(r.Warnings) > 0:
		r.Status = "warnings"
	default:
		r.Status = "valid"
	}
	if r.Errors == nil {
		r.Errors = []ValidationIssue{}
	}
	if r.Warnings == nil {
		r.Warnings = []ValidationIssue{}
	}
}

// bindDomains gives stages that accept any domain the domain of the
// pipeline's source.
func bindDomains(p *pipeline.Pipeline) {
	if p.Source == nil {
		return
	}
	for _, st := range p.Stages {
		b, ok := st.(component.DomainBinder)
		if ok && st.Domain() == "" {
			b.BindDomain(p.Source.Domain())
		}
	}
}

// validatePipelines returns the pipelines that can run and records an error
// for every one that cannot.
func validatePipelines(all []*pipeline.Pipeline, result *ValidationResult, logger *slog.Logger) []*pipeline.Pipeline {
	valid := make([]*pipeline.Pipeline, 0, len(all))
	for _, p := range all {
		bindDomains(p)
		if err := p.Validate(); err != nil {
			result.addError(ValidationIssue{Type: IssuePipeline, Pipeline: p.Name, Message: err.Error()})
			logger.Error("Pipeline disabled", "pipeline", p.Name, "error", err)
			continue
		}
		valid = append(valid, p)
	}
	return valid
}

// validateQuery checks that the template parses and that its placeholders
// name running pipelines. Neither problem is fatal: a malformed query
// evaluates to false on every tick and an unknown placeholder is always
// false.
func validateQuery(template string, valid []*pipeline.Pipeline, result *ValidationResult, logger *slog.Logger) {
	if err := query.Validate(template); err != nil {
		result.addWarning(ValidationIssue{Type: IssueQuery, Message: err.Error()})
		logger.Warn("Query does not parse, it will never be satisfied", "query", template, "error", err)
	}

	known := make(map[string]bool, len(valid))
	for _, p := range valid {
		known[strings.ToUpper(p.Name)] = true
	}
	var unknown []string
	for _, name := range query.Placeholders(template) {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	for _, name := range unknown {
		result.addWarning(ValidationIssue{
			Type:    IssuePlaceholder,
			Message: "placeholder @" + name + "@ matches no running pipeline and is always false",
		})
		logger.Warn("Query placeholder matches no running pipeline", "placeholder", name)
	}
}

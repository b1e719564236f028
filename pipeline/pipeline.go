// Package pipeline runs a source's samples through an ordered chain of
// stages and emits an alert event when the chain completes.
package pipeline

import (
	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
)

// Pipeline is an ordered stage chain bound to one source.
type Pipeline struct {
	Name   string
	Source component.Source
	Stages []component.Stage
	// Zone optionally ties the pipeline to an arm switch held by the
	// controller.
	Zone string
	// SkipStale makes the worker wait for a sample it has not processed yet
	// instead of re-running the chain on the current one.
	SkipStale bool
}

// Validate checks that the pipeline can run: it has a name, a source, at
// least one stage, and every stage accepts the source's domain.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return errors.Validation(errors.ErrMissingConfig, "Pipeline", "Validate", "pipeline name")
	}
	if p.Source == nil {
		return errors.Validation(errors.ErrNoSourceBinding, "Pipeline", "Validate", "pipeline %q", p.Name)
	}
	if len(p.Stages) == 0 {
		return errors.Validation(errors.ErrNoStages, "Pipeline", "Validate", "pipeline %q", p.Name)
	}

	want := p.Source.Domain()
	for i, stage := range p.Stages {
		if stage == nil {
			return errors.Validation(errors.ErrMissingConfig, "Pipeline", "Validate",
				"pipeline %q stage %d is nil", p.Name, i)
		}
		if got := stage.Domain(); got != want {
			return errors.Validation(errors.ErrDomainMismatch, "Pipeline", "Validate",
				"pipeline %q stage %d (%s) is %s, source %s is %s",
				p.Name, i, stage.Name(), got, p.Source.Name(), want)
		}
	}
	return nil
}

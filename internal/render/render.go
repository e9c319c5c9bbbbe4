// Package render turns a report's aggregated analysis into HTML and
// PDF artifacts. Engines are tried in order, first success wins;
// rendering failure of every engine against valid aggregated data is a
// structural defect and is not retried.
package render

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/costlens/advisor/internal/aggregate"
	"github.com/costlens/advisor/internal/models"
)

// Input is everything an engine needs to lay out a report.
type Input struct {
	Report   models.Report
	Analysis aggregate.Analysis
}

// Renderer produces one artifact from a report's data.
type Renderer interface {
	Name() string
	Render(ctx context.Context, in Input) ([]byte, error)
}

// Dispatcher tries an ordered chain of renderers.
type Dispatcher struct {
	renderers []Renderer
}

func NewDispatcher(renderers ...Renderer) *Dispatcher {
	return &Dispatcher{renderers: renderers}
}

// Render returns the first successful engine's output and its name.
// When every engine fails, the joined failure is returned.
func (d *Dispatcher) Render(ctx context.Context, in Input) ([]byte, string, error) {
	if len(d.renderers) == 0 {
		return nil, "", errors.New("no renderers configured")
	}
	var errs []error
	for _, r := range d.renderers {
		out, err := r.Render(ctx, in)
		if err == nil {
			return out, r.Name(), nil
		}
		log.Printf("[render] engine %s failed: %v", r.Name(), err)
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
	}
	return nil, "", fmt.Errorf("all render engines failed: %w", errors.Join(errs...))
}

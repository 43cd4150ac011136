package model

import (
	"context"
	"errors"
	"fmt"
)

// RunContext identifies one bootstrap run and the archive currently being
// processed. It is carried through the pipeline so that every log line and
// span of a run can be correlated.
type RunContext struct {
	RunID      string
	Deployment string
	Archive    string
	TraceID    string
}

// Validate checks that all mandatory fields are present.
// RunID and Deployment must be non-empty.
func (rc *RunContext) Validate() error {
	var errs []error
	if rc.RunID == "" {
		errs = append(errs, fmt.Errorf("RunID is required"))
	}
	if rc.Deployment == "" {
		errs = append(errs, fmt.Errorf("Deployment is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ForArchive returns a copy of the run context scoped to one archive.
func (rc *RunContext) ForArchive(name string) *RunContext {
	cp := *rc
	cp.Archive = name
	return &cp
}

type contextKey struct{}

// WithRunContext attaches a RunContext to the given context.
func WithRunContext(ctx context.Context, rctx *RunContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RunContextFrom extracts the RunContext from the context, or returns nil
// if not present.
func RunContextFrom(ctx context.Context) *RunContext {
	rctx, _ := ctx.Value(contextKey{}).(*RunContext)
	return rctx
}

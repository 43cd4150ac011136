package archive

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldform/internal/observability"
	"github.com/pitabwire/fieldform/model"
)

// Entry suffixes routed by the Router.
const (
	ResourceSuffix   = ".sqlite.zip"
	DefinitionSuffix = ".xml"
)

// Entry kinds reported to an EntryObserver.
const (
	KindResource   = "resource"
	KindDefinition = "definition"
	KindSkipped    = "skipped"
)

// ResourceExtractor unpacks a nested resource bundle.
type ResourceExtractor interface {
	Extract(ctx context.Context, e Entry) error
}

// DefinitionInstaller installs a form definition entry. It returns
// model.ErrWrongDeployment for definitions of another instance.
type DefinitionInstaller interface {
	Install(ctx context.Context, e Entry) error
}

// EntryObserver is notified of every routed entry.
type EntryObserver interface {
	EntryProcessed(kind string, result model.ProcessingResult)
}

// Router processes the entries of one archive in order and stops at the
// first entry that fails.
type Router struct {
	resources   ResourceExtractor
	definitions DefinitionInstaller
	logger      *zap.Logger
	observer    EntryObserver
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router logger.
func WithRouterLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEntryObserver registers an observer of routed entries.
func WithEntryObserver(o EntryObserver) RouterOption {
	return func(r *Router) { r.observer = o }
}

// NewRouter creates a Router.
func NewRouter(resources ResourceExtractor, definitions DefinitionInstaller, opts ...RouterOption) *Router {
	r := &Router{
		resources:   resources,
		definitions: definitions,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessArchive routes every entry of a. Resource bundles are extracted,
// definitions installed and anything else skipped. A failing entry stops the
// archive; entries already handled stay applied.
func (r *Router) ProcessArchive(ctx context.Context, a Archive) model.ProcessingResult {
	logger := observability.LoggerFrom(ctx, r.logger).With(zap.String("archive", a.Name()))

	for _, e := range a.Entries() {
		name := e.Name()
		if e.IsDir() || isHidden(name) {
			continue
		}

		entryLog := logger.With(zap.String("entry", name))
		entryCtx, span := observability.StartSpan(ctx, observability.SpanEntry)
		kind, err := r.route(entryCtx, e)
		result := model.ResultFromError(err)
		span.SetAttributes(observability.AttrEntryKind.String(kind))
		observability.EndSpanWithResult(span, result, err)
		r.observe(kind, result)

		if err != nil {
			entryLog.Error("archive entry failed",
				zap.String("kind", kind),
				zap.String("result", result.String()),
				zap.Error(err),
			)
			return result
		}
		if kind != KindSkipped {
			entryLog.Debug("archive entry processed", zap.String("kind", kind))
		}
	}

	return model.ResultSuccess
}

func (r *Router) route(ctx context.Context, e Entry) (string, error) {
	name := e.Name()
	switch {
	case strings.HasSuffix(name, ResourceSuffix):
		if err := r.resources.Extract(ctx, e); err != nil {
			return KindResource, model.NewRecoverableError("extracting resource bundle", err)
		}
		return KindResource, nil
	case strings.HasSuffix(name, DefinitionSuffix):
		return KindDefinition, r.definitions.Install(ctx, e)
	default:
		return KindSkipped, nil
	}
}

func (r *Router) observe(kind string, result model.ProcessingResult) {
	if r.observer != nil {
		r.observer.EntryProcessed(kind, result)
	}
}

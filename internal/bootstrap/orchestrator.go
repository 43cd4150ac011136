// Package bootstrap discovers archives dropped on the device and installs
// them one at a time through a single form store session.
package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldform/internal/archive"
	"github.com/pitabwire/fieldform/internal/observability"
	"github.com/pitabwire/fieldform/internal/store"
	"github.com/pitabwire/fieldform/model"
)

// DefaultLeaseTTL bounds how long a run may hold the run guard.
const DefaultLeaseTTL = 10 * time.Minute

// ArchiveProcessor processes the entries of one archive.
type ArchiveProcessor interface {
	ProcessArchive(ctx context.Context, a archive.Archive) model.ProcessingResult
}

// RunObserver is notified of archive and run outcomes.
type RunObserver interface {
	ArchiveProcessed(result model.ProcessingResult)
	RunCompleted(result model.ProcessingResult, elapsed time.Duration)
}

// Orchestrator runs one bootstrap pass over the drop directory.
type Orchestrator struct {
	dropDir    string
	deployment string
	store      store.FormStore
	processor  ArchiveProcessor

	guard         RunGuard
	leaseTTL      time.Duration
	markProcessed bool
	observer      RunObserver
	logger        *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunGuard serialises runs through guard.
func WithRunGuard(guard RunGuard, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.guard = guard
		if ttl > 0 {
			o.leaseTTL = ttl
		}
	}
}

// WithMarkProcessed renames each archive after processing with
// ProcessedSuffix or ErrorSuffix.
func WithMarkProcessed(enabled bool) Option {
	return func(o *Orchestrator) { o.markProcessed = enabled }
}

// WithRunObserver registers an observer of run outcomes.
func WithRunObserver(obs RunObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(dropDir, deployment string, fs store.FormStore, processor ArchiveProcessor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dropDir:    dropDir,
		deployment: deployment,
		store:      fs,
		processor:  processor,
		leaseTTL:   DefaultLeaseTTL,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes every archive in the drop directory in sorted order and stops
// at the first one that does not succeed. Without archives it succeeds
// without opening the store. Cancellation is honoured between archives.
func (o *Orchestrator) Run(ctx context.Context) (result model.ProcessingResult) {
	rc := &model.RunContext{RunID: uuid.NewString(), Deployment: o.deployment}
	ctx, span := observability.StartSpan(ctx, observability.SpanRun,
		observability.AttrRunID.String(rc.RunID),
		observability.AttrDeployment.String(rc.Deployment),
	)
	rc.TraceID = observability.TraceIDFromContext(ctx)
	ctx = model.WithRunContext(ctx, rc)
	logger := observability.RunLogger(ctx, o.logger)
	ctx = observability.WithLogger(ctx, logger)

	start := time.Now()
	defer func() {
		observability.EndSpanWithResult(span, result, nil)
		if o.observer != nil {
			o.observer.RunCompleted(result, time.Since(start))
		}
	}()

	archives, err := ListArchives(o.dropDir)
	if err != nil {
		logger.Error("listing archives failed", zap.Error(err))
		return model.ResultRecoverableError
	}
	if len(archives) == 0 {
		logger.Debug("no archives to process", zap.String("dir", o.dropDir))
		return model.ResultSuccess
	}

	if o.guard != nil {
		ok, err := o.guard.Acquire(ctx, rc.RunID, o.leaseTTL)
		if err != nil {
			logger.Error("acquiring run guard failed", zap.Error(err))
			return model.ResultRecoverableError
		}
		if !ok {
			logger.Warn("another bootstrap run holds the guard")
			return model.ResultRecoverableError
		}
		defer func() {
			if err := o.guard.Release(context.WithoutCancel(ctx), rc.RunID); err != nil {
				logger.Warn("releasing run guard failed", zap.Error(err))
			}
		}()
	}

	if err := o.store.Open(ctx); err != nil {
		logger.Error("opening form store failed", zap.Error(err))
		return model.ResultRecoverableError
	}
	defer func() {
		if err := o.store.Close(); err != nil {
			logger.Warn("closing form store failed", zap.Error(err))
		}
	}()

	logger.Info("bootstrap started", zap.Int("archives", len(archives)))
	result = o.processAll(ctx, logger, archives)
	logger.Info("bootstrap finished", zap.String("result", result.String()))
	return result
}

func (o *Orchestrator) processAll(ctx context.Context, logger *zap.Logger, archives []string) (result model.ProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bootstrap panicked", zap.Any("panic", r), zap.Stack("stack"))
			result = model.ResultRecoverableError
		}
	}()

	for _, path := range archives {
		if err := ctx.Err(); err != nil {
			logger.Warn("bootstrap cancelled", zap.Error(err))
			return model.ResultRecoverableError
		}
		if res := o.processArchive(ctx, logger, path); res != model.ResultSuccess {
			return res
		}
	}
	return model.ResultSuccess
}

func (o *Orchestrator) processArchive(ctx context.Context, logger *zap.Logger, path string) (result model.ProcessingResult) {
	name := filepath.Base(path)
	ctx, span := observability.StartSpan(ctx, observability.SpanArchive, observability.AttrArchive.String(name))
	result = model.ResultRecoverableError
	defer func() { observability.EndSpanWithResult(span, result, nil) }()

	if rc := model.RunContextFrom(ctx); rc != nil {
		ctx = model.WithRunContext(ctx, rc.ForArchive(name))
	}
	logger = logger.With(zap.String("archive", name))

	result = o.openAndProcess(ctx, logger, path)
	if o.observer != nil {
		o.observer.ArchiveProcessed(result)
	}
	if o.markProcessed {
		o.mark(logger, path, result)
	}
	return result
}

func (o *Orchestrator) openAndProcess(ctx context.Context, logger *zap.Logger, path string) model.ProcessingResult {
	a, err := archive.OpenZip(path)
	if err != nil {
		logger.Error("opening archive failed", zap.Error(err))
		return model.ResultRecoverableError
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing archive failed", zap.Error(err))
		}
	}()

	return o.processor.ProcessArchive(ctx, a)
}

func (o *Orchestrator) mark(logger *zap.Logger, path string, result model.ProcessingResult) {
	suffix := ProcessedSuffix
	if result != model.ResultSuccess {
		suffix = ErrorSuffix
	}
	if err := os.Rename(path, path+suffix); err != nil {
		logger.Warn("renaming archive failed", zap.Error(err))
	}
}

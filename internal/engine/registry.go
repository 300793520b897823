package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kestrelwatch/kestrel/internal/models"
)

// HandlerFactory builds a handler for one detector.
type HandlerFactory[T any] func(ctx context.Context, detector *models.Detector) (Handler[T], error)

// Registry resolves handlers by detector type and caches one handler
// instance per detector id. A detector whose type has no registered
// factory, or whose factory fails, resolves to nil and is skipped by the
// processor.
type Registry[T any] struct {
	mu        sync.Mutex
	factories map[string]HandlerFactory[T]
	handlers  map[string]Handler[T]
	logger    *slog.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry[T any](logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[T]{
		factories: make(map[string]HandlerFactory[T]),
		handlers:  make(map[string]Handler[T]),
		logger:    logger.With(slog.String("component", "handler-registry")),
	}
}

// Register installs a factory for a detector type.
func (r *Registry[T]) Register(detectorType string, factory HandlerFactory[T]) {
	r.mu.Lock()
	r.factories[detectorType] = factory
	r.mu.Unlock()
}

// Resolve returns the cached handler for a detector, constructing it on
// first use. Unknown detector types resolve to nil.
func (r *Registry[T]) Resolve(ctx context.Context, detector *models.Detector) Handler[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handler, ok := r.handlers[detector.ID]; ok {
		return handler
	}

	factory, ok := r.factories[detector.Type]
	if !ok {
		return nil
	}

	handler, err := factory(ctx, detector)
	if err != nil {
		r.logger.Warn("failed to construct detector handler",
			slog.String("detector_id", detector.ID),
			slog.String("detector_type", detector.Type),
			slog.String("error", err.Error()))
		return nil
	}

	r.handlers[detector.ID] = handler
	return handler
}

// Invalidate drops the cached handler for a detector, forcing the next
// Resolve to rebuild it (used after detector or condition group writes).
func (r *Registry[T]) Invalidate(detectorID string) {
	r.mu.Lock()
	delete(r.handlers, detectorID)
	r.mu.Unlock()
}

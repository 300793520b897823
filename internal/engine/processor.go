package engine

import (
	"context"
	"log/slog"

	"github.com/kestrelwatch/kestrel/internal/models"
)

// Committer flushes a staged accumulator to both stores. StatefulHandler
// implements it; stateless handlers with nothing to persist need not.
type Committer interface {
	Commit(ctx context.Context, updates *StateUpdates) error
}

// DetectorResult pairs a detector with the state-change results of one
// evaluation.
type DetectorResult struct {
	Detector *models.Detector
	Results  []models.EvaluationResult
}

// detectorEvaluation keeps one evaluated detector's handler and staged
// updates so Commit can flush accumulators whose result list was empty
// (a dedupe watermark advance with no state change still has to persist).
type detectorEvaluation[T any] struct {
	detector *models.Detector
	handler  Handler[T]
	results  []models.EvaluationResult
	updates  *StateUpdates
}

// Batch holds the outcome of processing one data packet against a set of
// detectors. Results are available immediately; nothing durable happens
// until Commit.
type Batch[T any] struct {
	evaluations []detectorEvaluation[T]
}

// Results returns the (detector, results) pairs for detectors that emitted
// at least one state-change result, in input order.
func (b *Batch[T]) Results() []DetectorResult {
	results := []DetectorResult{}
	for _, eval := range b.evaluations {
		if len(eval.results) > 0 {
			results = append(results, DetectorResult{Detector: eval.detector, Results: eval.results})
		}
	}
	return results
}

// Commit flushes every accumulator staged by the batch, including those of
// detectors that emitted no results. Commit stops at the first failing
// detector; retrying the whole batch is safe since every flush is
// idempotent.
func (b *Batch[T]) Commit(ctx context.Context) error {
	for _, eval := range b.evaluations {
		committer, ok := eval.handler.(Committer)
		if !ok || eval.updates.Empty() {
			continue
		}
		if err := committer.Commit(ctx, eval.updates); err != nil {
			return err
		}
	}
	return nil
}

// Processor runs detectors against data packets. Handlers are resolved per
// detector through the resolve function; a nil handler skips the detector
// silently.
type Processor[T any] struct {
	resolve func(*models.Detector) Handler[T]
	logger  *slog.Logger
}

// NewProcessor creates a batch processor with the given handler resolver.
func NewProcessor[T any](resolve func(*models.Detector) Handler[T], logger *slog.Logger) *Processor[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor[T]{
		resolve: resolve,
		logger:  logger.With(slog.String("component", "batch-processor")),
	}
}

// Process evaluates each detector against one data packet. Detectors are
// independent and evaluated in input order; a store failure aborts the
// batch. Duplicate group keys within one detector's result list are an
// internal-consistency violation: they are logged as errors but neither
// deduplicated nor fatal.
func (p *Processor[T]) Process(ctx context.Context, packet models.DataPacket[T], detectors []*models.Detector) (*Batch[T], error) {
	batch := &Batch[T]{}
	for _, detector := range detectors {
		handler := p.resolve(detector)
		if handler == nil {
			continue
		}

		evaluation, err := handler.Evaluate(ctx, packet)
		if err != nil {
			return nil, err
		}

		seen := make(map[models.GroupKey]struct{}, len(evaluation.Results))
		for _, result := range evaluation.Results {
			if _, ok := seen[result.GroupKey]; ok {
				p.logger.Error("duplicate detector state group keys found",
					slog.String("detector_id", detector.ID),
					slog.String("group_key", result.GroupKey.String()))
			}
			seen[result.GroupKey] = struct{}{}
		}

		batch.evaluations = append(batch.evaluations, detectorEvaluation[T]{
			detector: detector,
			handler:  handler,
			results:  evaluation.Results,
			updates:  evaluation.Updates,
		})
	}

	return batch, nil
}

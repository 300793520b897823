// Package engine evaluates telemetry data packets against per-detector
// stateful rules. The stateful handler merges durable state rows with
// ephemeral dedupe/counter bookkeeping, decides per group key whether an
// alerting condition newly became active or inactive, and stages all side
// effects in an accumulator that a later commit flushes to both stores.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelwatch/kestrel/internal/conditions"
	"github.com/kestrelwatch/kestrel/internal/metrics"
	"github.com/kestrelwatch/kestrel/internal/models"
	"github.com/kestrelwatch/kestrel/internal/statestore"
)

// Handler is the per-detector evaluation strategy. Implementations may be
// stateful or stateless; the batch processor only depends on this contract.
type Handler[T any] interface {
	Evaluate(ctx context.Context, packet models.DataPacket[T]) (*Evaluation, error)
}

// Evaluation is the output of one Evaluate call: the state-change results
// plus the accumulator holding everything the call staged. The accumulator
// is consumed by Commit; evaluations that are never committed (dry runs)
// have no observable side effects beyond metrics and logs.
type Evaluation struct {
	Results []models.EvaluationResult
	Updates *StateUpdates
}

// PacketMapper extracts detector-specific values from a data packet: one
// monotonic dedupe value per packet, a group key to observation value
// mapping, and the names of the counters the detector tracks.
type PacketMapper[T any] interface {
	DedupeValue(packet models.DataPacket[T]) int64
	GroupValues(packet models.DataPacket[T]) map[models.GroupKey]float64
	CounterNames() []string
}

// CounterStrategy computes named counter deltas for a group key during
// evaluation. The default strategy stages an empty update, keeping the
// downstream commit path uniform; richer strategies can fill in counters
// without touching the engine.
type CounterStrategy func(groupKey models.GroupKey, value float64, stateData models.StateData) map[string]*int64

// StateRepository is the durable-store surface the engine needs.
type StateRepository interface {
	GetDetectorStates(ctx context.Context, detectorID string, groupKeys []models.GroupKey) (map[models.GroupKey]*models.DetectorState, error)
	CreateDetectorStates(ctx context.Context, states []*models.DetectorState) error
	UpdateDetectorStates(ctx context.Context, states []*models.DetectorState) error
}

// StatefulHandler is the concrete Handler managing dedupe, counters and
// active/priority transitions per group key, batched across the group keys
// of one packet with deferred commit to both stores.
type StatefulHandler[T any] struct {
	detector *models.Detector
	mapper   PacketMapper[T]
	counters CounterStrategy
	group    *conditions.ConditionGroup
	repo     StateRepository
	cache    *statestore.Store
	logger   *slog.Logger
}

// NewStatefulHandler constructs a handler for one detector, resolving its
// condition group through the process-wide group cache. A detector without
// a configured or existing group keeps a nil group and can never activate.
func NewStatefulHandler[T any](
	ctx context.Context,
	detector *models.Detector,
	mapper PacketMapper[T],
	repo StateRepository,
	cache *statestore.Store,
	groups *conditions.GroupCache,
) (*StatefulHandler[T], error) {
	var group *conditions.ConditionGroup
	if detector.ConditionGroupID != nil {
		var err error
		group, err = groups.Get(ctx, *detector.ConditionGroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve condition group for detector %s: %w", detector.ID, err)
		}
	}

	return &StatefulHandler[T]{
		detector: detector,
		mapper:   mapper,
		group:    group,
		repo:     repo,
		cache:    cache,
		logger:   slog.Default().With(slog.String("component", "detector-engine"), slog.String("detector_id", detector.ID)),
	}, nil
}

// WithCounterStrategy installs a counter computation hook.
func (h *StatefulHandler[T]) WithCounterStrategy(strategy CounterStrategy) *StatefulHandler[T] {
	h.counters = strategy
	return h
}

// Detector returns the detector this handler evaluates.
func (h *StatefulHandler[T]) Detector() *models.Detector {
	return h.detector
}

// GetStateData bulk fetches the state snapshot for every group key: one
// durable-store query plus one cache pipeline for dedupe watermarks and,
// only when the detector tracks counters, one more for counter values.
// Keys with no stored state fall back to defaults.
func (h *StatefulHandler[T]) GetStateData(ctx context.Context, groupKeys []models.GroupKey) (map[models.GroupKey]models.StateData, error) {
	rows, err := h.repo.GetDetectorStates(ctx, h.detector.ID, groupKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch detector states: %w", err)
	}

	dedupeValues, err := h.cache.FetchDedupeValues(ctx, h.detector.ID, groupKeys)
	if err != nil {
		return nil, err
	}

	var counters map[models.GroupKey]map[string]*int64
	if names := h.mapper.CounterNames(); len(names) > 0 {
		counters, err = h.cache.FetchCounters(ctx, h.detector.ID, names, groupKeys)
		if err != nil {
			return nil, err
		}
	}

	stateData := make(map[models.GroupKey]models.StateData, len(groupKeys))
	for _, gk := range groupKeys {
		data := models.NewStateData(gk)
		if row, ok := rows[gk]; ok {
			data.Active = row.Active
			data.Status = row.State
		}
		data.DedupeValue = dedupeValues[gk]
		if counters != nil {
			data.Counters = counters[gk]
		}
		stateData[gk] = data
	}
	return stateData, nil
}

// Evaluate evaluates a data packet and returns one result per group key
// whose state changed, along with the accumulator of staged updates.
func (h *StatefulHandler[T]) Evaluate(ctx context.Context, packet models.DataPacket[T]) (*Evaluation, error) {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	dedupeValue := h.mapper.DedupeValue(packet)
	groupValues := h.mapper.GroupValues(packet)

	groupKeys := make([]models.GroupKey, 0, len(groupValues))
	for gk := range groupValues {
		groupKeys = append(groupKeys, gk)
	}

	stateData, err := h.GetStateData(ctx, groupKeys)
	if err != nil {
		return nil, err
	}

	updates := NewStateUpdates(h.detector.ID)
	results := []models.EvaluationResult{}
	for gk, value := range groupValues {
		result := h.evaluateGroupKeyValue(gk, value, stateData[gk], dedupeValue, updates)
		if result != nil {
			results = append(results, *result)
		}
	}

	metrics.ResultsEmitted.Add(float64(len(results)))
	return &Evaluation{Results: results, Updates: updates}, nil
}

// evaluateGroupKeyValue runs the per-group state machine. It returns a
// result only when the (active, status) pair changed; replayed packets and
// detectors without conditions stage nothing visible downstream.
func (h *StatefulHandler[T]) evaluateGroupKeyValue(
	groupKey models.GroupKey,
	value float64,
	stateData models.StateData,
	dedupeValue int64,
	updates *StateUpdates,
) *models.EvaluationResult {
	if dedupeValue <= stateData.DedupeValue {
		// Already processed this packet for this group key
		metrics.SkippedAlreadyProcessed.Inc()
		return nil
	}

	updates.stageDedupe(groupKey, dedupeValue)

	if h.group == nil {
		metrics.SkippedMissingConditionGroup.Inc()
		return nil
	}

	status := h.group.EvaluateValue(value)
	isActive := status != models.PriorityOK

	updates.stageCounters(groupKey, h.counterUpdates(groupKey, value, stateData))

	if stateData.Active != isActive || stateData.Status != status {
		updates.stageState(groupKey, isActive, status)
		return &models.EvaluationResult{
			GroupKey: groupKey,
			IsActive: isActive,
			Priority: status,
			Data:     map[string]any{},
		}
	}
	return nil
}

func (h *StatefulHandler[T]) counterUpdates(groupKey models.GroupKey, value float64, stateData models.StateData) map[string]*int64 {
	if h.counters == nil {
		return map[string]*int64{}
	}
	return h.counters(groupKey, value, stateData)
}

// Commit flushes a staged accumulator: first the ephemeral store (one
// pipeline of watermark and counter writes, 7-day expiry), then the durable
// store (fresh re-read of the affected rows, one bulk create and one bulk
// update). Both flushes are idempotent; a durable failure after a
// successful ephemeral flush is a tolerated partial-failure mode since
// dedupe and counter keys self-heal on the next evaluation.
func (h *StatefulHandler[T]) Commit(ctx context.Context, updates *StateUpdates) error {
	start := time.Now()
	defer func() {
		metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}()

	if err := h.commitEphemeralState(ctx, updates); err != nil {
		metrics.CommitErrors.Inc()
		return err
	}
	if err := h.commitDetectorState(ctx, updates); err != nil {
		metrics.CommitErrors.Inc()
		return err
	}
	return nil
}

func (h *StatefulHandler[T]) commitEphemeralState(ctx context.Context, updates *StateUpdates) error {
	if len(updates.dedupe) == 0 && len(updates.counters) == 0 {
		return nil
	}
	if err := h.cache.Flush(ctx, h.detector.ID, updates.dedupe, updates.counters); err != nil {
		return err
	}
	updates.clearEphemeral()
	return nil
}

func (h *StatefulHandler[T]) commitDetectorState(ctx context.Context, updates *StateUpdates) error {
	if len(updates.states) == 0 {
		return nil
	}

	groupKeys := make([]models.GroupKey, 0, len(updates.states))
	for gk := range updates.states {
		groupKeys = append(groupKeys, gk)
	}

	// Fresh read so a retry after a partial commit doesn't recreate or
	// blindly overwrite rows written in the meantime.
	existing, err := h.repo.GetDetectorStates(ctx, h.detector.ID, groupKeys)
	if err != nil {
		return fmt.Errorf("failed to re-fetch detector states: %w", err)
	}

	created := []*models.DetectorState{}
	updated := []*models.DetectorState{}
	for gk, change := range updates.states {
		row, ok := existing[gk]
		if !ok {
			created = append(created, &models.DetectorState{
				DetectorID: h.detector.ID,
				GroupKey:   gk,
				Active:     change.Active,
				State:      change.Priority,
			})
		} else if row.Active != change.Active || row.State != change.Priority {
			row.Active = change.Active
			row.State = change.Priority
			updated = append(updated, row)
		}
	}

	if err := h.repo.CreateDetectorStates(ctx, created); err != nil {
		return err
	}
	if err := h.repo.UpdateDetectorStates(ctx, updated); err != nil {
		return err
	}

	metrics.StateRowsCreated.Add(float64(len(created)))
	metrics.StateRowsUpdated.Add(float64(len(updated)))
	updates.clearStates()
	return nil
}

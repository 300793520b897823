package engine

import "github.com/kestrelwatch/kestrel/internal/models"

// stateChange is a staged (active, priority) transition for one group key.
type stateChange struct {
	Active   bool
	Priority models.PriorityLevel
}

// StateUpdates accumulates the side effects staged by one Evaluate call:
// dedupe watermark advances, counter updates (nil value = unset) and
// active/priority transitions, all keyed by group key.
//
// An accumulator belongs to exactly one evaluate→commit cycle on one
// goroutine; it is not safe for concurrent mutation. Commit drains it, and
// it must not be read afterwards.
type StateUpdates struct {
	detectorID string
	dedupe     map[models.GroupKey]int64
	counters   map[models.GroupKey]map[string]*int64
	states     map[models.GroupKey]stateChange
}

// NewStateUpdates creates an empty accumulator for a detector.
func NewStateUpdates(detectorID string) *StateUpdates {
	return &StateUpdates{
		detectorID: detectorID,
		dedupe:     make(map[models.GroupKey]int64),
		counters:   make(map[models.GroupKey]map[string]*int64),
		states:     make(map[models.GroupKey]stateChange),
	}
}

// DetectorID returns the detector this accumulator belongs to.
func (u *StateUpdates) DetectorID() string {
	return u.detectorID
}

// Empty reports whether nothing has been staged.
func (u *StateUpdates) Empty() bool {
	return len(u.dedupe) == 0 && len(u.counters) == 0 && len(u.states) == 0
}

func (u *StateUpdates) stageDedupe(groupKey models.GroupKey, dedupeValue int64) {
	u.dedupe[groupKey] = dedupeValue
}

func (u *StateUpdates) stageCounters(groupKey models.GroupKey, updates map[string]*int64) {
	u.counters[groupKey] = updates
}

func (u *StateUpdates) stageState(groupKey models.GroupKey, isActive bool, priority models.PriorityLevel) {
	u.states[groupKey] = stateChange{Active: isActive, Priority: priority}
}

func (u *StateUpdates) clearEphemeral() {
	u.dedupe = make(map[models.GroupKey]int64)
	u.counters = make(map[models.GroupKey]map[string]*int64)
}

func (u *StateUpdates) clearStates() {
	u.states = make(map[models.GroupKey]stateChange)
}

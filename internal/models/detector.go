package models

import (
	"encoding/json"
	"time"
)

// PriorityLevel is the ordered severity scale for detector state.
// OK is the inactive baseline; anything above OK means the detector fired.
type PriorityLevel int

const (
	PriorityOK       PriorityLevel = 0
	PriorityLow      PriorityLevel = 25
	PriorityWarning  PriorityLevel = 50
	PriorityCritical PriorityLevel = 75
)

// String returns the lowercase name of the priority level.
func (p PriorityLevel) String() string {
	switch p {
	case PriorityOK:
		return "ok"
	case PriorityLow:
		return "low"
	case PriorityWarning:
		return "warning"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MaxPriority returns the more severe of two priority levels.
func MaxPriority(a, b PriorityLevel) PriorityLevel {
	if b > a {
		return b
	}
	return a
}

// GroupKey partitions a data packet's observations into independent
// evaluation units. The zero value is the distinguished "no group" key,
// which maps to an empty segment in cache keys and a NULL column in the
// durable store. GroupKey is comparable and safe to use as a map key.
type GroupKey struct {
	Key   string
	Valid bool
}

// NoGroup is the distinguished "no group" key.
var NoGroup = GroupKey{}

// NewGroupKey returns a named group key.
func NewGroupKey(key string) GroupKey {
	return GroupKey{Key: key, Valid: true}
}

// String returns the key name, or the empty string for NoGroup.
func (g GroupKey) String() string {
	if !g.Valid {
		return ""
	}
	return g.Key
}

// MarshalJSON encodes a named key as its string and NoGroup as null.
func (g GroupKey) MarshalJSON() ([]byte, error) {
	if !g.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(g.Key)
}

// UnmarshalJSON decodes null as NoGroup and any string as a named key.
func (g *GroupKey) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*g = NoGroup
		return nil
	}
	var key string
	if err := json.Unmarshal(data, &key); err != nil {
		return err
	}
	*g = NewGroupKey(key)
	return nil
}

// Detector is a configured monitoring rule. It owns zero or one condition
// group and is immutable for the duration of an evaluation run.
type Detector struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Type             string     `json:"type"` // resolves the handler kind
	Enabled          bool       `json:"enabled"`
	ConditionGroupID *string    `json:"condition_group_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// DataPacket is an opaque typed payload arriving for evaluation. A
// detector's packet mapper derives the dedupe value and the per-group
// observation values from the payload.
type DataPacket[T any] struct {
	PacketID string
	Payload  T
}

// DetectorState is the durable row for one (detector, group key) pair.
// At most one row exists per pair; rows are created on the first
// transition away from defaults and updated in place afterwards.
type DetectorState struct {
	DetectorID string        `json:"detector_id"`
	GroupKey   GroupKey      `json:"group_key"`
	Active     bool          `json:"active"`
	State      PriorityLevel `json:"state"`
}

// StateData is the in-memory snapshot for one group key, merged from the
// durable row (active/status) and the ephemeral store (dedupe watermark,
// counters). A nil counter entry means "never set", distinct from zero.
type StateData struct {
	GroupKey    GroupKey
	Active      bool
	Status      PriorityLevel
	DedupeValue int64
	Counters    map[string]*int64
}

// NewStateData returns the default snapshot for a group key with no prior
// durable row and no prior ephemeral entries.
func NewStateData(groupKey GroupKey) StateData {
	return StateData{
		GroupKey: groupKey,
		Active:   false,
		Status:   PriorityOK,
		Counters: map[string]*int64{},
	}
}

// EvaluationResult is emitted for a group key only when its active flag or
// priority actually changed.
type EvaluationResult struct {
	GroupKey GroupKey       `json:"group_key"`
	IsActive bool           `json:"is_active"`
	Priority PriorityLevel  `json:"priority"`
	Data     map[string]any `json:"data"`
}

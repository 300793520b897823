package consumer

import (
	"github.com/kestrelwatch/kestrel/internal/models"
)

// TelemetryPayload is the JSON body of one telemetry data packet. Sequence
// is the monotonic per-source stream position used for deduplication;
// Values maps each entity to its observation value, with the empty entity
// name standing for the "no group" key.
type TelemetryPayload struct {
	SourceID string             `json:"source_id"`
	Sequence int64              `json:"sequence"`
	Values   map[string]float64 `json:"values"`
}

// TelemetryMapper adapts telemetry packets to the engine's packet mapper
// contract.
type TelemetryMapper struct{}

// DedupeValue returns the packet's stream sequence number.
func (TelemetryMapper) DedupeValue(packet models.DataPacket[TelemetryPayload]) int64 {
	return packet.Payload.Sequence
}

// GroupValues maps each entity in the packet to a group key.
func (TelemetryMapper) GroupValues(packet models.DataPacket[TelemetryPayload]) map[models.GroupKey]float64 {
	values := make(map[models.GroupKey]float64, len(packet.Payload.Values))
	for entity, value := range packet.Payload.Values {
		if entity == "" {
			values[models.NoGroup] = value
		} else {
			values[models.NewGroupKey(entity)] = value
		}
	}
	return values
}

// CounterNames returns the counters tracked for telemetry detectors.
// None yet; counter tracking is an extension point.
func (TelemetryMapper) CounterNames() []string {
	return nil
}

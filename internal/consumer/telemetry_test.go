package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelwatch/kestrel/internal/models"
)

func TestTelemetryMapper_DedupeValue(t *testing.T) {
	mapper := TelemetryMapper{}
	packet := models.DataPacket[TelemetryPayload]{
		PacketID: "p1",
		Payload:  TelemetryPayload{SourceID: "src-1", Sequence: 42},
	}
	assert.Equal(t, int64(42), mapper.DedupeValue(packet))
}

func TestTelemetryMapper_GroupValues(t *testing.T) {
	mapper := TelemetryMapper{}

	t.Run("entities map to named group keys", func(t *testing.T) {
		packet := models.DataPacket[TelemetryPayload]{
			Payload: TelemetryPayload{Values: map[string]float64{
				"host-1": 12.5,
				"host-2": 3,
			}},
		}

		values := mapper.GroupValues(packet)
		assert.Equal(t, 12.5, values[models.NewGroupKey("host-1")])
		assert.Equal(t, float64(3), values[models.NewGroupKey("host-2")])
	})

	t.Run("empty entity maps to the no-group key", func(t *testing.T) {
		packet := models.DataPacket[TelemetryPayload]{
			Payload: TelemetryPayload{Values: map[string]float64{"": 7}},
		}

		values := mapper.GroupValues(packet)
		assert.Equal(t, float64(7), values[models.NoGroup])
	})

	t.Run("empty packet produces no group values", func(t *testing.T) {
		values := mapper.GroupValues(models.DataPacket[TelemetryPayload]{})
		assert.Empty(t, values)
	})
}

func TestTelemetryMapper_CounterNames(t *testing.T) {
	assert.Empty(t, TelemetryMapper{}.CounterNames())
}

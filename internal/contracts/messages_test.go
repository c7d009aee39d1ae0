package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"position","latitude":1}`))
	require.NoError(t, err)
	assert.Equal(t, TypePosition, env.Type)

	_, err = DecodeEnvelope([]byte(`{"latitude":1}`))
	assert.Error(t, err, "type field is mandatory")

	_, err = DecodeEnvelope([]byte(`]]`))
	assert.Error(t, err)
}

func TestDecodePositionMessage(t *testing.T) {
	raw := []byte(`{"type":"position","device_id":"d1","latitude":0,"longitude":-0.12,"accuracy_meters":4,"timestamp":1700000000000}`)

	msg, err := DecodePositionMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "d1", msg.DeviceID)
	require.NotNil(t, msg.Latitude)
	assert.Equal(t, float64(0), *msg.Latitude, "latitude 0 is a real coordinate, not a missing field")
	require.NotNil(t, msg.Timestamp)
	assert.Equal(t, int64(1700000000000), *msg.Timestamp)
	require.NotNil(t, msg.AccuracyMeters)
	assert.Equal(t, float64(4), *msg.AccuracyMeters)
}

func TestDecodePositionMessageMissingFields(t *testing.T) {
	cases := map[string]string{
		"missing latitude":  `{"type":"position","device_id":"d1","longitude":2,"timestamp":1}`,
		"missing longitude": `{"type":"position","device_id":"d1","latitude":1,"timestamp":1}`,
		"missing timestamp": `{"type":"position","device_id":"d1","latitude":1,"longitude":2}`,
		"wrong type":        `{"type":"subscribe","latitude":1,"longitude":2,"timestamp":1}`,
		"not json":          `garbage`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePositionMessage([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodePositionMessageOptionalAccuracy(t *testing.T) {
	msg, err := DecodePositionMessage([]byte(`{"type":"position","device_id":"d1","latitude":1,"longitude":2,"timestamp":1}`))
	require.NoError(t, err)
	assert.Nil(t, msg.AccuracyMeters)
}

func TestErrorMessageShape(t *testing.T) {
	body, err := json.Marshal(NewErrorMessage(ReasonStale))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","reason":"Stale"}`, string(body))
}

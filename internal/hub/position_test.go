package hub

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPositionValid(t *testing.T) {
	p, err := NewPosition("device-1", 48.8566, 2.3522, 12.5, 1700000000000)
	require.NoError(t, err)

	assert.Equal(t, DeviceID("device-1"), p.DeviceID)
	assert.Equal(t, 48.8566, p.Latitude)
	assert.Equal(t, 2.3522, p.Longitude)
	assert.Equal(t, 12.5, p.AccuracyMeters)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), p.Timestamp)
	assert.Equal(t, time.UTC, p.Timestamp.Location())
}

func TestNewPositionBoundaryCoordinates(t *testing.T) {
	for _, tc := range []struct{ lat, lon float64 }{
		{90, 180},
		{-90, -180},
		{0, 0},
	} {
		_, err := NewPosition("device-1", tc.lat, tc.lon, 0, 1)
		assert.NoError(t, err, "lat=%g lon=%g", tc.lat, tc.lon)
	}
}

func TestNewPositionRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		deviceID DeviceID
		lat, lon float64
		accuracy float64
		ts       int64
	}{
		{"empty device id", "", 1, 1, 0, 1},
		{"latitude too high", "d", 90.0001, 0, 0, 1},
		{"latitude too low", "d", -90.0001, 0, 0, 1},
		{"longitude too high", "d", 0, 180.0001, 0, 1},
		{"longitude too low", "d", 0, -180.0001, 0, 1},
		{"latitude NaN", "d", math.NaN(), 0, 0, 1},
		{"longitude NaN", "d", 0, math.NaN(), 0, 1},
		{"accuracy negative", "d", 0, 0, -1, 1},
		{"accuracy NaN", "d", 0, 0, math.NaN(), 1},
		{"timestamp zero", "d", 0, 0, 0, 0},
		{"timestamp negative", "d", 0, 0, 0, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPosition(tc.deviceID, tc.lat, tc.lon, tc.accuracy, tc.ts)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestPositionPayloadRoundsTimestampToMillis(t *testing.T) {
	p := mustPosition(t, "device-1", 1.5, -2.5, 123456)

	payload := p.Payload()
	assert.Equal(t, "device-1", payload.DeviceID)
	assert.Equal(t, int64(123456), payload.Timestamp)
}

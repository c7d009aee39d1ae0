package hub

import (
	"math"
	"time"

	"trackhub/internal/contracts"
)

// DeviceID identifies a tracked participant. It is stable for the lifetime
// of the device's session and opaque to the hub.
type DeviceID string

// Position is the last reported location of one device. A Position is never
// mutated; a fresher report supersedes the whole value.
type Position struct {
	DeviceID       DeviceID
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64 // 0 when the client did not report accuracy
	Timestamp      time.Time
}

// NewPosition validates raw report fields and builds a Position.
// Timestamps are client-stamped Unix milliseconds so that late arrivals can
// be ordered by report time rather than arrival time.
func NewPosition(deviceID DeviceID, lat, lon, accuracy float64, tsMillis int64) (Position, error) {
	if deviceID == "" {
		return Position{}, ErrInvalidPayload
	}
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return Position{}, ErrInvalidPayload
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return Position{}, ErrInvalidPayload
	}
	if math.IsNaN(accuracy) || accuracy < 0 {
		return Position{}, ErrInvalidPayload
	}
	if tsMillis <= 0 {
		return Position{}, ErrInvalidPayload
	}

	return Position{
		DeviceID:       deviceID,
		Latitude:       lat,
		Longitude:      lon,
		AccuracyMeters: accuracy,
		Timestamp:      time.UnixMilli(tsMillis).UTC(),
	}, nil
}

// Payload converts a Position to its wire shape.
func (p Position) Payload() contracts.PositionPayload {
	return contracts.PositionPayload{
		DeviceID:       string(p.DeviceID),
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		AccuracyMeters: p.AccuracyMeters,
		Timestamp:      p.Timestamp.UnixMilli(),
	}
}

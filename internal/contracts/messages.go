package contracts

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged over a tracking socket.
const (
	TypePosition  = "position"
	TypeSubscribe = "subscribe"
	TypeSnapshot  = "snapshot"
	TypeUpdate    = "update"
	TypeError     = "error"
)

// Error reasons reported back to a sender. The connection stays open.
const (
	ReasonInvalidPayload = "InvalidPayload"
	ReasonStale          = "Stale"
)

// ClientEnvelope is the minimal frame read from any client before routing.
type ClientEnvelope struct {
	Type string `json:"type"`
}

// PositionMessage is the inbound device report. Pointer fields distinguish
// "missing" from a legitimate zero value (latitude 0 is a real coordinate).
type PositionMessage struct {
	Type           string   `json:"type"`
	DeviceID       string   `json:"device_id"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
	Timestamp      *int64   `json:"timestamp"` // Unix milliseconds, client-stamped
}

// PositionPayload is the outbound shape of one device position.
type PositionPayload struct {
	DeviceID       string  `json:"device_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters,omitempty"`
	Timestamp      int64   `json:"timestamp"` // Unix milliseconds
}

// SnapshotMessage is sent once to an observer right after it attaches.
type SnapshotMessage struct {
	Type      string            `json:"type"` // "snapshot"
	Positions []PositionPayload `json:"positions"`
}

// UpdateMessage streams one applied position to observers.
type UpdateMessage struct {
	Type     string          `json:"type"` // "update"
	Position PositionPayload `json:"position"`
}

// ErrorMessage tells a sender why its frame was not applied.
type ErrorMessage struct {
	Type   string `json:"type"` // "error"
	Reason string `json:"reason"`
}

// DecodeEnvelope peeks at the type of a raw client frame.
func DecodeEnvelope(raw []byte) (ClientEnvelope, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return ClientEnvelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodePositionMessage parses a device report and checks field presence.
// Range validation belongs to the hub boundary, not the wire layer.
func DecodePositionMessage(raw []byte) (PositionMessage, error) {
	var msg PositionMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return PositionMessage{}, fmt.Errorf("decode position: %w", err)
	}
	if msg.Type != TypePosition {
		return PositionMessage{}, fmt.Errorf("decode position: unexpected type %q", msg.Type)
	}
	if msg.Latitude == nil {
		return PositionMessage{}, fmt.Errorf("decode position: missing latitude")
	}
	if msg.Longitude == nil {
		return PositionMessage{}, fmt.Errorf("decode position: missing longitude")
	}
	if msg.Timestamp == nil {
		return PositionMessage{}, fmt.Errorf("decode position: missing timestamp")
	}
	return msg, nil
}

// NewErrorMessage builds the outbound error frame for a rejected input.
func NewErrorMessage(reason string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Reason: reason}
}

package contracts

import "time"

// RabbitMQ topology shared by the hub and its queue peers.
const (
	ExchangePositionFanout = "positions.fanout"
	QueuePositionIngest    = "positions.ingest"
)

// Envelope adds cross-cutting headers all queue messages may carry.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"` // correlation for tracing across services
	Producer      string    `json:"producer,omitempty"`       // producer service name, e.g. "trackhub"
	SentAt        time.Time `json:"sent_at,omitempty"`        // ISO-8601 send time (UTC)
}

// PositionUpdateMessage mirrors every applied position onto the fanout
// exchange, and is also the shape accepted on the ingest queue for devices
// reporting through AMQP instead of a socket.
type PositionUpdateMessage struct {
	DeviceID       string    `json:"device_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Envelope
}

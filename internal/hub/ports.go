package hub

import "context"

// Sender is the outbound half of the transport contract. The hub never
// touches sockets directly; it hands marshal-ready messages to a Sender and
// asks it to close when the connection's lifecycle ends.
type Sender interface {
	Send(ctx context.Context, msg any) error
	Close() error
}

// Relay mirrors every applied position update to an external fabric
// (e.g. a RabbitMQ fanout exchange). Delivery is best-effort; relay
// failures never affect socket fan-out.
type Relay interface {
	RelayUpdate(ctx context.Context, p Position) error
}

// SessionJournal records device connect/disconnect audit rows.
// Calls are made off the hot path and failures are logged, not propagated.
type SessionJournal interface {
	SessionStarted(ctx context.Context, deviceID, connID string) (sessionID string, err error)
	SessionEnded(ctx context.Context, sessionID string) error
}

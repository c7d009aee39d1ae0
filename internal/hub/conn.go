package hub

import (
	"context"
	"sync"
)

// Role tells the hub whether a connection feeds positions or watches them.
// A connection's role is fixed at registration.
type Role string

const (
	RoleDevice   Role = "device"
	RoleObserver Role = "observer"
)

func (r Role) Valid() bool {
	return r == RoleDevice || r == RoleObserver
}

// ConnState is the lifecycle state of one connection.
// Transitions: Connecting -> Active -> Closing -> Closed. Closed is terminal.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is the hub's handle for one live peer. It is created by the
// registry and torn down by the hub; the transport only ever sees it as an
// opaque argument to HandleMessage and Disconnect.
type Connection struct {
	ID       string
	Role     Role
	DeviceID DeviceID // empty for observers

	sender Sender

	// out is the bounded per-connection outbound queue. The hub enqueues,
	// the writePump drains. On overflow the oldest queued message is
	// dropped: only the latest position per device matters downstream.
	out  chan any
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	mu        sync.Mutex
	state     ConnState
	sessionID string // journal row handle, set for device connections
}

func newConnection(id string, role Role, deviceID DeviceID, sender Sender, queueSize int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:       id,
		Role:     role,
		DeviceID: deviceID,
		sender:   sender,
		out:      make(chan any, queueSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateConnecting,
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// activate moves Connecting -> Active.
func (c *Connection) activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting {
		return ErrConnectionClosed
	}
	c.state = StateActive
	return nil
}

// beginClose moves the connection into Closing and reports whether this call
// won the race; losers must not run cleanup a second time.
func (c *Connection) beginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosing || c.state == StateClosed {
		return false
	}
	c.state = StateClosing
	return true
}

// finishClose marks the terminal state after cleanup completed.
func (c *Connection) finishClose() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

func (c *Connection) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *Connection) getSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// enqueue places a message on the outbound queue without ever blocking the
// caller. When the queue is full the oldest entry is discarded first, so a
// slow observer lags but never backpressures the device pipeline.
func (c *Connection) enqueue(msg any) bool {
	for {
		select {
		case <-c.done:
			return false
		default:
		}

		select {
		case c.out <- msg:
			return true
		default:
		}

		// queue full: drop the oldest queued message and retry
		select {
		case <-c.out:
		default:
		}
	}
}

// shutdown cancels the in-flight send (if any) and stops the writePump.
// Safe to call more than once.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// writePump drains the outbound queue onto the transport. A delivery failure
// is contained to this connection: the pump reports it to onFail and exits,
// leaving every other connection untouched.
func (c *Connection) writePump(onFail func(*Connection, error)) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if err := c.sender.Send(c.ctx, msg); err != nil {
				onFail(c, err)
				return
			}
		}
	}
}

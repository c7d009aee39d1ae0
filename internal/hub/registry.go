package hub

import "sync"

// Registry is the authoritative set of currently-open connections.
// It performs no I/O; membership changes are its only side effect.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register creates and records a connection in the Connecting state.
// Device registrations must carry a device ID; connection IDs are unique.
func (r *Registry) Register(connID string, role Role, deviceID DeviceID, sender Sender, queueSize int) (*Connection, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if role == RoleDevice && deviceID == "" {
		return nil, ErrMissingDeviceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; ok {
		return nil, ErrDuplicateConnection
	}

	conn := newConnection(connID, role, deviceID, sender, queueSize)
	r.conns[connID] = conn
	return conn, nil
}

// Unregister removes a connection. It is idempotent: removing an absent
// connection is a no-op.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
}

// Find returns the connection for the given ID.
func (r *Registry) Find(connID string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return conn, nil
}

// Observers returns the observer connections present at call time.
// The slice is a copy; membership may change the moment the lock drops.
func (r *Registry) Observers() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.Role == RoleObserver {
			out = append(out, c)
		}
	}
	return out
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

package hub

import "sync"

// UpdateResult reports what the store did with an incoming position.
type UpdateResult int

const (
	// Applied means the position is now the device's latest.
	Applied UpdateResult = iota
	// RejectedStale means an equal-or-newer position was already stored.
	RejectedStale
)

func (r UpdateResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case RejectedStale:
		return "rejected_stale"
	default:
		return "unknown"
	}
}

// Store is the last-known-position cache: exactly one slot per device.
// Writes win by report timestamp, not arrival order, so replayed or
// out-of-order deliveries can never overwrite fresher data.
type Store struct {
	mu     sync.RWMutex
	latest map[DeviceID]Position
}

func NewStore() *Store {
	return &Store{latest: make(map[DeviceID]Position)}
}

// Update installs the position unless an entry with an equal or newer
// timestamp exists. A tie goes to the stored entry, which makes replays
// idempotent.
func (s *Store) Update(p Position) UpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.latest[p.DeviceID]; ok && !p.Timestamp.After(cur.Timestamp) {
		return RejectedStale
	}
	s.latest[p.DeviceID] = p
	return Applied
}

// Get returns the latest position for a device, if any.
func (s *Store) Get(id DeviceID) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.latest[id]
	return p, ok
}

// Snapshot returns a point-in-time copy of every latest position.
// The copy is taken under the lock, so a concurrent Update is either fully
// included or fully absent, never half-visible.
func (s *Store) Snapshot() map[DeviceID]Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[DeviceID]Position, len(s.latest))
	for id, p := range s.latest {
		snap[id] = p
	}
	return snap
}

// Evict removes a device's slot and reports whether one existed.
func (s *Store) Evict(id DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.latest[id]
	delete(s.latest, id)
	return ok
}

// Len reports the number of tracked devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.latest)
}

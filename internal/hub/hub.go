package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trackhub/internal/common/contextx"
	"trackhub/internal/common/log"
	"trackhub/internal/contracts"
)

// RetentionPolicy decides what happens to a device's last position once its
// connection closes.
type RetentionPolicy string

const (
	// RetainEvict drops the position immediately on disconnect.
	RetainEvict RetentionPolicy = "evict"
	// RetainTTL keeps the stale position visible to observers for the
	// configured TTL, then evicts it. Reconnecting cancels the eviction.
	RetainTTL RetentionPolicy = "ttl"
)

const defaultObserverBuffer = 64

// Hub is the coordination core: it owns the connection registry and the
// position store, applies device updates, and fans applied updates out to
// every observer through per-connection queues.
type Hub struct {
	logger   *slog.Logger
	registry *Registry
	store    *Store

	retention RetentionPolicy
	ttl       time.Duration
	queueSize int

	relay   Relay          // optional
	journal SessionJournal // optional

	// dispatchMu orders observer snapshot delivery against update fan-out.
	// It is held only across queue enqueues, never across socket I/O.
	dispatchMu sync.Mutex

	timerMu     sync.Mutex
	evictTimers map[DeviceID]*time.Timer
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithRetention selects the disconnect retention policy. The ttl argument is
// only meaningful for RetainTTL.
func WithRetention(policy RetentionPolicy, ttl time.Duration) Option {
	return func(h *Hub) {
		h.retention = policy
		h.ttl = ttl
	}
}

// WithObserverBuffer sets the per-connection outbound queue capacity.
func WithObserverBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithRelay mirrors applied updates to an external fabric.
func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

// WithJournal records device session audit rows.
func WithJournal(j SessionJournal) Option {
	return func(h *Hub) { h.journal = j }
}

func New(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:      logger,
		registry:    NewRegistry(),
		store:       NewStore(),
		retention:   RetainEvict,
		queueSize:   defaultObserverBuffer,
		evictTimers: make(map[DeviceID]*time.Timer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AttachDevice registers a device connection and starts its write pump.
// The connection reaches Active before this returns; nothing is broadcast
// until the device reports a position.
func (h *Hub) AttachDevice(ctx context.Context, connID string, deviceID DeviceID, sender Sender) (*Connection, error) {
	conn, err := h.registry.Register(connID, RoleDevice, deviceID, sender, h.queueSize)
	if err != nil {
		return nil, err
	}

	// a reconnect beats any pending TTL eviction for this device
	h.cancelEviction(deviceID)

	if err := conn.activate(); err != nil {
		h.registry.Unregister(connID)
		return nil, err
	}
	go conn.writePump(h.onDeliveryFailure)

	if h.journal != nil {
		jctx := context.WithoutCancel(ctx)
		go func() {
			sessionID, err := h.journal.SessionStarted(jctx, string(deviceID), connID)
			if err != nil {
				log.Error(jctx, h.logger, "session_journal_failed", "Failed to record session start", err)
				return
			}
			conn.setSessionID(sessionID)
		}()
	}

	log.Info(contextx.WithConnectionID(ctx, connID), h.logger, "device_attached",
		fmt.Sprintf("Device %s connected", deviceID))
	return conn, nil
}

// AttachObserver registers an observer connection, delivers one consistent
// snapshot, and subscribes it to the update stream. The snapshot enqueue and
// the Active transition happen under the dispatch lock, so every update
// applied after the snapshot was taken is delivered, in dispatch order,
// strictly after it.
func (h *Hub) AttachObserver(ctx context.Context, connID string, sender Sender) (*Connection, error) {
	conn, err := h.registry.Register(connID, RoleObserver, "", sender, h.queueSize)
	if err != nil {
		return nil, err
	}

	h.dispatchMu.Lock()
	snap := h.store.Snapshot()
	positions := make([]contracts.PositionPayload, 0, len(snap))
	for _, p := range snap {
		positions = append(positions, p.Payload())
	}
	conn.enqueue(contracts.SnapshotMessage{Type: contracts.TypeSnapshot, Positions: positions})
	err = conn.activate()
	h.dispatchMu.Unlock()

	if err != nil {
		h.registry.Unregister(connID)
		return nil, err
	}
	go conn.writePump(h.onDeliveryFailure)

	log.Info(contextx.WithConnectionID(ctx, connID), h.logger, "observer_attached",
		fmt.Sprintf("Observer connected, snapshot of %d positions queued", len(positions)))
	return conn, nil
}

// HandleMessage routes one inbound frame for a connection. Boundary
// rejections (malformed or stale input) are reported to the sender and
// returned as ErrInvalidPayload or swallowed respectively; they never
// disturb the store or other connections.
func (h *Hub) HandleMessage(ctx context.Context, conn *Connection, raw []byte) error {
	if conn.State() != StateActive {
		return ErrConnectionClosed
	}

	switch conn.Role {
	case RoleDevice:
		return h.handleDeviceFrame(ctx, conn, raw)
	case RoleObserver:
		return h.handleObserverFrame(ctx, conn, raw)
	default:
		return ErrInvalidRole
	}
}

func (h *Hub) handleDeviceFrame(ctx context.Context, conn *Connection, raw []byte) error {
	env, err := contracts.DecodeEnvelope(raw)
	if err != nil || env.Type != contracts.TypePosition {
		h.rejectInvalid(ctx, conn, err)
		return ErrInvalidPayload
	}

	msg, err := contracts.DecodePositionMessage(raw)
	if err != nil {
		h.rejectInvalid(ctx, conn, err)
		return ErrInvalidPayload
	}

	deviceID := conn.DeviceID
	if msg.DeviceID != "" && DeviceID(msg.DeviceID) != deviceID {
		h.rejectInvalid(ctx, conn, fmt.Errorf("device id %q does not match connection", msg.DeviceID))
		return ErrInvalidPayload
	}

	var accuracy float64
	if msg.AccuracyMeters != nil {
		accuracy = *msg.AccuracyMeters
	}
	pos, err := NewPosition(deviceID, *msg.Latitude, *msg.Longitude, accuracy, *msg.Timestamp)
	if err != nil {
		h.rejectInvalid(ctx, conn, err)
		return ErrInvalidPayload
	}

	if res := h.apply(ctx, pos); res == RejectedStale {
		// stale data must never overwrite fresher data; tell the sender
		// why and keep the connection open
		h.logger.Debug("stale update dropped",
			"action", "update_stale",
			"device_id", string(deviceID),
			"timestamp", pos.Timestamp,
		)
		conn.enqueue(contracts.NewErrorMessage(contracts.ReasonStale))
	}
	return nil
}

func (h *Hub) handleObserverFrame(ctx context.Context, conn *Connection, raw []byte) error {
	env, err := contracts.DecodeEnvelope(raw)
	if err != nil || env.Type != contracts.TypeSubscribe {
		h.rejectInvalid(ctx, conn, err)
		return ErrInvalidPayload
	}
	// subscription is implicit on attach; an explicit subscribe is a no-op
	return nil
}

// Ingest applies a position that arrived over a non-socket transport
// (queue bridge) through the same staleness and fan-out path as socket
// reports.
func (h *Hub) Ingest(ctx context.Context, pos Position) (UpdateResult, error) {
	if _, err := NewPosition(pos.DeviceID, pos.Latitude, pos.Longitude, pos.AccuracyMeters, pos.Timestamp.UnixMilli()); err != nil {
		return RejectedStale, err
	}
	return h.apply(ctx, pos), nil
}

// apply runs one accepted position through the store and, when applied,
// fans it out.
func (h *Hub) apply(ctx context.Context, pos Position) UpdateResult {
	res := h.store.Update(pos)
	if res != Applied {
		return res
	}

	if h.relay != nil {
		if err := h.relay.RelayUpdate(ctx, pos); err != nil {
			log.Error(ctx, h.logger, "relay_failed", "Failed to relay applied update", err)
		}
	}

	update := contracts.UpdateMessage{Type: contracts.TypeUpdate, Position: pos.Payload()}

	h.dispatchMu.Lock()
	for _, obs := range h.registry.Observers() {
		if obs.State() != StateActive {
			continue
		}
		obs.enqueue(update)
	}
	h.dispatchMu.Unlock()

	return res
}

func (h *Hub) rejectInvalid(ctx context.Context, conn *Connection, cause error) {
	if cause == nil {
		cause = ErrInvalidPayload
	}
	log.Error(contextx.WithConnectionID(ctx, conn.ID), h.logger, "payload_rejected",
		"Rejected malformed frame", cause)
	conn.enqueue(contracts.NewErrorMessage(contracts.ReasonInvalidPayload))
}

// Disconnect tears one connection down: Closing, cancel in-flight send,
// unregister, apply retention, Closed. Idempotent; unaffected peers never
// notice.
func (h *Hub) Disconnect(ctx context.Context, connID string) {
	conn, err := h.registry.Find(connID)
	if err != nil {
		return
	}
	h.closeConn(ctx, conn)
}

func (h *Hub) closeConn(ctx context.Context, conn *Connection) {
	if !conn.beginClose() {
		return
	}

	conn.shutdown()
	_ = conn.sender.Close()
	h.registry.Unregister(conn.ID)

	if conn.Role == RoleDevice {
		h.applyRetention(ctx, conn.DeviceID)

		if h.journal != nil {
			if sessionID := conn.getSessionID(); sessionID != "" {
				jctx := context.WithoutCancel(ctx)
				go func() {
					if err := h.journal.SessionEnded(jctx, sessionID); err != nil {
						log.Error(jctx, h.logger, "session_journal_failed", "Failed to record session end", err)
					}
				}()
			}
		}
	}

	conn.finishClose()
	log.Info(contextx.WithConnectionID(ctx, conn.ID), h.logger, "connection_closed",
		fmt.Sprintf("%s connection closed", conn.Role))
}

// onDeliveryFailure handles a failed send to one connection. The failure is
// isolated: only this connection transitions to Closing.
func (h *Hub) onDeliveryFailure(conn *Connection, err error) {
	ctx := contextx.WithConnectionID(context.Background(), conn.ID)
	if !errors.Is(err, context.Canceled) {
		log.Error(ctx, h.logger, "delivery_failed", "Dropping connection after failed delivery", err)
	}
	h.closeConn(ctx, conn)
}

func (h *Hub) applyRetention(ctx context.Context, deviceID DeviceID) {
	// another live connection for the same device keeps the entry fresh
	if h.deviceStillConnected(deviceID) {
		return
	}

	switch h.retention {
	case RetainTTL:
		h.scheduleEviction(ctx, deviceID)
	default:
		if h.store.Evict(deviceID) {
			log.Info(ctx, h.logger, "position_evicted",
				fmt.Sprintf("Evicted last position of device %s on disconnect", deviceID))
		}
	}
}

func (h *Hub) deviceStillConnected(deviceID DeviceID) bool {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()
	for _, c := range h.registry.conns {
		if c.Role == RoleDevice && c.DeviceID == deviceID {
			return true
		}
	}
	return false
}

func (h *Hub) scheduleEviction(ctx context.Context, deviceID DeviceID) {
	h.timerMu.Lock()
	defer h.timerMu.Unlock()

	if t, ok := h.evictTimers[deviceID]; ok {
		t.Stop()
	}
	h.evictTimers[deviceID] = time.AfterFunc(h.ttl, func() {
		h.timerMu.Lock()
		delete(h.evictTimers, deviceID)
		h.timerMu.Unlock()

		if h.store.Evict(deviceID) {
			log.Info(context.Background(), h.logger, "position_evicted",
				fmt.Sprintf("Evicted last position of device %s after TTL", deviceID))
		}
	})
	log.Info(ctx, h.logger, "eviction_scheduled",
		fmt.Sprintf("Device %s disconnected, last position retained for %s", deviceID, h.ttl))
}

func (h *Hub) cancelEviction(deviceID DeviceID) {
	h.timerMu.Lock()
	defer h.timerMu.Unlock()

	if t, ok := h.evictTimers[deviceID]; ok {
		t.Stop()
		delete(h.evictTimers, deviceID)
	}
}

// Snapshot exposes a consistent copy of all latest positions (admin/health
// surface).
func (h *Hub) Snapshot() map[DeviceID]Position {
	return h.store.Snapshot()
}

// ConnectionCount reports how many connections are registered.
func (h *Hub) ConnectionCount() int {
	return h.registry.Len()
}

// Store returns the hub-owned position store.
func (h *Hub) Store() *Store {
	return h.store
}

// Close tears down every connection and stops pending eviction timers.
func (h *Hub) Close(ctx context.Context) {
	h.registry.mu.RLock()
	conns := make([]*Connection, 0, len(h.registry.conns))
	for _, c := range h.registry.conns {
		conns = append(conns, c)
	}
	h.registry.mu.RUnlock()

	for _, c := range conns {
		h.closeConn(ctx, c)
	}

	h.timerMu.Lock()
	for id, t := range h.evictTimers {
		t.Stop()
		delete(h.evictTimers, id)
	}
	h.timerMu.Unlock()
}

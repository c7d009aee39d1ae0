package ws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackhub/internal/auth"
	"trackhub/internal/contracts"
	"trackhub/internal/hub"
)

type wsFixture struct {
	srv *httptest.Server
	hub *hub.Hub
	mgr *auth.Manager
}

func newWSFixture(t *testing.T, opts ...hub.Option) *wsFixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := hub.New(logger, opts...)
	mgr := auth.NewManager("ws-test-secret", time.Hour)

	mux := http.NewServeMux()
	NewHandler(logger, h, mgr).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		h.Close(context.Background())
	})

	return &wsFixture{srv: srv, hub: h, mgr: mgr}
}

func (f *wsFixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(f.srv.URL, "http", "ws", 1) + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

// authenticate performs the first-frame handshake and asserts success.
func (f *wsFixture) authenticate(t *testing.T, conn *websocket.Conn, subject string, role hub.Role) {
	t.Helper()

	signed, _, err := f.mgr.IssueToken(subject, role)
	require.NoError(t, err)

	frame := fmt.Sprintf(`{"type":"auth","token":"Bearer %s"}`, signed)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	var ack map[string]any
	readJSON(t, conn, &ack)
	require.Equal(t, "auth_success", ack["type"], "handshake reply: %v", ack)
	assert.Equal(t, subject, ack["subject"])
	assert.NotEmpty(t, ack["connection_id"])
}

func TestDeviceReportsAndObserverStreams(t *testing.T) {
	f := newWSFixture(t)

	device := f.dial(t, "/ws/device")
	f.authenticate(t, device, "device-1", hub.RoleDevice)

	report := `{"type":"position","device_id":"device-1","latitude":48.85,"longitude":2.35,"timestamp":100}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(report)))

	require.Eventually(t, func() bool {
		_, ok := f.hub.Store().Get("device-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	observer := f.dial(t, "/ws/observer")
	f.authenticate(t, observer, "operator-1", hub.RoleObserver)

	var snap contracts.SnapshotMessage
	readJSON(t, observer, &snap)
	require.Equal(t, contracts.TypeSnapshot, snap.Type)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "device-1", snap.Positions[0].DeviceID)
	assert.Equal(t, int64(100), snap.Positions[0].Timestamp)

	report = `{"type":"position","device_id":"device-1","latitude":48.86,"longitude":2.36,"timestamp":200}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(report)))

	var upd contracts.UpdateMessage
	readJSON(t, observer, &upd)
	require.Equal(t, contracts.TypeUpdate, upd.Type)
	assert.Equal(t, "device-1", upd.Position.DeviceID)
	assert.Equal(t, int64(200), upd.Position.Timestamp)
}

func TestStaleReportIsRefusedOverTheSocket(t *testing.T) {
	f := newWSFixture(t)

	device := f.dial(t, "/ws/device")
	f.authenticate(t, device, "device-1", hub.RoleDevice)

	fresh := `{"type":"position","device_id":"device-1","latitude":1,"longitude":1,"timestamp":100}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(fresh)))

	stale := `{"type":"position","device_id":"device-1","latitude":9,"longitude":9,"timestamp":50}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(stale)))

	var errMsg contracts.ErrorMessage
	readJSON(t, device, &errMsg)
	assert.Equal(t, contracts.TypeError, errMsg.Type)
	assert.Equal(t, contracts.ReasonStale, errMsg.Reason)

	got, ok := f.hub.Store().Get("device-1")
	require.True(t, ok)
	assert.Equal(t, float64(1), got.Latitude)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	f := newWSFixture(t)

	device := f.dial(t, "/ws/device")
	f.authenticate(t, device, "device-1", hub.RoleDevice)

	missingLon := `{"type":"position","device_id":"device-1","latitude":1,"timestamp":100}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(missingLon)))

	var errMsg contracts.ErrorMessage
	readJSON(t, device, &errMsg)
	assert.Equal(t, contracts.ReasonInvalidPayload, errMsg.Reason)

	// the same socket still accepts a valid report afterwards
	valid := `{"type":"position","device_id":"device-1","latitude":1,"longitude":2,"timestamp":100}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(valid)))

	require.Eventually(t, func() bool {
		_, ok := f.hub.Store().Get("device-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuthRejections(t *testing.T) {
	f := newWSFixture(t)

	t.Run("garbage first frame", func(t *testing.T) {
		conn := f.dial(t, "/ws/device")
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"position"}`)))

		var reply map[string]any
		readJSON(t, conn, &reply)
		assert.Equal(t, "auth_error", reply["type"])
		assert.Equal(t, false, reply["success"])
	})

	t.Run("observer token on device endpoint", func(t *testing.T) {
		signed, _, err := f.mgr.IssueToken("operator-1", hub.RoleObserver)
		require.NoError(t, err)

		conn := f.dial(t, "/ws/device")
		frame := fmt.Sprintf(`{"type":"auth","token":"Bearer %s"}`, signed)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

		var reply map[string]any
		readJSON(t, conn, &reply)
		assert.Equal(t, "auth_error", reply["type"])
	})

	t.Run("token without bearer wrap", func(t *testing.T) {
		signed, _, err := f.mgr.IssueToken("device-1", hub.RoleDevice)
		require.NoError(t, err)

		conn := f.dial(t, "/ws/device")
		frame := fmt.Sprintf(`{"type":"auth","token":%q}`, signed)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

		var reply map[string]any
		readJSON(t, conn, &reply)
		assert.Equal(t, "auth_error", reply["type"])
	})

	assert.Equal(t, 0, f.hub.ConnectionCount(), "rejected sockets never reach the hub")
}

func TestDeviceDisconnectEvictsPosition(t *testing.T) {
	f := newWSFixture(t) // evict policy by default

	device := f.dial(t, "/ws/device")
	f.authenticate(t, device, "device-1", hub.RoleDevice)

	report := `{"type":"position","device_id":"device-1","latitude":1,"longitude":1,"timestamp":100}`
	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte(report)))

	require.Eventually(t, func() bool {
		_, ok := f.hub.Store().Get("device-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, device.Close())

	require.Eventually(t, func() bool {
		return f.hub.Store().Len() == 0 && f.hub.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

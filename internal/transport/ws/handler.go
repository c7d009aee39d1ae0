package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trackhub/internal/auth"
	"trackhub/internal/common/contextx"
	"trackhub/internal/common/log"
	"trackhub/internal/hub"
)

const (
	authWindow = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 1 << 20 // 1 MiB
)

// Handler owns the socket endpoints. It is the transport collaborator: it
// upgrades, authenticates, keeps the connection alive, and shovels frames
// into the hub. Everything protocol-level lives in the hub.
type Handler struct {
	logger   *slog.Logger
	hub      *hub.Hub
	jwtMgr   *auth.Manager
	upgrader websocket.Upgrader
}

func NewHandler(logger *slog.Logger, h *hub.Hub, jwtMgr *auth.Manager) *Handler {
	return &Handler{
		logger: logger,
		hub:    h,
		jwtMgr: jwtMgr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches the socket endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/device", h.HandleDevice)
	mux.HandleFunc("/ws/observer", h.HandleObserver)
}

// HandleDevice serves a tracked device's socket.
func (h *Handler) HandleDevice(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, hub.RoleDevice)
}

// HandleObserver serves an observer's socket.
func (h *Handler) HandleObserver(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, hub.RoleObserver)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, role hub.Role) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(r.Context(), h.logger, "ws_upgrade_failed", "Failed to upgrade to WebSocket", err)
		return
	}
	defer conn.Close()

	// ---------------- auth phase ----------------
	conn.SetReadLimit(readLimit)
	if err := conn.SetReadDeadline(time.Now().Add(authWindow)); err != nil {
		log.Error(r.Context(), h.logger, "ws_set_deadline_failed", "Failed to set initial read deadline", err)
		return
	}

	msgType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		log.Error(r.Context(), h.logger, "ws_auth_timeout", "Client disconnected or timed out before authentication", err)
		h.sendAuthError(conn, "authentication timeout: send auth message within 5 seconds")
		return
	}
	if msgType != websocket.TextMessage {
		h.sendAuthError(conn, "auth message must be in text format")
		return
	}

	res, err := auth.ValidateWSAuth(firstFrame, h.jwtMgr, role)
	if err != nil {
		log.Error(r.Context(), h.logger, "ws_auth_failed", "Invalid auth message or token", err)
		h.sendAuthError(conn, "authentication failed: invalid token")
		return
	}

	// ---------------- registration ----------------
	connID := uuid.NewString()
	ctx := contextx.WithConnectionID(r.Context(), connID)
	sender := newSender(conn)

	// ack before attaching: once the hub owns the connection its write pump
	// may start sending (observer snapshot), and this socket write would race
	h.sendAuthSuccess(conn, connID, res.Claims.Subject)

	var hconn *hub.Connection
	switch role {
	case hub.RoleDevice:
		hconn, err = h.hub.AttachDevice(ctx, connID, hub.DeviceID(res.Claims.Subject), sender)
	default:
		hconn, err = h.hub.AttachObserver(ctx, connID, sender)
	}
	if err != nil {
		log.Error(ctx, h.logger, "ws_register_failed", "Connection rejected at registration", err)
		h.sendAuthError(conn, fmt.Sprintf("registration failed: %v", err))
		return
	}
	defer h.hub.Disconnect(ctx, connID)

	log.Info(ctx, h.logger, "ws_connected", fmt.Sprintf("%s WebSocket connected", role))

	// ---------------- keep-alive phase ----------------
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				if err := sender.ping(); err != nil {
					// close the socket to unblock the reader; goroutine exits
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// ---------------- read loop ----------------
	for {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error(ctx, h.logger, "ws_unexpected_close", "Connection closed unexpectedly", err)
			} else {
				log.Info(ctx, h.logger, "ws_connection_closed", "Connection closed")
			}
			return
		}

		// boundary rejections are reported to the sender by the hub;
		// the connection stays open
		_ = h.hub.HandleMessage(ctx, hconn, payload)
	}
}

// sendAuthError reports an auth-phase failure before the connection ever
// reaches the hub.
func (h *Handler) sendAuthError(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(map[string]any{
		"type":    "auth_error",
		"error":   message,
		"success": false,
	})
}

func (h *Handler) sendAuthSuccess(conn *websocket.Conn, connID, subject string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(map[string]any{
		"type":          "auth_success",
		"success":       true,
		"connection_id": connID,
		"subject":       subject,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

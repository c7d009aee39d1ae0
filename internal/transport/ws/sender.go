package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 5 * time.Second
	ctrlTimeout  = 5 * time.Second
)

// wsSender adapts one gorilla connection to the hub's Sender port.
// The mutex serializes data writes; control frames are safe concurrently.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn}
}

func (s *wsSender) Send(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *wsSender) Close() error {
	deadline := time.Now().Add(ctrlTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
	return s.conn.Close()
}

func (s *wsSender) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
}

// Package server adapts gorilla WebSocket connections to the relay transport
// so browser clients share the registry with TCP clients.
package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/relay"
)

const (
	closeGracePeriod = time.Second
	pingPeriod       = 54 * time.Second
)

// wsTransport frames one chat message per WebSocket text frame.
type wsTransport struct {
	conn      *websocket.Conn
	addr      string
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSTransport(conn *websocket.Conn, addr string, maxMessageSize int64) *wsTransport {
	conn.SetReadLimit(maxMessageSize)
	t := &wsTransport{conn: conn, addr: addr, done: make(chan struct{})}
	go t.keepAlive(pingPeriod)
	return t
}

// keepAlive pings the peer so intermediaries keep the socket open.
func (t *wsTransport) keepAlive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGracePeriod)); err != nil {
				return
			}
		}
	}
}

// ReadMessage returns the next text or binary frame as UTF-8 text. Close
// frames from the peer surface as io.EOF and an oversized frame as
// relay.ErrMessageTooLong.
func (t *wsTransport) ReadMessage() (string, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", translateReadError(err)
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}
		return string(data), nil
	}
}

func translateReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return relay.ErrMessageTooLong
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return errors.Join(relay.ErrPeerClosed, err)
	}
	return err
}

func (t *wsTransport) WriteMessage(msg string) error {
	return t.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (t *wsTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

func (t *wsTransport) SetWriteDeadline(d time.Time) error {
	return t.conn.SetWriteDeadline(d)
}

func (t *wsTransport) RemoteAddr() string {
	return t.addr
}

// Close sends a best-effort close frame and closes the socket once.
// WriteControl may run concurrently with the session's write loop.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

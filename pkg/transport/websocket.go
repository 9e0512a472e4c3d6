package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/pkg/log"
)

// WebSocket defaults.
const (
	DefaultWebSocketPath = "/fitdis"
	WebSocketWriteWait   = 2 * time.Second
)

// WebSocketLink carries one frame per binary WebSocket message.
type WebSocketLink struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	frameLog

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketLink wraps an established connection.
func NewWebSocketLink(conn *websocket.Conn) *WebSocketLink {
	conn.SetReadLimit(DefaultMaxFrameSize)
	return &WebSocketLink{conn: conn}
}

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, url string) (*WebSocketLink, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return NewWebSocketLink(conn), nil
}

// SetLogger enables frame capture on this link. Call before use.
func (l *WebSocketLink) SetLogger(logger log.Logger, connID string, role log.Role) {
	l.frameLog = frameLog{logger: logger, connID: connID, role: role}
}

// ReadFrame returns the next binary message. Text messages are skipped.
// A normal close from the peer is reported as io.EOF.
func (l *WebSocketLink) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			return nil, ErrMessageEmpty
		}
		l.log(data, log.DirectionIn)
		return data, nil
	}
}

// WriteFrame sends data as a single binary message.
func (l *WebSocketLink) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > DefaultMaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), DefaultMaxFrameSize)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	_ = l.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteWait))
	if err := l.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	l.log(data, log.DirectionOut)
	return nil
}

// RemoteAddr returns the peer address.
func (l *WebSocketLink) RemoteAddr() string {
	if addr := l.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close sends a close message (best effort) and closes the connection.
func (l *WebSocketLink) Close() error {
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(WebSocketWriteWait))
		l.writeMu.Unlock()
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

// WebSocketHandler upgrades HTTP requests and hands each link to OnLink.
// OnLink runs on the request goroutine and owns the link until it returns.
type WebSocketHandler struct {
	OnLink func(link *WebSocketLink)
	Logger logrus.FieldLogger

	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a handler. The link is local and already
// paired, so origin checks are disabled.
func NewWebSocketHandler(onLink func(link *WebSocketLink)) *WebSocketHandler {
	return &WebSocketHandler{
		OnLink: onLink,
		Logger: logrus.StandardLogger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  DefaultMaxFrameSize,
			WriteBufferSize: DefaultMaxFrameSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.WithError(err).WithField("remote", r.RemoteAddr).Warn("websocket upgrade failed")
		return
	}
	link := NewWebSocketLink(conn)
	defer link.Close()

	if h.OnLink != nil {
		h.OnLink(link)
	}
}

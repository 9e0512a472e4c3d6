package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/fitdis/fitdis-go/pkg/log"
)

// StreamLink frames a byte stream (TCP socket, pipe) into a Link.
type StreamLink struct {
	rwc    io.ReadWriteCloser
	framer *Framer
	remote string

	closeOnce sync.Once
	closeErr  error
}

// NewStreamLink wraps rwc. If rwc is a net.Conn its remote address is recorded.
func NewStreamLink(rwc io.ReadWriteCloser) *StreamLink {
	l := &StreamLink{
		rwc:    rwc,
		framer: NewFramer(rwc, DefaultMaxFrameSize),
	}
	if conn, ok := rwc.(net.Conn); ok && conn.RemoteAddr() != nil {
		l.remote = conn.RemoteAddr().String()
	}
	return l
}

// DialTCP connects to address and returns a StreamLink.
func DialTCP(ctx context.Context, address string) (*StreamLink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return NewStreamLink(conn), nil
}

// Pipe returns two connected in-memory links.
func Pipe() (*StreamLink, *StreamLink) {
	a, b := net.Pipe()
	return NewStreamLink(a), NewStreamLink(b)
}

// SetLogger enables frame capture on this link.
func (l *StreamLink) SetLogger(logger log.Logger, connID string, role log.Role) {
	l.framer.SetLogger(logger, connID, role)
}

// ReadFrame reads the next frame.
func (l *StreamLink) ReadFrame() ([]byte, error) {
	return l.framer.ReadFrame()
}

// WriteFrame writes one frame.
func (l *StreamLink) WriteFrame(data []byte) error {
	return l.framer.WriteFrame(data)
}

// RemoteAddr returns the peer address, if known.
func (l *StreamLink) RemoteAddr() string {
	return l.remote
}

// Close closes the underlying stream. Safe to call more than once.
func (l *StreamLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.rwc.Close()
	})
	return l.closeErr
}

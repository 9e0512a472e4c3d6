package transport

// Link is a bidirectional, message-preserving connection to the peer.
// Implemented by StreamLink and WebSocketLink.
type Link interface {
	// ReadFrame blocks for the next frame. Only one goroutine may call it.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one frame. Safe for concurrent use.
	WriteFrame(data []byte) error

	// RemoteAddr describes the peer, or "" if unknown.
	RemoteAddr() string

	// Close closes the link and unblocks ReadFrame.
	Close() error
}

// Handler receives channel outcomes. All methods are invoked through the
// channel's dispatcher, never concurrently, and never after Close.
type Handler interface {
	// OnReceived delivers one inbound payload. The slice is owned by the callee.
	OnReceived(data []byte)

	// OnSendComplete reports that the peer acknowledged the in-flight message.
	OnSendComplete()

	// OnSendFailed reports that the in-flight message was not delivered.
	OnSendFailed(err error)

	// OnReceiveFailed reports an inbound failure or loss of the link.
	OnReceiveFailed(err error)
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ Link            = (*StreamLink)(nil)
	_ Link            = (*WebSocketLink)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)

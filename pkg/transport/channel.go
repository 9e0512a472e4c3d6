package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/pkg/eventloop"
	"github.com/fitdis/fitdis-go/pkg/log"
)

// Channel errors.
var (
	ErrTooLarge        = errors.New("message exceeds outbound capacity")
	ErrChannelBusy     = errors.New("channel busy")
	ErrLinkDown        = errors.New("link down")
	ErrSendTimeout     = errors.New("send timed out")
	ErrRejected        = errors.New("message rejected by peer")
	ErrInboundOverflow = errors.New("inbound message exceeds capacity")
	ErrNegotiation     = errors.New("capacity negotiation failed")
	ErrInvalidConfig   = errors.New("invalid channel config")
)

// Channel defaults. The device receives more than it sends.
const (
	DefaultDeviceInbound    = 64
	DefaultDeviceOutbound   = 16
	DefaultNegotiateTimeout = 5 * time.Second
	DefaultAckTimeout       = 3 * time.Second

	// MaxCapacity is the largest payload a frame can carry after the packet header.
	MaxCapacity = DefaultMaxFrameSize - PacketHeaderSize

	writeQueueSize = 4
)

// ChannelState is the lifecycle state of a channel.
type ChannelState int

const (
	StateNegotiating ChannelState = iota
	StateOpen
	StateDown
	StateClosed
)

// String returns the state name.
func (s ChannelState) String() string {
	switch s {
	case StateNegotiating:
		return "NEGOTIATING"
	case StateOpen:
		return "OPEN"
	case StateDown:
		return "DOWN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a channel.
type Config struct {
	// InboundCapacity is the largest payload we accept.
	InboundCapacity int

	// OutboundCapacity is the largest payload we send.
	OutboundCapacity int

	// NegotiateTimeout bounds the HELLO exchange (default: 5s).
	NegotiateTimeout time.Duration

	// AckTimeout is how long a PUSH may stay unacknowledged (default: 3s).
	AckTimeout time.Duration

	// Role is recorded in protocol log events.
	Role log.Role

	// ConnectionID identifies the channel in logs (generated if empty).
	ConnectionID string

	// ProtocolLogger receives packet and state events (optional).
	ProtocolLogger log.Logger

	// Logger is the operational logger (default: logrus standard logger).
	Logger logrus.FieldLogger
}

// DefaultDeviceConfig returns the device side configuration (64 in, 16 out).
func DefaultDeviceConfig() Config {
	return Config{
		InboundCapacity:  DefaultDeviceInbound,
		OutboundCapacity: DefaultDeviceOutbound,
		NegotiateTimeout: DefaultNegotiateTimeout,
		AckTimeout:       DefaultAckTimeout,
		Role:             log.RoleDevice,
	}
}

// DefaultHostConfig returns the host side configuration, mirroring the device.
func DefaultHostConfig() Config {
	return Config{
		InboundCapacity:  DefaultDeviceOutbound,
		OutboundCapacity: DefaultDeviceInbound,
		NegotiateTimeout: DefaultNegotiateTimeout,
		AckTimeout:       DefaultAckTimeout,
		Role:             log.RoleHost,
	}
}

func (c Config) withDefaults() Config {
	if c.NegotiateTimeout <= 0 {
		c.NegotiateTimeout = DefaultNegotiateTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.ConnectionID == "" {
		c.ConnectionID = uuid.New().String()
	}
	if c.ProtocolLogger == nil {
		c.ProtocolLogger = log.NoopLogger{}
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Validate checks capacities.
func (c Config) Validate() error {
	if c.InboundCapacity <= 0 || c.InboundCapacity > MaxCapacity {
		return fmt.Errorf("%w: inbound capacity %d not in 1..%d", ErrInvalidConfig, c.InboundCapacity, MaxCapacity)
	}
	if c.OutboundCapacity <= 0 || c.OutboundCapacity > MaxCapacity {
		return fmt.Errorf("%w: outbound capacity %d not in 1..%d", ErrInvalidConfig, c.OutboundCapacity, MaxCapacity)
	}
	return nil
}

// Channel is an open, negotiated message channel.
type Channel struct {
	link       Link
	config     Config
	dispatcher eventloop.Dispatcher
	handler    Handler
	logger     logrus.FieldLogger

	inbound  int
	outbound int

	mu       sync.Mutex
	state    ChannelState
	inFlight bool
	txid     uint8
	ackTimer *time.Timer

	writeCh   chan []byte // ACK/NACK replies
	pushCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Open negotiates capacities with the peer over link and starts the
// channel. Handler callbacks are delivered through dispatcher. On failure
// the link is closed.
func Open(ctx context.Context, link Link, config Config, dispatcher eventloop.Dispatcher, handler Handler) (*Channel, error) {
	if err := config.Validate(); err != nil {
		link.Close()
		return nil, err
	}
	config = config.withDefaults()

	c := &Channel{
		link:       link,
		config:     config,
		dispatcher: dispatcher,
		handler:    handler,
		logger: config.Logger.WithFields(logrus.Fields{
			"conn_id": config.ConnectionID,
			"role":    config.Role.String(),
		}),
		state:   StateNegotiating,
		writeCh: make(chan []byte, writeQueueSize),
		pushCh:  make(chan []byte, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.logState("", StateNegotiating, "")

	peer, err := c.negotiate(ctx)
	if err != nil {
		c.logError(err, "negotiate")
		link.Close()
		return nil, err
	}

	c.outbound = min(config.OutboundCapacity, peer.Inbound)
	c.inbound = min(config.InboundCapacity, peer.Outbound)

	c.mu.Lock()
	c.state = StateOpen
	c.mu.Unlock()
	c.logState(StateNegotiating.String(), StateOpen,
		fmt.Sprintf("inbound=%d outbound=%d", c.inbound, c.outbound))
	c.logger.WithFields(logrus.Fields{
		"inbound":  c.inbound,
		"outbound": c.outbound,
		"remote":   link.RemoteAddr(),
	}).Info("channel open")

	go c.writeLoop()
	go c.readLoop()

	return c, nil
}

func (c *Channel) negotiate(ctx context.Context) (hello, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.NegotiateTimeout)
	defer cancel()

	local := hello{
		Version:  ProtocolVersion,
		Inbound:  c.config.InboundCapacity,
		Outbound: c.config.OutboundCapacity,
	}

	// Write and read concurrently: on a synchronous pipe both peers write
	// their HELLO first.
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- c.link.WriteFrame(encodeHello(local))
	}()

	type result struct {
		h   hello
		err error
	}
	readCh := make(chan result, 1)
	go func() {
		frame, err := c.link.ReadFrame()
		if err != nil {
			readCh <- result{err: err}
			return
		}
		p, err := decodePacket(frame)
		if err != nil {
			readCh <- result{err: err}
			return
		}
		h, err := decodeHello(p)
		readCh <- result{h: h, err: err}
	}()

	var peer hello
	select {
	case <-ctx.Done():
		c.link.Close()
		return hello{}, fmt.Errorf("%w: %w", ErrNegotiation, ctx.Err())
	case r := <-readCh:
		if r.err != nil {
			return hello{}, fmt.Errorf("%w: %w", ErrNegotiation, r.err)
		}
		peer = r.h
	}

	select {
	case <-ctx.Done():
		c.link.Close()
		return hello{}, fmt.Errorf("%w: %w", ErrNegotiation, ctx.Err())
	case err := <-writeErr:
		if err != nil {
			return hello{}, fmt.Errorf("%w: %w", ErrNegotiation, err)
		}
	}

	c.logPacket(log.DirectionOut, PacketHello, 0, helloBodySize)
	c.logPacket(log.DirectionIn, PacketHello, 0, helloBodySize)

	if peer.Version != ProtocolVersion {
		return hello{}, fmt.Errorf("%w: peer version %d, want %d", ErrNegotiation, peer.Version, ProtocolVersion)
	}
	if peer.Inbound <= 0 || peer.Outbound <= 0 {
		return hello{}, fmt.Errorf("%w: peer capacities %d/%d", ErrNegotiation, peer.Inbound, peer.Outbound)
	}
	return peer, nil
}

// Send hands data to the link and returns immediately. A nil result means
// the message was accepted for transmission, not that the peer has it; the
// outcome arrives later via OnSendComplete or OnSendFailed.
func (c *Channel) Send(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return fmt.Errorf("%w: channel %s", ErrLinkDown, c.state)
	}
	if len(data) > c.outbound {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(data), c.outbound)
	}
	if c.inFlight {
		return ErrChannelBusy
	}

	txid := c.txid + 1
	select {
	case c.pushCh <- encodePacket(PacketPush, txid, data):
	default:
		// The previous push timed out before the link took it.
		return ErrChannelBusy
	}

	c.txid = txid
	c.inFlight = true
	c.ackTimer = time.AfterFunc(c.config.AckTimeout, func() {
		c.finishSend(txid, ErrSendTimeout)
	})
	return nil
}

// InFlight reports whether a sent message is awaiting its outcome.
func (c *Channel) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// State returns the current channel state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InboundCapacity returns the negotiated inbound capacity.
func (c *Channel) InboundCapacity() int { return c.inbound }

// OutboundCapacity returns the negotiated outbound capacity.
func (c *Channel) OutboundCapacity() int { return c.outbound }

// ConnectionID returns the id used in log events.
func (c *Channel) ConnectionID() string { return c.config.ConnectionID }

// Done is closed when the channel stops reading from the link.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close closes the channel and its link. An in-flight send is abandoned and
// no handler callback fires after Close returns.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	old := c.state
	c.state = StateClosed
	c.inFlight = false
	c.stopAckTimerLocked()
	c.mu.Unlock()

	c.logState(old.String(), StateClosed, "local close")
	return c.shutdown()
}

func (c *Channel) shutdown() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.closeErr = c.link.Close()
	})
	return c.closeErr
}

func (c *Channel) stopAckTimerLocked() {
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
}

// finishSend resolves the in-flight message txid. Stale ids are ignored.
func (c *Channel) finishSend(txid uint8, err error) {
	c.mu.Lock()
	if c.state != StateOpen || !c.inFlight || c.txid != txid {
		c.mu.Unlock()
		return
	}
	c.inFlight = false
	c.stopAckTimerLocked()
	c.mu.Unlock()

	if err != nil {
		c.logError(err, "send")
		c.post(func() { c.handler.OnSendFailed(err) })
		return
	}
	c.post(c.handler.OnSendComplete)
}

// fail marks the link down and reports it exactly once.
func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateDown
	wasInFlight := c.inFlight
	c.inFlight = false
	c.stopAckTimerLocked()
	c.mu.Unlock()

	_ = c.shutdown()
	c.logState(StateOpen.String(), StateDown, err.Error())
	if IsClosed(err) {
		c.logger.WithError(err).Info("link closed by peer")
	} else {
		c.logger.WithError(err).Warn("link failed")
	}

	if wasInFlight {
		c.post(func() { c.handler.OnSendFailed(err) })
		return
	}
	c.post(func() { c.handler.OnReceiveFailed(err) })
}

// post delivers fn on the dispatcher unless the channel was closed first.
func (c *Channel) post(fn func()) {
	c.dispatcher.Post(func() {
		if c.State() == StateClosed {
			return
		}
		fn()
	})
}

func (c *Channel) enqueue(pkt []byte) {
	select {
	case c.writeCh <- pkt:
	case <-c.closeCh:
	}
}

func (c *Channel) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case pkt := <-c.writeCh:
			if !c.write(pkt) {
				return
			}
		case pkt := <-c.pushCh:
			if !c.write(pkt) {
				return
			}
		}
	}
}

func (c *Channel) write(pkt []byte) bool {
	if err := c.link.WriteFrame(pkt); err != nil {
		c.fail(fmt.Errorf("%w: %w", ErrLinkDown, err))
		return false
	}
	c.logPacket(log.DirectionOut, PacketKind(pkt[0]), pkt[1], len(pkt)-PacketHeaderSize)
	return true
}

func (c *Channel) readLoop() {
	defer close(c.done)

	for {
		frame, err := c.link.ReadFrame()
		if errors.Is(err, ErrMessageEmpty) {
			// The prefix was consumed, so the stream is still in step.
			err = fmt.Errorf("%w: %w", ErrMalformedPacket, err)
			c.logError(err, "read frame")
			c.post(func() { c.handler.OnReceiveFailed(err) })
			continue
		}
		if err != nil {
			c.fail(fmt.Errorf("%w: %w", ErrLinkDown, err))
			return
		}

		p, err := decodePacket(frame)
		if err != nil {
			c.logError(err, "decode packet")
			c.post(func() { c.handler.OnReceiveFailed(err) })
			continue
		}
		c.logPacket(log.DirectionIn, p.Kind, p.TxID, len(p.Body))

		switch p.Kind {
		case PacketPush:
			c.handlePush(p)
		case PacketAck:
			c.finishSend(p.TxID, nil)
		case PacketNack:
			c.finishSend(p.TxID, ErrRejected)
		case PacketHello:
			c.logger.Debug("ignoring HELLO after negotiation")
		}
	}
}

func (c *Channel) handlePush(p packet) {
	if len(p.Body) > c.inbound {
		c.enqueue(encodePacket(PacketNack, p.TxID, nil))
		err := fmt.Errorf("%w: %d > %d", ErrInboundOverflow, len(p.Body), c.inbound)
		c.logError(err, "receive")
		c.post(func() { c.handler.OnReceiveFailed(err) })
		return
	}

	// The delivery is queued before the ACK goes out.
	data := p.Body
	c.post(func() { c.handler.OnReceived(data) })
	c.enqueue(encodePacket(PacketAck, p.TxID, nil))
}

func (c *Channel) logPacket(dir log.Direction, kind PacketKind, txid uint8, size int) {
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.config.ConnectionID,
		Direction:    dir,
		Layer:        log.LayerChannel,
		Category:     packetCategory(kind),
		LocalRole:    c.config.Role,
		RemoteAddr:   c.link.RemoteAddr(),
		Packet:       &log.PacketEvent{Kind: kind.String(), TxID: txid, Size: size},
	})
}

func (c *Channel) logState(old string, state ChannelState, reason string) {
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.config.ConnectionID,
		Layer:        log.LayerChannel,
		Category:     log.CategoryState,
		LocalRole:    c.config.Role,
		RemoteAddr:   c.link.RemoteAddr(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityChannel,
			OldState: old,
			NewState: state.String(),
			Reason:   reason,
		},
	})
}

func (c *Channel) logError(err error, op string) {
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.config.ConnectionID,
		Layer:        log.LayerChannel,
		Category:     log.CategoryError,
		LocalRole:    c.config.Role,
		Error: &log.ErrorEventData{
			Layer:   log.LayerChannel,
			Message: err.Error(),
			Kind:    ErrorName(err),
			Context: op,
		},
	})
}

func packetCategory(kind PacketKind) log.Category {
	if kind == PacketPush {
		return log.CategoryMessage
	}
	return log.CategoryControl
}

// ErrorName returns a short stable name for channel errors, for logs.
func ErrorName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTooLarge):
		return "TOO_LARGE"
	case errors.Is(err, ErrChannelBusy):
		return "CHANNEL_BUSY"
	case errors.Is(err, ErrLinkDown):
		return "LINK_DOWN"
	case errors.Is(err, ErrSendTimeout):
		return "SEND_TIMEOUT"
	case errors.Is(err, ErrRejected):
		return "REJECTED"
	case errors.Is(err, ErrInboundOverflow):
		return "INBOUND_OVERFLOW"
	case errors.Is(err, ErrMalformedPacket):
		return "MALFORMED_PACKET"
	case errors.Is(err, ErrNegotiation):
		return "NEGOTIATION"
	default:
		return "UNKNOWN"
	}
}

// IsClosed reports whether err is an orderly close rather than a fault.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

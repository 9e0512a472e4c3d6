// Package device runs the watch side: one event loop driving the sync
// session and the channel to the host.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/pkg/eventloop"
	"github.com/fitdis/fitdis-go/pkg/kvsync"
	"github.com/fitdis/fitdis-go/pkg/log"
	"github.com/fitdis/fitdis-go/pkg/transport"
	"github.com/fitdis/fitdis-go/pkg/wire"
)

// App errors.
var (
	ErrClosed     = errors.New("device app closed")
	ErrNotRunning = errors.New("event loop not running")
	ErrNoHost     = errors.New("no host attached")
)

// Config configures the device app.
type Config struct {
	// Seed is the initial dictionary (default: {0: "-"}).
	Seed []wire.Tuplet

	// BufferSize is the sync buffer capacity (default: 32).
	BufferSize int

	// Interest lists the keys that raise change callbacks (default: seed keys).
	Interest []uint32

	// Channel configures links attached to the app.
	Channel transport.Config

	// QueueSize is the event loop queue size (default: eventloop.DefaultQueueSize).
	QueueSize int

	// Logger is the operational logger (default: logrus standard logger).
	Logger logrus.FieldLogger

	// ProtocolLogger captures channel and sync events (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the heart rate watch configuration.
func DefaultConfig() Config {
	return Config{
		Seed:       []wire.Tuplet{wire.CString(0, "-")},
		BufferSize: kvsync.DefaultBufferSize,
		Channel:    transport.DefaultDeviceConfig(),
	}
}

// App owns the event loop, the sync session and the current channel. It is
// the channel's transport.Handler; all callbacks run on the loop.
type App struct {
	config  Config
	loop    *eventloop.Loop
	session *kvsync.Session
	logger  logrus.FieldLogger

	mu      sync.Mutex
	channel *transport.Channel
	outBuf  []byte
	closed  bool
}

// New creates the app and its session. Changes and sync errors go to handler.
func New(config Config, handler kvsync.Handler) (*App, error) {
	if config.Seed == nil {
		config.Seed = DefaultConfig().Seed
	}
	if config.BufferSize <= 0 {
		config.BufferSize = kvsync.DefaultBufferSize
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	config.ProtocolLogger = log.OrNoop(config.ProtocolLogger)

	opts := []kvsync.Option{
		kvsync.WithLogger(config.Logger.WithField("component", "sync")),
		kvsync.WithProtocolLogger(config.ProtocolLogger, uuid.New().String()),
	}
	if len(config.Interest) > 0 {
		opts = append(opts, kvsync.WithInterest(config.Interest...))
	}

	session, err := kvsync.NewSession(config.Seed, make([]byte, config.BufferSize), handler, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync session: %w", err)
	}

	loop := eventloop.New(config.QueueSize)
	loop.SetLogger(config.Logger)

	return &App{
		config:  config,
		loop:    loop,
		session: session,
		logger:  config.Logger.WithField("component", "device"),
	}, nil
}

// Run processes events until ctx is done or Close is called.
func (a *App) Run(ctx context.Context) error {
	return a.loop.Run(ctx)
}

// Attach negotiates a channel over link and makes it the current one. A
// previously attached channel is closed.
func (a *App) Attach(ctx context.Context, link transport.Link, connID string) (*transport.Channel, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		link.Close()
		return nil, ErrClosed
	}

	config := a.config.Channel
	config.Role = log.RoleDevice
	config.ConnectionID = connID
	config.Logger = a.config.Logger
	config.ProtocolLogger = a.config.ProtocolLogger

	ch, err := transport.Open(ctx, link, config, a.loop, a)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		ch.Close()
		return nil, ErrClosed
	}
	prev := a.channel
	a.channel = ch
	a.outBuf = make([]byte, ch.OutboundCapacity())
	a.mu.Unlock()

	if prev != nil {
		a.logger.WithField("conn_id", prev.ConnectionID()).Info("replacing host channel")
		prev.Close()
	}
	return ch, nil
}

// Serve attaches link and blocks until the channel goes down or ctx is done.
func (a *App) Serve(ctx context.Context, link transport.Link, connID string) error {
	ch, err := a.Attach(ctx, link, connID)
	if err != nil {
		return err
	}
	select {
	case <-ch.Done():
	case <-ctx.Done():
		ch.Close()
	}
	return nil
}

// Publish encodes tuplets into a buffer sized to the channel's outbound
// capacity and sends it to the host. Failures are also reported through
// the sync error path. The outcome of an accepted send arrives later.
func (a *App) Publish(tuplets []wire.Tuplet) error {
	var err error
	if !a.loop.Call(func() { err = a.publish(tuplets) }) {
		return ErrNotRunning
	}
	return err
}

func (a *App) publish(tuplets []wire.Tuplet) error {
	if a.session.Closed() {
		return ErrClosed
	}

	a.mu.Lock()
	ch, buf := a.channel, a.outBuf
	a.mu.Unlock()

	if ch == nil {
		err := fmt.Errorf("%w: %w", transport.ErrLinkDown, ErrNoHost)
		a.session.ReportTransportError(err)
		return err
	}

	n, err := wire.Encode(tuplets, buf)
	if err != nil {
		a.session.ReportTransportError(err)
		return err
	}
	if err := ch.Send(buf[:n]); err != nil {
		a.session.ReportTransportError(err)
		return err
	}
	return nil
}

// Snapshot returns owned copies of the held dictionary.
func (a *App) Snapshot() ([]wire.Tuplet, error) {
	var tuplets []wire.Tuplet
	if !a.loop.Call(func() { tuplets = a.session.Snapshot() }) {
		return nil, ErrNotRunning
	}
	return tuplets, nil
}

// Channel returns the current channel, or nil.
func (a *App) Channel() *transport.Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel
}

// Close tears down the session, then the channel, then stops the loop.
// Events still queued are dropped. Must not be called from a loop callback.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	ch := a.channel
	a.channel = nil
	a.mu.Unlock()

	if !a.loop.Running() || !a.loop.Call(a.session.Close) {
		a.session.Close()
	}

	var err error
	if ch != nil {
		err = ch.Close()
	}
	a.loop.Stop()
	a.logger.Info("device app closed")
	return err
}

// OnReceived applies an inbound dictionary.
func (a *App) OnReceived(data []byte) {
	if err := a.session.ApplyIncoming(data); errors.Is(err, kvsync.ErrSessionClosed) {
		a.logger.Debug("dropping message after teardown")
	}
}

// OnSendComplete logs the acknowledgement.
func (a *App) OnSendComplete() {
	a.logger.Debug("publish acknowledged")
}

// OnSendFailed reports the failed send through the sync error path.
func (a *App) OnSendFailed(err error) {
	a.session.ReportTransportError(err)
}

// OnReceiveFailed reports the inbound failure through the sync error path.
func (a *App) OnReceiveFailed(err error) {
	a.session.ReportTransportError(err)
}

var _ transport.Handler = (*App)(nil)

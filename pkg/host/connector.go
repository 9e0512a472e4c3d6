package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/pkg/transport"
	"github.com/fitdis/fitdis-go/pkg/wire"
)

// Connector errors.
var (
	ErrNotConnected = errors.New("not connected to device")
	ErrClosed       = errors.New("connector closed")
	ErrRunning      = errors.New("connector already running")
)

// ConnState is the connector lifecycle state.
type ConnState uint8

const (
	// StateDisconnected: not started yet.
	StateDisconnected ConnState = iota

	// StateConnecting: first dial in progress.
	StateConnecting

	// StateConnected: a channel is open.
	StateConnected

	// StateReconnecting: the link dropped and the connector is redialing.
	StateReconnecting

	// StateClosed: Run returned.
	StateClosed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc opens a fresh link to the device.
type DialFunc func(ctx context.Context) (transport.Link, error)

// ReconnectConfig is the redial policy. Attempts continue until the
// context passed to Run is done.
type ReconnectConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64

	// DialTimeout bounds one dial plus negotiation (default 10s).
	DialTimeout time.Duration
}

// DefaultReconnectConfig returns 500ms doubling up to 30s with 25% jitter.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		JitterPercent: 25,
		DialTimeout:   10 * time.Second,
	}
}

func (c ReconnectConfig) backoff() retry.Backoff {
	initial := c.InitialDelay
	if initial <= 0 {
		initial = DefaultReconnectConfig().InitialDelay
	}
	b := retry.NewExponential(initial)
	if c.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.MaxDelay, b)
	}
	if c.JitterPercent > 0 {
		b = retry.WithJitterPercent(c.JitterPercent, b)
	}
	return b
}

// Connector keeps one publisher connected to the device, redialing when
// the channel goes down. Publishes while disconnected fail with
// ErrNotConnected (wrapping transport.ErrLinkDown).
type Connector struct {
	dial      DialFunc
	config    Config
	reconnect ReconnectConfig
	logger    logrus.FieldLogger

	mu            sync.RWMutex
	running       bool
	state         ConnState
	publisher     *Publisher
	connected     chan struct{}
	attempts      int
	onStateChange func(old, new ConnState)
}

// NewConnector creates a connector. Nothing is dialed until Run.
func NewConnector(dial DialFunc, config Config, reconnect ReconnectConfig) *Connector {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if reconnect.DialTimeout <= 0 {
		reconnect.DialTimeout = DefaultReconnectConfig().DialTimeout
	}
	return &Connector{
		dial:      dial,
		config:    config,
		reconnect: reconnect,
		logger:    config.Logger.WithField("component", "connector"),
		state:     StateDisconnected,
		connected: make(chan struct{}),
	}
}

// OnStateChange sets a callback for state transitions. Set it before Run.
func (c *Connector) OnStateChange(fn func(old, new ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// State returns the current state.
func (c *Connector) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Attempts returns the number of dials made since the last success.
func (c *Connector) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// Publisher returns the open publisher, or nil.
func (c *Connector) Publisher() *Publisher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publisher
}

// WaitConnected blocks until a channel is open or ctx is done.
func (c *Connector) WaitConnected(ctx context.Context) error {
	for {
		c.mu.RLock()
		state, ch := c.state, c.connected
		c.mu.RUnlock()

		switch state {
		case StateConnected:
			return nil
		case StateClosed:
			return ErrClosed
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run dials, serves the channel until it drops, and redials. It returns
// ctx.Err() once ctx is done.
func (c *Connector) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.state == StateClosed {
		c.mu.Unlock()
		return ErrRunning
	}
	c.running = true
	c.mu.Unlock()
	c.setState(StateConnecting)

	defer func() {
		c.mu.Lock()
		p := c.publisher
		c.publisher = nil
		c.mu.Unlock()
		if p != nil {
			p.Close()
		}
		c.setState(StateClosed)
	}()

	for {
		p, err := c.connect(ctx)
		if err != nil {
			return err
		}

		c.mu.Lock()
		c.publisher = p
		c.attempts = 0
		c.mu.Unlock()
		c.setState(StateConnected)

		select {
		case <-p.Done():
		case <-ctx.Done():
			return ctx.Err()
		}

		c.mu.Lock()
		c.publisher = nil
		c.mu.Unlock()
		p.Close()
		c.logger.Warn("device link lost, reconnecting...")
		c.setState(StateReconnecting)
	}
}

// connect dials until a channel opens or ctx is done.
func (c *Connector) connect(ctx context.Context) (*Publisher, error) {
	var p *Publisher
	err := retry.Do(ctx, c.reconnect.backoff(), func(ctx context.Context) error {
		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(ctx, c.reconnect.DialTimeout)
		defer cancel()

		link, err := c.dial(dialCtx)
		if err != nil {
			c.logger.WithError(err).WithField("attempt", attempt).Info("dial failed")
			return retry.RetryableError(err)
		}
		opened, err := Open(dialCtx, link, c.config)
		if err != nil {
			link.Close()
			c.logger.WithError(err).WithField("attempt", attempt).Warn("channel negotiation failed")
			return retry.RetryableError(err)
		}
		p = opened
		return nil
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return p, err
}

func (c *Connector) setState(s ConnState) {
	c.mu.Lock()
	old := c.state
	if old == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	if s == StateConnected || s == StateClosed {
		close(c.connected)
		if s == StateConnected {
			c.connected = make(chan struct{})
		}
	}
	fn := c.onStateChange
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"from": old.String(), "to": s.String()}).Debug("connector state")
	if fn != nil {
		fn(old, s)
	}
}

func (c *Connector) current() (*Publisher, error) {
	if p := c.Publisher(); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %w", transport.ErrLinkDown, ErrNotConnected)
}

// PublishHeartRate publishes on the current channel.
func (c *Connector) PublishHeartRate(ctx context.Context, bpm int) error {
	p, err := c.current()
	if err != nil {
		return err
	}
	return p.PublishHeartRate(ctx, bpm)
}

// Publish publishes tuplets on the current channel.
func (c *Connector) Publish(ctx context.Context, tuplets []wire.Tuplet) error {
	p, err := c.current()
	if err != nil {
		return err
	}
	return p.Publish(ctx, tuplets)
}

// SendRaw sends raw bytes on the current channel.
func (c *Connector) SendRaw(ctx context.Context, data []byte) error {
	p, err := c.current()
	if err != nil {
		return err
	}
	return p.SendRaw(ctx, data)
}

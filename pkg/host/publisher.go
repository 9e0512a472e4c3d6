// Package host implements the phone side: it publishes heart rate
// dictionaries to the device and owns the retry policy.
package host

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/pkg/eventloop"
	"github.com/fitdis/fitdis-go/pkg/log"
	"github.com/fitdis/fitdis-go/pkg/transport"
	"github.com/fitdis/fitdis-go/pkg/wire"
)

// HeartRateKey is the dictionary key the device displays.
const HeartRateKey uint32 = 0

// Config configures a publisher.
type Config struct {
	// Channel configures the host side of the channel.
	Channel transport.Config

	// Retry is the publish retry policy.
	Retry RetryConfig

	// OnDictionary receives dictionaries published by the device (optional).
	// It runs on the channel's read goroutine.
	OnDictionary func(dict *wire.Dictionary)

	// Logger is the operational logger (default: logrus standard logger).
	Logger logrus.FieldLogger

	// ProtocolLogger captures channel events (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the host defaults.
func DefaultConfig() Config {
	return Config{
		Channel: transport.DefaultHostConfig(),
		Retry:   DefaultRetryConfig(),
	}
}

// Publisher sends dictionaries over one channel and waits for each outcome.
// Publish calls are serialized.
type Publisher struct {
	channel *transport.Channel
	config  Config
	logger  logrus.FieldLogger

	// sendMu serializes Publish; results carries the outcome of the one
	// message in flight.
	sendMu  chan struct{}
	results chan error
}

// Open negotiates a channel over link and returns a publisher using it.
func Open(ctx context.Context, link transport.Link, config Config) (*Publisher, error) {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	p := &Publisher{
		config:  config,
		logger:  config.Logger.WithField("component", "publisher"),
		sendMu:  make(chan struct{}, 1),
		results: make(chan error, 1),
	}

	chConfig := config.Channel
	chConfig.Role = log.RoleHost
	chConfig.Logger = config.Logger
	chConfig.ProtocolLogger = config.ProtocolLogger

	ch, err := transport.Open(ctx, link, chConfig, eventloop.Inline{}, p)
	if err != nil {
		return nil, err
	}
	p.channel = ch
	return p, nil
}

// PublishHeartRate sends {0: "<bpm>"}.
func (p *Publisher) PublishHeartRate(ctx context.Context, bpm int) error {
	return p.Publish(ctx, []wire.Tuplet{wire.CString(HeartRateKey, strconv.Itoa(bpm))})
}

// Publish encodes tuplets and sends them, retrying per the configured
// policy. It returns once the device acknowledged the message or the
// policy gave up.
func (p *Publisher) Publish(ctx context.Context, tuplets []wire.Tuplet) error {
	data, err := wire.EncodeToBytes(tuplets)
	if err != nil {
		return fmt.Errorf("failed to encode dictionary: %w", err)
	}
	return p.SendRaw(ctx, data)
}

// SendRaw sends already encoded bytes with the same retry policy. The
// device decodes them; nothing is validated here.
func (p *Publisher) SendRaw(ctx context.Context, data []byte) error {
	select {
	case p.sendMu <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sendMu }()

	attempt := 0
	return retry.Do(ctx, p.config.Retry.CreateBackoff(), func(ctx context.Context) error {
		attempt++
		err := p.sendOnce(ctx, data)
		if err == nil {
			return nil
		}
		entry := p.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"kind":    transport.ErrorName(err),
		})
		if Retryable(err) {
			entry.Warn("publish failed, retrying...")
			return retry.RetryableError(err)
		}
		entry.Error("publish failed")
		return err
	})
}

func (p *Publisher) sendOnce(ctx context.Context, data []byte) error {
	// Discard an outcome left over from an abandoned wait.
	select {
	case <-p.results:
	default:
	}

	if err := p.channel.Send(data); err != nil {
		return err
	}
	select {
	case err := <-p.results:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Channel returns the underlying channel.
func (p *Publisher) Channel() *transport.Channel {
	return p.channel
}

// Done is closed when the channel stops.
func (p *Publisher) Done() <-chan struct{} {
	return p.channel.Done()
}

// Close closes the channel.
func (p *Publisher) Close() error {
	return p.channel.Close()
}

// OnReceived decodes and logs a dictionary published by the device.
func (p *Publisher) OnReceived(data []byte) {
	dict, err := wire.Decode(data)
	if err != nil {
		p.logger.WithError(err).Warn("device sent malformed dictionary")
		return
	}
	for _, t := range dict.Tuples() {
		p.logger.WithFields(logrus.Fields{
			"key":   t.Key,
			"type":  t.Type.String(),
			"value": t.String(),
		}).Info("device update")
	}
	if p.config.OnDictionary != nil {
		p.config.OnDictionary(dict)
	}
}

// OnSendComplete resolves the waiting publish.
func (p *Publisher) OnSendComplete() {
	p.deliver(nil)
}

// OnSendFailed resolves the waiting publish with err.
func (p *Publisher) OnSendFailed(err error) {
	p.deliver(err)
}

// OnReceiveFailed logs inbound failures.
func (p *Publisher) OnReceiveFailed(err error) {
	if transport.IsClosed(err) {
		p.logger.WithError(err).Info("device disconnected")
		return
	}
	p.logger.WithError(err).Warn("receive failed")
}

func (p *Publisher) deliver(err error) {
	select {
	case p.results <- err:
	default:
		p.logger.WithError(err).Warn("dropping unexpected send outcome")
	}
}

var _ transport.Handler = (*Publisher)(nil)

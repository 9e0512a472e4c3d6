package host

import (
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fitdis/fitdis-go/pkg/transport"
)

// RetryConfig holds the publish retry policy.
type RetryConfig struct {
	MaxRetries    uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// DefaultRetryConfig returns the policy used for heart rate updates. A
// reading older than a few seconds is worthless, so it gives up early.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    4,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      1 * time.Second,
		JitterPercent: 10,
	}
}

// NoRetry sends once.
func NoRetry() RetryConfig {
	return RetryConfig{BaseDelay: time.Millisecond}
}

// CreateBackoff creates a fresh backoff from the config.
func (c RetryConfig) CreateBackoff() retry.Backoff {
	base := c.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.NewExponential(base)
	backoff = retry.WithMaxRetries(c.MaxRetries, backoff)
	if c.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(c.MaxDelay, backoff)
	}
	if c.JitterPercent > 0 {
		backoff = retry.WithJitterPercent(c.JitterPercent, backoff)
	}
	return backoff
}

// Retryable reports whether a publish failure may succeed if attempted
// again on the same channel.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, transport.ErrLinkDown),
		errors.Is(err, transport.ErrTooLarge),
		errors.Is(err, transport.ErrMessageEmpty):
		return false
	case errors.Is(err, transport.ErrChannelBusy),
		errors.Is(err, transport.ErrSendTimeout),
		errors.Is(err, transport.ErrRejected):
		return true
	default:
		return false
	}
}

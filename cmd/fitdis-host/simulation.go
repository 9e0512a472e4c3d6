package main

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
)

// Heart rate bounds for the simulated walk.
const (
	minHeartRate = 50
	maxHeartRate = 180
)

// heartRateWalk produces a bounded random walk of plausible readings.
type heartRateWalk struct {
	current int
	rng     *rand.Rand
}

func newHeartRateWalk(start int) *heartRateWalk {
	return &heartRateWalk{
		current: start,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// Next moves the reading by -3..+3 and clamps it.
func (w *heartRateWalk) Next() int {
	w.current += w.rng.IntN(7) - 3
	w.current = max(minHeartRate, min(maxHeartRate, w.current))
	return w.current
}

// heartRatePublisher is what the simulation needs from host.Publisher.
type heartRatePublisher interface {
	PublishHeartRate(ctx context.Context, bpm int) error
}

// heartRateSource yields readings.
type heartRateSource interface {
	Next() int
}

// runSimulation publishes a reading every interval until ctx is done or
// count readings were sent. Failed publishes are logged and skipped; the
// next reading supersedes them.
func runSimulation(ctx context.Context, p heartRatePublisher, src heartRateSource, interval time.Duration, count int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		bpm := src.Next()
		if err := p.PublishHeartRate(ctx, bpm); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithError(err).WithField("bpm", bpm).Warn("[SIM] reading dropped")
		} else {
			logrus.WithField("bpm", bpm).Info("[SIM] published")
		}

		sent++
		if count > 0 && sent >= count {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package eventloop

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the number of events that can wait before Post blocks.
const DefaultQueueSize = 32

// ErrAlreadyRunning is returned by Run if the loop is already running.
var ErrAlreadyRunning = errors.New("event loop already running")

// Dispatcher accepts work to be run on an event loop.
// Post returns false if the work was dropped because the loop has stopped.
type Dispatcher interface {
	Post(fn func()) bool
}

// Loop runs posted callbacks sequentially on one goroutine.
type Loop struct {
	events chan func()
	stopCh chan struct{}

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once

	logger logrus.FieldLogger
}

// New creates a loop with the given queue size (DefaultQueueSize if <= 0).
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		events: make(chan func(), queueSize),
		stopCh: make(chan struct{}),
		logger: logrus.StandardLogger(),
	}
}

// SetLogger sets the operational logger used for recovered panics.
func (l *Loop) SetLogger(logger logrus.FieldLogger) {
	l.logger = logger
}

// Post queues fn. It blocks while the queue is full and returns false once
// the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopCh:
		return false
	default:
	}

	select {
	case l.events <- fn:
		return true
	case <-l.stopCh:
		return false
	}
}

// Call posts fn and waits for it to finish. It must not be called from a
// loop callback. Returns false if the loop stopped before fn ran.
func (l *Loop) Call(fn func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-l.stopCh:
		return false
	}
}

// Run processes events until ctx is cancelled or Stop is called.
// It returns ctx.Err() on cancellation and nil on Stop.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.stopCh:
			return nil
		case fn := <-l.events:
			l.dispatch(fn)
		}
	}
}

// Stop ends Run and makes later Posts fail. Queued events are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Running reports whether Run is processing events.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

func (l *Loop) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("event loop callback panicked")
		}
	}()
	fn()
}

// Inline runs posted work immediately on the caller's goroutine.
// Useful in tests and for hosts that do their own serialization.
type Inline struct{}

// Post runs fn and returns true.
func (Inline) Post(fn func()) bool {
	fn()
	return true
}

var (
	_ Dispatcher = (*Loop)(nil)
	_ Dispatcher = Inline{}
)

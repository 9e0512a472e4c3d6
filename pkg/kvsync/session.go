package kvsync

import (
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/pkg/log"
	"github.com/fitdis/fitdis-go/pkg/wire"
)

// DefaultBufferSize is the sync buffer capacity used when none is supplied.
const DefaultBufferSize = 32

// Handler consumes change notifications and the error path.
type Handler interface {
	// OnKeyChanged reports a changed key. oldValue is nil when the key was
	// not held before. Both values are only valid during the call.
	OnKeyChanged(key uint32, newValue wire.Tuple, oldValue *wire.Tuple)

	// OnSyncError reports one failure event.
	OnSyncError(kind ErrorKind, err error)
}

// Option configures a Session.
type Option func(*Session)

// WithInterest replaces the default interest set (the seed keys).
func WithInterest(keys ...uint32) Option {
	return func(s *Session) {
		s.interest = make(map[uint32]struct{}, len(keys))
		for _, k := range keys {
			s.interest[k] = struct{}{}
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProtocolLogger captures applied dictionaries and errors.
func WithProtocolLogger(logger log.Logger, connID string) Option {
	return func(s *Session) {
		s.protoLog = log.OrNoop(logger)
		s.connID = connID
	}
}

// Session holds the sync buffer and the interest set.
type Session struct {
	handler Handler

	// buf backs dict. scratch has the same capacity and receives the next
	// merged state; the two are swapped after every successful apply so
	// the previous values stay readable while callbacks run.
	buf     []byte
	scratch []byte
	dict    *wire.Dictionary

	interest map[uint32]struct{}

	logger   logrus.FieldLogger
	protoLog log.Logger
	connID   string

	applying bool
	closed   bool
}

// NewSession writes initial into buf and returns a session using it as the
// sync buffer. A nil buf allocates DefaultBufferSize bytes. No callbacks
// fire for the seed.
func NewSession(initial []wire.Tuplet, buf []byte, handler Handler, opts ...Option) (*Session, error) {
	if handler == nil {
		return nil, ErrNoHandler
	}
	if buf == nil {
		buf = make([]byte, DefaultBufferSize)
	}

	n, err := wire.Encode(initial, buf)
	if err != nil {
		return nil, fmt.Errorf("seed dictionary: %w", err)
	}
	dict, err := wire.Decode(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("seed dictionary: %w", err)
	}

	s := &Session{
		handler:  handler,
		buf:      buf,
		scratch:  make([]byte, len(buf)),
		dict:     dict,
		interest: make(map[uint32]struct{}, len(initial)),
		logger:   logrus.StandardLogger(),
		protoLog: log.NoopLogger{},
	}
	for _, t := range initial {
		s.interest[t.Key] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logState("", "OPEN", fmt.Sprintf("seed=%d bytes capacity=%d", n, len(buf)))
	return s, nil
}

// ApplyIncoming merges an encoded dictionary into the sync state and fires
// change callbacks. A decode failure or a merged state that does not fit
// the buffer is reported once through OnSyncError and leaves the state
// untouched.
func (s *Session) ApplyIncoming(data []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.applying {
		return ErrReentrant
	}

	candidate, err := wire.Decode(data)
	if err != nil {
		s.reportError(ErrorKindMalformed, err, "decode")
		return err
	}

	merged, changed := s.merge(candidate)
	if len(changed) == 0 {
		s.logger.WithField("tuples", candidate.Len()).Debug("dictionary already current")
		return nil
	}

	n, err := wire.Encode(merged, s.scratch)
	if err != nil {
		s.reportError(Classify(err), err, "merge")
		return err
	}
	next, err := wire.Decode(s.scratch[:n])
	if err != nil {
		s.reportError(ErrorKindMalformed, err, "merge")
		return err
	}

	prev := s.dict
	s.buf, s.scratch = s.scratch, s.buf
	s.dict = next

	slices.Sort(changed)
	s.logApplied(candidate, changed)

	s.applying = true
	defer func() { s.applying = false }()

	for _, key := range changed {
		if s.closed {
			break
		}
		if _, ok := s.interest[key]; !ok {
			continue
		}
		newValue, _ := s.dict.Find(key)
		var oldValue *wire.Tuple
		if old, ok := prev.Find(key); ok {
			oldValue = &old
		}
		s.handler.OnKeyChanged(key, newValue, oldValue)
	}
	return nil
}

// merge builds the next state in held order followed by new keys in
// arrival order, and lists the keys that changed.
func (s *Session) merge(candidate *wire.Dictionary) ([]wire.Tuplet, []uint32) {
	merged := make([]wire.Tuplet, 0, s.dict.Len()+candidate.Len())
	var changed []uint32

	for _, held := range s.dict.Tuples() {
		next, ok := candidate.Find(held.Key)
		if ok && !next.Equal(held) {
			merged = append(merged, wire.Tuplet{Key: next.Key, Type: next.Type, Data: next.Data})
			changed = append(changed, next.Key)
			continue
		}
		merged = append(merged, wire.Tuplet{Key: held.Key, Type: held.Type, Data: held.Data})
	}

	for _, next := range candidate.Tuples() {
		if _, ok := s.dict.Find(next.Key); ok {
			continue
		}
		merged = append(merged, wire.Tuplet{Key: next.Key, Type: next.Type, Data: next.Data})
		changed = append(changed, next.Key)
	}

	return merged, changed
}

// ReportTransportError routes a channel failure to OnSyncError. The sync
// state is not touched.
func (s *Session) ReportTransportError(err error) {
	if s.closed || err == nil {
		return
	}
	s.reportError(Classify(err), err, "transport")
}

// Get returns the held tuple for key. The view is valid until the next
// ApplyIncoming.
func (s *Session) Get(key uint32) (wire.Tuple, bool) {
	if s.closed {
		return wire.Tuple{}, false
	}
	return s.dict.Find(key)
}

// Snapshot returns owned copies of every held tuple in buffer order.
func (s *Session) Snapshot() []wire.Tuplet {
	if s.closed {
		return nil
	}
	return s.dict.Tuplets()
}

// Len returns the number of held tuples.
func (s *Session) Len() int {
	if s.closed {
		return 0
	}
	return s.dict.Len()
}

// Used returns the number of sync buffer bytes in use.
func (s *Session) Used() int {
	if s.closed {
		return 0
	}
	return s.dict.Size()
}

// Capacity returns the sync buffer size.
func (s *Session) Capacity() int {
	return len(s.buf)
}

// Interested reports whether changes to key are delivered.
func (s *Session) Interested(key uint32) bool {
	_, ok := s.interest[key]
	return ok
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	return s.closed
}

// Close releases the sync buffer. No callbacks fire afterwards. Calling
// Close from inside a callback stops the remaining notifications.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	clear(s.buf)
	clear(s.scratch)
	s.dict = nil
	s.logState("OPEN", "CLOSED", "")
}

func (s *Session) reportError(kind ErrorKind, err error, op string) {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"kind": kind.String(),
		"op":   op,
	}).Warn("sync error")

	s.protoLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerSync,
		Category:     log.CategoryError,
		LocalRole:    log.RoleDevice,
		Error: &log.ErrorEventData{
			Layer:   log.LayerSync,
			Message: err.Error(),
			Kind:    kind.String(),
			Context: op,
		},
	})

	s.handler.OnSyncError(kind, err)
}

func (s *Session) logApplied(candidate *wire.Dictionary, changed []uint32) {
	s.logger.WithFields(logrus.Fields{
		"tuples":  candidate.Len(),
		"changed": changed,
		"used":    s.dict.Size(),
	}).Debug("dictionary applied")

	event := log.NewDictionaryEvent(candidate)
	event.ChangedKeys = changed
	s.protoLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerSync,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleDevice,
		Dictionary:   event,
	})
}

func (s *Session) logState(old, state, reason string) {
	s.protoLog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Layer:        log.LayerSync,
		Category:     log.CategoryState,
		LocalRole:    log.RoleDevice,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: old,
			NewState: state,
			Reason:   reason,
		},
	})
}

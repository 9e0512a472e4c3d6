package log

import (
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a capture stream, usually a file opened
// with NewFileLogger. Encode failures are counted and never surface to
// the caller. Safe for concurrent use.
type FileLogger struct {
	mu      sync.Mutex
	out     io.WriteCloser
	enc     *cbor.Encoder
	dropped int
	lastErr error
}

// NewFileLogger appends to path, creating it with mode 0644.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return NewStreamLogger(f), nil
}

// NewStreamLogger captures to out. Close closes out.
func NewStreamLogger(out io.WriteCloser) *FileLogger {
	return &FileLogger{out: out, enc: captureEnc.NewEncoder(out)}
}

// Log appends event. It is a no-op after Close.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return
	}
	if err := l.enc.Encode(event); err != nil {
		l.dropped++
		l.lastErr = err
	}
}

// Dropped returns the number of events that failed to encode and the most
// recent failure.
func (l *FileLogger) Dropped() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped, l.lastErr
}

// Close closes the stream once; later calls return nil.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	out := l.out
	l.out = nil
	l.mu.Unlock()

	if out == nil {
		return nil
	}
	return out.Close()
}

var _ Logger = (*FileLogger)(nil)

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fitdis/fitdis-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the little-endian length prefix.
	LengthPrefixSize = 2

	// DefaultMaxFrameSize bounds a single frame. Channel payloads are far
	// smaller; this only protects the reader from a corrupt prefix.
	DefaultMaxFrameSize = 1024
)

// Framing errors.
var (
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrMessageEmpty   = errors.New("frame is empty")
	ErrFrameTruncated = errors.New("frame truncated")
)

// frameLog carries the optional protocol logger shared by reader and writer.
type frameLog struct {
	logger log.Logger
	connID string
	role   log.Role
}

func (fl *frameLog) log(data []byte, dir log.Direction) {
	if fl.logger == nil {
		return
	}
	fl.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: fl.connID,
		Direction:    dir,
		Layer:        log.LayerLink,
		Category:     log.CategoryMessage,
		LocalRole:    fl.role,
		Frame:        log.NewFrameEvent(data),
	})
}

// FrameWriter writes length-prefixed frames. Safe for concurrent use.
type FrameWriter struct {
	mu      sync.Mutex
	w       io.Writer
	maxSize int
	frameLog
}

// NewFrameWriter creates a writer with the given max frame size
// (DefaultMaxFrameSize if <= 0).
func NewFrameWriter(w io.Writer, maxSize int) *FrameWriter {
	if maxSize <= 0 || maxSize > 0xFFFF {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameWriter{w: w, maxSize: maxSize}
}

// WriteFrame writes prefix and payload in a single Write call.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > fw.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), fw.maxSize)
	}

	buf := make([]byte, LengthPrefixSize+len(data))
	binary.LittleEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[LengthPrefixSize:], data)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	fw.log(data, log.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames. Not safe for concurrent use;
// a link has exactly one reader goroutine.
type FrameReader struct {
	r         io.Reader
	maxSize   int
	lengthBuf [LengthPrefixSize]byte
	frameLog
}

// NewFrameReader creates a reader with the given max frame size
// (DefaultMaxFrameSize if <= 0).
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 || maxSize > 0xFFFF {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{r: r, maxSize: maxSize}
}

// ReadFrame returns the next frame payload in a freshly allocated slice.
// A clean end of stream between frames returns io.EOF.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	length := int(binary.LittleEndian.Uint16(fr.lengthBuf[:]))
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, fr.maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	fr.log(payload, log.DirectionIn)
	return payload, nil
}

// Framer combines frame reading and writing over one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer for bidirectional communication.
func NewFramer(rw io.ReadWriter, maxSize int) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(rw, maxSize),
		FrameWriter: NewFrameWriter(rw, maxSize),
	}
}

// SetLogger configures protocol logging for both directions.
// Pass nil to disable.
func (f *Framer) SetLogger(logger log.Logger, connID string, role log.Role) {
	fl := frameLog{logger: logger, connID: connID, role: role}
	f.FrameReader.frameLog = fl
	f.FrameWriter.mu.Lock()
	f.FrameWriter.frameLog = fl
	f.FrameWriter.mu.Unlock()
}

// FrameSize returns the on-stream size of a payload including its prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}

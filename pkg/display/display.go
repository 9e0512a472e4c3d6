// Package display renders the synced heart rate as text.
package display

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/pkg/kvsync"
	"github.com/fitdis/fitdis-go/pkg/wire"
)

// HeartRateKey is the dictionary key carrying the heart rate text.
const HeartRateKey uint32 = 0

// Display defaults.
const (
	DefaultHeader = "Pat's Heart Rate"
	Placeholder   = "-"
)

// TextDisplay shows a header and the heart rate, one line per change.
type TextDisplay struct {
	mu        sync.Mutex
	header    string
	heartRate string
	updates   int
	errors    int

	out    io.Writer
	logger logrus.FieldLogger
}

// NewTextDisplay creates a display writing to out. An empty header uses
// DefaultHeader; a nil logger uses the logrus standard logger.
func NewTextDisplay(out io.Writer, header string, logger logrus.FieldLogger) *TextDisplay {
	if header == "" {
		header = DefaultHeader
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TextDisplay{
		header:    header,
		heartRate: Placeholder,
		out:       out,
		logger:    logger.WithField("component", "display"),
	}
}

// OnKeyChanged updates the heart rate text. Other keys are ignored.
func (d *TextDisplay) OnKeyChanged(key uint32, newValue wire.Tuple, oldValue *wire.Tuple) {
	switch key {
	case HeartRateKey:
		// The view is only valid during the call; String copies.
		text := newValue.String()
		d.mu.Lock()
		d.heartRate = text
		d.updates++
		d.mu.Unlock()
		d.Render()
	default:
		d.logger.WithField("key", key).Debug("ignoring key")
	}
}

// OnSyncError logs the failure. The display keeps its last value.
func (d *TextDisplay) OnSyncError(kind kvsync.ErrorKind, err error) {
	d.mu.Lock()
	d.errors++
	d.mu.Unlock()
	d.logger.WithError(err).WithField("kind", kind.String()).Warn("sync failed")
}

// Render writes the current line.
func (d *TextDisplay) Render() {
	d.mu.Lock()
	line := fmt.Sprintf("%s: %s\n", d.header, d.heartRate)
	d.mu.Unlock()
	if _, err := io.WriteString(d.out, line); err != nil {
		d.logger.WithError(err).Error("write failed")
	}
}

// Header returns the header text.
func (d *TextDisplay) Header() string {
	return d.header
}

// HeartRate returns the text currently shown.
func (d *TextDisplay) HeartRate() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heartRate
}

// Updates returns how many heart rate changes were shown.
func (d *TextDisplay) Updates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updates
}

// Errors returns how many sync errors were reported.
func (d *TextDisplay) Errors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errors
}

var _ kvsync.Handler = (*TextDisplay)(nil)

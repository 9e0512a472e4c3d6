package log

import (
	"github.com/sirupsen/logrus"
)

// LogrusAdapter writes protocol events to a logrus logger at debug level.
type LogrusAdapter struct {
	logger logrus.FieldLogger
}

// NewLogrusAdapter creates an adapter. A nil logger means the standard logger.
func NewLogrusAdapter(logger logrus.FieldLogger) *LogrusAdapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusAdapter{logger: logger}
}

// Log writes the event as a single structured entry.
func (a *LogrusAdapter) Log(event Event) {
	fields := logrus.Fields{
		"conn_id":   event.ConnectionID,
		"direction": event.Direction.String(),
		"layer":     event.Layer.String(),
		"category":  event.Category.String(),
		"role":      event.LocalRole.String(),
	}
	if event.RemoteAddr != "" {
		fields["remote"] = event.RemoteAddr
	}

	switch {
	case event.Frame != nil:
		fields["frame_size"] = event.Frame.Size
		fields["truncated"] = event.Frame.Truncated
	case event.Packet != nil:
		fields["packet"] = event.Packet.Kind
		fields["txid"] = event.Packet.TxID
		fields["size"] = event.Packet.Size
	case event.Dictionary != nil:
		fields["dict_size"] = event.Dictionary.Size
		fields["tuples"] = len(event.Dictionary.Tuples)
		if len(event.Dictionary.ChangedKeys) > 0 {
			fields["changed"] = event.Dictionary.ChangedKeys
		}
	case event.StateChange != nil:
		fields["entity"] = event.StateChange.Entity.String()
		fields["old_state"] = event.StateChange.OldState
		fields["new_state"] = event.StateChange.NewState
		if event.StateChange.Reason != "" {
			fields["reason"] = event.StateChange.Reason
		}
	case event.Error != nil:
		fields["error_layer"] = event.Error.Layer.String()
		fields["error_msg"] = event.Error.Message
		if event.Error.Kind != "" {
			fields["error_kind"] = event.Error.Kind
		}
		if event.Error.Context != "" {
			fields["error_context"] = event.Error.Context
		}
	}

	a.logger.WithFields(fields).Debug("protocol")
}

var _ Logger = (*LogrusAdapter)(nil)

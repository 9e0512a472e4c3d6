// Package log provides protocol event capture for the fitdis sync channel.
//
// This is separate from operational logging (logrus). Protocol capture gives
// a machine-readable trace of what crossed the link and how the sync session
// reacted, which is what you want when a display shows a stale value.
//
// # Basic Usage
//
//	// Development: mirror events to the operational log at debug level
//	cfg.ProtocolLogger = log.NewLogrusAdapter(logrus.StandardLogger())
//
//	// Field capture: binary file
//	fl, _ := log.NewFileLogger("/tmp/fitdis-device.flog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewLogrusAdapter(logger), fl)
//
// # Event Types
//
//   - Link: raw frame sizes and bytes (FrameEvent)
//   - Channel: packet kinds and transaction ids (PacketEvent)
//   - Sync: decoded dictionaries (DictionaryEvent), state changes, errors
//
// # File Format
//
// Files are a plain concatenation of CBOR-encoded events (.flog). Reader
// streams them back with an optional Filter.
package log

// Package transport implements the fitdis message channel.
//
// A Channel moves encoded dictionaries between host and device over a Link.
// The link is assumed to be paired and encrypted below this layer; the
// channel only adds framing, capacity negotiation and completion reporting.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Dictionary (pkg/wire)        │
//	├────────────────────────────────┤
//	│   Packet: kind(1) txid(1) body │
//	├────────────────────────────────┤
//	│   Frame: length(2, LE) payload │  (StreamLink only)
//	├────────────────────────────────┤
//	│   TCP / pipe / WebSocket       │
//	└────────────────────────────────┘
//
// # Negotiation
//
// Both sides send HELLO with their own inbound and outbound capacity before
// anything else. The effective outbound capacity is the smaller of our
// outbound and the peer's inbound, and likewise for inbound.
//
// # Sending
//
// Send hands a PUSH to the link and returns at once. Only one PUSH may be in
// flight; a second Send fails with ErrChannelBusy until the peer ACKs or
// NACKs, the ack timer fires, or the link drops. The outcome arrives later
// as a Handler callback on the dispatcher. Nothing is retried here.
//
// # Receiving
//
// Each PUSH within the inbound capacity is ACKed and delivered once via
// Handler.OnReceived. Oversized pushes are NACKed and reported through
// Handler.OnReceiveFailed.
package transport

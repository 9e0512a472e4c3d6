// Package kvsync keeps the device's last-known dictionary and reports
// per-key changes.
//
// A Session owns a fixed-capacity sync buffer seeded with an initial
// dictionary. Each incoming dictionary is merged into it: keys that are new
// or whose value differs byte for byte replace the held value, and keys
// absent from the incoming message keep their value. The transport only
// sends what changed.
//
// # Notifications
//
// After the buffer has been updated, Handler.OnKeyChanged fires once per
// changed key with registered interest, in increasing key order. Interest
// defaults to the seed keys. Keys nobody is interested in are still
// retained and can be read back with Get.
//
// The tuples passed to OnKeyChanged are views into session memory and are
// only valid for the duration of the call. Use Tuple.Clone to keep one.
//
// # Errors
//
// A message that fails to decode, or whose merge would overflow the sync
// buffer, is rejected as a whole: nothing is applied and
// Handler.OnSyncError fires once. Transport failures are fed in with
// ReportTransportError. The error path carries no values and is
// diagnostic only; the last good state always survives.
//
// A Session is not safe for concurrent use. It is driven from a single
// event loop goroutine.
package kvsync

// Package eventloop provides the single-threaded cooperative dispatcher the
// device runs on.
//
// Transport goroutines never call application code directly. They post
// closures to a Loop, which runs them one at a time, in post order, on the
// goroutine that called Run. A callback runs to completion before the next
// one starts, so state owned by the loop needs no locks.
//
// Callbacks must not block. A blocked callback stalls every later event,
// which on the device means the display stops updating.
package eventloop

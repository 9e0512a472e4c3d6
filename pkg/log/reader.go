package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events from a capture. Nil and empty fields match
// everything. TimeEnd is exclusive.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category
	Role         *Role
	TimeStart    *time.Time
	TimeEnd      *time.Time
}

// Match reports whether event passes every set criterion.
func (f Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && f.ConnectionID != event.ConnectionID,
		!same(f.Direction, event.Direction),
		!same(f.Layer, event.Layer),
		!same(f.Category, event.Category),
		!same(f.Role, event.LocalRole),
		f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart),
		f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

func same[T comparable](want *T, got T) bool {
	return want == nil || *want == got
}

// Reader decodes a capture file one event at a time.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
	read   int
}

// NewReader opens a capture with no filter.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture that yields only events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, dec: captureDec.NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the
// capture. Decode errors carry the position of the bad event.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.dec.Decode(&event)
		switch {
		case err == io.EOF:
			return Event{}, io.EOF
		case err != nil:
			return Event{}, fmt.Errorf("event %d: %w", r.read+1, err)
		}
		r.read++
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Each calls fn for every remaining matching event and stops at the first
// error fn returns.
func (r *Reader) Each(fn func(Event) error) error {
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// ReadAll collects the remaining matching events.
func (r *Reader) ReadAll() ([]Event, error) {
	var events []Event
	err := r.Each(func(e Event) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

// Close closes the capture file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Package commands implements the fitdis-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fitdis/fitdis-go/pkg/log"
	"github.com/fitdis/fitdis-go/pkg/wire"
)

// FilterOptions are the event selection flags shared by the commands.
type FilterOptions struct {
	ConnID    string `long:"conn-id" description:"Filter by connection ID"`
	Role      string `long:"role" description:"Filter by capturing side (device, host)"`
	Layer     string `long:"layer" description:"Filter by layer (link, channel, sync)"`
	Direction string `long:"direction" description:"Filter by direction (in, out)"`
	Category  string `long:"category" description:"Filter by category (message, control, state, error)"`
	TimeStart string `long:"time-start" description:"Only events at or after this time (RFC3339)"`
	TimeEnd   string `long:"time-end" description:"Only events before this time (RFC3339)"`
}

// BuildFilter converts the flags to a log.Filter.
func BuildFilter(opts FilterOptions) (log.Filter, error) {
	filter := log.Filter{ConnectionID: opts.ConnID}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if opts.Role != "" {
		r, err := parseRole(opts.Role)
		if err != nil {
			return filter, err
		}
		filter.Role = &r
	}
	if opts.Layer != "" {
		l, err := parseLayer(opts.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if opts.Direction != "" {
		d, err := parseDirection(opts.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if opts.Category != "" {
		c, err := parseCategory(opts.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "link":
		return log.LayerLink, nil
	case "channel":
		return log.LayerChannel, nil
	case "sync":
		return log.LayerSync, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be link, channel, or sync)", s)
	}
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, or error)", s)
	}
}

func parseRole(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "device":
		return log.RoleDevice, nil
	case "host":
		return log.RoleHost, nil
	default:
		return 0, fmt.Errorf("invalid role: %s (must be device or host)", s)
	}
}

// eachEvent calls fn for every event in path matching filter.
func eachEvent(path string, filter log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	return reader.Each(fn)
}

// RunView writes every matching event in human-readable form.
func RunView(path string, filter log.Filter, w io.Writer) error {
	return eachEvent(path, filter, func(event log.Event) error {
		formatEvent(w, event)
		return nil
	})
}

// eventType names the payload an event carries.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Packet != nil:
		return event.Packet.Kind
	case event.Dictionary != nil:
		return "Dictionary"
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes one event followed by a blank line.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [conn:%s] %-6s %-3s %s %s\n",
		ts, shortenConnID(event.ConnectionID), event.LocalRole.String(),
		event.Direction.String(), event.Layer.String(), eventType(event))

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Packet != nil:
		fmt.Fprintf(w, "  TxID: %d  Size: %d bytes\n", event.Packet.TxID, event.Packet.Size)
	case event.Dictionary != nil:
		formatDictionaryDetails(w, event.Dictionary)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}
	fmt.Fprintln(w)
}

func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatDictionaryDetails(w io.Writer, dict *log.DictionaryEvent) {
	fmt.Fprintf(w, "  Size: %d bytes  Tuples: %d\n", dict.Size, len(dict.Tuples))
	for _, t := range dict.Tuples {
		tuple := wire.Tuple{Key: t.Key, Type: t.Type, Data: t.Data}
		fmt.Fprintf(w, "    %d %s = %s\n", t.Key, t.Type.String(), formatValue(tuple))
	}
	if len(dict.ChangedKeys) > 0 {
		fmt.Fprintf(w, "  Changed: %v\n", dict.ChangedKeys)
	}
}

func formatValue(t wire.Tuple) string {
	if t.Type == wire.TypeCString {
		return fmt.Sprintf("%q", t.String())
	}
	return t.String()
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Kind != "" {
		fmt.Fprintf(w, "  Kind: %s\n", err.Kind)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

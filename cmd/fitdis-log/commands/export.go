package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fitdis/fitdis-go/pkg/log"
)

// RunExport writes matching events to w as JSON lines or CSV.
func RunExport(path string, filter log.Filter, format string, w io.Writer) error {
	switch format {
	case "jsonl":
		return exportJSONL(path, filter, w)
	case "csv":
		return exportCSV(path, filter, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(path string, filter log.Filter, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return eachEvent(path, filter, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(path string, filter log.Filter, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "connection_id", "role", "direction", "layer", "category", "type", "txid", "size"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := eachEvent(path, filter, func(event log.Event) error {
		txid, size := "", ""
		switch {
		case event.Packet != nil:
			txid = strconv.Itoa(int(event.Packet.TxID))
			size = strconv.Itoa(event.Packet.Size)
		case event.Frame != nil:
			size = strconv.Itoa(event.Frame.Size)
		case event.Dictionary != nil:
			size = strconv.Itoa(event.Dictionary.Size)
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ConnectionID,
			event.LocalRole.String(),
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			eventType(event),
			txid,
			size,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
	cw.Flush()
	if err != nil {
		return err
	}
	return cw.Error()
}

// RunFilter copies matching events to a new capture file and returns how
// many were written.
func RunFilter(path string, filter log.Filter, output string) (int, error) {
	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer logger.Close()

	count := 0
	err = eachEvent(path, filter, func(event log.Event) error {
		logger.Log(event)
		count++
		return nil
	})
	return count, err
}

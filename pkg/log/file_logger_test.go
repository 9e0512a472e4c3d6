package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.flog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func TestFileLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.flog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("log file was not created")
	}
}

func TestFileLoggerAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.flog")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now(), ConnectionID: "conn"})
		logger.Close()
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestFileLoggerIgnoresLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.flog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Close()
	logger.Log(Event{ConnectionID: "late"})

	if err := logger.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("file size = %d, want 0", info.Size())
	}
}

func TestFileLoggerConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.flog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				logger.Log(Event{Timestamp: time.Now(), Frame: &FrameEvent{Size: j}})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		_, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed after %d events: %v", count, err)
		}
		count++
	}
	if count != 200 {
		t.Errorf("read %d events, want 200", count)
	}
	if n, err := logger.Dropped(); n != 0 || err != nil {
		t.Errorf("Dropped() = %d, %v, want 0, nil", n, err)
	}
}

type failingWriter struct{ closed bool }

func (w *failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
func (w *failingWriter) Close() error              { w.closed = true; return nil }

func TestStreamLoggerCountsFailures(t *testing.T) {
	out := &failingWriter{}
	logger := NewStreamLogger(out)

	logger.Log(Event{Timestamp: time.Now()})
	logger.Log(Event{Timestamp: time.Now()})

	n, err := logger.Dropped()
	if n != 2 {
		t.Errorf("Dropped() = %d, want 2", n)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Dropped() error = %v, want io.ErrClosedPipe", err)
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !out.closed {
		t.Error("Close did not close the stream")
	}
	logger.Log(Event{Timestamp: time.Now()})
	if n, _ := logger.Dropped(); n != 2 {
		t.Errorf("Log after Close changed Dropped() to %d", n)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestReaderReportsCorruptEvent(t *testing.T) {
	path := createTestLogFile(t, []Event{{Timestamp: time.Now(), ConnectionID: "a"}})
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// A map header promising more pairs than follow.
	if _, err := f.Write([]byte{0xa5, 0x00}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if len(events) != 1 {
		t.Errorf("ReadAll returned %d events before the bad one, want 1", len(events))
	}
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("ReadAll error = %v, want decode error", err)
	}
	if !strings.Contains(err.Error(), "event 2") {
		t.Errorf("error %q does not name the bad event", err)
	}
}

package transport_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/fitdis/fitdis-go/pkg/transport"
)

func TestServerAcceptsAndFramesLinks(t *testing.T) {
	logger, _ := test.NewNullLogger()
	received := make(chan []byte, 1)
	var gotID string
	var mu sync.Mutex

	server, err := transport.NewServer(transport.ServerConfig{
		Address: "127.0.0.1:0",
		Logger:  logger,
		OnConnect: func(ctx context.Context, link *transport.StreamLink, connID string) {
			mu.Lock()
			gotID = connID
			mu.Unlock()
			data, err := link.ReadFrame()
			if err != nil {
				return
			}
			received <- data
			link.WriteFrame([]byte("pong"))
		},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer server.Stop()

	client, err := transport.DialTCP(ctx, server.Addr().String())
	if err != nil {
		t.Fatalf("DialTCP failed: %v", err)
	}
	defer client.Close()

	if err := client.WriteFrame([]byte("ping")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "ping" {
			t.Errorf("server received %q, want %q", data, "ping")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for server to receive")
	}

	reply, err := client.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(reply) != "pong" {
		t.Errorf("client received %q, want %q", reply, "pong")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotID == "" {
		t.Error("expected a connection id")
	}
}

func TestServerLimitsConnections(t *testing.T) {
	logger, _ := test.NewNullLogger()
	release := make(chan struct{})
	rejected := make(chan error, 1)

	server, err := transport.NewServer(transport.ServerConfig{
		Address: "127.0.0.1:0",
		Logger:  logger,
		OnConnect: func(ctx context.Context, link *transport.StreamLink, connID string) {
			select {
			case <-release:
			case <-ctx.Done():
			}
		},
		OnError: func(err error) {
			select {
			case rejected <- err:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer server.Stop()
	defer close(release)

	first, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	defer first.Close()

	waitForCount(t, server, 1)

	second, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer second.Close()

	select {
	case <-rejected:
	case <-ctx.Done():
		t.Fatal("second connection was not rejected")
	}
	if server.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", server.ConnectionCount())
	}
}

func TestServerStopClosesLinks(t *testing.T) {
	logger, _ := test.NewNullLogger()
	closed := make(chan error, 1)

	server, err := transport.NewServer(transport.ServerConfig{
		Address: "127.0.0.1:0",
		Logger:  logger,
		OnConnect: func(ctx context.Context, link *transport.StreamLink, connID string) {
			_, err := link.ReadFrame()
			closed <- err
		},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitForCount(t, server, 1)

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-closed:
		if err == nil {
			t.Error("expected read error after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect did not return after Stop")
	}

	if server.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount() = %d after Stop", server.ConnectionCount())
	}
}

func TestNewServerRequiresOnConnect(t *testing.T) {
	if _, err := transport.NewServer(transport.ServerConfig{}); err == nil {
		t.Error("expected error without OnConnect")
	}
}

func TestServerStartTwice(t *testing.T) {
	logger, _ := test.NewNullLogger()
	server, err := transport.NewServer(transport.ServerConfig{
		Address:   "127.0.0.1:0",
		Logger:    logger,
		OnConnect: func(context.Context, *transport.StreamLink, string) {},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer server.Stop()

	if err := server.Start(context.Background()); err != transport.ErrServerRunning {
		t.Errorf("expected ErrServerRunning, got %v", err)
	}
}

func waitForCount(t *testing.T, server *transport.Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.ConnectionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ConnectionCount() never reached %d", want)
}

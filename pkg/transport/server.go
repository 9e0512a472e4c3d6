package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/pkg/log"
)

// DefaultAddress is where the device listens when no address is configured.
const DefaultAddress = "127.0.0.1:7878"

// ServerConfig configures a link server.
type ServerConfig struct {
	// Address to listen on (e.g., ":7878" or "127.0.0.1:0").
	Address string

	// MaxConnections limits concurrent links. Extra connections are closed
	// on accept. Zero means 1: a device talks to one host at a time.
	MaxConnections int

	// Role is recorded in protocol log events.
	Role log.Role

	// ProtocolLogger captures frames and state changes (optional).
	ProtocolLogger log.Logger

	// Logger is the operational logger (default: logrus standard logger).
	Logger logrus.FieldLogger

	// OnConnect is called in its own goroutine for each accepted link and
	// owns it until it returns. The server closes the link afterwards.
	OnConnect func(ctx context.Context, link *StreamLink, connID string)

	// OnError is called for accept failures and rejected connections.
	OnError func(err error)
}

// Server accepts TCP connections and hands them out as framed links.
type Server struct {
	config   ServerConfig
	listener net.Listener
	logger   logrus.FieldLogger

	links   map[*StreamLink]string
	linksMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ErrServerRunning is returned by Start on a running server.
var ErrServerRunning = errors.New("server already running")

// NewServer creates a server. OnConnect is required.
func NewServer(config ServerConfig) (*Server, error) {
	if config.OnConnect == nil {
		return nil, fmt.Errorf("OnConnect is required")
	}
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 1
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Server{
		config: config,
		logger: config.Logger.WithField("component", "server"),
		links:  make(map[*StreamLink]string),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	s.running.Store(true)

	s.logger.WithField("address", listener.Addr().String()).Info("listening")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every open link, then waits for the
// connection goroutines to return.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.linksMu.Lock()
	for link := range s.links {
		link.Close()
	}
	s.linksMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of open links.
func (s *Server) ConnectionCount() int {
	s.linksMu.RLock()
	defer s.linksMu.RUnlock()
	return len(s.links)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.reportError(fmt.Errorf("accept error: %w", err))
				// Avoid spinning on persistent accept errors.
				time.Sleep(50 * time.Millisecond)
			}
			continue
		}

		if s.ConnectionCount() >= s.config.MaxConnections {
			s.reportError(fmt.Errorf("rejecting %s: %d connections open", conn.RemoteAddr(), s.config.MaxConnections))
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()
	link := NewStreamLink(conn)
	if s.config.ProtocolLogger != nil {
		link.SetLogger(s.config.ProtocolLogger, connID, s.config.Role)
	}

	s.linksMu.Lock()
	s.links[link] = connID
	s.linksMu.Unlock()

	s.logState(connID, link.RemoteAddr(), "", "CONNECTED")
	s.logger.WithFields(logrus.Fields{
		"conn_id": connID,
		"remote":  link.RemoteAddr(),
	}).Info("connection accepted")

	s.config.OnConnect(s.ctx, link, connID)

	link.Close()
	s.linksMu.Lock()
	delete(s.links, link)
	s.linksMu.Unlock()

	s.logState(connID, link.RemoteAddr(), "CONNECTED", "DISCONNECTED")
	s.logger.WithField("conn_id", connID).Info("connection closed")
}

func (s *Server) reportError(err error) {
	s.logger.WithError(err).Warn("server error")
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}

func (s *Server) logState(connID, remote, old, state string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerLink,
		Category:     log.CategoryState,
		LocalRole:    s.config.Role,
		RemoteAddr:   remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityChannel,
			OldState: old,
			NewState: state,
		},
	})
}

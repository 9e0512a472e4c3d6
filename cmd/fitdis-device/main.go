// Command fitdis-device runs the watch side: it listens for one host,
// keeps the synced dictionary and prints the heart rate as it changes.
//
// Usage:
//
//	fitdis-device [flags]
//
// Examples:
//
//	# Listen on the default TCP address
//	fitdis-device
//
//	# Serve a websocket and capture protocol events
//	fitdis-device --transport websocket --listen :8080 --protocol-log device.flog
//
//	# Start from a configuration file
//	fitdis-device --config /etc/fitdis/device.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/internal/cli"
	"github.com/fitdis/fitdis-go/pkg/config"
	"github.com/fitdis/fitdis-go/pkg/device"
	"github.com/fitdis/fitdis-go/pkg/display"
	"github.com/fitdis/fitdis-go/pkg/log"
	"github.com/fitdis/fitdis-go/pkg/transport"
)

// Options holds the command line flags. Non-empty flags override the
// configuration file.
type Options struct {
	ConfigFile  string `short:"c" long:"config" env:"FITDIS_CONFIG" description:"YAML configuration file"`
	Listen      string `short:"l" long:"listen" env:"FITDIS_LISTEN" description:"Listen address (default 127.0.0.1:7878)"`
	Transport   string `short:"t" long:"transport" env:"FITDIS_TRANSPORT" description:"Link transport: tcp|websocket"`
	Header      string `long:"header" env:"FITDIS_HEADER" description:"Text shown before the heart rate"`
	ProtocolLog string `long:"protocol-log" env:"FITDIS_PROTOCOL_LOG" description:"Write CBOR protocol events to this file"`
	Version     bool   `short:"v" long:"version" description:"Show version information"`

	cli.LogOptions
}

func main() {
	var opts Options
	if err := cli.Parse(&opts, os.Args[1:], os.Stdout); err != nil {
		if cli.IsHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if opts.Version {
		cli.ShowVersion(os.Stdout, "fitdis-device")
		return
	}

	if err := cli.SetupLogging("fitdis-device", opts.LogOptions); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cli.SetupCloseHandler(cancel)

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Fatal("Device failed")
	}
	logrus.Info("Goodbye!")
}

func loadConfig(opts Options) (config.DeviceConfig, error) {
	cfg := config.DefaultDevice()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadDevice(opts.ConfigFile); err != nil {
			return cfg, err
		}
	}
	cli.Override(&cfg.Listen, opts.Listen)
	cli.Override(&cfg.Transport, opts.Transport)
	cli.Override(&cfg.Header, opts.Header)
	cli.Override(&cfg.ProtocolLog, opts.ProtocolLog)
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.DeviceConfig) error {
	protoLog, closeLog, err := cli.OpenProtocolLog(cfg.ProtocolLog)
	if err != nil {
		return err
	}
	defer closeLog()

	seed, err := cfg.SeedTuplets()
	if err != nil {
		return err
	}

	logger := logrus.StandardLogger()
	screen := display.NewTextDisplay(os.Stdout, cfg.Header, logger)
	app, err := device.New(device.Config{
		Seed:           seed,
		BufferSize:     cfg.BufferSize,
		Interest:       cfg.Interest,
		Channel:        cfg.Channel(),
		Logger:         logger,
		ProtocolLogger: protoLog,
	}, screen)
	if err != nil {
		return err
	}
	defer app.Close()

	go func() {
		if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("event loop stopped")
		}
	}()
	screen.Render()

	serve := func(ctx context.Context, link transport.Link, connID string) {
		if err := app.Serve(ctx, link, connID); err != nil {
			logger.WithError(err).WithField("conn_id", connID).Warn("host session failed")
		}
	}

	switch cfg.Transport {
	case config.TransportWebSocket:
		return serveWebSocket(ctx, cfg, protoLog, serve)
	default:
		return serveTCP(ctx, cfg, protoLog, serve)
	}
}

type serveFunc func(ctx context.Context, link transport.Link, connID string)

func serveTCP(ctx context.Context, cfg config.DeviceConfig, protoLog log.Logger, serve serveFunc) error {
	srv, err := startTCP(ctx, cfg, protoLog, serve)
	if err != nil {
		return err
	}
	logrus.WithField("address", srv.Addr().String()).Info("waiting for host")

	<-ctx.Done()
	return srv.Stop()
}

func startTCP(ctx context.Context, cfg config.DeviceConfig, protoLog log.Logger, serve serveFunc) (*transport.Server, error) {
	srv, err := transport.NewServer(transport.ServerConfig{
		Address:        cfg.Listen,
		Role:           log.RoleDevice,
		ProtocolLogger: protoLog,
		OnConnect: func(ctx context.Context, link *transport.StreamLink, connID string) {
			serve(ctx, link, connID)
		},
		OnError: func(err error) {
			logrus.WithError(err).Warn("connection rejected")
		},
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func serveWebSocket(ctx context.Context, cfg config.DeviceConfig, protoLog log.Logger, serve serveFunc) error {
	handler := transport.NewWebSocketHandler(func(link *transport.WebSocketLink) {
		connID := uuid.New().String()
		link.SetLogger(protoLog, connID, log.RoleDevice)
		serve(ctx, link, connID)
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.WebSocketPath, handler)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logrus.WithFields(logrus.Fields{
		"address": cfg.Listen,
		"path":    cfg.WebSocketPath,
	}).Info("waiting for host")

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve websocket: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Shutdown does not wait for hijacked connections; app.Close ends them.
	return srv.Shutdown(shutdownCtx)
}

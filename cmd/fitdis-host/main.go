// Command fitdis-host runs the phone side: it connects to a device and
// publishes heart rate readings, either simulated or typed in.
//
// Usage:
//
//	fitdis-host [flags]
//
// Examples:
//
//	# Publish a simulated heart rate every second
//	fitdis-host --address 127.0.0.1:7878
//
//	# Type readings at a prompt
//	fitdis-host --interactive
//
//	# Keep redialing when the watch goes away
//	fitdis-host --reconnect
//
//	# Connect over websocket
//	fitdis-host --transport websocket --address watch.local:8080
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/internal/cli"
	"github.com/fitdis/fitdis-go/pkg/config"
	"github.com/fitdis/fitdis-go/pkg/host"
	"github.com/fitdis/fitdis-go/pkg/log"
	"github.com/fitdis/fitdis-go/pkg/transport"
)

// Options holds the command line flags. Non-empty flags override the
// configuration file.
type Options struct {
	ConfigFile  string        `short:"c" long:"config" env:"FITDIS_CONFIG" description:"YAML configuration file"`
	Address     string        `short:"a" long:"address" env:"FITDIS_ADDRESS" description:"Device address (default 127.0.0.1:7878)"`
	Transport   string        `short:"t" long:"transport" env:"FITDIS_TRANSPORT" description:"Link transport: tcp|websocket"`
	Interval    time.Duration `short:"i" long:"interval" env:"FITDIS_INTERVAL" description:"Simulated reading interval"`
	Count       int           `short:"n" long:"count" description:"Stop after this many simulated readings (0: run until interrupted)"`
	Interactive bool          `short:"I" long:"interactive" description:"Read heart rates from a prompt instead of simulating"`
	Reconnect   bool          `short:"r" long:"reconnect" env:"FITDIS_RECONNECT" description:"Redial the device when the link drops"`
	ProtocolLog string        `long:"protocol-log" env:"FITDIS_PROTOCOL_LOG" description:"Write CBOR protocol events to this file"`
	Version     bool          `short:"v" long:"version" description:"Show version information"`

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
		cli.ShowVersion(os.Stdout, "fitdis-host")
		return
	}

	if err := cli.SetupLogging("fitdis-host", opts.LogOptions); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cli.SetupCloseHandler(cancel)

	if err := run(ctx, cancel, cfg, opts); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("Host failed")
	}
}

func loadConfig(opts Options) (config.HostConfig, error) {
	cfg := config.DefaultHost()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadHost(opts.ConfigFile); err != nil {
			return cfg, err
		}
	}
	cli.Override(&cfg.Address, opts.Address)
	cli.Override(&cfg.Transport, opts.Transport)
	cli.Override(&cfg.Interval, opts.Interval)
	cli.Override(&cfg.ProtocolLog, opts.ProtocolLog)
	if opts.Reconnect {
		cfg.Reconnect.Enabled = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cancel context.CancelFunc, cfg config.HostConfig, opts Options) error {
	protoLog, closeLog, err := cli.OpenProtocolLog(cfg.ProtocolLog)
	if err != nil {
		return err
	}
	defer closeLog()

	pubConfig := cfg.Publisher()
	pubConfig.Logger = logrus.StandardLogger()
	pubConfig.ProtocolLogger = protoLog

	var pub publisher
	if cfg.Reconnect.Enabled {
		connector, err := startConnector(ctx, cancel, cfg, pubConfig, protoLog)
		if err != nil {
			return err
		}
		pub = connector
	} else {
		link, err := dial(ctx, cfg, protoLog)
		if err != nil {
			return err
		}
		p, err := host.Open(ctx, link, pubConfig)
		if err != nil {
			link.Close()
			return fmt.Errorf("failed to open channel: %w", err)
		}
		defer p.Close()
		logrus.WithFields(logrus.Fields{
			"address":  cfg.Address,
			"outbound": p.Channel().OutboundCapacity(),
		}).Info("connected to device")

		// Stop when the device goes away.
		go func() {
			select {
			case <-p.Done():
				cancel()
			case <-ctx.Done():
			}
		}()
		pub = p
	}

	if opts.Interactive {
		prompt, err := NewPrompt(pub)
		if err != nil {
			return err
		}
		logrus.SetOutput(prompt.Stderr())
		return prompt.Run(ctx, cancel)
	}
	return runSimulation(ctx, pub, newHeartRateWalk(70), cfg.Interval, opts.Count)
}

// startConnector runs a connector until ctx is done and waits for the
// first channel. Readings published between links are logged and dropped.
func startConnector(ctx context.Context, cancel context.CancelFunc, cfg config.HostConfig, pubConfig host.Config, protoLog log.Logger) (*host.Connector, error) {
	connector := host.NewConnector(func(ctx context.Context) (transport.Link, error) {
		return dial(ctx, cfg, protoLog)
	}, pubConfig, cfg.ReconnectPolicy())
	connector.OnStateChange(func(_, state host.ConnState) {
		if state == host.StateConnected {
			logrus.WithField("address", cfg.Address).Info("connected to device")
		}
	})

	go func() {
		if err := connector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Error("connector stopped")
		}
		cancel()
	}()

	if err := connector.WaitConnected(ctx); err != nil {
		return nil, err
	}
	return connector, nil
}

func dial(ctx context.Context, cfg config.HostConfig, protoLog log.Logger) (transport.Link, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	connID := uuid.New().String()
	switch cfg.Transport {
	case config.TransportWebSocket:
		link, err := transport.DialWebSocket(dialCtx, cfg.WebSocketURL())
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", cfg.WebSocketURL(), err)
		}
		link.SetLogger(protoLog, connID, log.RoleHost)
		return link, nil
	default:
		link, err := transport.DialTCP(dialCtx, cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", cfg.Address, err)
		}
		link.SetLogger(protoLog, connID, log.RoleHost)
		return link, nil
	}
}

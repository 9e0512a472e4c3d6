// Package cli holds the flag parsing, logging and shutdown plumbing shared
// by the fitdis binaries.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/fitdis/fitdis-go/pkg/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// LogOptions are the logging flags every binary accepts.
type LogOptions struct {
	LogLevel  string `short:"L" long:"log-level" env:"FITDIS_LOG_LEVEL" description:"Log level: debug|info|warn|error" default:"info"`
	LogFormat string `long:"log-format" env:"FITDIS_LOG_FORMAT" description:"Log format" choice:"text" choice:"json" default:"text"`
}

// ErrHelp is returned by Parse when help was requested and printed.
var ErrHelp = &flags.Error{Type: flags.ErrHelp}

// Parse parses args into opts. Help output goes to out.
func Parse(opts any, args []string, out io.Writer) error {
	parser := flags.NewParser(opts, flags.HelpFlag)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(out, flagsErr.Message)
			return ErrHelp
		}
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("unknown argument(s): %v", rest)
	}
	return nil
}

// IsHelp reports whether err came from a help request.
func IsHelp(err error) bool {
	flagsErr, ok := err.(*flags.Error)
	return ok && flagsErr.Type == flags.ErrHelp
}

// ShowVersion prints version information for name.
func ShowVersion(out io.Writer, name string) {
	fmt.Fprintf(out, "%s version %s\n", name, version)
	if commit != "none" && commit != "" {
		fmt.Fprintf(out, "commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Fprintf(out, "built: %s\n", date)
	}
}

// SetupLogging configures the logrus standard logger.
func SetupLogging(name string, opts LogOptions) error {
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	switch opts.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logrus.WithFields(logrus.Fields{
		"version": version,
		"pid":     os.Getpid(),
	}).Infof("%s logging initialized", name)
	return nil
}

// SetupCloseHandler cancels ctx on SIGINT or SIGTERM.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("received interrupt, shutting down...")
		cancel()
	}()
}

// OpenProtocolLog opens a CBOR capture file. An empty path returns a
// NoopLogger and a no-op close.
func OpenProtocolLog(path string) (log.Logger, func(), error) {
	if path == "" {
		return log.NoopLogger{}, func() {}, nil
	}
	fl, err := log.NewFileLogger(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open protocol log: %w", err)
	}
	logrus.WithField("path", path).Info("capturing protocol events")
	return fl, func() {
		if n, err := fl.Dropped(); n > 0 {
			logrus.WithError(err).WithField("dropped", n).Warn("protocol log dropped events")
		}
		if err := fl.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close protocol log")
		}
	}, nil
}

// Override sets *dst to v when v is non-empty. Flags win over file values.
func Override[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

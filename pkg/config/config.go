// Package config loads YAML configuration for the device and host binaries.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fitdis/fitdis-go/pkg/host"
	"github.com/fitdis/fitdis-go/pkg/kvsync"
	"github.com/fitdis/fitdis-go/pkg/transport"
	"github.com/fitdis/fitdis-go/pkg/wire"
)

// Transport names.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// DefaultWebSocketPath is the HTTP path the device serves the websocket on.
const DefaultWebSocketPath = "/sync"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// LoadError describes a configuration file that could not be loaded.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return e.File + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.File + ": " + e.Message
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// SeedEntry declares one initial dictionary value.
//
//	seed:
//	  - key: 0
//	    type: cstring
//	    value: "-"
//	  - key: 2
//	    type: uint
//	    width: 1
//	    value: "60"
type SeedEntry struct {
	Key   uint32 `yaml:"key"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`

	// Width is the integer width in bytes (1, 2 or 4; default 4).
	Width int `yaml:"width,omitempty"`
}

// Tuplet converts the entry to a wire value. Byte arrays are hex encoded.
func (s SeedEntry) Tuplet() (wire.Tuplet, error) {
	width := s.Width
	if width == 0 {
		width = 4
	}
	switch strings.ToLower(s.Type) {
	case "cstring", "string", "":
		return wire.CString(s.Key, s.Value), nil
	case "bytes":
		b, err := hex.DecodeString(s.Value)
		if err != nil {
			return wire.Tuplet{}, fmt.Errorf("%w: key %d: bad hex: %v", ErrInvalid, s.Key, err)
		}
		return wire.Bytes(s.Key, b), nil
	case "uint":
		v, err := strconv.ParseUint(s.Value, 10, width*8)
		if err != nil {
			return wire.Tuplet{}, fmt.Errorf("%w: key %d: %v", ErrInvalid, s.Key, err)
		}
		switch width {
		case 1:
			return wire.Uint8(s.Key, uint8(v)), nil
		case 2:
			return wire.Uint16(s.Key, uint16(v)), nil
		case 4:
			return wire.Uint32(s.Key, uint32(v)), nil
		}
	case "int":
		v, err := strconv.ParseInt(s.Value, 10, width*8)
		if err != nil {
			return wire.Tuplet{}, fmt.Errorf("%w: key %d: %v", ErrInvalid, s.Key, err)
		}
		switch width {
		case 1:
			return wire.Int8(s.Key, int8(v)), nil
		case 2:
			return wire.Int16(s.Key, int16(v)), nil
		case 4:
			return wire.Int32(s.Key, int32(v)), nil
		}
	default:
		return wire.Tuplet{}, fmt.Errorf("%w: key %d: unknown type %q", ErrInvalid, s.Key, s.Type)
	}
	return wire.Tuplet{}, fmt.Errorf("%w: key %d: %w", ErrInvalid, s.Key, wire.ErrInvalidWidth)
}

// DeviceConfig configures fitdis-device.
type DeviceConfig struct {
	Listen        string `yaml:"listen"`
	Transport     string `yaml:"transport"`
	WebSocketPath string `yaml:"websocket_path"`

	// Header is the text shown before the heart rate.
	Header string `yaml:"header"`

	BufferSize       int           `yaml:"buffer_size"`
	InboundCapacity  int           `yaml:"inbound_capacity"`
	OutboundCapacity int           `yaml:"outbound_capacity"`
	AckTimeout       time.Duration `yaml:"ack_timeout"`

	Seed     []SeedEntry `yaml:"seed"`
	Interest []uint32    `yaml:"interest,omitempty"`

	// ProtocolLog is a CBOR capture file path (optional).
	ProtocolLog string `yaml:"protocol_log,omitempty"`
}

// DefaultDevice returns the heart rate watch defaults.
func DefaultDevice() DeviceConfig {
	return DeviceConfig{
		Listen:           transport.DefaultAddress,
		Transport:        TransportTCP,
		WebSocketPath:    DefaultWebSocketPath,
		BufferSize:       kvsync.DefaultBufferSize,
		InboundCapacity:  transport.DefaultDeviceInbound,
		OutboundCapacity: transport.DefaultDeviceOutbound,
		AckTimeout:       transport.DefaultAckTimeout,
		Seed:             []SeedEntry{{Key: host.HeartRateKey, Type: "cstring", Value: "-"}},
	}
}

// Validate checks the configuration.
func (c DeviceConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalid)
	}
	if err := validateTransport(c.Transport, c.WebSocketPath); err != nil {
		return err
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer_size must be positive", ErrInvalid)
	}
	if err := validateCapacity("inbound_capacity", c.InboundCapacity); err != nil {
		return err
	}
	if err := validateCapacity("outbound_capacity", c.OutboundCapacity); err != nil {
		return err
	}
	if c.AckTimeout < 0 {
		return fmt.Errorf("%w: ack_timeout must not be negative", ErrInvalid)
	}
	seed, err := c.SeedTuplets()
	if err != nil {
		return err
	}
	if size := wire.Size(seed); size > c.BufferSize {
		return fmt.Errorf("%w: seed needs %d bytes, buffer_size is %d", ErrInvalid, size, c.BufferSize)
	}
	return nil
}

// SeedTuplets converts the seed entries.
func (c DeviceConfig) SeedTuplets() ([]wire.Tuplet, error) {
	tuplets := make([]wire.Tuplet, 0, len(c.Seed))
	seen := make(map[uint32]bool, len(c.Seed))
	for _, entry := range c.Seed {
		if seen[entry.Key] {
			return nil, fmt.Errorf("%w: seed key %d declared twice", ErrInvalid, entry.Key)
		}
		seen[entry.Key] = true
		t, err := entry.Tuplet()
		if err != nil {
			return nil, err
		}
		tuplets = append(tuplets, t)
	}
	return tuplets, nil
}

// Channel returns the device channel configuration.
func (c DeviceConfig) Channel() transport.Config {
	config := transport.DefaultDeviceConfig()
	config.InboundCapacity = c.InboundCapacity
	config.OutboundCapacity = c.OutboundCapacity
	if c.AckTimeout > 0 {
		config.AckTimeout = c.AckTimeout
	}
	return config
}

// HostConfig configures fitdis-host.
type HostConfig struct {
	Address       string `yaml:"address"`
	Transport     string `yaml:"transport"`
	WebSocketPath string `yaml:"websocket_path"`

	AckTimeout time.Duration   `yaml:"ack_timeout"`
	Retry      RetryConfig     `yaml:"retry"`
	Reconnect  ReconnectConfig `yaml:"reconnect"`

	// Interval between simulated heart rate readings.
	Interval time.Duration `yaml:"interval"`

	ProtocolLog string `yaml:"protocol_log,omitempty"`
}

// RetryConfig is the YAML form of host.RetryConfig.
type RetryConfig struct {
	MaxRetries    uint64        `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	JitterPercent uint64        `yaml:"jitter_percent"`
}

// ReconnectConfig controls redialing after the device link drops. When
// disabled the host exits on link loss.
type ReconnectConfig struct {
	Enabled      bool          `yaml:"enabled"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// DefaultHost returns the host defaults.
func DefaultHost() HostConfig {
	retry := host.DefaultRetryConfig()
	reconnect := host.DefaultReconnectConfig()
	return HostConfig{
		Address:       transport.DefaultAddress,
		Transport:     TransportTCP,
		WebSocketPath: DefaultWebSocketPath,
		AckTimeout:    transport.DefaultAckTimeout,
		Retry: RetryConfig{
			MaxRetries:    retry.MaxRetries,
			BaseDelay:     retry.BaseDelay,
			MaxDelay:      retry.MaxDelay,
			JitterPercent: retry.JitterPercent,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: reconnect.InitialDelay,
			MaxDelay:     reconnect.MaxDelay,
		},
		Interval: time.Second,
	}
}

// Validate checks the configuration.
func (c HostConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalid)
	}
	if err := validateTransport(c.Transport, c.WebSocketPath); err != nil {
		return err
	}
	if c.AckTimeout < 0 {
		return fmt.Errorf("%w: ack_timeout must not be negative", ErrInvalid)
	}
	if c.Retry.JitterPercent > 100 {
		return fmt.Errorf("%w: retry.jitter_percent must be at most 100", ErrInvalid)
	}
	if c.Reconnect.InitialDelay < 0 || c.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("%w: reconnect delays must not be negative", ErrInvalid)
	}
	if c.Reconnect.MaxDelay > 0 && c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("%w: reconnect.max_delay is below reconnect.initial_delay", ErrInvalid)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalid)
	}
	return nil
}

// Publisher returns the host publisher configuration.
func (c HostConfig) Publisher() host.Config {
	config := host.DefaultConfig()
	if c.AckTimeout > 0 {
		config.Channel.AckTimeout = c.AckTimeout
	}
	config.Retry = host.RetryConfig{
		MaxRetries:    c.Retry.MaxRetries,
		BaseDelay:     c.Retry.BaseDelay,
		MaxDelay:      c.Retry.MaxDelay,
		JitterPercent: c.Retry.JitterPercent,
	}
	return config
}

// ReconnectPolicy returns the connector redial policy.
func (c HostConfig) ReconnectPolicy() host.ReconnectConfig {
	policy := host.DefaultReconnectConfig()
	if c.Reconnect.InitialDelay > 0 {
		policy.InitialDelay = c.Reconnect.InitialDelay
	}
	if c.Reconnect.MaxDelay > 0 {
		policy.MaxDelay = c.Reconnect.MaxDelay
	}
	return policy
}

// WebSocketURL returns the ws:// URL for Address and WebSocketPath.
func (c HostConfig) WebSocketURL() string {
	return "ws://" + c.Address + c.WebSocketPath
}

// LoadDevice reads a device configuration file over the defaults.
func LoadDevice(path string) (DeviceConfig, error) {
	config := DefaultDevice()
	if err := load(path, &config); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, &LoadError{File: path, Message: "validation failed", Cause: err}
	}
	return config, nil
}

// LoadHost reads a host configuration file over the defaults.
func LoadHost(path string) (HostConfig, error) {
	config := DefaultHost()
	if err := load(path, &config); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, &LoadError{File: path, Message: "validation failed", Cause: err}
	}
	return config, nil
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return &LoadError{File: path, Message: "failed to parse YAML", Cause: err}
	}
	return nil
}

func validateTransport(name, path string) error {
	switch name {
	case TransportTCP:
		return nil
	case TransportWebSocket:
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%w: websocket_path must start with /", ErrInvalid)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, name)
	}
}

func validateCapacity(name string, v int) error {
	if v <= 0 || v > transport.MaxCapacity {
		return fmt.Errorf("%w: %s must be in 1..%d", ErrInvalid, name, transport.MaxCapacity)
	}
	return nil
}

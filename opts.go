package gopherchat

import (
	"net/netip"
	"time"

	"github.com/A13xB0/GopherChat/listener"
)

// Logger is the printf-style logger used across the module
type Logger = listener.Logger

// DefaultLogger discards everything
type DefaultLogger = listener.DefaultLogger

// ChatConfig holds the settings of a Chat that do not change at runtime
type ChatConfig struct {
	Logger Logger
	// LocalName prefixes sent lines in the transcript
	LocalName string
	// BindHost is the local address servers bind, empty for all interfaces
	BindHost string
	// MaxLength is the largest message accepted in either direction
	MaxLength    uint32
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	// WebSocketPath is served and dialled by the WebSocket transport
	WebSocketPath string
	// Initial is the connection configuration before any setter runs
	Initial ConnectionConfig
}

// ChatOptFunc configures a Chat
type ChatOptFunc func(config *ChatConfig)

func chatDefaultConfig() ChatConfig {
	return ChatConfig{
		Logger:        &DefaultLogger{},
		MaxLength:     64 * 1024,
		ReadTimeout:   0,
		WriteTimeout:  time.Second * 10,
		DialTimeout:   time.Second * 5,
		WebSocketPath: "/chat",
		Initial: ConnectionConfig{
			Kind:          TCP,
			RemoteAddress: netip.AddrFrom4([4]byte{127, 0, 0, 1}),
			RemotePort:    10000,
		},
	}
}

// WithLogger sets the logger implementation
func WithLogger(logger Logger) ChatOptFunc {
	return func(config *ChatConfig) {
		config.Logger = logger
	}
}

// WithLocalName sets the name shown on sent lines
func WithLocalName(name string) ChatOptFunc {
	return func(config *ChatConfig) {
		config.LocalName = name
	}
}

// WithBindHost restricts the local server to one interface
func WithBindHost(host string) ChatOptFunc {
	return func(config *ChatConfig) {
		config.BindHost = host
	}
}

// WithMaxLength sets the maximum message length
func WithMaxLength(length uint32) ChatOptFunc {
	return func(config *ChatConfig) {
		config.MaxLength = length
	}
}

// WithTimeouts sets read and write timeouts. A zero read timeout keeps idle
// connections open.
func WithTimeouts(read, write time.Duration) ChatOptFunc {
	return func(config *ChatConfig) {
		config.ReadTimeout = read
		config.WriteTimeout = write
	}
}

// WithDialTimeout bounds each connect attempt
func WithDialTimeout(timeout time.Duration) ChatOptFunc {
	return func(config *ChatConfig) {
		config.DialTimeout = timeout
	}
}

// WithWebSocketPath sets the HTTP path of the WebSocket transport
func WithWebSocketPath(path string) ChatOptFunc {
	return func(config *ChatConfig) {
		config.WebSocketPath = path
	}
}

// WithInitialConfig sets the connection configuration a new Chat starts with
func WithInitialConfig(initial ConnectionConfig) ChatOptFunc {
	return func(config *ChatConfig) {
		config.Initial = initial
	}
}

// ValidateChatConfig validates a ChatConfig
func ValidateChatConfig(config *ChatConfig) error {
	if config.Logger == nil {
		return listener.NewValidationError("Logger", "must not be nil")
	}
	if config.MaxLength == 0 {
		return listener.NewValidationError("MaxLength", "must be greater than 0")
	}
	if config.ReadTimeout < 0 {
		return listener.NewValidationError("ReadTimeout", "cannot be negative")
	}
	if config.WriteTimeout < 0 {
		return listener.NewValidationError("WriteTimeout", "cannot be negative")
	}
	if config.DialTimeout < 0 {
		return listener.NewValidationError("DialTimeout", "cannot be negative")
	}
	if _, ok := transportFactories[config.Initial.Kind]; !ok {
		return listener.NewValidationError("Initial.Kind", "unknown transport")
	}
	if !config.Initial.RemoteAddress.IsValid() || config.Initial.RemoteAddress.Zone() != "" {
		return listener.NewValidationError("Initial.RemoteAddress", "must be an IP address")
	}
	if config.Initial.RemotePort == 0 {
		return listener.NewValidationError("Initial.RemotePort", "must be between 1 and 65535")
	}
	return nil
}

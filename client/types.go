package client

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrNotConnected is returned by Send and Receive before Connect succeeds
var ErrNotConnected = errors.New("not connected")

// Client defines the interface for all client implementations
type Client interface {
	// Connect establishes a connection to the server
	Connect(ctx context.Context) error

	// Send sends one message to the server
	Send(data []byte) error

	// Receive blocks until one message arrives from the server. After Close
	// it returns an error.
	Receive() ([]byte, error)

	// Close closes the client connection
	Close() error

	// LocalAddr returns the local network address
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address
	RemoteAddr() net.Addr
}

// Protocol-specific configurations
type QUICConfig struct {
	InsecureSkipVerify bool
	NextProtos         []string
	MinVersion         uint16
	KeepAlivePeriod    time.Duration
}

type WebSocketConfig struct {
	Path            string
	ReadBufferSize  int
	WriteBufferSize int
}

// MaxDatagramPayload is the largest UDP payload an IPv4 datagram can carry
const MaxDatagramPayload = 65507

// ClientConfig holds common configuration for all protocol clients
type ClientConfig struct {
	// MaxLength is the largest message accepted in either direction
	MaxLength uint32
	// DialTimeout bounds Connect on top of the caller's context
	DialTimeout time.Duration
	// ReadTimeout is the timeout for read operations, zero waits forever
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for write operations
	WriteTimeout time.Duration
	// BufferSize is the size of the datagram read buffer
	BufferSize int
	// ProtocolConfig holds protocol-specific configuration
	ProtocolConfig interface{}
}

// DefaultConfig returns a ClientConfig with default values
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		MaxLength:    1024 * 1024,
		DialTimeout:  time.Second * 5,
		ReadTimeout:  0,
		WriteTimeout: time.Second * 10,
		BufferSize:   65535,
	}
}

// DefaultQUICConfig returns the QUIC settings matching the listener package
func DefaultQUICConfig() *QUICConfig {
	return &QUICConfig{
		InsecureSkipVerify: true,
		NextProtos:         []string{"gopherchat"},
		MinVersion:         0x0304, // TLS 1.3
		KeepAlivePeriod:    time.Second * 15,
	}
}

// DefaultWebSocketConfig returns the WebSocket settings matching the listener package
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		Path:            "/",
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// Option is a function that configures a ClientConfig
type Option func(*ClientConfig)

// NewConfig builds a ClientConfig from the defaults and opts
func NewConfig(opts ...Option) *ClientConfig {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// WithMaxLength sets the maximum message length
func WithMaxLength(length uint32) Option {
	return func(c *ClientConfig) {
		c.MaxLength = length
	}
}

// WithDialTimeout sets the connect timeout
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *ClientConfig) {
		c.DialTimeout = timeout
	}
}

// WithTimeouts sets read and write timeouts for any protocol
func WithTimeouts(read, write time.Duration) Option {
	return func(c *ClientConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
	}
}

// WithBufferSize sets the datagram read buffer size
func WithBufferSize(size int) Option {
	return func(c *ClientConfig) {
		c.BufferSize = size
	}
}

// WithQUICInsecureSkipVerify controls certificate verification for QUIC
func WithQUICInsecureSkipVerify(skip bool) Option {
	return func(c *ClientConfig) {
		quicConfig(c).InsecureSkipVerify = skip
	}
}

// WithWebSocketPath sets the path dialled by the WebSocket client
func WithWebSocketPath(path string) Option {
	return func(c *ClientConfig) {
		webSocketConfig(c).Path = path
	}
}

func quicConfig(c *ClientConfig) *QUICConfig {
	q, ok := c.ProtocolConfig.(*QUICConfig)
	if !ok {
		q = DefaultQUICConfig()
		c.ProtocolConfig = q
	}
	return q
}

func webSocketConfig(c *ClientConfig) *WebSocketConfig {
	ws, ok := c.ProtocolConfig.(*WebSocketConfig)
	if !ok {
		ws = DefaultWebSocketConfig()
		c.ProtocolConfig = ws
	}
	return ws
}

// dialContext applies the configured dial timeout to ctx
func (c *ClientConfig) dialContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.DialTimeout > 0 {
		return context.WithTimeout(ctx, c.DialTimeout)
	}
	return context.WithCancel(ctx)
}

// writeDeadline returns the deadline for a write starting now
func (c *ClientConfig) writeDeadline() time.Time {
	if c.WriteTimeout > 0 {
		return time.Now().Add(c.WriteTimeout)
	}
	return time.Time{}
}

// readDeadline returns the deadline for a read starting now
func (c *ClientConfig) readDeadline() time.Time {
	if c.ReadTimeout > 0 {
		return time.Now().Add(c.ReadTimeout)
	}
	return time.Time{}
}

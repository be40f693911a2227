package listener

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BaseSession provides common session functionality for all protocol implementations
type BaseSession struct {
	ID            string
	ClientAddr    net.Addr
	DataChannel   chan []byte
	LastReceived  time.Time
	receivedMutex sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	logger        Logger
}

// NewBaseSession creates a new base session with the given parameters
func NewBaseSession(addr net.Addr, ctx context.Context, logger Logger, config *ServerConfig) *BaseSession {
	sessionCtx, cancel := context.WithCancel(ctx)
	return &BaseSession{
		ID:           uuid.NewString(),
		ClientAddr:   addr,
		DataChannel:  make(chan []byte, config.BufferSize),
		LastReceived: time.Now(),
		ctx:          sessionCtx,
		cancel:       cancel,
		logger:       logger,
	}
}

// GetSessionID returns the unique session identifier
func (s *BaseSession) GetSessionID() string {
	return s.ID
}

// GetClientAddr returns the client's network address
func (s *BaseSession) GetClientAddr() net.Addr {
	return s.ClientAddr
}

// GetLastReceived returns the timestamp of the last received data
func (s *BaseSession) GetLastReceived() time.Time {
	s.receivedMutex.RLock()
	defer s.receivedMutex.RUnlock()
	return s.LastReceived
}

// updateLastReceived updates the last received timestamp with the current time
func (s *BaseSession) updateLastReceived() {
	s.receivedMutex.Lock()
	s.LastReceived = time.Now()
	s.receivedMutex.Unlock()
}

// Data returns the channel for receiving data from the client
func (s *BaseSession) Data() <-chan []byte {
	return s.DataChannel
}

// Context returns the session's context
func (s *BaseSession) Context() context.Context {
	return s.ctx
}

// Cancel cancels the session's context
func (s *BaseSession) Cancel() {
	s.cancel()
}

// deliver hands a message to the session consumer, giving up once the
// session context is done
func (s *BaseSession) deliver(data []byte) bool {
	select {
	case s.DataChannel <- data:
		s.updateLastReceived()
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Logger defines the interface for logging operations
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// DefaultLogger provides a basic implementation of the Logger interface
type DefaultLogger struct{}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) {}
func (l *DefaultLogger) Info(msg string, args ...interface{})  {}
func (l *DefaultLogger) Warn(msg string, args ...interface{})  {}
func (l *DefaultLogger) Error(msg string, args ...interface{}) {}

// ServerOption defines a function type for configuring server options
type ServerOption func(*ServerConfig)

// Protocol-specific configurations
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	Path            string
}

type QUICConfig struct {
	// TLSConfig overrides the generated self-signed certificate
	TLSConfig       *tls.Config
	KeepAlivePeriod time.Duration
}

// ServerConfig holds common configuration for all protocol servers
type ServerConfig struct {
	MaxLength  uint32
	BufferSize int
	// ReadTimeout closes sessions idle for longer than this. Zero keeps
	// idle sessions open.
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         Logger
	MaxConnections int
	ProtocolConfig interface{} // Protocol-specific configuration
}

// defaultConfig returns a ServerConfig with default values
func defaultConfig() *ServerConfig {
	return &ServerConfig{
		MaxLength:      1024 * 1024, // 1MB
		BufferSize:     100,
		ReadTimeout:    0,
		WriteTimeout:   time.Second * 30,
		Logger:         &DefaultLogger{},
		MaxConnections: 1000,
	}
}

// WithMaxLength sets the maximum message length
func WithMaxLength(length uint32) ServerOption {
	return func(c *ServerConfig) {
		c.MaxLength = length
	}
}

// WithBufferSize sets the channel buffer size
func WithBufferSize(size int) ServerOption {
	return func(c *ServerConfig) {
		c.BufferSize = size
	}
}

// WithLogger sets the logger implementation
func WithLogger(logger Logger) ServerOption {
	return func(c *ServerConfig) {
		c.Logger = logger
	}
}

// WithTimeouts sets read and write timeouts
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
	}
}

// WithMaxConnections sets the maximum number of concurrent connections
func WithMaxConnections(max int) ServerOption {
	return func(c *ServerConfig) {
		c.MaxConnections = max
	}
}

// WithWebSocketPath sets the HTTP path the WebSocket server upgrades on
func WithWebSocketPath(path string) ServerOption {
	return func(c *ServerConfig) {
		webSocketConfig(c).Path = path
	}
}

// WithWebSocketBufferSizes sets the upgrader's read and write buffer sizes
func WithWebSocketBufferSizes(read, write int) ServerOption {
	return func(c *ServerConfig) {
		ws := webSocketConfig(c)
		ws.ReadBufferSize = read
		ws.WriteBufferSize = write
	}
}

// WithQUICTLSConfig replaces the self-signed certificate used by the QUIC server
func WithQUICTLSConfig(tlsConfig *tls.Config) ServerOption {
	return func(c *ServerConfig) {
		quicConfig(c).TLSConfig = tlsConfig
	}
}

// WithQUICKeepAlive sets the QUIC keep-alive period
func WithQUICKeepAlive(period time.Duration) ServerOption {
	return func(c *ServerConfig) {
		quicConfig(c).KeepAlivePeriod = period
	}
}

func webSocketConfig(c *ServerConfig) *WebSocketConfig {
	ws, ok := c.ProtocolConfig.(*WebSocketConfig)
	if !ok {
		ws = defaultWebSocketConfig()
		c.ProtocolConfig = ws
	}
	return ws
}

func defaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Path:            "/",
	}
}

func quicConfig(c *ServerConfig) *QUICConfig {
	q, ok := c.ProtocolConfig.(*QUICConfig)
	if !ok {
		q = defaultQUICConfig()
		c.ProtocolConfig = q
	}
	return q
}

func defaultQUICConfig() *QUICConfig {
	return &QUICConfig{
		KeepAlivePeriod: time.Second * 15,
	}
}

// hostPort joins host and port, bracketing IPv6 literals
func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

package gopherchat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// ConnectionConfig is the user-facing connection state. RemotePort is also
// the port the local server listens on.
type ConnectionConfig struct {
	Kind               TransportKind
	RemoteAddress      netip.Addr
	RemotePort         uint16
	LocalServerEnabled bool
}

// RemoteEndpoint returns the address and port as one value
func (c ConnectionConfig) RemoteEndpoint() netip.AddrPort {
	return netip.AddrPortFrom(c.RemoteAddress, c.RemotePort)
}

// Status describes the live transport
type Status struct {
	// Epoch counts transport rebuilds, zero before the first Refresh
	Epoch     uint64
	Kind      TransportKind
	Listening bool
	Connected bool
}

// Chat is the connection configuration and messaging controller. Setters
// only change the stored configuration; Refresh applies it to the network.
type Chat struct {
	*ChatConfig

	mu         sync.RWMutex
	config     ConnectionConfig
	applied    *ConnectionConfig
	transport  *sessionTransport
	epoch      uint64
	transcript *Transcript
	closed     bool
}

// New creates a Chat with the given options. No socket is opened until the
// first Refresh.
func New(opts ...ChatOptFunc) (*Chat, error) {
	config := chatDefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if err := ValidateChatConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if config.LocalName == "" {
		config.LocalName = defaultLocalName()
	}

	initial := config.Initial
	initial.RemoteAddress = initial.RemoteAddress.Unmap()

	return &Chat{
		ChatConfig: &config,
		config:     initial,
		transcript: NewTranscript(),
	}, nil
}

func defaultLocalName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return uuid.NewString()[:8]
}

// SetTransportKind selects the transport used by the next Refresh
func (c *Chat) SetTransportKind(kind TransportKind) error {
	if _, ok := transportFactories[kind]; !ok {
		return newChatError(KindInvalidTransport, kind.String(), nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Kind = kind
	return nil
}

// SetRemoteAddress validates raw and stores it. On error the previous
// address is kept.
func (c *Chat) SetRemoteAddress(raw string) error {
	addr, err := ValidateAddress(raw)
	if err != nil {
		c.Logger.Debug("Rejected remote address %q: %v", raw, err)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.RemoteAddress = addr
	return nil
}

// SetRemotePort validates raw and stores it. On error the previous port is
// kept.
func (c *Chat) SetRemotePort(raw string) error {
	port, err := ValidatePort(raw)
	if err != nil {
		c.Logger.Debug("Rejected remote port %q: %v", raw, err)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.RemotePort = port
	return nil
}

// SetLocalServerEnabled toggles the local server for the next Refresh
func (c *Chat) SetLocalServerEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.LocalServerEnabled = enabled
}

// Refresh reconciles the network with the current configuration. When
// nothing changed and the live transport is healthy it does nothing.
// Otherwise the previous transport is closed before a new one is built, so
// no message from the old configuration is delivered after Refresh returns.
//
// A bind error does not prevent the outbound connection. Both errors are
// returned joined.
func (c *Chat) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.applied != nil && *c.applied == c.config && c.healthyLocked() {
		return nil
	}

	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			c.Logger.Warn("Error closing %s transport: %v", c.transport.kind, err)
		}
		c.transport = nil
		c.applied = nil
	}

	config := c.config
	transport, err := newTransport(config.Kind, c.ChatConfig, c.receive)
	if err != nil {
		return err
	}
	c.transport = transport
	c.applied = &config
	c.epoch++

	var bindErr error
	if config.LocalServerEnabled {
		bindErr = transport.StartServer(config.RemotePort)
		if bindErr != nil {
			c.Logger.Error("Local %s server not started: %v", config.Kind, bindErr)
		} else {
			c.Logger.Info("Listening for %s on %s", config.Kind, transport.ListenAddr())
		}
	}

	connectErr := transport.Connect(ctx, config.RemoteAddress, config.RemotePort)
	if connectErr != nil {
		c.Logger.Error("Connect to %s failed: %v", config.RemoteEndpoint(), connectErr)
	} else {
		c.Logger.Info("Sending via %s to %s", config.Kind, config.RemoteEndpoint())
	}

	return errors.Join(bindErr, connectErr)
}

func (c *Chat) healthyLocked() bool {
	if c.transport == nil {
		return false
	}
	if c.applied.LocalServerEnabled && !c.transport.Listening() {
		return false
	}
	return c.transport.Connected()
}

// Config returns the stored configuration
func (c *Chat) Config() ConnectionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// TransportKind returns the stored transport kind
func (c *Chat) TransportKind() TransportKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Kind
}

// RemoteAddress returns the last accepted address in canonical form
func (c *Chat) RemoteAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.RemoteAddress.String()
}

// RemotePort returns the last accepted port
func (c *Chat) RemotePort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strconv.FormatUint(uint64(c.config.RemotePort), 10)
}

// LocalServerEnabled returns the stored local server flag
func (c *Chat) LocalServerEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.LocalServerEnabled
}

// Status reports the live transport, which may lag the stored
// configuration until the next Refresh.
func (c *Chat) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{Epoch: c.epoch}
	if c.transport != nil {
		status.Kind = c.transport.kind
		status.Listening = c.transport.Listening()
		status.Connected = c.transport.Connected()
	}
	return status
}

// ListenAddr returns the local server address, nil when not listening
func (c *Chat) ListenAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.transport == nil {
		return nil
	}
	return c.transport.ListenAddr()
}

// Transcript returns the chat transcript
func (c *Chat) Transcript() *Transcript {
	return c.transcript
}

// LocalName returns the name prefixed to sent lines
func (c *Chat) LocalName() string {
	return c.ChatConfig.LocalName
}

// AppendLine adds a system line to the transcript
func (c *Chat) AppendLine(text string) {
	c.transcript.Append(System, text)
}

var usageInstructions = []string{
	"Welcome to GopherChat.",
	"Pick a transport with /transport tcp|udp|quic|websocket.",
	"Set the peer with /address <ip> and /port <n>.",
	"Use /server on to accept messages on the same port.",
	"Anything else you type is sent to the peer.",
}

// PrintUsageInstructions appends the usage help to the transcript
func (c *Chat) PrintUsageInstructions() {
	for _, line := range usageInstructions {
		c.AppendLine(line)
	}
}

// Close releases the live transport. Later Refresh calls return ErrClosed.
func (c *Chat) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	c.applied = nil
	return err
}

package gopherchat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/A13xB0/GopherChat/client"
	"github.com/A13xB0/GopherChat/listener"
)

// TransportKind selects the protocol used for both listening and sending
type TransportKind int

const (
	TCP TransportKind = iota + 1
	UDP
	QUIC
	WebSocket
)

func (k TransportKind) String() string {
	switch k {
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	case QUIC:
		return "QUIC"
	case WebSocket:
		return "WebSocket"
	default:
		return fmt.Sprintf("TransportKind(%d)", int(k))
	}
}

// ParseTransportKind parses a kind name, ignoring case
func ParseTransportKind(s string) (TransportKind, error) {
	for kind := range transportFactories {
		if strings.EqualFold(kind.String(), strings.TrimSpace(s)) {
			return kind, nil
		}
	}
	return 0, newChatError(KindInvalidTransport, fmt.Sprintf("%q", s), nil)
}

// TransportKinds lists the supported kinds in order
func TransportKinds() []TransportKind {
	return []TransportKind{TCP, UDP, QUIC, WebSocket}
}

// ReceiveFunc is called for every inbound message, on a transport goroutine
type ReceiveFunc func(payload []byte, from net.Addr)

// Transport owns the local listener and the outbound connection of one
// configuration epoch.
type Transport interface {
	// StartServer binds the local listener. Calling it again for the same
	// port is a no-op.
	StartServer(port uint16) error

	// StopServer releases the local listener, if any
	StopServer() error

	// Connect opens the outbound connection, replacing any previous one. For
	// UDP it only records the destination.
	Connect(ctx context.Context, addr netip.Addr, port uint16) error

	// Send transmits one message over the outbound connection
	Send(payload []byte) error

	// Reply transmits one message back on the inbound session that
	// delivered the latest message
	Reply(payload []byte) error

	// Close releases everything and waits until no more messages are delivered
	Close() error

	Listening() bool
	Connected() bool
}

// transportFactory builds the listener and client of one transport kind
type transportFactory struct {
	newListener func(ctx context.Context, host string, port uint16, opts []listener.ServerOption) (listener.Listener, error)
	newClient   func(addr string, config *client.ClientConfig) (client.Client, error)
	// serverOptions and clientOptions add kind-specific settings
	serverOptions func(config *ChatConfig) []listener.ServerOption
	clientOptions func(config *ChatConfig) []client.Option
}

var transportFactories = map[TransportKind]transportFactory{
	TCP: {
		newListener: func(ctx context.Context, host string, port uint16, opts []listener.ServerOption) (listener.Listener, error) {
			return listener.NewTCP(host, port, ctx, opts...)
		},
		newClient: func(addr string, config *client.ClientConfig) (client.Client, error) {
			return client.NewTCPClient(addr, config)
		},
	},
	UDP: {
		newListener: func(ctx context.Context, host string, port uint16, opts []listener.ServerOption) (listener.Listener, error) {
			return listener.NewUDP(host, port, ctx, opts...)
		},
		newClient: func(addr string, config *client.ClientConfig) (client.Client, error) {
			return client.NewUDPClient(addr, config)
		},
	},
	QUIC: {
		newListener: func(ctx context.Context, host string, port uint16, opts []listener.ServerOption) (listener.Listener, error) {
			return listener.NewQUIC(host, port, ctx, opts...)
		},
		newClient: func(addr string, config *client.ClientConfig) (client.Client, error) {
			return client.NewQUICClient(addr, config)
		},
	},
	WebSocket: {
		newListener: func(ctx context.Context, host string, port uint16, opts []listener.ServerOption) (listener.Listener, error) {
			return listener.NewWebSocket(host, port, ctx, opts...)
		},
		newClient: func(addr string, config *client.ClientConfig) (client.Client, error) {
			return client.NewWebSocketClient(addr, config)
		},
		serverOptions: func(config *ChatConfig) []listener.ServerOption {
			return []listener.ServerOption{listener.WithWebSocketPath(config.WebSocketPath)}
		},
		clientOptions: func(config *ChatConfig) []client.Option {
			return []client.Option{client.WithWebSocketPath(config.WebSocketPath)}
		},
	},
}

// sessionTransport implements Transport for every kind on top of the
// listener and client packages
type sessionTransport struct {
	kind      TransportKind
	factory   transportFactory
	config    *ChatConfig
	onReceive ReceiveFunc
	ctx       context.Context
	cancel    context.CancelFunc

	mu           sync.Mutex
	server       listener.Listener
	serverPort   uint16
	serverCancel context.CancelFunc
	client       client.Client
	clientCancel context.CancelFunc
	clientLost   *atomic.Bool
	closed       bool

	// replyMu guards replyTo apart from mu, which is held while the listener
	// waits for its session goroutines
	replyMu sync.Mutex
	replyTo listener.Session

	// wg tracks delivery goroutines
	wg sync.WaitGroup
}

// newTransport creates an idle transport of the given kind
func newTransport(kind TransportKind, config *ChatConfig, onReceive ReceiveFunc) (*sessionTransport, error) {
	factory, ok := transportFactories[kind]
	if !ok {
		return nil, newChatError(KindInvalidTransport, kind.String(), nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionTransport{
		kind:      kind,
		factory:   factory,
		config:    config,
		onReceive: onReceive,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (t *sessionTransport) serverOptions() []listener.ServerOption {
	opts := []listener.ServerOption{
		listener.WithLogger(t.config.Logger),
		listener.WithMaxLength(t.config.MaxLength),
		listener.WithTimeouts(t.config.ReadTimeout, t.config.WriteTimeout),
	}
	if t.factory.serverOptions != nil {
		opts = append(opts, t.factory.serverOptions(t.config)...)
	}
	return opts
}

func (t *sessionTransport) clientConfig() *client.ClientConfig {
	opts := []client.Option{
		client.WithMaxLength(t.config.MaxLength),
		client.WithDialTimeout(t.config.DialTimeout),
		client.WithTimeouts(t.config.ReadTimeout, t.config.WriteTimeout),
	}
	if t.factory.clientOptions != nil {
		opts = append(opts, t.factory.clientOptions(t.config)...)
	}
	return client.NewConfig(opts...)
}

func (t *sessionTransport) StartServer(port uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return newChatError(KindBind, "transport closed", ErrClosed)
	}
	if t.server != nil {
		if t.serverPort == port {
			return nil
		}
		if err := t.stopServerLocked(); err != nil {
			t.config.Logger.Warn("Error stopping %s server: %v", t.kind, err)
		}
	}

	serverCtx, serverCancel := context.WithCancel(t.ctx)
	server, err := t.factory.newListener(serverCtx, t.config.BindHost, port, t.serverOptions())
	if err != nil {
		serverCancel()
		return newChatError(KindBind, fmt.Sprintf("%s server on port %d", t.kind, port), err)
	}
	server.SetAnnounceNewSession(t.announceSession, serverCtx)
	if err := server.StartListener(); err != nil {
		serverCancel()
		return newChatError(KindBind, fmt.Sprintf("%s server on port %d", t.kind, port), err)
	}

	t.server = server
	t.serverPort = port
	t.serverCancel = serverCancel
	return nil
}

func (t *sessionTransport) StopServer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopServerLocked()
}

func (t *sessionTransport) stopServerLocked() error {
	if t.server == nil {
		return nil
	}
	t.serverCancel()
	err := t.server.StopListener()
	t.replyMu.Lock()
	t.replyTo = nil
	t.replyMu.Unlock()
	t.server = nil
	t.serverPort = 0
	t.serverCancel = nil
	return err
}

// announceSession pumps a new listener session into onReceive. options is
// the server context; messages still queued once it is cancelled are dropped.
func (t *sessionTransport) announceSession(options any, session listener.Session) {
	serverCtx := options.(context.Context)
	from := session.GetClientAddr()
	t.config.Logger.Debug("New %s session %s from %s", t.kind, session.GetSessionID(), from)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for data := range session.Data() {
			if serverCtx.Err() != nil {
				continue
			}
			t.replyMu.Lock()
			t.replyTo = session
			t.replyMu.Unlock()
			t.onReceive(data, from)
		}
	}()
}

func (t *sessionTransport) Connect(ctx context.Context, addr netip.Addr, port uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return newChatError(KindConnect, "transport closed", ErrClosed)
	}
	t.closeClientLocked()

	endpoint := netip.AddrPortFrom(addr, port).String()
	c, err := t.factory.newClient(endpoint, t.clientConfig())
	if err != nil {
		return newChatError(KindConnect, endpoint, err)
	}
	if err := c.Connect(ctx); err != nil {
		return newChatError(KindConnect, endpoint, err)
	}

	clientCtx, clientCancel := context.WithCancel(t.ctx)
	lost := new(atomic.Bool)
	t.client = c
	t.clientCancel = clientCancel
	t.clientLost = lost

	t.wg.Add(1)
	go t.receiveLoop(clientCtx, c, lost)
	return nil
}

// receiveLoop delivers messages arriving on the outbound connection
func (t *sessionTransport) receiveLoop(ctx context.Context, c client.Client, lost *atomic.Bool) {
	defer t.wg.Done()

	from := c.RemoteAddr()
	for {
		data, err := c.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A connected UDP socket reports ICMP port unreachable on read
			if errors.Is(err, syscall.ECONNREFUSED) {
				t.config.Logger.Debug("%s peer %s unreachable: %v", t.kind, from, err)
				continue
			}
			var netErr net.Error
			if t.kind == UDP && errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			t.config.Logger.Warn("%s connection to %s lost: %v", t.kind, from, err)
			lost.Store(true)
			return
		}
		if ctx.Err() != nil {
			return
		}
		t.onReceive(data, from)
	}
}

func (t *sessionTransport) closeClientLocked() error {
	if t.client == nil {
		return nil
	}
	t.clientCancel()
	err := t.client.Close()
	t.client = nil
	t.clientCancel = nil
	t.clientLost = nil
	return err
}

func (t *sessionTransport) Send(payload []byte) error {
	t.mu.Lock()
	c, lost := t.client, t.clientLost
	t.mu.Unlock()

	if c == nil {
		return newChatError(KindSend, "no outbound connection", ErrNotConnected)
	}
	if lost.Load() {
		return newChatError(KindSend, fmt.Sprintf("connection to %s lost", c.RemoteAddr()), ErrNotConnected)
	}
	if err := c.Send(payload); err != nil {
		return newChatError(KindSend, fmt.Sprintf("%s to %s", t.kind, c.RemoteAddr()), err)
	}
	return nil
}

func (t *sessionTransport) Reply(payload []byte) error {
	t.replyMu.Lock()
	session := t.replyTo
	t.replyMu.Unlock()

	if session == nil {
		return newChatError(KindSend, "no inbound session", ErrNotConnected)
	}
	if err := session.SendToClient(payload); err != nil {
		return newChatError(KindSend, fmt.Sprintf("%s reply to %s", t.kind, session.GetClientAddr()), err)
	}
	return nil
}

// maxPayload is the largest message this kind can carry
func (t *sessionTransport) maxPayload() int {
	if t.kind == UDP {
		return min(int(t.config.MaxLength), client.MaxDatagramPayload)
	}
	return int(t.config.MaxLength)
}

// Close stops the server and the client, then waits for every delivery
// goroutine so nothing is delivered after it returns.
func (t *sessionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.cancel()
	serverErr := t.stopServerLocked()
	clientErr := t.closeClientLocked()
	t.mu.Unlock()

	t.wg.Wait()
	return errors.Join(serverErr, clientErr)
}

func (t *sessionTransport) Listening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.server != nil
}

func (t *sessionTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && !t.clientLost.Load()
}

// ListenAddr returns the bound server address, nil when not listening
func (t *sessionTransport) ListenAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.server == nil {
		return nil
	}
	return t.server.Addr()
}

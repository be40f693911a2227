package listener

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/context"

	"github.com/A13xB0/GopherChat/internal/frame"
)

// TCPServer accepts chat peers over TCP. Messages are length-prefixed frames.
type TCPServer struct {
	listener               net.Listener
	addr                   string
	announceMiddleware     AnnounceMiddlewareFunc
	announceMiddlewareOpts any
	sessions               map[string]*TCPSession
	sessionsMutex          sync.RWMutex
	wg                     sync.WaitGroup
	ctx                    context.Context
	cancel                 context.CancelFunc
	*ServerConfig
}

// TCPSession represents an accepted TCP connection
type TCPSession struct {
	*BaseSession
	server     *TCPServer
	conn       net.Conn
	writeMutex sync.Mutex
}

// NewTCP creates a new TCP server with the given configuration
func NewTCP(host string, port uint16, ctx context.Context, opts ...ServerOption) (*TCPServer, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, NewConfigError("invalid configuration", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	server := &TCPServer{
		addr:         hostPort(host, port),
		ServerConfig: config,
		sessions:     make(map[string]*TCPSession),
		ctx:          serverCtx,
		cancel:       cancel,
	}

	return server, nil
}

// StartListener binds the address and begins accepting TCP connections
func (t *TCPServer) StartListener() error {
	conn, err := net.Listen("tcp", t.addr)
	if err != nil {
		return NewBindError("failed to start listener", err)
	}
	t.listener = conn
	t.Logger.Info("TCP server listening on %s", conn.Addr())

	t.wg.Add(1)
	go t.receiveStream()
	return nil
}

// StopListener shuts down the TCP server and waits for every session to end
func (t *TCPServer) StopListener() error {
	if t.listener == nil {
		t.cancel()
		return nil
	}
	t.Logger.Info("Shutting down TCP server")

	// Cancel first so no session registers after the snapshot below
	t.cancel()

	var closeErr error
	if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		closeErr = NewConnectionError("failed to close listener", err)
	}

	for _, session := range t.snapshot() {
		session.CloseSession()
	}

	t.wg.Wait()
	return closeErr
}

// Addr returns the bound address
func (t *TCPServer) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// receiveStream accepts TCP connections until the listener is closed
func (t *TCPServer) receiveStream() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				t.Logger.Info("Stopping TCP receiver")
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.Logger.Warn("Temporary error accepting connection: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			t.Logger.Error("Error accepting connection: %v", err)
			return
		}

		t.sessionsMutex.RLock()
		full := len(t.sessions) >= t.MaxConnections
		t.sessionsMutex.RUnlock()
		if full {
			t.Logger.Warn("Max connections reached, rejecting connection from %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		t.Logger.Debug("New connection from %s", conn.RemoteAddr())
		if session := t.newSession(conn); session != nil {
			go t.handleSession(session)
		}
	}
}

// newSession registers a session for conn. It returns nil once the server is
// stopping, after closing conn.
func (t *TCPServer) newSession(conn net.Conn) *TCPSession {
	addr := conn.RemoteAddr()
	session := &TCPSession{
		BaseSession: NewBaseSession(addr, t.ctx, t.Logger, t.ServerConfig),
		server:      t,
		conn:        conn,
	}

	t.sessionsMutex.Lock()
	if t.ctx.Err() != nil {
		t.sessionsMutex.Unlock()
		session.Cancel()
		conn.Close()
		return nil
	}
	t.sessions[addr.String()] = session
	t.wg.Add(1)
	t.sessionsMutex.Unlock()

	if t.announceMiddleware != nil {
		t.announceMiddleware(t.announceMiddlewareOpts, session)
	}

	return session
}

func (t *TCPServer) SetAnnounceNewSession(function AnnounceMiddlewareFunc, options any) {
	t.announceMiddleware = function
	t.announceMiddlewareOpts = options
}

// GetActiveSessions returns a copy of the active sessions
func (t *TCPServer) GetActiveSessions() map[string]Session {
	t.sessionsMutex.RLock()
	defer t.sessionsMutex.RUnlock()
	sessions := make(map[string]Session, len(t.sessions))
	for k, v := range t.sessions {
		sessions[k] = v
	}
	return sessions
}

func (t *TCPServer) GetSession(ClientAddr string) Session {
	t.sessionsMutex.RLock()
	defer t.sessionsMutex.RUnlock()
	if session, ok := t.sessions[ClientAddr]; ok {
		return session
	}
	return nil
}

func (t *TCPServer) snapshot() []*TCPSession {
	t.sessionsMutex.RLock()
	defer t.sessionsMutex.RUnlock()
	sessions := make([]*TCPSession, 0, len(t.sessions))
	for _, session := range t.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// SendToClient sends data to the TCP client as a single frame
func (s *TCPSession) SendToClient(data []byte) error {
	if len(data) > int(s.server.MaxLength) {
		return NewProtocolError("message exceeds maximum length", nil)
	}
	if s.ctx.Err() != nil {
		return NewSessionError("send failed", ErrSessionClosed)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if s.server.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.server.WriteTimeout)); err != nil {
			return NewConnectionError("failed to set write deadline", err)
		}
	}
	if err := frame.Write(s.conn, data, s.server.MaxLength); err != nil {
		return NewConnectionError("failed to write message", err)
	}

	return nil
}

// handleSession reads frames from the connection into the data channel. It
// owns the data channel and closes it on exit.
func (t *TCPServer) handleSession(session *TCPSession) {
	defer t.wg.Done()
	defer t.removeSession(session)

	for {
		if t.ReadTimeout > 0 {
			if err := session.conn.SetReadDeadline(time.Now().Add(t.ReadTimeout)); err != nil {
				t.Logger.Error("Failed to set read deadline: %v", err)
				return
			}
		}

		data, err := frame.Read(session.conn, t.MaxLength)
		if err != nil {
			switch {
			case errors.Is(err, frame.ErrTooLarge):
				t.Logger.Warn("Message exceeds maximum length from %s", session.GetClientAddr())
			case errors.Is(err, io.EOF):
				t.Logger.Debug("Connection closed by client: %s", session.GetClientAddr())
			case session.ctx.Err() != nil:
			default:
				t.Logger.Error("Error reading message from %s: %v", session.GetClientAddr(), err)
			}
			return
		}

		if !session.deliver(data) {
			return
		}
	}
}

// removeSession closes the connection and drops the session from the server
func (t *TCPServer) removeSession(session *TCPSession) {
	session.CloseSession()

	t.sessionsMutex.Lock()
	if current, ok := t.sessions[session.GetClientAddr().String()]; ok && current == session {
		delete(t.sessions, session.GetClientAddr().String())
	}
	t.sessionsMutex.Unlock()

	close(session.DataChannel)
	t.Logger.Debug("Closed session for %s", session.GetClientAddr())
}

// CloseSession closes the TCP connection. The session's reader exits and
// closes the data channel.
func (s *TCPSession) CloseSession() {
	s.Cancel()
	s.conn.Close()
}

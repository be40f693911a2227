package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/A13xB0/GopherChat/internal/frame"
)

// NextProto is the ALPN protocol negotiated by QUIC peers
const NextProto = "gopherchat"

// QUICServer accepts chat peers over QUIC. Each connection carries one
// bidirectional stream of length-prefixed frames.
type QUICServer struct {
	transport              *quic.Transport
	listener               *quic.Listener
	addr                   string
	announceMiddleware     AnnounceMiddlewareFunc
	announceMiddlewareOpts any
	sessions               map[string]*QUICSession
	sessionsMutex          sync.RWMutex
	wg                     sync.WaitGroup
	ctx                    context.Context
	cancel                 context.CancelFunc
	tlsConfig              *tls.Config
	quicConfig             *quic.Config
	*ServerConfig
}

// QUICSession represents an active QUIC connection
type QUICSession struct {
	*BaseSession
	server     *QUICServer
	conn       quic.Connection
	stream     quic.Stream
	writeMutex sync.Mutex
}

// NewQUIC creates a new QUIC server with the given configuration
func NewQUIC(host string, port uint16, ctx context.Context, opts ...ServerOption) (*QUICServer, error) {
	config := defaultConfig()
	config.ProtocolConfig = defaultQUICConfig()
	for _, opt := range opts {
		opt(config)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, NewConfigError("invalid configuration", err)
	}

	protocolConfig := quicConfig(config)
	tlsConfig := protocolConfig.TLSConfig
	if tlsConfig == nil {
		generated, err := defaultTLSConfig()
		if err != nil {
			return nil, NewConfigError("failed to generate TLS certificate", err)
		}
		tlsConfig = generated
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &QUICServer{
		addr:         hostPort(host, port),
		ServerConfig: config,
		sessions:     make(map[string]*QUICSession),
		ctx:          serverCtx,
		cancel:       cancel,
		tlsConfig:    tlsConfig,
		quicConfig: &quic.Config{
			KeepAlivePeriod: protocolConfig.KeepAlivePeriod,
		},
	}, nil
}

// StartListener binds the UDP socket and begins accepting QUIC connections
func (q *QUICServer) StartListener() error {
	addr, err := net.ResolveUDPAddr("udp", q.addr)
	if err != nil {
		return NewBindError("failed to resolve address", err)
	}

	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return NewBindError("failed to start listener", err)
	}
	q.transport = &quic.Transport{
		Conn: udpConn,
	}
	q.listener, err = q.transport.Listen(q.tlsConfig, q.quicConfig)
	if err != nil {
		q.transport.Close()
		return NewBindError("failed to start QUIC listener", err)
	}
	q.Logger.Info("QUIC server listening on %s", udpConn.LocalAddr())

	q.wg.Add(1)
	go q.receiveConnections()
	return nil
}

// StopListener gracefully shuts down the QUIC server
func (q *QUICServer) StopListener() error {
	q.cancel()
	if q.transport == nil {
		return nil
	}
	q.Logger.Info("Shutting down QUIC server")

	for _, session := range q.snapshot() {
		session.CloseSession()
	}

	var closeErr error
	if err := q.listener.Close(); err != nil && !errors.Is(err, quic.ErrServerClosed) {
		closeErr = NewConnectionError("failed to close listener", err)
	}
	if err := q.transport.Close(); err != nil && closeErr == nil {
		closeErr = NewConnectionError("failed to close transport", err)
	}

	q.wg.Wait()
	return closeErr
}

// Addr returns the bound address
func (q *QUICServer) Addr() net.Addr {
	if q.listener == nil {
		return nil
	}
	return q.listener.Addr()
}

func (q *QUICServer) SetAnnounceNewSession(function AnnounceMiddlewareFunc, options any) {
	q.announceMiddleware = function
	q.announceMiddlewareOpts = options
}

// GetActiveSessions returns a copy of the active sessions
func (q *QUICServer) GetActiveSessions() map[string]Session {
	q.sessionsMutex.RLock()
	defer q.sessionsMutex.RUnlock()
	sessions := make(map[string]Session, len(q.sessions))
	for k, v := range q.sessions {
		sessions[k] = v
	}
	return sessions
}

func (q *QUICServer) GetSession(ClientAddr string) Session {
	q.sessionsMutex.RLock()
	defer q.sessionsMutex.RUnlock()
	if session, ok := q.sessions[ClientAddr]; ok {
		return session
	}
	return nil
}

func (q *QUICServer) snapshot() []*QUICSession {
	q.sessionsMutex.RLock()
	defer q.sessionsMutex.RUnlock()
	sessions := make([]*QUICSession, 0, len(q.sessions))
	for _, session := range q.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// receiveConnections accepts QUIC connections until the server stops
func (q *QUICServer) receiveConnections() {
	defer q.wg.Done()

	for {
		conn, err := q.listener.Accept(q.ctx)
		if err != nil {
			if q.ctx.Err() == nil && !errors.Is(err, quic.ErrServerClosed) {
				q.Logger.Error("Error accepting connection: %v", err)
			}
			return
		}

		q.sessionsMutex.RLock()
		full := len(q.sessions) >= q.MaxConnections
		q.sessionsMutex.RUnlock()
		if full {
			q.Logger.Warn("Max connections reached, rejecting connection from %s", conn.RemoteAddr())
			conn.CloseWithError(0, "too many connections")
			continue
		}

		q.wg.Add(1)
		go q.handleConnection(conn)
	}
}

// handleConnection waits for the peer's stream and reads frames from it
func (q *QUICServer) handleConnection(conn quic.Connection) {
	defer q.wg.Done()

	stream, err := conn.AcceptStream(q.ctx)
	if err != nil {
		if q.ctx.Err() == nil {
			q.Logger.Warn("Failed to accept stream from %s: %v", conn.RemoteAddr(), err)
		}
		conn.CloseWithError(0, "")
		return
	}

	session := q.newSession(conn, stream)
	if session == nil {
		return
	}
	defer q.removeSession(session)

	for {
		data, err := frame.Read(stream, q.MaxLength)
		if err != nil {
			switch {
			case errors.Is(err, frame.ErrTooLarge):
				q.Logger.Warn("Message exceeds maximum length from %s", session.GetClientAddr())
			case errors.Is(err, io.EOF), session.ctx.Err() != nil:
				q.Logger.Debug("Connection closed by client: %s", session.GetClientAddr())
			default:
				q.Logger.Debug("Error reading stream from %s: %v", session.GetClientAddr(), err)
			}
			return
		}
		if !session.deliver(data) {
			return
		}
	}
}

// newSession registers a session, or returns nil once the server is stopping
func (q *QUICServer) newSession(conn quic.Connection, stream quic.Stream) *QUICSession {
	session := &QUICSession{
		BaseSession: NewBaseSession(conn.RemoteAddr(), q.ctx, q.Logger, q.ServerConfig),
		server:      q,
		conn:        conn,
		stream:      stream,
	}

	q.sessionsMutex.Lock()
	if q.ctx.Err() != nil {
		q.sessionsMutex.Unlock()
		session.CloseSession()
		return nil
	}
	q.sessions[conn.RemoteAddr().String()] = session
	q.sessionsMutex.Unlock()

	if q.announceMiddleware != nil {
		q.announceMiddleware(q.announceMiddlewareOpts, session)
	}

	return session
}

func (q *QUICServer) removeSession(session *QUICSession) {
	session.CloseSession()

	q.sessionsMutex.Lock()
	if current, ok := q.sessions[session.GetClientAddr().String()]; ok && current == session {
		delete(q.sessions, session.GetClientAddr().String())
	}
	q.sessionsMutex.Unlock()

	close(session.DataChannel)
	q.Logger.Debug("Closed session for %s", session.GetClientAddr())
}

// SendToClient writes data to the session stream as a single frame
func (s *QUICSession) SendToClient(data []byte) error {
	if len(data) > int(s.server.MaxLength) {
		return NewProtocolError("message exceeds maximum length", nil)
	}
	if s.ctx.Err() != nil {
		return NewSessionError("send failed", ErrSessionClosed)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if s.server.WriteTimeout > 0 {
		if err := s.stream.SetWriteDeadline(time.Now().Add(s.server.WriteTimeout)); err != nil {
			return NewConnectionError("failed to set write deadline", err)
		}
	}
	if err := frame.Write(s.stream, data, s.server.MaxLength); err != nil {
		return NewConnectionError("failed to write message", err)
	}
	return nil
}

// CloseSession closes the QUIC connection. The session's reader exits and
// closes the data channel.
func (s *QUICSession) CloseSession() {
	s.Cancel()
	s.conn.CloseWithError(0, "session closed")
}

package listener

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// maxDatagramSize is the largest UDP payload a read can return
const maxDatagramSize = 65535

// UDPServer receives chat datagrams. Each remote address gets a session.
type UDPServer struct {
	conn                   *net.UDPConn
	addr                   string
	sessions               map[string]*UDPSession
	sessionsMutex          sync.RWMutex
	announceMiddleware     AnnounceMiddlewareFunc
	announceMiddlewareOpts any
	wg                     sync.WaitGroup
	ctx                    context.Context
	cancel                 context.CancelFunc
	*ServerConfig
}

// UDPSession represents a remote UDP peer
type UDPSession struct {
	*BaseSession
	server     *UDPServer
	closeMutex sync.Mutex
	closed     bool
}

// NewUDP creates a new UDP server with the given configuration
func NewUDP(host string, port uint16, ctx context.Context, opts ...ServerOption) (*UDPServer, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, NewConfigError("invalid configuration", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	server := &UDPServer{
		addr:         hostPort(host, port),
		ServerConfig: config,
		sessions:     make(map[string]*UDPSession),
		ctx:          serverCtx,
		cancel:       cancel,
	}

	return server, nil
}

// StartListener binds the UDP socket and begins reading datagrams
func (u *UDPServer) StartListener() error {
	// Resolve address to support both IPv4 and IPv6
	addr, err := net.ResolveUDPAddr("udp", u.addr)
	if err != nil {
		return NewBindError("failed to resolve address", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return NewBindError("failed to start listener", err)
	}
	u.conn = conn
	u.Logger.Info("UDP server listening on %s", conn.LocalAddr())

	u.wg.Add(1)
	go u.receiveStream()
	return nil
}

// StopListener gracefully shuts down the UDP server
func (u *UDPServer) StopListener() error {
	u.cancel()
	if u.conn == nil {
		return nil
	}
	u.Logger.Info("Shutting down UDP server")

	// Close the socket to unblock the reader
	if err := u.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		u.Logger.Error("Error closing listener: %v", err)
	}

	u.wg.Wait()

	// Close all active sessions after the reader is done
	u.sessionsMutex.Lock()
	sessions := u.sessions
	u.sessions = make(map[string]*UDPSession)
	u.sessionsMutex.Unlock()
	for _, session := range sessions {
		session.close()
	}

	return nil
}

// Addr returns the bound address
func (u *UDPServer) Addr() net.Addr {
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// SetAnnounceNewSession sets the middleware for announcing new sessions
func (u *UDPServer) SetAnnounceNewSession(function AnnounceMiddlewareFunc, options any) {
	u.announceMiddleware = function
	u.announceMiddlewareOpts = options
}

// receiveStream reads datagrams until the socket is closed
func (u *UDPServer) receiveStream() {
	defer u.wg.Done()

	buffer := make([]byte, maxDatagramSize)
	for {
		n, addr, err := u.conn.ReadFromUDP(buffer)
		if err != nil {
			if u.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				u.Logger.Info("Stopping UDP receiver")
				return
			}
			// ICMP port unreachable from an earlier write surfaces here on
			// some platforms; it does not end the listener
			u.Logger.Warn("Error reading packet: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if n > int(u.MaxLength) {
			u.Logger.Warn("Message exceeds maximum length from %s", addr)
			continue
		}

		// Make a copy of the data since buffer will be reused
		data := make([]byte, n)
		copy(data, buffer[:n])
		u.handlePacket(addr, data)
	}
}

// handlePacket routes a datagram to the session of its sender
func (u *UDPServer) handlePacket(addr *net.UDPAddr, data []byte) {
	key := addr.String()

	u.sessionsMutex.RLock()
	session, exists := u.sessions[key]
	u.sessionsMutex.RUnlock()

	if exists && u.ReadTimeout > 0 && time.Since(session.GetLastReceived()) > u.ReadTimeout {
		u.Logger.Debug("Session timeout for %s", addr)
		session.CloseSession()
		exists = false
	}

	if !exists {
		session = u.newSession(addr)
		if session == nil {
			return
		}
	}

	session.processPacket(data)
}

// newSession creates and registers a session, or returns nil when the server
// is full
func (u *UDPServer) newSession(addr *net.UDPAddr) *UDPSession {
	u.sessionsMutex.Lock()
	if len(u.sessions) >= u.MaxConnections {
		u.sessionsMutex.Unlock()
		u.Logger.Warn("Max connections reached, rejecting packet from %s", addr)
		return nil
	}
	session := &UDPSession{
		BaseSession: NewBaseSession(addr, u.ctx, u.Logger, u.ServerConfig),
		server:      u,
	}
	u.sessions[addr.String()] = session
	u.sessionsMutex.Unlock()

	if u.announceMiddleware != nil {
		u.announceMiddleware(u.announceMiddlewareOpts, session)
	}

	return session
}

// processPacket hands data to the session consumer without blocking the reader
func (s *UDPSession) processPacket(data []byte) {
	s.closeMutex.Lock()
	defer s.closeMutex.Unlock()
	if s.closed {
		return
	}

	select {
	case s.DataChannel <- data:
		s.updateLastReceived()
	default:
		s.server.Logger.Warn("Channel full, dropping packet from %s", s.GetClientAddr())
	}
}

// GetActiveSessions returns all active sessions
func (u *UDPServer) GetActiveSessions() map[string]Session {
	u.sessionsMutex.RLock()
	defer u.sessionsMutex.RUnlock()
	sessions := make(map[string]Session, len(u.sessions))
	for k, v := range u.sessions {
		sessions[k] = v
	}
	return sessions
}

// GetSession returns a specific session by client address
func (u *UDPServer) GetSession(ClientAddr string) Session {
	u.sessionsMutex.RLock()
	defer u.sessionsMutex.RUnlock()
	if session, ok := u.sessions[ClientAddr]; ok {
		return session
	}
	return nil
}

// SendToClient sends data to the UDP client as one datagram
func (s *UDPSession) SendToClient(data []byte) error {
	if len(data) > int(s.server.MaxLength) {
		return NewProtocolError("message exceeds maximum length", nil)
	}
	if s.ctx.Err() != nil {
		return NewSessionError("send failed", ErrSessionClosed)
	}

	if _, err := s.server.conn.WriteToUDP(data, s.GetClientAddr().(*net.UDPAddr)); err != nil {
		return NewConnectionError("failed to send data", err)
	}

	return nil
}

// CloseSession drops the session from the server and closes its data channel
func (s *UDPSession) CloseSession() {
	u := s.server
	u.sessionsMutex.Lock()
	if current, ok := u.sessions[s.GetClientAddr().String()]; ok && current == s {
		delete(u.sessions, s.GetClientAddr().String())
	}
	u.sessionsMutex.Unlock()

	s.close()
	u.Logger.Debug("Closed session for %s", s.GetClientAddr())
}

func (s *UDPSession) close() {
	s.closeMutex.Lock()
	defer s.closeMutex.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.Cancel()
	close(s.DataChannel)
}

package listener

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/context"
)

// WebSocketServer accepts chat peers over WebSocket. Each binary message is
// one chat message.
type WebSocketServer struct {
	httpServer             *http.Server
	netListener            net.Listener
	upgrader               websocket.Upgrader
	addr                   string
	path                   string
	sessions               map[string]*WebSocketSession
	sessionsMutex          sync.RWMutex
	announceMiddleware     AnnounceMiddlewareFunc
	announceMiddlewareOpts any
	wg                     sync.WaitGroup
	ctx                    context.Context
	cancel                 context.CancelFunc
	*ServerConfig
}

// WebSocketSession represents an active WebSocket connection
type WebSocketSession struct {
	*BaseSession
	server     *WebSocketServer
	ClientConn *websocket.Conn
	writeMutex sync.Mutex
}

// NewWebSocket creates a new WebSocket server with the given configuration
func NewWebSocket(host string, port uint16, ctx context.Context, opts ...ServerOption) (*WebSocketServer, error) {
	config := defaultConfig()
	config.ProtocolConfig = defaultWebSocketConfig()
	for _, opt := range opts {
		opt(config)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, NewConfigError("invalid configuration", err)
	}

	// Get WebSocket-specific configuration
	wsConfig, ok := config.ProtocolConfig.(*WebSocketConfig)
	if !ok {
		return nil, NewConfigError("invalid WebSocket configuration", nil)
	}
	if wsConfig.Path == "" {
		wsConfig.Path = "/"
	}

	serverCtx, cancel := context.WithCancel(ctx)
	server := &WebSocketServer{
		addr:         hostPort(host, port),
		path:         wsConfig.Path,
		ServerConfig: config,
		sessions:     make(map[string]*WebSocketSession),
		ctx:          serverCtx,
		cancel:       cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsConfig.ReadBufferSize,
			WriteBufferSize: wsConfig.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins
		},
	}

	return server, nil
}

// StartListener binds the address and starts serving WebSocket upgrades
func (w *WebSocketServer) StartListener() error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return NewBindError("failed to start listener", err)
	}
	w.netListener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleConnections)
	w.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.Logger.Info("WebSocket server listening on %s%s", ln.Addr(), w.path)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.Logger.Error("HTTP server error: %v", err)
		}
	}()

	return nil
}

// StopListener gracefully shuts down the WebSocket server
func (w *WebSocketServer) StopListener() error {
	w.cancel()
	if w.httpServer == nil {
		return nil
	}
	w.Logger.Info("Shutting down WebSocket server")

	// Hijacked connections are not tracked by http.Server
	for _, session := range w.snapshot() {
		session.CloseSession()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	var closeErr error
	if err := w.httpServer.Shutdown(shutdownCtx); err != nil {
		closeErr = NewConnectionError("failed to shutdown server", err)
	}

	w.wg.Wait()
	return closeErr
}

// Addr returns the bound address
func (w *WebSocketServer) Addr() net.Addr {
	if w.netListener == nil {
		return nil
	}
	return w.netListener.Addr()
}

// SetAnnounceNewSession sets the middleware for announcing new sessions
func (w *WebSocketServer) SetAnnounceNewSession(function AnnounceMiddlewareFunc, options any) {
	w.announceMiddleware = function
	w.announceMiddlewareOpts = options
}

// handleConnections upgrades an HTTP request and serves the session until it ends
func (w *WebSocketServer) handleConnections(rw http.ResponseWriter, req *http.Request) {
	w.sessionsMutex.RLock()
	full := len(w.sessions) >= w.MaxConnections
	w.sessionsMutex.RUnlock()
	if full {
		w.Logger.Warn("Max connections reached, rejecting connection from %s", req.RemoteAddr)
		http.Error(rw, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := w.upgrader.Upgrade(rw, req, nil)
	if err != nil {
		w.Logger.Error("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(int64(w.MaxLength))

	session := w.newSession(conn)
	if session == nil {
		return
	}
	w.handleSession(session)
}

// newSession registers a session, or returns nil once the server is stopping
func (w *WebSocketServer) newSession(conn *websocket.Conn) *WebSocketSession {
	session := &WebSocketSession{
		BaseSession: NewBaseSession(conn.RemoteAddr(), w.ctx, w.Logger, w.ServerConfig),
		server:      w,
		ClientConn:  conn,
	}

	w.sessionsMutex.Lock()
	if w.ctx.Err() != nil {
		w.sessionsMutex.Unlock()
		session.CloseSession()
		return nil
	}
	w.sessions[conn.RemoteAddr().String()] = session
	w.wg.Add(1)
	w.sessionsMutex.Unlock()

	if w.announceMiddleware != nil {
		w.announceMiddleware(w.announceMiddlewareOpts, session)
	}

	return session
}

// handleSession reads messages into the data channel. It owns the data
// channel and closes it on exit.
func (w *WebSocketServer) handleSession(session *WebSocketSession) {
	defer w.wg.Done()
	defer w.removeSession(session)

	for {
		if w.ReadTimeout > 0 {
			session.ClientConn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		}
		messageType, message, err := session.ClientConn.ReadMessage()
		if err != nil {
			if session.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.Logger.Error("WebSocket error: %v", err)
			}
			return
		}

		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		if !session.deliver(message) {
			return
		}
	}
}

func (w *WebSocketServer) removeSession(session *WebSocketSession) {
	session.CloseSession()

	w.sessionsMutex.Lock()
	if current, ok := w.sessions[session.GetClientAddr().String()]; ok && current == session {
		delete(w.sessions, session.GetClientAddr().String())
	}
	w.sessionsMutex.Unlock()

	close(session.DataChannel)
	w.Logger.Debug("Closed session for %s", session.GetClientAddr())
}

func (w *WebSocketServer) snapshot() []*WebSocketSession {
	w.sessionsMutex.RLock()
	defer w.sessionsMutex.RUnlock()
	sessions := make([]*WebSocketSession, 0, len(w.sessions))
	for _, session := range w.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// GetActiveSessions returns all active sessions
func (w *WebSocketServer) GetActiveSessions() map[string]Session {
	w.sessionsMutex.RLock()
	defer w.sessionsMutex.RUnlock()
	sessions := make(map[string]Session, len(w.sessions))
	for k, v := range w.sessions {
		sessions[k] = v
	}
	return sessions
}

// GetSession returns a specific session by client address
func (w *WebSocketServer) GetSession(ClientAddr string) Session {
	w.sessionsMutex.RLock()
	defer w.sessionsMutex.RUnlock()
	if session, ok := w.sessions[ClientAddr]; ok {
		return session
	}
	return nil
}

// SendToClient sends data to the WebSocket client as one binary message
func (s *WebSocketSession) SendToClient(data []byte) error {
	if len(data) > int(s.server.MaxLength) {
		return NewProtocolError("message exceeds maximum length", nil)
	}
	if s.ctx.Err() != nil {
		return NewSessionError("send failed", ErrSessionClosed)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if s.server.WriteTimeout > 0 {
		s.ClientConn.SetWriteDeadline(time.Now().Add(s.server.WriteTimeout))
	}
	if err := s.ClientConn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return NewConnectionError("failed to send message", err)
	}

	return nil
}

// CloseSession sends a close frame and closes the connection. The session's
// reader exits and closes the data channel.
func (s *WebSocketSession) CloseSession() {
	s.Cancel()
	s.ClientConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(100*time.Millisecond))
	s.ClientConn.Close()
}

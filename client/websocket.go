package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketClient implements a WebSocket client sending one binary message
// per chat message
type WebSocketClient struct {
	conn       *websocket.Conn
	addr       string
	config     *ClientConfig
	writeMutex sync.Mutex
}

// NewWebSocketClient creates a new WebSocket client for host:port
func NewWebSocketClient(addr string, config *ClientConfig) (*WebSocketClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("address is required")
	}

	return &WebSocketClient{
		addr:   addr,
		config: config,
	}, nil
}

// Connect performs the WebSocket handshake
func (c *WebSocketClient) Connect(ctx context.Context) error {
	wsConfig, ok := c.config.ProtocolConfig.(*WebSocketConfig)
	if !ok {
		wsConfig = DefaultWebSocketConfig()
	}

	u := url.URL{
		Scheme: "ws",
		Host:   c.addr,
		Path:   wsConfig.Path,
	}
	dialer := websocket.Dialer{
		ReadBufferSize:  wsConfig.ReadBufferSize,
		WriteBufferSize: wsConfig.WriteBufferSize,
	}

	dialCtx, cancel := c.config.dialContext(ctx)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	conn.SetReadLimit(int64(c.config.MaxLength))
	c.conn = conn

	return nil
}

// Send writes data as one binary message
func (c *WebSocketClient) Send(data []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if len(data) > int(c.config.MaxLength) {
		return fmt.Errorf("message of %d bytes exceeds maximum length %d", len(data), c.config.MaxLength)
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.conn.SetWriteDeadline(c.config.writeDeadline()); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write to WebSocket: %w", err)
	}

	return nil
}

// Receive reads the next data message
func (c *WebSocketClient) Receive() ([]byte, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.conn.SetReadDeadline(c.config.readDeadline()); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read from WebSocket: %w", err)
		}
		if messageType == websocket.BinaryMessage || messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and closes the connection
func (c *WebSocketClient) Close() error {
	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(100*time.Millisecond))
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close WebSocket: %w", err)
	}
	return nil
}

// LocalAddr returns the local network address
func (c *WebSocketClient) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address
func (c *WebSocketClient) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

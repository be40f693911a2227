package client

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/A13xB0/GopherChat/internal/frame"
)

// TCPClient implements a TCP stream client using length-prefixed frames
type TCPClient struct {
	conn       net.Conn
	addr       string
	config     *ClientConfig
	writeMutex sync.Mutex
}

// NewTCPClient creates a new TCP client with the given address
func NewTCPClient(addr string, config *ClientConfig) (*TCPClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("address is required")
	}

	return &TCPClient{
		addr:   addr,
		config: config,
	}, nil
}

// Connect dials the server
func (c *TCPClient) Connect(ctx context.Context) error {
	dialCtx, cancel := c.config.dialContext(ctx)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to dial TCP: %w", err)
	}
	c.conn = conn

	return nil
}

// Send writes data as a single frame
func (c *TCPClient) Send(data []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.conn.SetWriteDeadline(c.config.writeDeadline()); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := frame.Write(c.conn, data, c.config.MaxLength); err != nil {
		return fmt.Errorf("failed to write to TCP connection: %w", err)
	}

	return nil
}

// Receive reads one frame from the server
func (c *TCPClient) Receive() ([]byte, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.conn.SetReadDeadline(c.config.readDeadline()); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	data, err := frame.Read(c.conn, c.config.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("failed to read from TCP connection: %w", err)
	}

	return data, nil
}

// Close closes the TCP connection
func (c *TCPClient) Close() error {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("failed to close TCP connection: %w", err)
		}
	}
	return nil
}

// LocalAddr returns the local network address
func (c *TCPClient) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address
func (c *TCPClient) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/A13xB0/GopherChat/internal/frame"
)

// QUICClient implements a QUIC connection client carrying length-prefixed
// frames on a single bidirectional stream
type QUICClient struct {
	conn       quic.Connection
	stream     quic.Stream
	addr       string
	config     *ClientConfig
	writeMutex sync.Mutex
}

// NewQUICClient creates a new QUIC client with the given address
func NewQUICClient(addr string, config *ClientConfig) (*QUICClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("address is required")
	}

	return &QUICClient{
		addr:   addr,
		config: config,
	}, nil
}

// Connect establishes a QUIC connection and opens the message stream
func (c *QUICClient) Connect(ctx context.Context) error {
	quicConfig, ok := c.config.ProtocolConfig.(*QUICConfig)
	if !ok {
		quicConfig = DefaultQUICConfig()
	}

	tlsConf := &tls.Config{
		NextProtos:         quicConfig.NextProtos,
		InsecureSkipVerify: quicConfig.InsecureSkipVerify,
		MinVersion:         quicConfig.MinVersion,
	}

	dialCtx, cancel := c.config.dialContext(ctx)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, c.addr, tlsConf, &quic.Config{
		KeepAlivePeriod: quicConfig.KeepAlivePeriod,
	})
	if err != nil {
		return fmt.Errorf("failed to dial QUIC: %w", err)
	}

	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return fmt.Errorf("failed to open QUIC stream: %w", err)
	}
	c.conn = conn
	c.stream = stream

	return nil
}

// Send writes data to the stream as a single frame
func (c *QUICClient) Send(data []byte) error {
	if c.stream == nil {
		return ErrNotConnected
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.stream.SetWriteDeadline(c.config.writeDeadline()); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := frame.Write(c.stream, data, c.config.MaxLength); err != nil {
		return fmt.Errorf("failed to write to QUIC stream: %w", err)
	}

	return nil
}

// Receive reads one frame from the stream
func (c *QUICClient) Receive() ([]byte, error) {
	if c.stream == nil {
		return nil, ErrNotConnected
	}

	if err := c.stream.SetReadDeadline(c.config.readDeadline()); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	data, err := frame.Read(c.stream, c.config.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("failed to read from QUIC stream: %w", err)
	}

	return data, nil
}

// Close closes the QUIC connection
func (c *QUICClient) Close() error {
	var closeErr error
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close QUIC stream: %w", err)
		}
	}
	if c.conn != nil {
		if err := c.conn.CloseWithError(0, "client closed connection"); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("failed to close QUIC connection: %w", err)
		}
	}
	return closeErr
}

// LocalAddr returns the local network address
func (c *QUICClient) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address
func (c *QUICClient) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

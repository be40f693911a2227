package listener

import (
	"context"
	"net"
	"testing"
	"time"
)

var testPeer = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10000}

func TestBaseSession(t *testing.T) {
	t.Run("New session", func(t *testing.T) {
		config := defaultConfig()
		WithBufferSize(4)(config)
		first := NewBaseSession(testPeer, context.Background(), config.Logger, config)
		second := NewBaseSession(testPeer, context.Background(), config.Logger, config)

		if first.GetClientAddr() != testPeer {
			t.Errorf("expected client address %v, got %v", testPeer, first.GetClientAddr())
		}
		if cap(first.DataChannel) != 4 {
			t.Errorf("expected data channel buffer 4, got %d", cap(first.DataChannel))
		}
		if first.GetSessionID() == "" || first.GetSessionID() == second.GetSessionID() {
			t.Errorf("session IDs should be unique, got %q and %q", first.GetSessionID(), second.GetSessionID())
		}
	})

	t.Run("Last received", func(t *testing.T) {
		session := NewBaseSession(testPeer, context.Background(), &DefaultLogger{}, defaultConfig())

		before := session.GetLastReceived()
		time.Sleep(10 * time.Millisecond)
		session.updateLastReceived()
		if !session.GetLastReceived().After(before) {
			t.Error("last received time not updated")
		}
	})

	t.Run("Parent cancellation ends the session", func(t *testing.T) {
		serverCtx, stop := context.WithCancel(context.Background())
		session := NewBaseSession(testPeer, serverCtx, &DefaultLogger{}, defaultConfig())

		stop()
		select {
		case <-session.Context().Done():
		case <-time.After(time.Second):
			t.Error("session context not cancelled with the server")
		}
	})

	t.Run("Deliver", func(t *testing.T) {
		config := defaultConfig()
		config.BufferSize = 1
		session := NewBaseSession(testPeer, context.Background(), &DefaultLogger{}, config)

		if !session.deliver([]byte("hello")) {
			t.Fatal("expected first delivery to succeed")
		}
		session.Cancel()
		if session.deliver([]byte("late")) {
			t.Fatal("expected delivery on a full, cancelled session to fail")
		}
		if got := <-session.Data(); string(got) != "hello" {
			t.Errorf("expected hello, got %s", got)
		}
	})
}

func TestServerOptions(t *testing.T) {
	t.Run("Defaults keep idle chats open", func(t *testing.T) {
		config := defaultConfig()
		if config.ReadTimeout != 0 {
			t.Errorf("expected no read timeout, got %v", config.ReadTimeout)
		}
		if config.MaxLength != 1024*1024 || config.BufferSize != 100 || config.MaxConnections != 1000 {
			t.Errorf("unexpected defaults: %+v", config)
		}
	})

	t.Run("Common options", func(t *testing.T) {
		config := defaultConfig()
		for _, opt := range []ServerOption{
			WithMaxLength(500),
			WithBufferSize(200),
			WithMaxConnections(2),
			WithTimeouts(10*time.Second, 20*time.Second),
		} {
			opt(config)
		}

		if config.MaxLength != 500 || config.BufferSize != 200 || config.MaxConnections != 2 {
			t.Errorf("size options not applied: %+v", config)
		}
		if config.ReadTimeout != 10*time.Second || config.WriteTimeout != 20*time.Second {
			t.Error("WithTimeouts: timeouts not set correctly")
		}
	})

	t.Run("WebSocket options", func(t *testing.T) {
		config := defaultConfig()
		WithWebSocketPath("/chat")(config)
		WithWebSocketBufferSizes(2048, 4096)(config)

		ws := webSocketConfig(config)
		if ws.Path != "/chat" || ws.ReadBufferSize != 2048 || ws.WriteBufferSize != 4096 {
			t.Errorf("WebSocket options not applied: %+v", ws)
		}
	})

	t.Run("QUIC options", func(t *testing.T) {
		config := defaultConfig()
		WithQUICKeepAlive(time.Second)(config)

		if got := quicConfig(config).KeepAlivePeriod; got != time.Second {
			t.Errorf("expected keep-alive 1s, got %v", got)
		}
		if quicConfig(config).TLSConfig != nil {
			t.Error("TLS config should stay unset until the server generates one")
		}
	})
}

func TestHostPort(t *testing.T) {
	tests := map[string]struct {
		host string
		port uint16
	}{
		"127.0.0.1:9000": {"127.0.0.1", 9000},
		"[::1]:9000":     {"::1", 9000},
		":0":             {"", 0},
	}
	for want, tt := range tests {
		if got := hostPort(tt.host, tt.port); got != want {
			t.Errorf("hostPort(%q, %d) = %s, want %s", tt.host, tt.port, got, want)
		}
	}
}

package listener

import (
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/context"
)

const wsHost = "127.0.0.1"

func TestWSListener(t *testing.T) {
	t.Run("Basic message exchange", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		wsConfig := &WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Path:            "/ws",
		}

		tListener, err := NewWebSocket(wsHost, 0, ctx,
			WithMaxLength(1024*1024),
			WithBufferSize(100),
			WithWebSocketBufferSizes(wsConfig.ReadBufferSize, wsConfig.WriteBufferSize),
			WithWebSocketPath(wsConfig.Path),
		)
		if err != nil {
			t.Fatal(err)
		}

		newSessionChan := make(chan Session, 1)
		tListener.SetAnnounceNewSession(utilityGetSession, newSessionChan)

		if err := tListener.StartListener(); err != nil {
			t.Fatalf("server startup error: %v", err)
		}
		defer tListener.StopListener()

		u := url.URL{
			Scheme: "ws",
			Host:   tListener.Addr().String(),
			Path:   wsConfig.Path,
		}
		c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			t.Fatal("dial:", err)
		}
		defer c.Close()

		want := []byte("Hello World!")
		if err := c.WriteMessage(websocket.BinaryMessage, want); err != nil {
			t.Fatal("write:", err)
		}

		var session Session
		select {
		case session = <-newSessionChan:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for session")
		}

		select {
		case got := <-session.Data():
			if !reflect.DeepEqual(want, got) {
				t.Fatalf("want: %s, got: %s", want, got)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}

		// Test echo
		if err := session.SendToClient(want); err != nil {
			t.Fatal("echo:", err)
		}
		c.SetReadDeadline(time.Now().Add(time.Second))
		messageType, got, err := c.ReadMessage()
		if err != nil {
			t.Fatal("read:", err)
		}
		if messageType != websocket.BinaryMessage {
			t.Fatalf("want binary message, got type %d", messageType)
		}
		if !reflect.DeepEqual(want, got) {
			t.Fatalf("echo want: %s, got: %s", want, got)
		}
	})

	t.Run("Stop closes sessions", func(t *testing.T) {
		tListener, err := NewWebSocket(wsHost, 0, context.Background())
		if err != nil {
			t.Fatal(err)
		}
		newSessionChan := make(chan Session, 1)
		tListener.SetAnnounceNewSession(utilityGetSession, newSessionChan)
		if err := tListener.StartListener(); err != nil {
			t.Fatal(err)
		}

		u := url.URL{Scheme: "ws", Host: tListener.Addr().String(), Path: "/"}
		c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			t.Fatal("dial:", err)
		}
		defer c.Close()

		var session Session
		select {
		case session = <-newSessionChan:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for session")
		}

		if err := tListener.StopListener(); err != nil {
			t.Fatal("stop:", err)
		}
		for range session.Data() {
		}

		c.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("want normal closure, got %v", err)
		}
	})
}

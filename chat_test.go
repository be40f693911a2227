package gopherchat

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loopback = netip.MustParseAddr("127.0.0.1")

// newPeer creates a Chat named name that talks to 127.0.0.1:port
func newPeer(t *testing.T, name string, kind TransportKind, port uint16, server bool) *Chat {
	t.Helper()
	chat, err := New(
		WithLocalName(name),
		WithBindHost("127.0.0.1"),
		WithDialTimeout(2*time.Second),
		WithInitialConfig(ConnectionConfig{
			Kind:               kind,
			RemoteAddress:      loopback,
			RemotePort:         port,
			LocalServerEnabled: server,
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { chat.Close() })
	return chat
}

// waitForLine waits until chat has a line of the given direction ending in suffix
func waitForLine(t *testing.T, chat *Chat, direction Direction, suffix string) TranscriptLine {
	t.Helper()
	var found TranscriptLine
	require.Eventually(t, func() bool {
		for _, line := range chat.Transcript().Lines() {
			if line.Direction == direction && strings.HasSuffix(line.Text, suffix) {
				found = line
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "no %s line ending in %q", direction, suffix)
	return found
}

func countLines(chat *Chat, direction Direction) int {
	n := 0
	for _, line := range chat.Transcript().Lines() {
		if line.Direction == direction {
			n++
		}
	}
	return n
}

func TestNewDefaults(t *testing.T) {
	chat, err := New()
	require.NoError(t, err)
	defer chat.Close()

	assert.Equal(t, TCP, chat.TransportKind())
	assert.Equal(t, "127.0.0.1", chat.RemoteAddress())
	assert.Equal(t, "10000", chat.RemotePort())
	assert.False(t, chat.LocalServerEnabled())
	assert.NotEmpty(t, chat.LocalName())
	assert.Equal(t, Status{}, chat.Status())
	assert.Nil(t, chat.ListenAddr())
}

func TestNewInvalidConfig(t *testing.T) {
	tests := map[string][]ChatOptFunc{
		"nil logger":     {WithLogger(nil)},
		"zero length":    {WithMaxLength(0)},
		"negative write": {WithTimeouts(0, -time.Second)},
		"negative dial":  {WithDialTimeout(-time.Second)},
		"unknown kind":   {WithInitialConfig(ConnectionConfig{Kind: 99, RemoteAddress: loopback, RemotePort: 1})},
		"no address":     {WithInitialConfig(ConnectionConfig{Kind: TCP, RemotePort: 1})},
		"zero port":      {WithInitialConfig(ConnectionConfig{Kind: TCP, RemoteAddress: loopback})},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(opts...)
			assert.Error(t, err)
		})
	}
}

func TestSettersRejectInvalidInput(t *testing.T) {
	chat := newPeer(t, "me", TCP, 9000, false)

	require.NoError(t, chat.SetRemoteAddress("10.1.2.3"))
	require.NoError(t, chat.SetRemotePort("9001"))

	for _, raw := range []string{"", "not-an-ip", "999.1.1.1", "10.1.2.3:80", "fe80::1%lo"} {
		err := chat.SetRemoteAddress(raw)
		assert.ErrorIs(t, err, ErrInvalidAddress, raw)
		assert.Equal(t, "10.1.2.3", chat.RemoteAddress(), raw)
	}
	for _, raw := range []string{"", "0", "65536", "-5", "port", "1.5"} {
		err := chat.SetRemotePort(raw)
		assert.ErrorIs(t, err, ErrInvalidPort, raw)
		assert.Equal(t, "9001", chat.RemotePort(), raw)
	}

	assert.ErrorIs(t, chat.SetTransportKind(TransportKind(42)), ErrInvalidTransport)
	assert.Equal(t, TCP, chat.TransportKind())

	require.NoError(t, chat.SetRemoteAddress("::1"))
	assert.Equal(t, "::1", chat.RemoteAddress())
}

func TestSettersDoNotRefresh(t *testing.T) {
	chat := newPeer(t, "me", TCP, 39101, false)

	require.NoError(t, chat.SetTransportKind(UDP))
	require.NoError(t, chat.SetRemotePort("39102"))
	chat.SetLocalServerEnabled(true)

	assert.Equal(t, uint64(0), chat.Status().Epoch)
	assert.Nil(t, chat.ListenAddr())
	assert.Equal(t, ConnectionConfig{
		Kind:               UDP,
		RemoteAddress:      loopback,
		RemotePort:         39102,
		LocalServerEnabled: true,
	}, chat.Config())
}

func TestRefreshIdempotent(t *testing.T) {
	ctx := context.Background()
	chat := newPeer(t, "server", TCP, 39111, true)

	require.NoError(t, chat.Refresh(ctx))
	first := chat.Status()
	assert.Equal(t, Status{Epoch: 1, Kind: TCP, Listening: true, Connected: true}, first)
	transport := chat.transport

	require.NoError(t, chat.Refresh(ctx))
	assert.Equal(t, first, chat.Status())
	assert.Same(t, transport, chat.transport)

	// The only session is the chat's own outbound connection
	require.Eventually(t, func() bool {
		return len(transport.server.GetActiveSessions()) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, chat.SetRemotePort("39112"))
	require.NoError(t, chat.SetRemotePort("39111"))
	require.NoError(t, chat.Refresh(ctx))
	assert.Equal(t, uint64(1), chat.Status().Epoch, "an unchanged configuration keeps the transport")
}

func TestRefreshRetriesUnhealthyTransport(t *testing.T) {
	ctx := context.Background()
	client := newPeer(t, "client", TCP, 39121, false)

	err := client.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
	assert.False(t, client.Status().Connected)

	server := newPeer(t, "server", TCP, 39121, true)
	require.NoError(t, server.Refresh(ctx))

	require.NoError(t, client.Refresh(ctx))
	assert.Equal(t, Status{Epoch: 2, Kind: TCP, Connected: true}, client.Status())
}

func TestRefreshBindError(t *testing.T) {
	ctx := context.Background()
	first := newPeer(t, "first", TCP, 39131, true)
	require.NoError(t, first.Refresh(ctx))

	second := newPeer(t, "second", TCP, 39131, true)
	err := second.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBind)
	assert.NotErrorIs(t, err, ErrConnect)

	// Sending still works without a local server
	status := second.Status()
	assert.False(t, status.Listening)
	assert.True(t, status.Connected)
	require.NoError(t, second.SendMessage("still here"))
	waitForLine(t, first, Received, ": still here")
}

func TestTCPMessageExchange(t *testing.T) {
	ctx := context.Background()
	server := newPeer(t, "server", TCP, 39141, true)
	require.NoError(t, server.Refresh(ctx))

	client := newPeer(t, "client", TCP, 39141, false)
	require.NoError(t, client.Refresh(ctx))

	require.NoError(t, client.SendMessage("hello"))

	line := waitForLine(t, server, Received, "hello")
	assert.True(t, strings.HasPrefix(line.Text, "127.0.0.1:"), line.Text)

	sent := client.Transcript().Lines()
	require.Len(t, sent, 1)
	assert.Equal(t, Sent, sent[0].Direction)
	assert.Equal(t, "client: hello", sent[0].Text)
}

func TestMessageExchangeAllTransports(t *testing.T) {
	ports := map[TransportKind]uint16{
		TCP:       39151,
		UDP:       39152,
		QUIC:      39153,
		WebSocket: 39154,
	}
	for _, kind := range TransportKinds() {
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			server := newPeer(t, "server", kind, ports[kind], true)
			require.NoError(t, server.Refresh(ctx))
			assert.True(t, server.Status().Listening)

			client := newPeer(t, "client", kind, ports[kind], false)
			require.NoError(t, client.Refresh(ctx))

			require.NoError(t, client.SendMessage("over "+kind.String()))
			waitForLine(t, server, Received, ": over "+kind.String())

			// The reply travels back on the inbound session
			require.NoError(t, server.ReplyMessage("back over "+kind.String()))
			waitForLine(t, client, Received, ": back over "+kind.String())
		})
	}
}

func TestDisableServerStopsDelivery(t *testing.T) {
	ctx := context.Background()
	server := newPeer(t, "server", TCP, 39161, true)
	require.NoError(t, server.Refresh(ctx))

	client := newPeer(t, "client", TCP, 39161, false)
	require.NoError(t, client.Refresh(ctx))
	require.NoError(t, client.SendMessage("before"))
	waitForLine(t, server, Received, "before")

	server.SetLocalServerEnabled(false)
	// Nothing listens on the shared port any more, so the outbound connect fails
	err := server.Refresh(ctx)
	assert.ErrorIs(t, err, ErrConnect)
	assert.False(t, server.Status().Listening)
	assert.Nil(t, server.ListenAddr())

	received := countLines(server, Received)
	// The client's connection was closed by the server; the write may still
	// succeed locally but must not be delivered
	_ = client.SendMessage("after")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, received, countLines(server, Received))
}

func TestSwitchTCPToUDP(t *testing.T) {
	ctx := context.Background()
	server := newPeer(t, "server", TCP, 39171, true)
	require.NoError(t, server.Refresh(ctx))

	client := newPeer(t, "client", TCP, 39171, false)
	require.NoError(t, client.Refresh(ctx))
	require.NoError(t, client.SendMessage("tcp"))
	waitForLine(t, server, Received, ": tcp")

	tcpServer := server.transport.server
	// server's own connection plus the client's
	require.Eventually(t, func() bool {
		return len(tcpServer.GetActiveSessions()) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.SetTransportKind(UDP))
	require.NoError(t, client.Refresh(ctx))
	assert.Equal(t, Status{Epoch: 2, Kind: UDP, Connected: true}, client.Status())

	// The old TCP connection is gone before any UDP message is sent
	require.Eventually(t, func() bool {
		return len(tcpServer.GetActiveSessions()) == 1
	}, time.Second, 10*time.Millisecond)

	received := countLines(server, Received)
	require.NoError(t, client.SendMessage("udp"))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, received, countLines(server, Received), "UDP message reached the TCP server")

	require.NoError(t, server.SetTransportKind(UDP))
	require.NoError(t, server.Refresh(ctx))
	// A port unreachable from the earlier datagram may fail one send
	require.Eventually(t, func() bool {
		client.SendMessage("udp again")
		return countLines(server, Received) > received
	}, 3*time.Second, 50*time.Millisecond)
	waitForLine(t, server, Received, ": udp again")
}

func TestEmptySendIsNoop(t *testing.T) {
	ctx := context.Background()
	server := newPeer(t, "server", TCP, 39181, true)
	require.NoError(t, server.Refresh(ctx))

	for _, text := range []string{"", "   ", "\t\n"} {
		require.NoError(t, server.SendMessage(text))
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, server.Transcript().Len())
}

func TestSendWithoutConnection(t *testing.T) {
	chat := newPeer(t, "me", TCP, 39191, false)

	err := chat.SendMessage("nobody home")
	assert.ErrorIs(t, err, ErrSend)
	assert.ErrorIs(t, err, ErrNotConnected)

	lines := chat.Transcript().Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, System, lines[0].Direction)
	assert.Equal(t, 0, countLines(chat, Sent))
}

func TestSendAfterConnectionLost(t *testing.T) {
	ctx := context.Background()
	server := newPeer(t, "server", TCP, 39231, true)
	require.NoError(t, server.Refresh(ctx))

	client := newPeer(t, "client", TCP, 39231, false)
	require.NoError(t, client.Refresh(ctx))
	require.True(t, client.Status().Connected)

	require.NoError(t, server.Close())
	require.Eventually(t, func() bool {
		return !client.Status().Connected
	}, 3*time.Second, 10*time.Millisecond)

	err := client.SendMessage("into the void")
	assert.ErrorIs(t, err, ErrSend)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, countLines(client, Sent))
	assert.Equal(t, 1, countLines(client, System))
}

func TestReplyWithoutInboundSession(t *testing.T) {
	ctx := context.Background()
	chat := newPeer(t, "me", TCP, 39241, true)
	require.NoError(t, chat.Refresh(ctx))

	err := chat.ReplyMessage("anyone?")
	assert.ErrorIs(t, err, ErrSend)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, countLines(chat, Sent))

	// Without a transport there is nothing to reply on either
	idle := newPeer(t, "idle", TCP, 39242, true)
	assert.ErrorIs(t, idle.ReplyMessage("anyone?"), ErrNotConnected)
}

func TestReplyAfterServerDisabled(t *testing.T) {
	ctx := context.Background()
	server := newPeer(t, "server", TCP, 39251, true)
	require.NoError(t, server.Refresh(ctx))

	client := newPeer(t, "client", TCP, 39251, false)
	require.NoError(t, client.Refresh(ctx))
	require.NoError(t, client.SendMessage("hello"))
	waitForLine(t, server, Received, ": hello")

	server.SetLocalServerEnabled(false)
	assert.ErrorIs(t, server.Refresh(ctx), ErrConnect)

	assert.ErrorIs(t, server.ReplyMessage("too late"), ErrNotConnected)
	assert.Equal(t, 0, countLines(server, Sent))
}

func TestUDPMessageLimitedToDatagram(t *testing.T) {
	ctx := context.Background()
	chat := newPeer(t, "me", UDP, 39261, false)
	require.NoError(t, chat.Refresh(ctx))
	require.Greater(t, int(chat.MaxLength), 65507)

	err := chat.SendMessage(strings.Repeat("x", 65508))
	assert.ErrorIs(t, err, ErrSend)
	assert.NotErrorIs(t, err, ErrNotConnected)
	assert.Contains(t, err.Error(), "exceeds maximum length 65507")
	assert.Equal(t, 0, countLines(chat, Sent))
}

func TestSendTooLong(t *testing.T) {
	ctx := context.Background()
	chat, err := New(
		WithLocalName("me"),
		WithMaxLength(8),
		WithInitialConfig(ConnectionConfig{Kind: UDP, RemoteAddress: loopback, RemotePort: 39195}),
	)
	require.NoError(t, err)
	defer chat.Close()
	require.NoError(t, chat.Refresh(ctx))

	assert.ErrorIs(t, chat.SendMessage("123456789"), ErrSend)
	assert.NoError(t, chat.SendMessage("12345678"))
	assert.Equal(t, 1, countLines(chat, Sent))
}

func TestConcurrentSendAndReceive(t *testing.T) {
	ctx := context.Background()
	const perPeer, sends = 50, 30

	sink := newPeer(t, "sink", TCP, 39202, true)
	require.NoError(t, sink.Refresh(ctx))

	hub := newPeer(t, "hub", TCP, 39202, false)
	require.NoError(t, hub.Refresh(ctx))

	// hub listens on 39201 while sending to the sink on 39202
	require.NoError(t, hub.transport.StartServer(39201))

	peers := []*Chat{
		newPeer(t, "a", TCP, 39201, false),
		newPeer(t, "b", TCP, 39201, false),
	}
	for _, p := range peers {
		require.NoError(t, p.Refresh(ctx))
	}

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *Chat) {
			defer wg.Done()
			for i := 0; i < perPeer; i++ {
				assert.NoError(t, p.SendMessage(fmt.Sprintf("%s-%d", p.LocalName(), i)))
			}
		}(p)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < sends; i++ {
			assert.NoError(t, hub.SendMessage(fmt.Sprintf("out-%d", i)))
		}
	}()
	wg.Wait()

	total := sends + perPeer*len(peers)
	require.Eventually(t, func() bool {
		return hub.Transcript().Len() == total
	}, 3*time.Second, 10*time.Millisecond)

	next := map[string]int{}
	for _, line := range hub.Transcript().Lines() {
		text := line.Text[strings.LastIndex(line.Text, " ")+1:]
		source, n, ok := strings.Cut(text, "-")
		require.True(t, ok, line.Text)
		assert.Equal(t, strconv.Itoa(next[source]), n, "out of order: %s", line.Text)
		next[source]++
	}
	assert.Equal(t, map[string]int{"a": perPeer, "b": perPeer, "out": sends}, next)
}

func TestCloseReleasesTransport(t *testing.T) {
	ctx := context.Background()
	chat := newPeer(t, "me", TCP, 39211, true)
	require.NoError(t, chat.Refresh(ctx))
	require.NotNil(t, chat.ListenAddr())

	require.NoError(t, chat.Close())
	require.NoError(t, chat.Close())
	assert.ErrorIs(t, chat.Refresh(ctx), ErrClosed)
	assert.ErrorIs(t, chat.SendMessage("late"), ErrClosed)

	// The port is free again
	other := newPeer(t, "other", TCP, 39211, true)
	assert.NoError(t, other.Refresh(ctx))
}

func TestUsageInstructions(t *testing.T) {
	chat := newPeer(t, "me", TCP, 39221, false)
	chat.PrintUsageInstructions()
	chat.AppendLine("Logging enabled")

	lines := chat.Transcript().Lines()
	require.Len(t, lines, len(usageInstructions)+1)
	for _, line := range lines {
		assert.Equal(t, System, line.Direction)
	}
	assert.Equal(t, "Logging enabled", lines[len(lines)-1].Text)
}

func TestParseTransportKind(t *testing.T) {
	for _, kind := range TransportKinds() {
		parsed, err := ParseTransportKind(strings.ToLower(kind.String()))
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
	_, err := ParseTransportKind("sctp")
	assert.ErrorIs(t, err, ErrInvalidTransport)
	assert.Equal(t, "TransportKind(9)", TransportKind(9).String())
}

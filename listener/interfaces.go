package listener

import (
	"context"
	"net"
	"time"
)

// Listener defines the interface for inbound chat transports
type Listener interface {
	// StartListener binds the local address and starts accepting peers
	StartListener() error

	// StopListener closes the listener and every session, and waits for
	// all of its goroutines to exit
	StopListener() error

	// SetAnnounceNewSession Sets middleware for announcing a new session
	SetAnnounceNewSession(function AnnounceMiddlewareFunc, options any)

	//Getters

	// GetActiveSessions Get all sessions
	GetActiveSessions() map[string]Session

	// GetSession Get session from ClientAddr (IP:Port)
	GetSession(ClientAddr string) Session

	// Addr returns the bound local address, nil before StartListener
	Addr() net.Addr
}

// Session is a single remote peer attached to a Listener
type Session interface {
	// SendToClient sends data back to the peer
	SendToClient(data []byte) error

	// Data returns the channel of messages received from the peer. It is
	// closed when the session ends.
	Data() <-chan []byte

	// CloseSession closes the session
	CloseSession()

	//Getters

	// GetSessionID Get Session UUID
	GetSessionID() string

	// GetClientAddr Get Client Addr
	GetClientAddr() net.Addr

	// GetLastReceived Get time of the last received message
	GetLastReceived() time.Time

	// Context is cancelled when the session ends
	Context() context.Context
}

// AnnounceMiddlewareFunc is called synchronously for every new session,
// before any of its data is delivered.
type AnnounceMiddlewareFunc func(options any, session Session)

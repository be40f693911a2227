package gopherchat

import (
	"errors"
	"fmt"

	"github.com/A13xB0/GopherChat/client"
)

// ErrorKind classifies chat errors
type ErrorKind string

const (
	KindInvalidAddress   ErrorKind = "invalid address"
	KindInvalidPort      ErrorKind = "invalid port"
	KindInvalidTransport ErrorKind = "invalid transport"
	KindBind             ErrorKind = "bind"
	KindConnect          ErrorKind = "connect"
	KindSend             ErrorKind = "send"
)

// ChatError is returned by every fallible Chat operation. None of them leave
// the controller in an invalid configuration.
type ChatError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Sentinels for errors.Is. A ChatError matches the sentinel of its kind.
var (
	ErrInvalidAddress   = &ChatError{Kind: KindInvalidAddress}
	ErrInvalidPort      = &ChatError{Kind: KindInvalidPort}
	ErrInvalidTransport = &ChatError{Kind: KindInvalidTransport}
	ErrBind             = &ChatError{Kind: KindBind}
	ErrConnect          = &ChatError{Kind: KindConnect}
	ErrSend             = &ChatError{Kind: KindSend}
)

// ErrNotConnected is wrapped by send errors when there is no outbound connection
var ErrNotConnected = client.ErrNotConnected

// ErrClosed is returned by operations on a closed Chat
var ErrClosed = errors.New("chat closed")

func (e *ChatError) Error() string {
	msg := string(e.Kind)
	switch e.Kind {
	case KindBind, KindConnect, KindSend:
		msg += " error"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

// Is matches a bare sentinel of the same kind
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func newChatError(kind ErrorKind, msg string, err error) error {
	return &ChatError{
		Kind:    kind,
		Message: msg,
		Err:     err,
	}
}

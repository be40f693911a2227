package gopherchat

import (
	"fmt"
	"net"
	"strings"
)

// SendMessage sends text to the configured peer and records it as a sent
// line. Whitespace-only text is ignored. A failed send is returned and also
// noted in the transcript.
func (c *Chat) SendMessage(text string) error {
	return c.send(text, (*sessionTransport).Send)
}

// ReplyMessage sends text back on the inbound session that delivered the
// latest received message, without using the outbound connection. It is
// recorded like SendMessage.
func (c *Chat) ReplyMessage(text string) error {
	return c.send(text, (*sessionTransport).Reply)
}

func (c *Chat) send(text string, transmit func(*sessionTransport, []byte) error) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return newChatError(KindSend, "", ErrClosed)
	}
	limit := int(c.MaxLength)
	if c.transport != nil {
		limit = c.transport.maxPayload()
	}
	if len(text) > limit {
		err := newChatError(KindSend, fmt.Sprintf("message of %d bytes exceeds maximum length %d", len(text), limit), nil)
		c.transcript.Append(System, err.Error())
		return err
	}
	if c.transport == nil {
		err := newChatError(KindSend, "no outbound connection", ErrNotConnected)
		c.transcript.Append(System, err.Error())
		return err
	}

	if err := transmit(c.transport, []byte(text)); err != nil {
		c.Logger.Warn("Send failed: %v", err)
		c.transcript.Append(System, err.Error())
		return err
	}
	c.transcript.Append(Sent, c.ChatConfig.LocalName+": "+text)
	return nil
}

// receive records an inbound message. It runs on transport goroutines and
// must not take c.mu, since Refresh waits for those goroutines while holding
// it.
func (c *Chat) receive(payload []byte, from net.Addr) {
	sender := "unknown"
	if from != nil {
		sender = from.String()
	}
	c.Logger.Debug("Received %d bytes from %s", len(payload), sender)
	c.transcript.Append(Received, sender+": "+string(payload))
}

// Package frame implements the length-prefixed framing shared by the stream
// transports (TCP and QUIC): a 4-byte big-endian length followed by the payload.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of the length prefix in bytes
const HeaderSize = 4

// ErrTooLarge is returned when a frame exceeds the allowed maximum length
var ErrTooLarge = errors.New("frame exceeds maximum length")

// Write writes data as a single frame. The header and payload go out in one
// Write call so concurrent writers on a locked conn never interleave.
func Write(w io.Writer, data []byte, maxLength uint32) error {
	if uint64(len(data)) > uint64(maxLength) {
		return ErrTooLarge
	}
	buf := make([]byte, HeaderSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[HeaderSize:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Read reads a single frame. A header announcing more than maxLength bytes
// yields ErrTooLarge without consuming the body; the stream is then out of
// sync and the caller should drop the connection.
func Read(r io.Reader, maxLength uint32) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxLength {
		return nil, ErrTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

package bmp

import (
	"errors"
	"fmt"
)

var (
	// ErrTooShort means fewer bytes are available than a fixed-size field
	// or the declared message length requires.
	ErrTooShort = errors.New("bmp: message too short")
	// ErrUnsupportedVersion means the version octet is not 3.
	ErrUnsupportedVersion = errors.New("bmp: unsupported version")
	// ErrUnknownType means the message type is above 6.
	ErrUnknownType = errors.New("bmp: unknown message type")
	// ErrBadLength means the declared length is smaller than the common header.
	ErrBadLength = errors.New("bmp: bad message length")
	// ErrIncompleteHeader means the stream ends inside a common header.
	ErrIncompleteHeader = errors.New("bmp: incomplete common header")
	// ErrIncompleteMessage means the stream ends inside a message body.
	ErrIncompleteMessage = errors.New("bmp: incomplete message")
	// ErrBGP wraps a failure of the encapsulated BGP message.
	ErrBGP = errors.New("bmp: embedded bgp message")
)

// DecodeError locates a decode failure inside one BMP message. Offset is
// relative to the start of that message.
type DecodeError struct {
	Field  string
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bmp: %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FramingError reports that a buffer could not be split into a whole number
// of BMP messages. Framed is the number of messages split off before the
// failure; Offset is where the failing message starts.
type FramingError struct {
	Framed int
	Offset int
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("bmp: framing failed at offset %d after %d messages: %v", e.Offset, e.Framed, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// Incomplete reports whether the buffer simply ends early. The bytes from
// Offset on may still become a valid message once more data arrives.
func (e *FramingError) Incomplete() bool {
	return errors.Is(e.Err, ErrIncompleteHeader) || errors.Is(e.Err, ErrIncompleteMessage)
}

package bmp

import (
	"encoding/binary"
	"fmt"
)

// Frame locates one complete BMP message inside a buffer.
type Frame struct {
	Offset int
	Length int
}

// Bytes returns the frame's span of buf.
func (f Frame) Bytes(buf []byte) []byte {
	return buf[f.Offset : f.Offset+f.Length]
}

// SplitMessages splits buf into consecutive BMP messages using the length
// in each common header. The buffer must hold a whole number of messages.
//
// On failure the frames found so far are returned with a *FramingError.
// BMP has no resynchronisation marker, so nothing after the failing offset
// is examined.
func SplitMessages(buf []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0
	for offset < len(buf) {
		fail := func(err error) ([]Frame, error) {
			return frames, &FramingError{Framed: len(frames), Offset: offset, Err: err}
		}

		remaining := len(buf) - offset
		if remaining < CommonHeaderSize {
			return fail(fmt.Errorf("%w: %d bytes left", ErrIncompleteHeader, remaining))
		}
		if v := buf[offset]; v != BMPVersion {
			return fail(fmt.Errorf("%w: %d", ErrUnsupportedVersion, v))
		}
		msgLength := binary.BigEndian.Uint32(buf[offset+1 : offset+5])
		if t := buf[offset+5]; t > maxMsgType {
			return fail(fmt.Errorf("%w: %d", ErrUnknownType, t))
		}
		if msgLength < CommonHeaderSize {
			return fail(fmt.Errorf("%w: declared %d", ErrBadLength, msgLength))
		}
		if uint64(msgLength) > uint64(remaining) {
			return fail(fmt.Errorf("%w: declared %d, have %d", ErrIncompleteMessage, msgLength, remaining))
		}

		frames = append(frames, Frame{Offset: offset, Length: int(msgLength)})
		offset += int(msgLength)
	}
	return frames, nil
}

// PeekLength returns the declared length of the message starting at buf[0]
// once its common header is available.
func PeekLength(buf []byte) (uint32, bool) {
	if len(buf) < CommonHeaderSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[1:5]), true
}

package session

import (
	"errors"
	"fmt"

	"github.com/route-beacon/bmp-proxy/internal/bmp"
)

// ErrMessageTooLarge means a common header declared a length above the
// configured per-message limit.
var ErrMessageTooLarge = errors.New("session: message exceeds max_message_bytes")

// Frame is one complete BMP message copied out of the stream buffer.
type Frame struct {
	Offset int64 // stream offset of the first byte
	Data   []byte
}

// DiscardError reports buffered bytes dropped after a framing failure. The
// stream stays usable; framing restarts with the next bytes fed.
type DiscardError struct {
	Offset    int64
	Discarded int
	Err       error
}

func (e *DiscardError) Error() string {
	return fmt.Sprintf("session: discarded %d bytes at stream offset %d: %v", e.Discarded, e.Offset, e.Err)
}

func (e *DiscardError) Unwrap() error { return e.Err }

// Stream reassembles BMP messages from arbitrarily split reads. It is not
// safe for concurrent use; each connection owns one.
type Stream struct {
	buf        []byte
	offset     int64
	maxMessage int
}

// NewStream returns a stream that rejects messages longer than maxMessage
// bytes. A zero limit disables the check.
func NewStream(maxMessage int) *Stream {
	return &Stream{maxMessage: maxMessage}
}

// Feed appends p and returns every message completed by it, in stream
// order. A non-nil error is always a *DiscardError; frames returned with it
// precede the discarded bytes.
func (s *Stream) Feed(p []byte) ([]Frame, error) {
	s.buf = append(s.buf, p...)

	split, err := bmp.SplitMessages(s.buf)
	consumed := 0
	var frames []Frame
	for _, f := range split {
		if s.tooLarge(uint32(f.Length)) {
			err = &bmp.FramingError{Framed: len(frames), Offset: f.Offset,
				Err: fmt.Errorf("%w: declared %d", ErrMessageTooLarge, f.Length)}
			break
		}
		frames = append(frames, Frame{
			Offset: s.offset + int64(f.Offset),
			Data:   append([]byte(nil), f.Bytes(s.buf)...),
		})
		consumed = f.Offset + f.Length
	}

	var discard *DiscardError
	var fe *bmp.FramingError
	if errors.As(err, &fe) {
		rest := s.buf[fe.Offset:]
		n, ok := bmp.PeekLength(rest)
		cause := fe.Err
		switch {
		case fe.Incomplete() && rest[0] != bmp.BMPVersion:
			// A partial header with a bad version byte can never complete.
			cause = fmt.Errorf("%w: %d", bmp.ErrUnsupportedVersion, rest[0])
		case fe.Incomplete() && ok && s.tooLarge(n):
			cause = fmt.Errorf("%w: declared %d", ErrMessageTooLarge, n)
		case fe.Incomplete():
			cause = nil
		}
		if cause == nil {
			consumed = fe.Offset
		} else {
			discard = &DiscardError{Offset: s.offset + int64(fe.Offset), Discarded: len(rest), Err: cause}
			consumed = len(s.buf)
		}
	}

	s.offset += int64(consumed)
	s.buf = append(s.buf[:0], s.buf[consumed:]...)
	if discard != nil {
		return frames, discard
	}
	return frames, nil
}

// Pending returns the number of buffered bytes not yet framed.
func (s *Stream) Pending() int { return len(s.buf) }

// Offset returns the stream offset of the first unframed byte.
func (s *Stream) Offset() int64 { return s.offset }

func (s *Stream) tooLarge(n uint32) bool {
	return s.maxMessage > 0 && uint64(n) > uint64(s.maxMessage)
}

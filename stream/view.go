package stream

import (
	"io"

	"github.com/pkg/errors"
)

// ErrPending is returned by the byte view when the next in-order byte has
// not arrived yet and the stream is not finished. The caller suspends and
// retries after the next push.
var ErrPending = errors.New("stream: waiting for in-order data")

// Chunk returns the in-order bytes available in the current frame without
// consuming them. The slice aliases the frame payload and stays valid after
// the frame is later popped. Returns ErrPending when blocked on a hole and
// io.EOF once FIN has been observed and all preceding bytes delivered; from
// then on it keeps returning io.EOF, whatever is pushed later.
func (s *Stream) Chunk() ([]byte, error) {
	if s.fin {
		return nil, io.EOF
	}
	f, ok := s.PeekOrdData()
	if !ok {
		if s.fin {
			return nil, io.EOF
		}
		return nil, ErrPending
	}

	// In-order implies f.Seq() <= nextSeq; the difference is the prefix of
	// this frame that was already delivered by an overlapping predecessor.
	off := int(s.nextSeq - f.Seq())
	payload := f.Payload()
	if off >= len(payload) {
		if s.fin {
			return nil, io.EOF
		}
		return nil, ErrPending
	}
	return payload[off:], nil
}

// Advance consumes n bytes of the last Chunk. n must not exceed that
// chunk's length; nextSeq only ever moves forward.
func (s *Stream) Advance(n int) {
	s.nextSeq += uint32(n)
}

// NextByte delivers the next in-order payload byte, consuming it. Errors as
// in Chunk.
func (s *Stream) NextByte() (byte, error) {
	chunk, err := s.Chunk()
	if err != nil {
		return 0, err
	}
	s.Advance(1)
	return chunk[0], nil
}

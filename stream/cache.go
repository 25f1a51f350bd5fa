package stream

import (
	"container/heap"

	"github.com/mel2oo/go-tcpflow/frame"
)

// MaxCachePkts bounds the reorder window of one half-stream. Pushes beyond
// the bound are silently dropped; a lossy flow yields a lossy analysis, not
// a crash.
const MaxCachePkts = 32

// seqHeap is a min-heap of frames keyed by TCP sequence number. Comparison
// is plain host-order uint32: sequence wrap within one conversation is not
// supported, so flows beyond 2 GiB per half are out of scope. No stable
// ordering between equal-sequence frames is guaranteed.
type seqHeap []*frame.Frame

func (h seqHeap) Len() int            { return len(h) }
func (h seqHeap) Less(i, j int) bool  { return h[i].Seq() < h[j].Seq() }
func (h seqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *seqHeap) Push(x interface{}) { *h = append(*h, x.(*frame.Frame)) }

func (h *seqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	f := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return f
}

// Stream is one half-stream of a TCP conversation: the reorder cache plus
// the in-order byte view over it (view.go).
//
// A Stream is aliased by its task and by up to two parser procedures. That
// sharing is safe only because the task serializes all access: push, then
// poll, in strict alternation. A Stream must never be touched from two
// goroutines at once.
type Stream struct {
	cache seqHeap

	// Absolute sequence of the next byte to be delivered. Zero while
	// uninitialized; adopted from the first observed top-of-heap frame.
	nextSeq uint32

	// Set once a FIN frame has been popped from the cache.
	fin bool
}

func New() *Stream {
	return &Stream{cache: make(seqHeap, 0, MaxCachePkts)}
}

// Push admits a decoded TCP frame into the reorder cache. Non-TCP frames
// and pushes while the cache is full are silently dropped. Push never
// touches nextSeq or the FIN flag.
func (s *Stream) Push(f *frame.Frame) {
	if f == nil || !f.IsTCP() {
		return
	}
	if len(s.cache) >= MaxCachePkts {
		return
	}
	heap.Push(&s.cache, f)
}

func (s *Stream) Len() int {
	return len(s.cache)
}

func (s *Stream) IsEmpty() bool {
	return s.Len() == 0
}

// Clear drops all cached frames. Delivery state (nextSeq, FIN) is kept.
func (s *Stream) Clear() {
	for i := range s.cache {
		s.cache[i] = nil
	}
	s.cache = s.cache[:0]
}

// Fin reports whether a FIN frame has been popped from the cache.
func (s *Stream) Fin() bool {
	return s.fin
}

// PeekPkt returns the smallest-sequence frame without removing it.
func (s *Stream) PeekPkt() (*frame.Frame, bool) {
	if len(s.cache) == 0 {
		return nil, false
	}
	return s.cache[0], true
}

// PopPkt removes and returns the smallest-sequence frame, whether or not it
// is in order. Sets the FIN flag when the popped frame carries FIN. Sequence
// accounting is the caller's business.
func (s *Stream) PopPkt() (*frame.Frame, bool) {
	if len(s.cache) == 0 {
		return nil, false
	}
	f := heap.Pop(&s.cache).(*frame.Frame)
	if f.Fin() {
		s.fin = true
	}
	return f, true
}

// topDedup pops fully-covered retransmissions off the top of the heap (only
// the top; the rest of the cache is not deduplicated). Zero-payload SYN and
// FIN frames are preserved so they can still be surfaced as terminal
// signals.
func (s *Stream) topDedup() {
	for {
		f, ok := s.PeekPkt()
		if !ok {
			return
		}
		if f.PayloadLen() == 0 && (f.Syn() || f.Fin()) {
			return
		}
		if f.Seq()+f.PayloadLen() <= s.nextSeq {
			s.PopPkt()
			continue
		}
		return
	}
}

// PeekOrdPkt returns the top frame if it is in order relative to nextSeq.
// While nextSeq is uninitialized the current top's sequence is adopted.
// Otherwise fully-covered frames are dropped first (topDedup), so a pure ACK
// is never returned, while a zero-payload SYN or FIN at or below nextSeq is.
func (s *Stream) PeekOrdPkt() (*frame.Frame, bool) {
	if s.nextSeq == 0 {
		if f, ok := s.PeekPkt(); ok {
			s.nextSeq = f.Seq()
		}
		return s.PeekPkt()
	}

	s.topDedup()
	if f, ok := s.PeekPkt(); ok && f.Seq() <= s.nextSeq {
		return f, true
	}
	return nil, false
}

// PopOrdPkt pops the top frame if it is in order, advancing nextSeq:
// a zero-payload SYN consumes one sequence number; an exact match advances
// by the payload length; an overlap advances by the part not yet delivered.
func (s *Stream) PopOrdPkt() (*frame.Frame, bool) {
	f, ok := s.PeekOrdPkt()
	if !ok {
		return nil, false
	}
	switch {
	case f.Syn() && f.PayloadLen() == 0:
		s.nextSeq += 1
	case s.nextSeq == f.Seq():
		s.nextSeq += f.PayloadLen()
	case s.nextSeq > f.Seq():
		s.nextSeq += f.PayloadLen() - (s.nextSeq - f.Seq())
	}
	return s.PopPkt()
}

// PeekOrdData returns the next in-order data-bearing frame, consuming any
// in-order zero-payload frames (pure ACK, bare SYN, bare FIN) on the way.
func (s *Stream) PeekOrdData() (*frame.Frame, bool) {
	for {
		f, ok := s.PeekOrdPkt()
		if !ok {
			return nil, false
		}
		if f.PayloadLen() == 0 {
			s.PopOrdPkt()
			continue
		}
		return f, true
	}
}

// PopOrdData pops the next in-order data-bearing frame.
func (s *Stream) PopOrdData() (*frame.Frame, bool) {
	f, ok := s.PeekOrdData()
	if !ok {
		return nil, false
	}
	switch {
	case s.nextSeq == f.Seq():
		s.nextSeq += f.PayloadLen()
	case s.nextSeq > f.Seq():
		s.nextSeq += f.PayloadLen() - (s.nextSeq - f.Seq())
	}
	return s.PopPkt()
}

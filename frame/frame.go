package frame

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/mel2oo/go-tcpflow/mempool"
)

// MaxFrameLen bounds the capture length of a single frame. Longer captures
// must be discarded by the caller before construction.
const MaxFrameLen = 2048

// Payload buffers are drawn from a shared pool so a long capture session
// does not allocate per frame. The pool degrades to plain allocation when
// drained.
var pool = mustPool()

func mustPool() *mempool.ChunkPool {
	p, err := mempool.NewChunkPool(1024, MaxFrameLen)
	if err != nil {
		panic(err)
	}
	return p
}

// Timestamp is an opaque 128-bit capture timestamp. The engine never
// interprets it; it is carried for the caller's benefit.
type Timestamp struct {
	Hi uint64
	Lo uint64
}

// TimestampFromTime packs a wall-clock time for capture loops that have no
// native 128-bit stamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Hi: uint64(t.Unix()), Lo: uint64(t.Nanosecond())}
}

// Header is the decoded header bundle of a frame. Populated exactly once by
// Decode; nil layers were absent from the wire.
type Header struct {
	Link *layers.Ethernet
	VLAN *layers.Dot1Q
	IPv4 *layers.IPv4
	IPv6 *layers.IPv6

	// Nil when the transport is not TCP. Such frames decode fine but are
	// rejected by the half-stream cache.
	TCP *layers.TCP

	// Offset of the TCP payload into the frame's capture buffer.
	PayloadOffset int

	// Length of the TCP payload in bytes.
	PayloadLen int
}

// Frame is an immutable captured frame. The reorder cache and, transiently,
// a parser observe the same frame; nobody mutates it after Decode.
type Frame struct {
	ts     Timestamp
	data   []byte // pooled buffer of length MaxFrameLen
	caplen int

	hdr       *Header
	decoded   bool
	decodeErr error
}

// New copies src into a pooled payload buffer. Fails when src exceeds
// MaxFrameLen.
func New(ts Timestamp, src []byte) (*Frame, error) {
	if len(src) > MaxFrameLen {
		return nil, errors.Errorf("frame: capture length %d exceeds %d", len(src), MaxFrameLen)
	}
	f := &Frame{
		ts:     ts,
		data:   pool.Get(),
		caplen: len(src),
	}
	copy(f.data, src)
	return f, nil
}

// Release returns the payload buffer to the pool. The caller must ensure no
// cache or byte view still references the frame.
func (f *Frame) Release() {
	if f.data != nil {
		pool.Put(f.data)
		f.data = nil
	}
}

// Decode parses the link/VLAN/network/transport headers in place. It runs at
// most once; repeated calls return the first outcome. A frame whose decode
// failed is inert and must not be pushed into a half-stream.
func (f *Frame) Decode() error {
	if f.decoded {
		return f.decodeErr
	}
	f.decoded = true

	pkt := gopacket.NewPacket(f.data[:f.caplen], layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   false,
		NoCopy: true,
	})
	// Only a failure below or at the transport layer fails the decode; an
	// application layer gopacket could not parse (e.g. a non-DNS payload on
	// port 53) leaves the headers intact.
	if errLayer := pkt.ErrorLayer(); errLayer != nil && pkt.TransportLayer() == nil {
		f.decodeErr = errors.Wrap(errLayer.Error(), "frame: decode")
		return f.decodeErr
	}

	hdr := &Header{}
	offset := 0
	for _, l := range pkt.Layers() {
		switch v := l.(type) {
		case *layers.Ethernet:
			hdr.Link = v
		case *layers.Dot1Q:
			hdr.VLAN = v
		case *layers.IPv4:
			hdr.IPv4 = v
		case *layers.IPv6:
			hdr.IPv6 = v
		case *layers.TCP:
			hdr.TCP = v
			hdr.PayloadOffset = offset + len(v.LayerContents())
			hdr.PayloadLen = len(v.LayerPayload())
		}
		if hdr.TCP != nil {
			break
		}
		offset += len(l.LayerContents())
	}

	f.hdr = hdr
	return nil
}

// Header returns the decoded header bundle, or nil before a successful
// Decode.
func (f *Frame) Header() *Header {
	return f.hdr
}

func (f *Frame) Decoded() bool {
	return f.hdr != nil
}

// IsTCP reports whether the frame decoded to a TCP segment.
func (f *Frame) IsTCP() bool {
	return f.hdr != nil && f.hdr.TCP != nil
}

// Seq returns the TCP sequence number in host byte order. The decoder
// already converted from the wire's network order; no further swapping is
// performed anywhere in the engine.
func (f *Frame) Seq() uint32 {
	return f.hdr.TCP.Seq
}

func (f *Frame) Syn() bool {
	return f.hdr.TCP.SYN
}

func (f *Frame) Fin() bool {
	return f.hdr.TCP.FIN
}

func (f *Frame) Sport() uint16 {
	return uint16(f.hdr.TCP.SrcPort)
}

func (f *Frame) Dport() uint16 {
	return uint16(f.hdr.TCP.DstPort)
}

// PayloadLen returns the TCP payload length. Sequence arithmetic is done in
// uint32 throughout, so the length is returned in that width.
func (f *Frame) PayloadLen() uint32 {
	return uint32(f.hdr.PayloadLen)
}

func (f *Frame) PayloadOffset() int {
	return f.hdr.PayloadOffset
}

// Payload returns the TCP payload bytes. The slice aliases the frame's
// buffer; treat it as read-only.
func (f *Frame) Payload() []byte {
	return f.data[f.hdr.PayloadOffset : f.hdr.PayloadOffset+f.hdr.PayloadLen]
}

// Byte returns the byte at the given index into the capture buffer.
func (f *Frame) Byte(index int) byte {
	return f.data[index]
}

func (f *Frame) CapLen() int {
	return f.caplen
}

// Data returns the captured bytes, or nil after Release. The slice aliases
// the frame's buffer; treat it as read-only.
func (f *Frame) Data() []byte {
	if f.data == nil {
		return nil
	}
	return f.data[:f.caplen]
}

func (f *Frame) Timestamp() Timestamp {
	return f.ts
}

package parser

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/mel2oo/go-tcpflow/frame"
	"github.com/mel2oo/go-tcpflow/memview"
	"github.com/mel2oo/go-tcpflow/optionals"
	"github.com/mel2oo/go-tcpflow/stream"
)

// PollResult is the outcome of driving a procedure to its next suspension
// point.
type PollResult int

const (
	// The procedure is blocked on data that has not arrived.
	Pending PollResult = iota

	// The procedure ran to completion.
	Ready

	// The procedure gave up with an error; see Driver.Err.
	Failed
)

var errAborted = errors.New("parser: driver closed")

// Driver turns a Proc into a poll-driven state machine. The procedure runs
// on its own goroutine, but never concurrently with anything: Poll hands
// control to the procedure and blocks until it suspends, finishes, or
// fails. Progress is always caused by a fresh push into the underlying
// half-stream, so no waker machinery is needed; the task simply re-polls
// after each push.
//
// The same channel-handoff trick drives Go's synchronous HTTP parser from
// a packet stream: a linear body, advanced from outside one step at a time.
type Driver struct {
	resume chan struct{}
	yield  chan PollResult
	abort  chan struct{}

	err      error
	result   PollResult
	finished bool
	closed   bool
}

func NewDriver() *Driver {
	return &Driver{
		resume: make(chan struct{}),
		yield:  make(chan PollResult),
		abort:  make(chan struct{}),
	}
}

// Reader binds a half-stream to this driver's suspension point. The reader
// must only be used from the procedure this driver runs.
func (d *Driver) Reader(stm *stream.Stream) *StreamReader {
	return &StreamReader{d: d, stm: stm}
}

// Emitter binds a metadata queue to this driver's suspension point.
func (d *Driver) Emitter(out chan<- Meta) *Emitter {
	return &Emitter{d: d, out: out}
}

// Start launches proc parked; it does not execute until the first Poll. A
// nil proc is complete from the outset.
func (d *Driver) Start(proc Proc) {
	if proc == nil {
		d.finished = true
		d.result = Ready
		return
	}
	go d.run(proc)
}

func (d *Driver) run(proc Proc) {
	defer func() {
		if r := recover(); r != nil && r != errAborted {
			panic(r)
		}
	}()

	select {
	case <-d.resume:
	case <-d.abort:
		return
	}

	if err := proc(); err != nil {
		d.err = err
		d.yield <- Failed
	} else {
		d.yield <- Ready
	}
}

// Poll resumes the procedure until its next suspension point. Once the
// procedure has finished or failed, Poll keeps returning that outcome
// without running anything.
func (d *Driver) Poll() PollResult {
	if d.finished {
		return d.result
	}
	if d.closed {
		return Pending
	}

	d.resume <- struct{}{}
	r := <-d.yield
	if r != Pending {
		d.finished = true
		d.result = r
	}
	return r
}

// Err reports the procedure's failure, if any.
func (d *Driver) Err() error {
	return d.err
}

// Close unparks and discards a suspended procedure so its goroutine can
// exit. Idempotent. A closed driver that had not finished returns Pending
// from every later Poll without running anything.
func (d *Driver) Close() {
	if d.closed {
		return
	}
	d.closed = true
	close(d.abort)
}

// suspend parks the procedure until the next Poll. Called only from the
// procedure goroutine, inside reader and emitter operations.
func (d *Driver) suspend() {
	d.yield <- Pending
	select {
	case <-d.resume:
	case <-d.abort:
		panic(errAborted)
	}
}

// StreamReader is the suspending byte-stream view a procedure reads from.
// Every method blocks the procedure (cooperatively) until it can make
// progress or the stream ends.
type StreamReader struct {
	d   *Driver
	stm *stream.Stream
}

// Next delivers the next in-order payload byte. Returns false at end of
// stream.
func (r *StreamReader) Next() (byte, bool) {
	for {
		b, err := r.stm.NextByte()
		switch err {
		case nil:
			return b, true
		case io.EOF:
			return 0, false
		}
		r.d.suspend()
	}
}

// ReadN yields up to n bytes, stopping early only at end of stream. The
// result is assembled from frame payload slices without copying.
func (r *StreamReader) ReadN(n int) memview.MemView {
	var out memview.MemView
	for out.Len() < int64(n) {
		chunk, err := r.stm.Chunk()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.d.suspend()
			continue
		}
		take := int64(n) - out.Len()
		if take > int64(len(chunk)) {
			take = int64(len(chunk))
		}
		out.Append(memview.New(chunk[:take]))
		r.stm.Advance(int(take))
	}
	return out
}

// ReadLine yields bytes up to and including '\n'. At end of stream without
// a terminating '\n' it returns what was read, which is empty once the
// stream is exhausted.
func (r *StreamReader) ReadLine() memview.MemView {
	var out memview.MemView
	for {
		chunk, err := r.stm.Chunk()
		if err == io.EOF {
			return out
		}
		if err != nil {
			r.d.suspend()
			continue
		}
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			out.Append(memview.New(chunk[:i+1]))
			r.stm.Advance(i + 1)
			return out
		}
		out.Append(memview.New(chunk))
		r.stm.Advance(len(chunk))
	}
}

// NextOrdPkt surfaces the next strictly in-order frame as a discrete event,
// including zero-payload SYN and FIN frames. Returns None at end of stream.
func (r *StreamReader) NextOrdPkt() optionals.Optional[*frame.Frame] {
	for {
		if f, ok := r.stm.PopOrdPkt(); ok {
			return optionals.Some(f)
		}
		if r.stm.Fin() {
			return optionals.None[*frame.Frame]()
		}
		r.d.suspend()
	}
}

// NextRawOrdPkt surfaces the next frame in cache-top order without any
// sequence discipline. Diagnostic; polled once per push it reproduces the
// arrival order.
func (r *StreamReader) NextRawOrdPkt() optionals.Optional[*frame.Frame] {
	for {
		if f, ok := r.stm.PopPkt(); ok {
			return optionals.Some(f)
		}
		r.d.suspend()
	}
}

// Emitter pushes metadata records onto the task's bounded queue. When the
// queue is full the emitting procedure suspends until the caller drains,
// which is the engine's only form of backpressure.
type Emitter struct {
	d   *Driver
	out chan<- Meta
}

func (e *Emitter) Emit(m Meta) {
	for {
		select {
		case e.out <- m:
			return
		default:
		}
		e.d.suspend()
	}
}

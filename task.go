package tcpflow

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mel2oo/go-tcpflow/frame"
	"github.com/mel2oo/go-tcpflow/optionals"
	"github.com/mel2oo/go-tcpflow/parser"
	httpparser "github.com/mel2oo/go-tcpflow/parser/http"
	"github.com/mel2oo/go-tcpflow/parser/smtp"
	"github.com/mel2oo/go-tcpflow/stream"
)

// MetaQueueDepth bounds the metadata records a task buffers. When the queue
// is full, emitting parsers suspend until the caller drains via GetMeta.
const MetaQueueDepth = 64

// TaskState is the lifecycle of one parser procedure. End and Error are
// terminal; such a parser is never polled again.
type TaskState int

const (
	TaskStart TaskState = iota
	TaskEnd
	TaskError
)

func (s TaskState) String() string {
	switch s {
	case TaskStart:
		return "start"
	case TaskEnd:
		return "end"
	}
	return "error"
}

// TaskID uniquely identifies a task. A UUID rather than a hash of the
// ip/port tuple, because the same endpoints may be reused by a later
// conversation.
type TaskID uuid.UUID

// Task owns one TCP conversation: a half-stream per direction and up to
// three parser procedures over them. All methods must be called from a
// single goroutine; the task serializes half-stream access between pushes
// and parser polls, which is what makes the aliased sharing inside safe.
type Task struct {
	id TaskID

	c2s *stream.Stream
	s2c *stream.Stream

	meta chan parser.Meta

	c2sDrv  *parser.Driver
	s2cDrv  *parser.Driver
	bdirDrv *parser.Driver

	c2sState  TaskState
	s2cState  TaskState
	bdirState TaskState
}

// NewTask creates a task with no parsers bound. Frames pushed into it are
// cached but nothing consumes them until InitParser.
func NewTask() *Task {
	return &Task{
		id:   TaskID(uuid.New()),
		c2s:  stream.New(),
		s2c:  stream.New(),
		meta: make(chan parser.Meta, MetaQueueDepth),
	}
}

func NewTaskWithParser(p parser.Parser) *Task {
	t := NewTask()
	t.InitParser(p)
	return t
}

// NewTaskWithKind binds one of the bundled parsers.
func NewTaskWithKind(kind ParserKind) (*Task, error) {
	switch kind {
	case ParserSMTP:
		return NewTaskWithParser(smtp.NewParser()), nil
	case ParserHTTP:
		return NewTaskWithParser(httpparser.NewParser()), nil
	}
	return nil, errors.Errorf("tcpflow: no parser for kind %v", kind)
}

// InitParser (re)binds a parser definition, materializing its three
// procedures against this task's half-streams. Rebinding discards the
// previous procedures and resets all states to Start; delivery state of the
// half-streams is untouched.
func (t *Task) InitParser(p parser.Parser) {
	t.closeDrivers()

	c2sDrv := parser.NewDriver()
	s2cDrv := parser.NewDriver()
	bdirDrv := parser.NewDriver()

	c2sDrv.Start(p.C2SProc(c2sDrv.Reader(t.c2s), c2sDrv.Emitter(t.meta)))
	s2cDrv.Start(p.S2CProc(s2cDrv.Reader(t.s2c), s2cDrv.Emitter(t.meta)))
	bdirDrv.Start(p.BdirProc(bdirDrv.Reader(t.c2s), bdirDrv.Reader(t.s2c), bdirDrv.Emitter(t.meta)))

	t.c2sDrv, t.s2cDrv, t.bdirDrv = c2sDrv, s2cDrv, bdirDrv
	t.c2sState, t.s2cState, t.bdirState = TaskStart, TaskStart, TaskStart
}

// Run appends the frame to the matching half-stream, then polls that
// direction's parser followed by the bidirectional parser. The opposite
// direction's parser is not polled: no new data could have unblocked it.
// Frames with an unknown direction are discarded without polling.
func (t *Task) Run(f *frame.Frame, dir Direction) {
	switch dir {
	case DirClientToServer:
		t.c2s.Push(f)
		t.c2sState = pollState(t.c2sDrv, t.c2sState)
	case DirServerToClient:
		t.s2c.Push(f)
		t.s2cState = pollState(t.s2cDrv, t.s2cState)
	default:
		return
	}
	t.bdirState = pollState(t.bdirDrv, t.bdirState)
}

func pollState(d *parser.Driver, st TaskState) TaskState {
	if d == nil || st != TaskStart {
		return st
	}
	switch d.Poll() {
	case parser.Ready:
		return TaskEnd
	case parser.Failed:
		return TaskError
	}
	return TaskStart
}

// ParserState reports the state of the given direction's parser. DirUnknown
// has no parser and reports TaskError.
func (t *Task) ParserState(dir Direction) TaskState {
	switch dir {
	case DirClientToServer:
		return t.c2sState
	case DirServerToClient:
		return t.s2cState
	case DirBiDirection:
		return t.bdirState
	}
	return TaskError
}

// ParserErr returns the error that moved the direction's parser to
// TaskError, if any.
func (t *Task) ParserErr(dir Direction) error {
	switch dir {
	case DirClientToServer:
		if t.c2sDrv != nil {
			return t.c2sDrv.Err()
		}
	case DirServerToClient:
		if t.s2cDrv != nil {
			return t.s2cDrv.Err()
		}
	case DirBiDirection:
		if t.bdirDrv != nil {
			return t.bdirDrv.Err()
		}
	}
	return nil
}

// GetMeta drains one metadata record, or None when the queue is empty.
// Records from a single parser arrive in emission order.
func (t *Task) GetMeta() optionals.Optional[parser.Meta] {
	select {
	case m := <-t.meta:
		return optionals.Some(m)
	default:
		return optionals.None[parser.Meta]()
	}
}

// StreamLen reports how many frames the direction's cache currently holds.
func (t *Task) StreamLen(dir Direction) int {
	switch dir {
	case DirClientToServer:
		return t.c2s.Len()
	case DirServerToClient:
		return t.s2c.Len()
	}
	return 0
}

func (t *Task) ID() TaskID {
	return t.id
}

// Close discards the parser procedures so their goroutines can exit. The
// task must not be Run afterwards. A task abandoned without Close keeps any
// suspended procedure parked until process exit.
func (t *Task) Close() {
	t.closeDrivers()
}

func (t *Task) closeDrivers() {
	for _, d := range []*parser.Driver{t.c2sDrv, t.s2cDrv, t.bdirDrv} {
		if d != nil {
			d.Close()
		}
	}
}

// MetaProtocol is a sentinel-friendly accessor for callers holding a
// possibly-nil record.
func MetaProtocol(m parser.Meta) parser.Protocol {
	if m == nil {
		return parser.ProtocolUndef
	}
	return m.Protocol()
}

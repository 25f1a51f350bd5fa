package smtp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mel2oo/go-tcpflow/parser"
	"github.com/mel2oo/go-tcpflow/sets"
	"github.com/mel2oo/go-tcpflow/slices"
)

// User is the AUTH LOGIN user name, still base64 as seen on the wire.
type User struct {
	Name string
}

func (User) Protocol() parser.Protocol { return parser.ProtocolSMTP }
func (m User) Print() string           { return fmt.Sprintf("## SMTP -> USER: %s", m.Name) }

// Pass is the AUTH LOGIN password, still base64 as seen on the wire.
type Pass struct {
	Pass string
}

func (Pass) Protocol() parser.Protocol { return parser.ProtocolSMTP }
func (m Pass) Print() string           { return fmt.Sprintf("## SMTP -> PASS: %s", m.Pass) }

// MailFrom carries the envelope sender and the SIZE hint, when the client
// declared one.
type MailFrom struct {
	Addr string
	Size int
}

func (MailFrom) Protocol() parser.Protocol { return parser.ProtocolSMTP }
func (m MailFrom) Print() string {
	return fmt.Sprintf("## SMTP -> MAIL FROM: %s SIZE=%d", m.Addr, m.Size)
}

// RcptTo carries one envelope recipient.
type RcptTo struct {
	Addr string
}

func (RcptTo) Protocol() parser.Protocol { return parser.ProtocolSMTP }
func (m RcptTo) Print() string           { return fmt.Sprintf("## SMTP -> RCPT TO: %s", m.Addr) }

// Subject is the Subject header of the submitted message.
type Subject struct {
	Subject string
}

func (Subject) Protocol() parser.Protocol { return parser.ProtocolSMTP }
func (m Subject) Print() string           { return fmt.Sprintf("## SMTP -> Subject: %s", m.Subject) }

// SMTP COMMANDS
var commands = sets.NewSet(
	"HELO",
	"EHLO",
	"AUTH",
	"MAIL",
	"RCPT",
	"DATA",
	"VRFY",
	"TURN",
	"RSET",
	"EXPN",
	"HELP",
	"NOOP",
	"QUIT",
)

// Parser walks the client half of an SMTP submission: AUTH LOGIN
// credentials, envelope sender and recipients, and the Subject header of
// the message body.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (*Parser) Name() string {
	return "SMTP Parser"
}

func (*Parser) S2CProc(*parser.StreamReader, *parser.Emitter) parser.Proc {
	return nil
}

func (*Parser) BdirProc(*parser.StreamReader, *parser.StreamReader, *parser.Emitter) parser.Proc {
	return nil
}

func (*Parser) C2SProc(c2s *parser.StreamReader, emit *parser.Emitter) parser.Proc {
	return func() error {
		for {
			raw := c2s.ReadLine()
			if raw.Len() == 0 {
				// Stream ended before QUIT; keep whatever was emitted.
				return nil
			}
			cmd, arg := splitCommand(raw.String())
			if !commands.Contains(cmd) {
				continue
			}
			switch cmd {
			case "AUTH":
				if !strings.EqualFold(strings.TrimSpace(arg), "LOGIN") {
					continue
				}
				user := c2s.ReadLine()
				if user.Len() == 0 {
					return nil
				}
				emit.Emit(User{Name: trimCRLF(user.String())})

				pass := c2s.ReadLine()
				if pass.Len() == 0 {
					return nil
				}
				emit.Emit(Pass{Pass: trimCRLF(pass.String())})
			case "MAIL":
				addr, size, err := parseMailFrom(arg)
				if err != nil {
					return err
				}
				emit.Emit(MailFrom{Addr: addr, Size: size})
			case "RCPT":
				addr, err := parseAnglePath(arg)
				if err != nil {
					return err
				}
				emit.Emit(RcptTo{Addr: addr})
			case "DATA":
				if done, err := readMail(c2s, emit); done || err != nil {
					return err
				}
			case "QUIT":
				return nil
			}
		}
	}
}

// splitCommand separates the command keyword from its argument. The keyword
// comparison is case-insensitive.
func splitCommand(line string) (cmd, arg string) {
	line = trimCRLF(line)
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return strings.ToUpper(line[:i]), line[i+1:]
	}
	return strings.ToUpper(line), ""
}

func trimCRLF(s string) string {
	return strings.TrimRight(s, "\r\n")
}

// parseMailFrom handles `FROM:<addr> SIZE=n`. The SIZE parameter is
// optional; its absence reports zero.
func parseMailFrom(arg string) (string, int, error) {
	addr, err := parseAnglePath(arg)
	if err != nil {
		return "", 0, err
	}

	size := 0
	for _, field := range slices.Map(strings.Fields(arg), strings.ToUpper) {
		if !strings.HasPrefix(field, "SIZE=") {
			continue
		}
		n, err := strconv.Atoi(field[len("SIZE="):])
		if err != nil {
			return "", 0, errors.Wrapf(err, "smtp: bad SIZE parameter in %q", arg)
		}
		size = n
	}
	return addr, size, nil
}

// parseAnglePath extracts the address between '<' and '>'.
func parseAnglePath(arg string) (string, error) {
	open := strings.IndexByte(arg, '<')
	end := strings.IndexByte(arg, '>')
	if open < 0 || end < open {
		return "", errors.Errorf("smtp: malformed path %q", arg)
	}
	return arg[open+1 : end], nil
}

// readMail consumes the message after DATA: header lines until the blank
// separator, grabbing the Subject, then body lines until the dot
// terminator. Reports done when the stream ended inside the message.
func readMail(c2s *parser.StreamReader, emit *parser.Emitter) (done bool, err error) {
	for {
		line := c2s.ReadLine()
		if line.Len() == 0 {
			return true, nil
		}
		s := trimCRLF(line.String())
		if s == "" {
			break
		}
		if v, ok := headerValue(s, "Subject"); ok {
			emit.Emit(Subject{Subject: v})
		}
	}

	for {
		line := c2s.ReadLine()
		if line.Len() == 0 {
			return true, nil
		}
		if trimCRLF(line.String()) == "." {
			return false, nil
		}
	}
}

// headerValue matches a mail header line case-insensitively and returns its
// value with surrounding space removed.
func headerValue(line, name string) (string, bool) {
	prefix := name + ":"
	if len(line) < len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(prefix):]), true
}

package smtp_test

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mel2oo/go-tcpflow/frame"
	"github.com/mel2oo/go-tcpflow/parser"
	"github.com/mel2oo/go-tcpflow/parser/smtp"
	"github.com/mel2oo/go-tcpflow/slices"
	"github.com/mel2oo/go-tcpflow/stream"
)

func buildFrame(t *testing.T, seq uint32, payload []byte, syn, fin bool) *frame.Frame {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{1, 2, 3, 4, 5, 6},
		DstMAC:       net.HardwareAddr{7, 8, 9, 10, 11, 12},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      20,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{192, 168, 1, 1},
		DstIP:    net.IP{192, 168, 1, 2},
	}
	tcp := &layers.TCP{
		SrcPort: 45678,
		DstPort: 25,
		Seq:     seq,
		Window:  1024,
		SYN:     syn,
		FIN:     fin,
		ACK:     !syn,
		Ack:     123,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))

	f, err := frame.New(frame.Timestamp{Lo: 1}, buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, f.Decode())
	return f
}

// runClient drives the c2s procedure over the given client payload
// segments, polling once per frame like a task, and returns the emitted
// records and the final poll result.
func runClient(t *testing.T, segments [][]byte) ([]parser.Meta, parser.PollResult) {
	t.Helper()

	stm := stream.New()
	d := parser.NewDriver()
	out := make(chan parser.Meta, 64)
	proc := smtp.NewParser().C2SProc(d.Reader(stm), d.Emitter(out))
	require.NotNil(t, proc)
	d.Start(proc)

	seq := uint32(1)
	res := parser.Pending
	for _, seg := range segments {
		stm.Push(buildFrame(t, seq, seg, false, false))
		seq += uint32(len(seg))
		res = d.Poll()
	}
	stm.Push(buildFrame(t, seq, nil, false, true))
	res = d.Poll()

	var metas []parser.Meta
	for {
		select {
		case m := <-out:
			metas = append(metas, m)
		default:
			return metas, res
		}
	}
}

func TestSmtpWalkthrough(t *testing.T) {
	segments := [][]byte{
		[]byte("EHLO example123.com\r\n"),
		[]byte("AUTH LOGIN\r\n"),
		[]byte("dXNlcjEyMzQ1QGV4YW1wbGUxMjMuY29t\r\n"),
		[]byte("MTIzNDU2Nzg=\r\n"),
		[]byte("MAIL FROM:<user12345@example123.com> SIZE=10557\r\n"),
		[]byte("RCPT TO:<user12345@example123.com>\r\n"),
		[]byte("DATA\r\n"),
		[]byte("From: user12345@example123.com\r\nTo: user12345@example123.com\r\n"),
		[]byte("Subject: biaoti\r\n\r\n"),
		[]byte("mail body line one\r\nmail body line two\r\n.\r\n"),
		[]byte("QUIT\r\n"),
	}

	metas, res := runClient(t, segments)
	assert.Equal(t, parser.Ready, res)

	require.Len(t, metas, 5)
	assert.Equal(t, smtp.User{Name: "dXNlcjEyMzQ1QGV4YW1wbGUxMjMuY29t"}, metas[0])
	assert.Equal(t, smtp.Pass{Pass: "MTIzNDU2Nzg="}, metas[1])
	assert.Equal(t, smtp.MailFrom{Addr: "user12345@example123.com", Size: 10557}, metas[2])
	assert.Equal(t, smtp.RcptTo{Addr: "user12345@example123.com"}, metas[3])
	assert.Equal(t, smtp.Subject{Subject: "biaoti"}, metas[4])

	for _, m := range metas {
		assert.Equal(t, parser.ProtocolSMTP, m.Protocol())
		assert.NotEmpty(t, m.Print())
	}
}

// Commands split across segment boundaries parse the same.
func TestSmtpSplitLines(t *testing.T) {
	segments := [][]byte{
		[]byte("MAIL FROM:<a@b.c"),
		[]byte("om> SIZE=7\r\nRCPT"),
		[]byte(" TO:<x@y.z>\r\n"),
	}

	metas, res := runClient(t, segments)
	assert.Equal(t, parser.Ready, res)

	require.Len(t, metas, 2)
	assert.Equal(t, smtp.MailFrom{Addr: "a@b.com", Size: 7}, metas[0])
	assert.Equal(t, smtp.RcptTo{Addr: "x@y.z"}, metas[1])
}

// SIZE is optional and commands are matched case-insensitively.
func TestSmtpLenientForms(t *testing.T) {
	segments := [][]byte{
		[]byte("mail from:<a@b.c>\r\n"),
		[]byte("rcpt to:<d@e.f>\r\n"),
		[]byte("XYZZY whatever\r\n"),
	}

	metas, res := runClient(t, segments)
	assert.Equal(t, parser.Ready, res)

	got := slices.Map(metas, func(m parser.Meta) string { return m.Print() })
	assert.Equal(t, []string{
		"## SMTP -> MAIL FROM: a@b.c SIZE=0",
		"## SMTP -> RCPT TO: d@e.f",
	}, got)
}

// A malformed envelope path fails the parser.
func TestSmtpMalformed(t *testing.T) {
	segments := [][]byte{
		[]byte("MAIL FROM:no-angle-brackets\r\n"),
	}

	metas, res := runClient(t, segments)
	assert.Equal(t, parser.Failed, res)
	assert.Empty(t, metas)
}

func TestSmtpSiblingProcs(t *testing.T) {
	p := smtp.NewParser()
	assert.Equal(t, "SMTP Parser", p.Name())

	stm := stream.New()
	d := parser.NewDriver()
	out := make(chan parser.Meta, 1)

	// Only the client side is dissected; the other slots are empty.
	assert.Nil(t, p.S2CProc(d.Reader(stm), d.Emitter(out)))
	assert.Nil(t, p.BdirProc(d.Reader(stm), d.Reader(stm), d.Emitter(out)))
}

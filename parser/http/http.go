// Package http reserves the HTTP dissection slot. Binding it today yields
// parser procedures that complete immediately without metadata; the
// ProtocolHTTP tag and kind encoding are already stable for when the
// dissector lands.
package http

import (
	"github.com/mel2oo/go-tcpflow/parser"
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (*Parser) Name() string {
	return "HTTP/1.x Parser"
}

func (*Parser) C2SProc(*parser.StreamReader, *parser.Emitter) parser.Proc {
	return nil
}

func (*Parser) S2CProc(*parser.StreamReader, *parser.Emitter) parser.Proc {
	return nil
}

func (*Parser) BdirProc(*parser.StreamReader, *parser.StreamReader, *parser.Emitter) parser.Proc {
	return nil
}

package engine

import (
	"fmt"
	"strconv"
	"strings"
)

type opcode uint8

const (
	opAssign opcode = iota
	opWaitTime
	opWaitEvent
	opSignal
	opBroadcast
	opPrint
	opJump
	opRepeatInit
	opRepeatNext
	opExit
)

// operand is a literal or a reference to a global. raw holds the source
// text of anything else, which is printed verbatim.
type operand struct {
	lit    *Value
	global string
	raw    string
}

type instr struct {
	op     opcode
	name   string
	src    operand
	amount float64
	unit   string
	args   []operand
	target int
	slot   int
	count  int64
}

type decl struct {
	name string
	kind Kind
	size int
	line int
	col  int
}

type program struct {
	name  string
	code  []instr
	decls []decl
	slots int
}

// samplesPer maps duration units to their length in samples at rate sr.
func samplesPer(unit string, sr int) float64 {
	switch unit {
	case "samp":
		return 1
	case "ms":
		return float64(sr) / 1000
	case "second":
		return float64(sr)
	case "minute":
		return float64(sr) * 60
	case "hour":
		return float64(sr) * 3600
	}
	return 0
}

func isUnit(s string) bool {
	return samplesPer(s, 1) > 0
}

var globalTypes = map[string]Kind{
	"int":    KindInt,
	"float":  KindFloat,
	"string": KindString,
	"Event":  KindEvent,
}

type parser struct {
	name string
	toks []token
	pos  int
	prog *program
}

// compile turns shred source into a program.
func compile(name, src string) (*program, *CompileError) {
	toks, err := lex(name, src)
	if err != nil {
		return nil, err
	}
	p := &parser{name: name, toks: toks, prog: &program{name: name}}
	for p.peek().kind != tokEOF {
		if err := p.stmt(); err != nil {
			return nil, err
		}
	}
	return p.prog, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(at token, format string, args ...any) *CompileError {
	return &CompileError{Name: p.name, Line: at.line, Column: at.col, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind, text string) (token, *CompileError) {
	t := p.next()
	if !t.is(kind, text) {
		return t, p.errorf(t, "expected '%s', found %s", text, t)
	}
	return t, nil
}

func (p *parser) emit(in instr) int {
	p.prog.code = append(p.prog.code, in)
	return len(p.prog.code) - 1
}

func (p *parser) stmt() *CompileError {
	t := p.peek()
	switch {
	case t.is(tokPunct, "{"):
		return p.block()
	case t.is(tokPunct, "}"):
		return p.errorf(t, "unexpected '}'")
	case t.is(tokPunct, ";"):
		p.next()
		return nil
	case t.is(tokIdent, "while"):
		return p.whileStmt()
	case t.is(tokIdent, "repeat"):
		return p.repeatStmt()
	case t.is(tokIdent, "global"):
		return p.globalDecl()
	case t.is(tokIdent, "fun"):
		return p.funDecl()
	case t.is(tokPunct, "<<<"):
		return p.printStmt()
	}
	return p.simpleStmt()
}

func (p *parser) block() *CompileError {
	open, err := p.expect(tokPunct, "{")
	if err != nil {
		return err
	}
	for {
		t := p.peek()
		if t.kind == tokEOF {
			return p.errorf(open, "unclosed '{'")
		}
		if t.is(tokPunct, "}") {
			p.next()
			return nil
		}
		if err := p.stmt(); err != nil {
			return err
		}
	}
}

func (p *parser) whileStmt() *CompileError {
	p.next()
	if _, err := p.expect(tokPunct, "("); err != nil {
		return err
	}
	cond := p.next()
	var forever bool
	switch {
	case cond.is(tokIdent, "true"), cond.is(tokInt, "1"):
		forever = true
	case cond.is(tokIdent, "false"), cond.is(tokInt, "0"):
	default:
		return p.errorf(cond, "unsupported loop condition %s", cond)
	}
	if _, err := p.expect(tokPunct, ")"); err != nil {
		return err
	}
	if !p.peek().is(tokPunct, "{") {
		return p.errorf(p.peek(), "expected '{' after loop condition, found %s", p.peek())
	}

	if forever {
		start := len(p.prog.code)
		if err := p.block(); err != nil {
			return err
		}
		p.emit(instr{op: opJump, target: start})
		return nil
	}
	skip := p.emit(instr{op: opJump})
	if err := p.block(); err != nil {
		return err
	}
	p.prog.code[skip].target = len(p.prog.code)
	return nil
}

func (p *parser) repeatStmt() *CompileError {
	p.next()
	if _, err := p.expect(tokPunct, "("); err != nil {
		return err
	}
	countTok := p.next()
	if countTok.kind != tokInt {
		return p.errorf(countTok, "repeat count must be an integer literal, found %s", countTok)
	}
	count, convErr := strconv.ParseInt(countTok.text, 10, 64)
	if convErr != nil {
		return p.errorf(countTok, "repeat count out of range")
	}
	if _, err := p.expect(tokPunct, ")"); err != nil {
		return err
	}
	if !p.peek().is(tokPunct, "{") {
		return p.errorf(p.peek(), "expected '{' after repeat count, found %s", p.peek())
	}

	slot := p.prog.slots
	p.prog.slots++
	p.emit(instr{op: opRepeatInit, slot: slot, count: count})
	loop := p.emit(instr{op: opRepeatNext, slot: slot})
	if err := p.block(); err != nil {
		return err
	}
	p.emit(instr{op: opJump, target: loop})
	p.prog.code[loop].target = len(p.prog.code)
	return nil
}

func (p *parser) globalDecl() *CompileError {
	p.next()
	typeTok := p.next()
	kind, ok := globalTypes[typeTok.text]
	if typeTok.kind != tokIdent || !ok {
		return p.errorf(typeTok, "unsupported global type %s", typeTok)
	}
	nameTok := p.next()
	if nameTok.kind != tokIdent {
		return p.errorf(nameTok, "expected global name, found %s", nameTok)
	}

	d := decl{name: nameTok.text, kind: kind, line: nameTok.line, col: nameTok.col}
	if p.peek().is(tokPunct, "[") {
		open := p.next()
		switch kind {
		case KindInt:
			d.kind = KindIntArray
		case KindFloat:
			d.kind = KindFloatArray
		default:
			return p.errorf(open, "global %s arrays are not supported", kind)
		}
		if p.peek().kind == tokInt {
			sizeTok := p.next()
			size, err := strconv.Atoi(sizeTok.text)
			if err != nil {
				return p.errorf(sizeTok, "array size out of range")
			}
			d.size = size
		}
		if _, err := p.expect(tokPunct, "]"); err != nil {
			return err
		}
	}
	if _, err := p.expect(tokPunct, ";"); err != nil {
		return err
	}
	for _, prev := range p.prog.decls {
		if prev.name == d.name && prev.kind != d.kind {
			return p.errorf(nameTok, "global '%s' redeclared as %s (was %s)", d.name, d.kind, prev.kind)
		}
	}
	p.prog.decls = append(p.prog.decls, d)
	return nil
}

// funDecl accepts a function definition and discards its body.
func (p *parser) funDecl() *CompileError {
	kw := p.next()
	for !p.peek().is(tokPunct, "{") {
		t := p.peek()
		if t.kind == tokEOF || t.is(tokPunct, ";") || t.is(tokPunct, "}") {
			return p.errorf(kw, "malformed function definition")
		}
		p.next()
	}
	open := p.next()
	depth := 1
	for depth > 0 {
		t := p.next()
		switch {
		case t.kind == tokEOF:
			return p.errorf(open, "unclosed '{'")
		case t.is(tokPunct, "{"):
			depth++
		case t.is(tokPunct, "}"):
			depth--
		}
	}
	return nil
}

func (p *parser) printStmt() *CompileError {
	open := p.next()
	var args []operand
	var cur []token
	flush := func() {
		if len(cur) > 0 {
			args = append(args, p.operand(cur))
			cur = nil
		}
	}
	for {
		t := p.next()
		switch {
		case t.kind == tokEOF, t.is(tokPunct, ";"):
			return p.errorf(open, "unterminated '<<<' (missing '>>>')")
		case t.is(tokPunct, ">>>"):
			flush()
			if _, err := p.expect(tokPunct, ";"); err != nil {
				return err
			}
			p.emit(instr{op: opPrint, args: args})
			return nil
		case t.is(tokPunct, ","):
			flush()
		default:
			cur = append(cur, t)
		}
	}
}

// simpleStmt handles every ';'-terminated statement that is not a
// declaration or control structure.
func (p *parser) simpleStmt() *CompileError {
	var toks []token
	var stack []token
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF, t.is(tokPunct, "{"), t.is(tokPunct, "}"):
			if len(stack) > 0 {
				return p.errorf(stack[len(stack)-1], "unbalanced '%s'", stack[len(stack)-1].text)
			}
			return p.errorf(t, "expected ';', found %s", t)
		case t.is(tokPunct, ";") && len(stack) == 0:
			p.next()
			return p.lower(toks)
		case t.is(tokPunct, ";"):
			return p.errorf(stack[len(stack)-1], "unbalanced '%s'", stack[len(stack)-1].text)
		case t.is(tokPunct, "("), t.is(tokPunct, "["):
			stack = append(stack, t)
		case t.is(tokPunct, ")"), t.is(tokPunct, "]"):
			want := "("
			if t.text == "]" {
				want = "["
			}
			if len(stack) == 0 || stack[len(stack)-1].text != want {
				return p.errorf(t, "unexpected '%s'", t.text)
			}
			stack = stack[:len(stack)-1]
		}
		toks = append(toks, t)
		p.next()
	}
}

func matches(toks []token, pattern ...string) bool {
	if len(toks) != len(pattern) {
		return false
	}
	for i, want := range pattern {
		if want == "" {
			if toks[i].kind != tokIdent {
				return false
			}
			continue
		}
		if toks[i].text != want || toks[i].kind == tokString {
			return false
		}
	}
	return true
}

func (p *parser) lower(toks []token) *CompileError {
	switch {
	case len(toks) == 0:
		return nil
	case matches(toks, "me", ".", "exit", "(", ")"):
		p.emit(instr{op: opExit})
		return nil
	case matches(toks, "", ".", "signal", "(", ")"):
		p.emit(instr{op: opSignal, name: toks[0].text})
		return nil
	case matches(toks, "", ".", "broadcast", "(", ")"):
		p.emit(instr{op: opBroadcast, name: toks[0].text})
		return nil
	}

	arrow := -1
	for i, t := range toks {
		if t.is(tokPunct, "=>") {
			arrow = i
			break
		}
	}
	if arrow <= 0 || arrow == len(toks)-1 {
		return nil
	}
	lhs, rhs := toks[:arrow], toks[arrow+1:]

	if matches(rhs, "now") {
		return p.lowerWait(lhs)
	}
	if len(rhs) == 1 && rhs[0].kind == tokIdent {
		if op, ok := p.value(lhs); ok {
			p.emit(instr{op: opAssign, name: rhs[0].text, src: op})
		}
	}
	return nil
}

func (p *parser) lowerWait(lhs []token) *CompileError {
	switch {
	case len(lhs) == 1 && lhs[0].kind == tokIdent && isUnit(lhs[0].text):
		p.emit(instr{op: opWaitTime, amount: 1, unit: lhs[0].text})
		return nil
	case len(lhs) == 1 && lhs[0].kind == tokIdent:
		p.emit(instr{op: opWaitEvent, name: lhs[0].text})
		return nil
	case len(lhs) == 3 && lhs[1].is(tokPunct, "::") && lhs[2].kind == tokIdent:
		if !isUnit(lhs[2].text) {
			return p.errorf(lhs[2], "unknown duration unit '%s'", lhs[2].text)
		}
		amount, err := strconv.ParseFloat(lhs[0].text, 64)
		if err != nil || (lhs[0].kind != tokInt && lhs[0].kind != tokFloat) {
			return p.errorf(lhs[0], "duration must be a number, found %s", lhs[0])
		}
		p.emit(instr{op: opWaitTime, amount: amount, unit: lhs[2].text})
		return nil
	}
	return p.errorf(lhs[0], "unsupported duration expression")
}

// value recognises a literal (optionally negated) or a bare identifier.
func (p *parser) value(toks []token) (operand, bool) {
	neg := false
	if len(toks) == 2 && toks[0].is(tokPunct, "-") {
		neg = true
		toks = toks[1:]
	}
	if len(toks) != 1 {
		return operand{}, false
	}
	t := toks[0]
	switch t.kind {
	case tokInt:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return operand{}, false
		}
		if neg {
			n = -n
		}
		v := IntValue(n)
		return operand{lit: &v}, true
	case tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, false
		}
		if neg {
			f = -f
		}
		v := FloatValue(f)
		return operand{lit: &v}, true
	case tokString:
		if neg {
			return operand{}, false
		}
		v := StringValue(t.text)
		return operand{lit: &v}, true
	case tokIdent:
		if neg {
			return operand{}, false
		}
		return operand{global: t.text}, true
	}
	return operand{}, false
}

func (p *parser) operand(toks []token) operand {
	if op, ok := p.value(toks); ok {
		return op
	}
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.text
	}
	return operand{raw: strings.Join(parts, "")}
}

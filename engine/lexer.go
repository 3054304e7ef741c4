package engine

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return fmt.Sprintf("%q", t.text)
	}
	return fmt.Sprintf("'%s'", t.text)
}

// Longest first so "<<<" wins over "<<" and "<".
var punctuators = []string{
	"<<<", ">>>", "@=>",
	"=>", "::", "==", "!=", "<=", ">=", "&&", "||", "++", "--", "+=", "-=", "<<", ">>",
	";", "{", "}", "(", ")", "[", "]", ".", ",", "+", "-", "*", "/", "%",
	"<", ">", "=", "!", ":", "&", "|", "^", "?", "~",
}

type lexer struct {
	name string
	src  []rune
	pos  int
	line int
	col  int
}

// lex splits source into tokens. The returned slice always ends with tokEOF.
func lex(name, src string) ([]token, *CompileError) {
	l := &lexer{name: name, src: []rune(src), line: 1, col: 1}
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) errorf(line, col int, format string, args ...any) *CompileError {
	return &CompileError{Name: l.name, Line: line, Column: col, Message: fmt.Sprintf(format, args...)}
}

func (l *lexer) peek(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) skipSpaceAndComments() *CompileError {
	for l.pos < len(l.src) {
		r := l.peek(0)
		switch {
		case unicode.IsSpace(r):
			l.advance()
		case r == '/' && l.peek(1) == '/':
			for l.pos < len(l.src) && l.peek(0) != '\n' {
				l.advance()
			}
		case r == '/' && l.peek(1) == '*':
			line, col := l.line, l.col
			l.advance()
			l.advance()
			for {
				if l.pos >= len(l.src) {
					return l.errorf(line, col, "unterminated block comment")
				}
				if l.peek(0) == '*' && l.peek(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) next() (token, *CompileError) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	line, col := l.line, l.col
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: line, col: col}, nil
	}

	r := l.peek(0)
	switch {
	case r == '_' || unicode.IsLetter(r):
		var sb strings.Builder
		for l.pos < len(l.src) && (l.peek(0) == '_' || unicode.IsLetter(l.peek(0)) || unicode.IsDigit(l.peek(0))) {
			sb.WriteRune(l.advance())
		}
		return token{kind: tokIdent, text: sb.String(), line: line, col: col}, nil

	case unicode.IsDigit(r):
		return l.number(line, col)

	case r == '"':
		return l.str(line, col)
	}

	for _, p := range punctuators {
		if l.hasPrefix(p) {
			for range len(p) {
				l.advance()
			}
			return token{kind: tokPunct, text: p, line: line, col: col}, nil
		}
	}
	return token{}, l.errorf(line, col, "unexpected character %q", r)
}

func (l *lexer) hasPrefix(p string) bool {
	for i, r := range []rune(p) {
		if l.peek(i) != r {
			return false
		}
	}
	return true
}

func (l *lexer) number(line, col int) (token, *CompileError) {
	var sb strings.Builder
	kind := tokInt
	for l.pos < len(l.src) && unicode.IsDigit(l.peek(0)) {
		sb.WriteRune(l.advance())
	}
	if l.peek(0) == '.' && unicode.IsDigit(l.peek(1)) {
		kind = tokFloat
		sb.WriteRune(l.advance())
		for l.pos < len(l.src) && unicode.IsDigit(l.peek(0)) {
			sb.WriteRune(l.advance())
		}
	}
	if e := l.peek(0); e == 'e' || e == 'E' {
		off := 1
		if s := l.peek(1); s == '+' || s == '-' {
			off = 2
		}
		if unicode.IsDigit(l.peek(off)) {
			kind = tokFloat
			for range off {
				sb.WriteRune(l.advance())
			}
			for l.pos < len(l.src) && unicode.IsDigit(l.peek(0)) {
				sb.WriteRune(l.advance())
			}
		}
	}
	if next := l.peek(0); next == '_' || unicode.IsLetter(next) {
		return token{}, l.errorf(l.line, l.col, "malformed number %q", sb.String()+string(next))
	}
	return token{kind: kind, text: sb.String(), line: line, col: col}, nil
}

func (l *lexer) str(line, col int) (token, *CompileError) {
	l.advance()
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) || l.peek(0) == '\n' {
			return token{}, l.errorf(line, col, "unterminated string literal")
		}
		r := l.advance()
		switch r {
		case '"':
			return token{kind: tokString, text: sb.String(), line: line, col: col}, nil
		case '\\':
			if l.pos >= len(l.src) {
				return token{}, l.errorf(line, col, "unterminated string literal")
			}
			switch esc := l.advance(); esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				sb.WriteRune(esc)
			}
		default:
			sb.WriteRune(r)
		}
	}
}

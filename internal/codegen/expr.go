package codegen

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Expr is a node of the expression tree.
type Expr interface {
	String() string
	expr()
}

// Ident references a local variable, a view attribute or a helper.
type Ident struct{ Name string }

// Literal is a string, number, bool or nil constant.
type Literal struct{ Value any }

// Member is field, key or zero-argument method access: X.Name.
type Member struct {
	X    Expr
	Name string
}

// Index is X[Key].
type Index struct {
	X   Expr
	Key Expr
}

// Call is Fn(Args...).
type Call struct {
	Fn   Expr
	Args []Expr
}

// Unary is a prefix operator applied to X. Only "!" is defined.
type Unary struct {
	Op string
	X  Expr
}

// Binary is L Op R for ==, !=, && and ||.
type Binary struct {
	Op   string
	L, R Expr
}

func (Ident) expr()   {}
func (Literal) expr() {}
func (Member) expr()  {}
func (Index) expr()   {}
func (Call) expr()    {}
func (Unary) expr()   {}
func (Binary) expr()  {}

func (e Ident) String() string { return e.Name }

func (e Literal) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprint(v)
	}
}

func (e Member) String() string { return e.X.String() + "." + e.Name }
func (e Index) String() string  { return e.X.String() + "[" + e.Key.String() + "]" }

func (e Call) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Fn.String() + "(" + strings.Join(args, ", ") + ")"
}

func (e Unary) String() string  { return e.Op + e.X.String() }
func (e Binary) String() string { return "(" + e.L.String() + " " + e.Op + " " + e.R.String() + ")" }

// SyntaxError reports a malformed expression or statement.
type SyntaxError struct {
	Src string
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d in %q: %s", e.Pos, e.Src, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	val  any
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return &SyntaxError{Src: l.src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		r, w := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += w
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	r, w := utf8.DecodeRuneInString(l.src[l.pos:])

	switch {
	case isIdentStart(r):
		l.pos += w
		for l.pos < len(l.src) {
			r, w = utf8.DecodeRuneInString(l.src[l.pos:])
			if !isIdentPart(r) {
				break
			}
			l.pos += w
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil

	case r >= '0' && r <= '9':
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.' || l.src[l.pos] == '_') {
			l.pos++
		}
		text := l.src[start:l.pos]
		if i, err := strconv.ParseInt(text, 0, 64); err == nil {
			return token{kind: tokNumber, text: text, val: int(i), pos: start}, nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, l.errorf(start, "malformed number %q", text)
		}
		return token{kind: tokNumber, text: text, val: f, pos: start}, nil

	case r == '"':
		end := start + 1
		for end < len(l.src) && l.src[end] != '"' {
			if l.src[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(l.src) {
			return token{}, l.errorf(start, "unterminated string")
		}
		text := l.src[start : end+1]
		s, err := strconv.Unquote(text)
		if err != nil {
			return token{}, l.errorf(start, "malformed string %s", text)
		}
		l.pos = end + 1
		return token{kind: tokString, text: text, val: s, pos: start}, nil

	case r == '\'':
		end := strings.IndexByte(l.src[start+1:], '\'')
		if end < 0 {
			return token{}, l.errorf(start, "unterminated string")
		}
		s := l.src[start+1 : start+1+end]
		l.pos = start + end + 2
		return token{kind: tokString, text: l.src[start:l.pos], val: s, pos: start}, nil
	}

	for _, op := range []string{"==", "!=", "&&", "||"} {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokPunct, text: op, pos: start}, nil
		}
	}
	if strings.ContainsRune(".()[],!", r) {
		l.pos += w
		return token{kind: tokPunct, text: string(r), pos: start}, nil
	}

	return token{}, l.errorf(start, "unexpected character %q", r)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

type parser struct {
	lex *lexer
	tok token
}

// ParseExpr parses a single expression.
func ParseExpr(src string) (Expr, error) {
	p := &parser{lex: &lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokEOF {
		return nil, p.lex.errorf(0, "empty expression")
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.lex.errorf(p.tok.pos, "unexpected %q", p.tok.text)
	}
	return e, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) is(text string) bool {
	return p.tok.kind == tokPunct && p.tok.text == text
}

func (p *parser) expect(text string) error {
	if !p.is(text) {
		return p.lex.errorf(p.tok.pos, "expected %q", text)
	}
	return p.advance()
}

func (p *parser) parseOr() (Expr, error) {
	return p.parseBinary([]string{"||"}, p.parseAnd)
}

func (p *parser) parseAnd() (Expr, error) {
	return p.parseBinary([]string{"&&"}, p.parseEquality)
}

func (p *parser) parseEquality() (Expr, error) {
	return p.parseBinary([]string{"==", "!="}, p.parseUnary)
}

func (p *parser) parseBinary(ops []string, operand func() (Expr, error)) (Expr, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		for _, op := range ops {
			if p.is(op) {
				matched = op
				break
			}
		}
		if matched == "" {
			return left, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: matched, L: left, R: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.is("!") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: "!", X: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.is("."):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind != tokIdent {
				return nil, p.lex.errorf(p.tok.pos, "expected name after '.'")
			}
			x = Member{X: x, Name: p.tok.text}
			if err := p.advance(); err != nil {
				return nil, err
			}
		case p.is("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			x = Index{X: x, Key: key}
		case p.is("("):
			if err := p.advance(); err != nil {
				return nil, err
			}
			var args []Expr
			for !p.is(")") {
				arg, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !p.is(",") {
					break
				}
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			x = Call{Fn: x, Args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.tok
	switch tok.kind {
	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch tok.text {
		case "true":
			return Literal{Value: true}, nil
		case "false":
			return Literal{Value: false}, nil
		case "nil":
			return Literal{Value: nil}, nil
		}
		return Ident{Name: tok.text}, nil
	case tokString, tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{Value: tok.val}, nil
	case tokPunct:
		if tok.text == "(" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	case tokEOF:
		return nil, p.lex.errorf(tok.pos, "unexpected end of expression")
	}
	return nil, p.lex.errorf(tok.pos, "unexpected %q", tok.text)
}

// reserved lists the words that can never be bound as local variables.
var reserved = map[string]bool{
	"if": true, "else": true, "elsif": true, "end": true, "for": true, "in": true,
	"true": true, "false": true, "nil": true,
	"virtualPath": true, "localAssigns": true,
}

// IsValidLocal reports whether name can be bound as a template local: it must
// be an identifier that does not start with an upper-case letter or digit and
// is not a reserved word.
func IsValidLocal(name string) bool {
	if name == "" || reserved[name] {
		return false
	}
	for i, r := range name {
		if i == 0 {
			if !isIdentStart(r) || unicode.IsUpper(r) {
				return false
			}
			continue
		}
		if !isIdentPart(r) {
			return false
		}
	}
	return true
}

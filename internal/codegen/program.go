// Package codegen is the intermediate form shared by all template
// generators.
//
// A generator turns template source into a Program: a tree of text, output,
// conditional and loop nodes whose expressions are parsed with ParseExpr.
// Compile then turns a Program into a Body closure with the template's
// declared locals bound to frame slots. Program.Source renders the
// generated code as a listing for debugging.
package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/conneroisu/erbview/internal/view"
)

// Node is one element of a Program.
type Node interface {
	Line() int
	node()
}

// TextNode emits literal template text.
type TextNode struct {
	Text string
	Pos  int
}

// OutputNode evaluates Expr and appends it to the buffer, escaped when
// Escape is set.
type OutputNode struct {
	Expr   Expr
	Escape bool
	Pos    int
}

// IfNode runs Then when Cond is truthy, Else otherwise.
type IfNode struct {
	Cond Expr
	Then []Node
	Else []Node
	Pos  int
}

// ForNode runs Body once per element of Iter. Key is empty for the
// single-variable form.
type ForNode struct {
	Key   string
	Value string
	Iter  Expr
	Body  []Node
	Pos   int
}

func (n *TextNode) Line() int   { return n.Pos }
func (n *OutputNode) Line() int { return n.Pos }
func (n *IfNode) Line() int     { return n.Pos }
func (n *ForNode) Line() int    { return n.Pos }

func (*TextNode) node()   {}
func (*OutputNode) node() {}
func (*IfNode) node()     {}
func (*ForNode) node()    {}

// Program is the generated code of one template.
type Program struct {
	Nodes []Node
	// Escaper escapes OutputNodes with Escape set. DefaultEscaper is used
	// when nil.
	Escaper view.Escaper
}

// Instruction is one line of a Program listing.
type Instruction struct {
	Op    string `json:"op" yaml:"op" msgpack:"op"`
	Arg   string `json:"arg,omitempty" yaml:"arg,omitempty" msgpack:"arg,omitempty"`
	Line  int    `json:"line" yaml:"line" msgpack:"line"`
	Depth int    `json:"depth" yaml:"depth" msgpack:"depth"`
}

// Instructions flattens the program into a listing.
func (p *Program) Instructions() []Instruction {
	var out []Instruction
	var walk func(nodes []Node, depth int)
	walk = func(nodes []Node, depth int) {
		for _, n := range nodes {
			switch n := n.(type) {
			case *TextNode:
				out = append(out, Instruction{Op: "text", Arg: strconv.Quote(n.Text), Line: n.Pos, Depth: depth})
			case *OutputNode:
				op := "raw"
				if n.Escape {
					op = "escape"
				}
				out = append(out, Instruction{Op: op, Arg: n.Expr.String(), Line: n.Pos, Depth: depth})
			case *IfNode:
				out = append(out, Instruction{Op: "if", Arg: n.Cond.String(), Line: n.Pos, Depth: depth})
				walk(n.Then, depth+1)
				if len(n.Else) > 0 {
					out = append(out, Instruction{Op: "else", Line: n.Pos, Depth: depth})
					walk(n.Else, depth+1)
				}
				out = append(out, Instruction{Op: "end", Line: n.Pos, Depth: depth})
			case *ForNode:
				vars := n.Value
				if n.Key != "" {
					vars = n.Key + ", " + n.Value
				}
				out = append(out, Instruction{Op: "for", Arg: vars + " in " + n.Iter.String(), Line: n.Pos, Depth: depth})
				walk(n.Body, depth+1)
				out = append(out, Instruction{Op: "end", Line: n.Pos, Depth: depth})
			}
		}
	}
	walk(p.Nodes, 0)
	return out
}

// Source renders the program as an indented listing.
func (p *Program) Source() string {
	var sb strings.Builder
	for _, in := range p.Instructions() {
		sb.WriteString(strings.Repeat("  ", in.Depth))
		sb.WriteString(in.Op)
		if in.Arg != "" {
			sb.WriteByte(' ')
			sb.WriteString(in.Arg)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

type block struct {
	node    Node
	inElse  bool
	chained bool
}

// Builder assembles a Program from template fragments in source order.
type Builder struct {
	root  []Node
	stack []*block
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) append(n Node) {
	if len(b.stack) == 0 {
		b.root = append(b.root, n)
		return
	}
	top := b.stack[len(b.stack)-1]
	switch blk := top.node.(type) {
	case *IfNode:
		if top.inElse {
			blk.Else = append(blk.Else, n)
		} else {
			blk.Then = append(blk.Then, n)
		}
	case *ForNode:
		blk.Body = append(blk.Body, n)
	}
}

// Text appends literal text. Adjacent text is merged.
func (b *Builder) Text(text string, line int) {
	if text == "" {
		return
	}
	nodes := b.current()
	if n := len(nodes); n > 0 {
		if prev, ok := nodes[n-1].(*TextNode); ok {
			prev.Text += text
			return
		}
	}
	b.append(&TextNode{Text: text, Pos: line})
}

func (b *Builder) current() []Node {
	if len(b.stack) == 0 {
		return b.root
	}
	top := b.stack[len(b.stack)-1]
	switch blk := top.node.(type) {
	case *IfNode:
		if top.inElse {
			return blk.Else
		}
		return blk.Then
	case *ForNode:
		return blk.Body
	}
	return nil
}

// Output appends an expression output.
func (b *Builder) Output(src string, escape bool, line int) error {
	e, err := ParseExpr(src)
	if err != nil {
		return lineError(line, err)
	}
	b.append(&OutputNode{Expr: e, Escape: escape, Pos: line})
	return nil
}

// Statement appends a control statement: if, else if, elsif, else, for or
// end. Blank statements are ignored.
func (b *Builder) Statement(src string, line int) error {
	stmt := strings.TrimSpace(src)
	word, rest := splitWord(stmt)

	switch word {
	case "":
		return nil

	case "if":
		cond, err := ParseExpr(rest)
		if err != nil {
			return lineError(line, err)
		}
		n := &IfNode{Cond: cond, Pos: line}
		b.append(n)
		b.stack = append(b.stack, &block{node: n})
		return nil

	case "elsif":
		return b.elseIf(rest, line)

	case "else":
		if next, cond := splitWord(rest); next == "if" {
			return b.elseIf(cond, line)
		}
		if rest != "" {
			return lineError(line, fmt.Errorf("unexpected %q after else", rest))
		}
		top, err := b.openIf(line, "else")
		if err != nil {
			return err
		}
		top.inElse = true
		return nil

	case "for":
		return b.forStatement(rest, line)

	case "end":
		if rest != "" {
			return lineError(line, fmt.Errorf("unexpected %q after end", rest))
		}
		if len(b.stack) == 0 {
			return lineError(line, fmt.Errorf("end without matching if or for"))
		}
		for len(b.stack) > 0 && b.stack[len(b.stack)-1].chained {
			b.stack = b.stack[:len(b.stack)-1]
		}
		b.stack = b.stack[:len(b.stack)-1]
		return nil
	}

	return lineError(line, fmt.Errorf("unsupported statement %q", stmt))
}

func (b *Builder) openIf(line int, word string) (*block, error) {
	if len(b.stack) == 0 {
		return nil, lineError(line, fmt.Errorf("%s without matching if", word))
	}
	top := b.stack[len(b.stack)-1]
	if _, ok := top.node.(*IfNode); !ok || top.inElse {
		return nil, lineError(line, fmt.Errorf("%s without matching if", word))
	}
	return top, nil
}

func (b *Builder) elseIf(src string, line int) error {
	top, err := b.openIf(line, "else if")
	if err != nil {
		return err
	}
	cond, err := ParseExpr(src)
	if err != nil {
		return lineError(line, err)
	}
	top.inElse = true
	n := &IfNode{Cond: cond, Pos: line}
	b.append(n)
	b.stack = append(b.stack, &block{node: n, chained: true})
	return nil
}

func (b *Builder) forStatement(src string, line int) error {
	vars, iter, ok := strings.Cut(src, " in ")
	if !ok {
		return lineError(line, fmt.Errorf("for statement needs 'in': %q", src))
	}
	names := strings.Split(vars, ",")
	if len(names) > 2 {
		return lineError(line, fmt.Errorf("for statement takes at most two variables"))
	}
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
		if !IsValidLocal(names[i]) {
			return lineError(line, fmt.Errorf("invalid loop variable %q", names[i]))
		}
	}
	it, err := ParseExpr(iter)
	if err != nil {
		return lineError(line, err)
	}
	n := &ForNode{Iter: it, Pos: line}
	if len(names) == 2 {
		n.Key, n.Value = names[0], names[1]
	} else {
		n.Value = names[0]
	}
	b.append(n)
	b.stack = append(b.stack, &block{node: n})
	return nil
}

// Finish returns the assembled program. Unclosed blocks are an error.
func (b *Builder) Finish() (*Program, error) {
	if len(b.stack) > 0 {
		open := b.stack[len(b.stack)-1].node
		return nil, lineError(open.Line(), fmt.Errorf("block opened here is never closed"))
	}
	return &Program{Nodes: b.root}, nil
}

func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' })
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

// GenerateError is a generation failure at a template line.
type GenerateError struct {
	Line int
	Err  error
}

func (e *GenerateError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *GenerateError) Unwrap() error { return e.Err }

func lineError(line int, err error) error {
	return &GenerateError{Line: line, Err: err}
}

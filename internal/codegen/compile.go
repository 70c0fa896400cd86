package codegen

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/conneroisu/erbview/internal/view"
)

// DefaultEscaper is the HTML escaper used when a Program does not set one.
var DefaultEscaper view.Escaper = html.EscapeString

// Body is a compiled Program.
type Body func(v view.View, locals view.Locals, buf *view.Buffer) error

// EvalError is a runtime failure at a template line.
type EvalError struct {
	Line int
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// UndefinedError reports a name that is neither a bound local, a view
// attribute nor a helper.
type UndefinedError struct {
	Name string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("undefined local variable or method %q", e.Name)
}

type frame struct {
	view   view.View
	locals view.Locals
	slots  []any
	line   int
}

type execFn func(f *frame, buf *view.Buffer) error
type evalFn func(f *frame) (any, error)

type scope struct {
	names  []map[string]int
	nslots int
}

func (s *scope) lookup(name string) (int, bool) {
	for i := len(s.names) - 1; i >= 0; i-- {
		if slot, ok := s.names[i][name]; ok {
			return slot, true
		}
	}
	return 0, false
}

func (s *scope) push() { s.names = append(s.names, map[string]int{}) }
func (s *scope) pop()  { s.names = s.names[:len(s.names)-1] }

func (s *scope) declare(name string) int {
	slot := s.nslots
	s.nslots++
	s.names[len(s.names)-1][name] = slot
	return slot
}

type compiler struct {
	scope   *scope
	escaper view.Escaper
}

// Compile turns p into a Body. Each name in bound that passes IsValidLocal
// gets a frame slot initialised from the locals map on every call; other
// names stay reachable through localAssigns only.
func Compile(p *Program, bound []string) (Body, error) {
	c := &compiler{scope: &scope{}, escaper: p.Escaper}
	if c.escaper == nil {
		c.escaper = DefaultEscaper
	}
	c.scope.push()

	var boundNames []string
	seen := make(map[string]bool, len(bound))
	for _, name := range bound {
		if !IsValidLocal(name) || seen[name] {
			continue
		}
		seen[name] = true
		c.scope.declare(name)
		boundNames = append(boundNames, name)
	}

	body, err := c.nodes(p.Nodes)
	if err != nil {
		return nil, err
	}
	nslots := c.scope.nslots

	return func(v view.View, locals view.Locals, buf *view.Buffer) (err error) {
		f := &frame{view: v, locals: locals, slots: make([]any, nslots)}
		if f.locals == nil {
			f.locals = view.Locals{}
		}
		for i, name := range boundNames {
			f.slots[i] = f.locals[name]
		}
		defer func() {
			if r := recover(); r != nil {
				err = &EvalError{Line: f.line, Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		return body(f, buf)
	}, nil
}

func (c *compiler) nodes(nodes []Node) (execFn, error) {
	execs := make([]execFn, 0, len(nodes))
	for _, n := range nodes {
		e, err := c.node(n)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return func(f *frame, buf *view.Buffer) error {
		for _, e := range execs {
			if err := e(f, buf); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (c *compiler) node(n Node) (execFn, error) {
	switch n := n.(type) {
	case *TextNode:
		text := n.Text
		return func(f *frame, buf *view.Buffer) error {
			buf.AppendSafe(text)
			return nil
		}, nil

	case *OutputNode:
		ev := c.expr(n.Expr)
		line := n.Pos
		var esc view.Escaper
		if n.Escape {
			esc = c.escaper
		}
		return func(f *frame, buf *view.Buffer) error {
			f.line = line
			v, err := ev(f)
			if err != nil {
				return atLine(line, err)
			}
			buf.Append(v, esc)
			return nil
		}, nil

	case *IfNode:
		cond := c.expr(n.Cond)
		then, err := c.block(n.Then)
		if err != nil {
			return nil, err
		}
		els, err := c.block(n.Else)
		if err != nil {
			return nil, err
		}
		line := n.Pos
		return func(f *frame, buf *view.Buffer) error {
			f.line = line
			v, err := cond(f)
			if err != nil {
				return atLine(line, err)
			}
			if Truthy(v) {
				return then(f, buf)
			}
			return els(f, buf)
		}, nil

	case *ForNode:
		iter := c.expr(n.Iter)
		c.scope.push()
		keySlot := -1
		if n.Key != "" {
			keySlot = c.scope.declare(n.Key)
		}
		valueSlot := c.scope.declare(n.Value)
		body, err := c.nodes(n.Body)
		c.scope.pop()
		if err != nil {
			return nil, err
		}
		line := n.Pos
		return func(f *frame, buf *view.Buffer) error {
			f.line = line
			coll, err := iter(f)
			if err != nil {
				return atLine(line, err)
			}
			err = Iterate(coll, func(k, v any) error {
				if keySlot >= 0 {
					f.slots[keySlot] = k
				}
				f.slots[valueSlot] = v
				return body(f, buf)
			})
			if err != nil {
				return atLine(line, err)
			}
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unknown node %T", n)
}

func (c *compiler) block(nodes []Node) (execFn, error) {
	c.scope.push()
	defer c.scope.pop()
	return c.nodes(nodes)
}

func (c *compiler) expr(e Expr) evalFn {
	switch e := e.(type) {
	case Literal:
		v := e.Value
		return func(*frame) (any, error) { return v, nil }

	case Ident:
		if slot, ok := c.scope.lookup(e.Name); ok {
			return func(f *frame) (any, error) { return f.slots[slot], nil }
		}
		name := e.Name
		return func(f *frame) (any, error) { return resolve(f, name, nil) }

	case Member:
		x := c.expr(e.X)
		name := e.Name
		return func(f *frame) (any, error) {
			v, err := x(f)
			if err != nil {
				return nil, err
			}
			return MemberOf(v, name)
		}

	case Index:
		x := c.expr(e.X)
		key := c.expr(e.Key)
		return func(f *frame) (any, error) {
			v, err := x(f)
			if err != nil {
				return nil, err
			}
			k, err := key(f)
			if err != nil {
				return nil, err
			}
			return IndexOf(v, k)
		}

	case Call:
		args := make([]evalFn, len(e.Args))
		for i, a := range e.Args {
			args[i] = c.expr(a)
		}
		evalArgs := func(f *frame) ([]any, error) {
			vals := make([]any, len(args))
			for i, a := range args {
				v, err := a(f)
				if err != nil {
					return nil, err
				}
				vals[i] = v
			}
			return vals, nil
		}
		switch fn := e.Fn.(type) {
		case Ident:
			if _, ok := c.scope.lookup(fn.Name); !ok {
				name := fn.Name
				return func(f *frame) (any, error) {
					vals, err := evalArgs(f)
					if err != nil {
						return nil, err
					}
					return resolve(f, name, vals)
				}
			}
		case Member:
			recv := c.expr(fn.X)
			name := fn.Name
			return func(f *frame) (any, error) {
				r, err := recv(f)
				if err != nil {
					return nil, err
				}
				vals, err := evalArgs(f)
				if err != nil {
					return nil, err
				}
				return CallMethod(r, name, vals)
			}
		}
		callee := c.expr(e.Fn)
		return func(f *frame) (any, error) {
			fnv, err := callee(f)
			if err != nil {
				return nil, err
			}
			vals, err := evalArgs(f)
			if err != nil {
				return nil, err
			}
			return CallValue(f.view, fnv, vals)
		}

	case Unary:
		x := c.expr(e.X)
		return func(f *frame) (any, error) {
			v, err := x(f)
			if err != nil {
				return nil, err
			}
			return !Truthy(v), nil
		}

	case Binary:
		l := c.expr(e.L)
		r := c.expr(e.R)
		op := e.Op
		return func(f *frame) (any, error) {
			lv, err := l(f)
			if err != nil {
				return nil, err
			}
			switch op {
			case "&&":
				if !Truthy(lv) {
					return lv, nil
				}
				return r(f)
			case "||":
				if Truthy(lv) {
					return lv, nil
				}
				return r(f)
			}
			rv, err := r(f)
			if err != nil {
				return nil, err
			}
			if op == "==" {
				return Equal(lv, rv), nil
			}
			return !Equal(lv, rv), nil
		}
	}
	return func(*frame) (any, error) { return nil, fmt.Errorf("unknown expression %T", e) }
}

// resolve looks a free name up as a view attribute, then as a helper.
func resolve(f *frame, name string, args []any) (any, error) {
	if args == nil {
		switch name {
		case "virtualPath":
			return f.view.VirtualPath(), nil
		case "localAssigns":
			return f.locals, nil
		}
	}
	if fn, ok := f.view.Helper(name); ok {
		return fn(f.view, args...)
	}
	return nil, &UndefinedError{Name: name}
}

func atLine(line int, err error) error {
	if _, ok := err.(*EvalError); ok {
		return err
	}
	return &EvalError{Line: line, Err: err}
}

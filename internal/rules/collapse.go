package rules

import (
	"fmt"
	"strings"

	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
)

// Step is one symbol-bearing instruction of a collapse pattern.
type Step Call

// Collapse replaces a chain of calls by one successor call. Each step
// after the first consumes the value the previous step produced, as its
// receiver or as its first argument; the chain values disappear and the
// successor receives what is left: the operands of the first step
// followed by the other arguments of every later step, in order.
//
// Between two steps only pure single-value pushes may appear, exactly as
// many as the later step takes besides the chain value. A checkcast right
// after a step is tolerated and removed with it.
type Collapse struct {
	name      string
	Steps     []Step
	Successor Call
	// extras[k] is the number of operands step k takes besides the chain
	// value.
	extras []int
}

// NewCollapse returns a collapse rule.
func NewCollapse(name string, steps []Step, successor Call) (*Collapse, error) {
	c := &Collapse{name: name, Steps: steps, Successor: successor}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collapse) Name() string { return c.name }
func (c *Collapse) Kind() Kind   { return KindCollapse }

func (c *Collapse) Sources() []tt.Symbol {
	out := make([]tt.Symbol, len(c.Steps))
	for i, s := range c.Steps {
		out[i] = s.Sym
	}
	return out
}

func (c *Collapse) Replacement() tt.Symbol { return c.Successor.Sym }

func (c *Collapse) Precondition() string {
	parts := make([]string, len(c.Steps))
	for i, s := range c.Steps {
		parts[i] = classfile.OpcodeName(s.Op) + " " + s.Sym.String()
	}
	return "the call chain " + strings.Join(parts, " -> ")
}

func (c *Collapse) validate() error {
	if len(c.Steps) < 2 {
		return fmt.Errorf("collapse %s: needs at least two steps", c.name)
	}
	var params []string
	c.extras = make([]int, len(c.Steps))
	var chain string
	for k, s := range c.Steps {
		if err := checkCall(s.Op, s.Sym, k == 0); err != nil {
			return fmt.Errorf("collapse %s: step %d: %w", c.name, k+1, err)
		}
		in, err := consumed(s.Op, s.Sym)
		if err != nil {
			return fmt.Errorf("collapse %s: step %d: %w", c.name, k+1, err)
		}
		if k == 0 {
			params = append(params, in...)
		} else {
			if len(in) == 0 || !assignable(chain, in[0]) {
				return fmt.Errorf("collapse %s: step %d does not consume the %s produced by step %d", c.name, k+1, chain, k)
			}
			params = append(params, in[1:]...)
			c.extras[k] = len(in) - 1
		}
		out, err := produced(s.Op, s.Sym)
		if err != nil {
			return fmt.Errorf("collapse %s: step %d: %w", c.name, k+1, err)
		}
		if k < len(c.Steps)-1 && out == "V" {
			return fmt.Errorf("collapse %s: step %d produces no value for the next step", c.name, k+1)
		}
		chain = out
	}

	if err := checkCall(c.Successor.Op, c.Successor.Sym, false); err != nil {
		return fmt.Errorf("collapse %s: successor: %w", c.name, err)
	}
	want, err := consumed(c.Successor.Op, c.Successor.Sym)
	if err != nil {
		return fmt.Errorf("collapse %s: successor: %w", c.name, err)
	}
	ret, _ := produced(c.Successor.Op, c.Successor.Sym)
	if !sameOperands(params, want) || !assignable(ret, chain) {
		return fmt.Errorf("collapse %s: successor %s does not take (%s) and return %s",
			c.name, c.Successor.Sym, strings.Join(params, ""), chain)
	}
	return nil
}

// TryMatch matches the chain starting with the first step at view[at].
func (c *Collapse) TryMatch(view []Insn, at int) (Match, bool) {
	first := c.Steps[0]
	if !callsSymbol(view[at], first.Op, first.Sym) {
		return Match{}, false
	}
	m := Match{Rule: c.name, Start: at, Delete: []int{at}}
	pos := at
	for k := 1; k < len(c.Steps); k++ {
		j := pos + 1
		if j < len(view) && view[j].Op == classfile.OpCheckcast {
			m.Delete = append(m.Delete, j)
			j++
		}
		for n := 0; n < c.extras[k]; n++ {
			if j >= len(view) || !purePush(view[j].Op) {
				return Match{}, false
			}
			j++
		}
		if j >= len(view) || !callsSymbol(view[j], c.Steps[k].Op, c.Steps[k].Sym) {
			return Match{}, false
		}
		pos = j
		if k < len(c.Steps)-1 {
			m.Delete = append(m.Delete, j)
		}
	}
	m.End = pos + 1
	m.Replace = pos
	m.Call = c.Successor
	for i := m.Start + 1; i < m.End; i++ {
		if view[i].Target {
			return Match{}, false
		}
	}
	return m, true
}

// checkCall validates an opcode and symbol pair. Field reads are allowed
// only where leading is set.
func checkCall(op uint8, sym tt.Symbol, leading bool) error {
	if sym.Owner == "" || sym.Name == "" {
		return fmt.Errorf("incomplete symbol %s", sym)
	}
	switch op {
	case classfile.OpGetstatic:
		if !leading {
			return fmt.Errorf("getstatic can only start a chain")
		}
		if sym.Kind != tt.RefField || !classfile.ValidFieldDescriptor(sym.Descriptor) {
			return fmt.Errorf("getstatic needs a field, got %s", sym)
		}
		return nil
	case classfile.OpInvokestatic:
		if !sym.Kind.IsMethod() {
			return fmt.Errorf("invokestatic needs a method, got %s", sym)
		}
	case classfile.OpInvokevirtual:
		if sym.Kind != tt.RefMethod {
			return fmt.Errorf("invokevirtual needs a class method, got %s %s", sym.Kind, sym)
		}
	case classfile.OpInvokeinterface:
		if sym.Kind != tt.RefInterfaceMethod {
			return fmt.Errorf("invokeinterface needs an interface method, got %s %s", sym.Kind, sym)
		}
	default:
		return fmt.Errorf("unsupported opcode %s", classfile.OpcodeName(op))
	}
	if sym.Name == "<init>" || sym.Name == "<clinit>" {
		return fmt.Errorf("%s cannot be called through a rule", sym.Name)
	}
	_, err := classfile.ParseMethodDescriptor(sym.Descriptor)
	return err
}

// assignable reports whether a value of type from can stand where type to
// is expected, as far as the operand stack is concerned: primitives must
// match exactly and references are interchangeable.
func assignable(from, to string) bool {
	if from == to {
		return true
	}
	return isReference(from) && isReference(to)
}

func isReference(t string) bool {
	return t != "" && (t[0] == 'L' || t[0] == '[')
}

func sameOperands(have, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	for i := range have {
		if !assignable(have[i], want[i]) {
			return false
		}
	}
	return true
}

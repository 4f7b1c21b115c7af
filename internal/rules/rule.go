// Package rules holds the rewrite rule table of one API migration window.
//
// Rules come in two shapes. Class-level rules (rename, dispatch) map a
// symbol to its new form wherever it appears, so the rewriter applies them
// to the constant pool. Window rules (collapse, trampoline) match short
// instruction windows inside one method and replace them with a single
// call.
package rules

import (
	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
)

// Kind names a rule class.
type Kind string

const (
	KindRename     Kind = "rename"
	KindDispatch   Kind = "dispatch"
	KindCollapse   Kind = "collapse"
	KindTrampoline Kind = "trampoline"
)

// Rule is one old-shape to new-shape transformation.
type Rule interface {
	Name() string
	Kind() Kind
	// Sources lists the retired symbols the rule rewrites.
	Sources() []tt.Symbol
	// Precondition describes, for humans, when the rule applies.
	Precondition() string
	validate() error
}

// Insn is the rewriter's view of one instruction, reduced to what window
// rules match on.
type Insn struct {
	Op uint8
	// Member is the referenced field or method of field access and invoke
	// instructions.
	Member *tt.Symbol
	// Const is the value pushed by integer constant instructions.
	Const *int32
	// Target is set when a branch, switch or exception handler lands on
	// the instruction.
	Target bool
}

// Call is the replacement instruction of a window match.
type Call struct {
	Op  uint8
	Sym tt.Symbol
}

// Match is a window rule hit. Indices refer to the view passed to
// TryMatch.
type Match struct {
	Rule  string
	Start int // first instruction of the window
	End   int // one past the last instruction of the window
	// Delete lists the instructions removed from the stream.
	Delete []int
	// Replace is the instruction rewritten in place into Call.
	Replace int
	Call    Call
}

// Len returns the number of instructions the window spans.
func (m Match) Len() int { return m.End - m.Start }

// WindowRule matches instruction windows inside one method.
type WindowRule interface {
	Rule
	// TryMatch reports whether a window of the rule starts at view[at].
	TryMatch(view []Insn, at int) (Match, bool)
	// Replacement is the new symbol a match calls.
	Replacement() tt.Symbol
}

// callsSymbol reports whether in is op applied to sym.
func callsSymbol(in Insn, op uint8, sym tt.Symbol) bool {
	return in.Op == op && in.Member != nil && in.Member.SameMember(sym)
}

// purePush reports whether op pushes exactly one value without consuming
// any or touching state other than static initialization.
func purePush(op uint8) bool {
	switch {
	case op >= classfile.OpAconstNull && op <= classfile.OpLdc2W:
		return true
	case op >= classfile.OpIload && op <= classfile.OpAload3:
		return true
	case op == classfile.OpGetstatic:
		return true
	}
	return false
}

// zeroPush returns the opcode that pushes the default value of the field
// type t.
func zeroPush(t string) uint8 {
	switch t[0] {
	case 'J':
		return classfile.OpLconst0
	case 'F':
		return classfile.OpFconst0
	case 'D':
		return classfile.OpDconst0
	case 'L', '[':
		return classfile.OpAconstNull
	}
	return classfile.OpIconst0
}

// invokeKind returns the reference kind an invoke opcode needs for a
// method owned by a class (iface false) or an interface.
func invokeKind(op uint8, iface bool) tt.RefKind {
	if op == classfile.OpInvokeinterface || iface {
		return tt.RefInterfaceMethod
	}
	return tt.RefMethod
}

// consumed returns the operand types op pops when applied to sym: the
// receiver first for instance calls, then the parameters.
func consumed(op uint8, sym tt.Symbol) ([]string, error) {
	switch op {
	case classfile.OpGetstatic:
		return nil, nil
	case classfile.OpInvokestatic:
		md, err := classfile.ParseMethodDescriptor(sym.Descriptor)
		if err != nil {
			return nil, err
		}
		return md.Params, nil
	default:
		md, err := classfile.ParseMethodDescriptor(sym.Descriptor)
		if err != nil {
			return nil, err
		}
		return append([]string{"L" + sym.Owner + ";"}, md.Params...), nil
	}
}

// produced returns the type op pushes when applied to sym, or "V".
func produced(op uint8, sym tt.Symbol) (string, error) {
	if op == classfile.OpGetstatic {
		return sym.Descriptor, nil
	}
	md, err := classfile.ParseMethodDescriptor(sym.Descriptor)
	if err != nil {
		return "", err
	}
	return md.Return, nil
}

package rules

import (
	"fmt"
	"strings"

	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
)

// Rename replaces every occurrence of a type or member. A type rename
// moves class constants and every descriptor and signature mentioning
// the type. A member rename repoints matching field or method references;
// their dispatch kind is kept.
type Rename struct {
	name string
	From tt.Symbol
	To   tt.Symbol
}

// NewRename returns a rename rule. From and To must have the same kind;
// for methods only RefMethod vs RefInterfaceMethod may differ, and the
// kind of the reference being rewritten wins.
func NewRename(name string, from, to tt.Symbol) (*Rename, error) {
	r := &Rename{name: name, From: from, To: to}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rename) Name() string { return r.name }
func (r *Rename) Kind() Kind   { return KindRename }

// IsType reports whether the rule renames a class.
func (r *Rename) IsType() bool { return r.From.Kind == tt.RefType }

func (r *Rename) Sources() []tt.Symbol { return []tt.Symbol{r.From} }

func (r *Rename) Precondition() string {
	if r.IsType() {
		return fmt.Sprintf("any reference to type %s", tt.DottedName(r.From.Owner))
	}
	return fmt.Sprintf("any %s reference to %s", r.From.Kind, r.From)
}

func (r *Rename) validate() error {
	if r.IsType() {
		if r.To.Kind != tt.RefType {
			return fmt.Errorf("rename %s: type %s renamed to a member", r.name, r.From.Owner)
		}
		for _, n := range []string{r.From.Owner, r.To.Owner} {
			if n == "" || strings.HasPrefix(n, "[") {
				return fmt.Errorf("rename %s: %q is not a class name", r.name, n)
			}
		}
		if r.From.Owner == r.To.Owner {
			return fmt.Errorf("rename %s: renames %s to itself", r.name, r.From.Owner)
		}
		return nil
	}

	if (r.From.Kind == tt.RefField) != (r.To.Kind == tt.RefField) {
		return fmt.Errorf("rename %s: cannot turn a field into a method or back", r.name)
	}
	if r.From.Owner == "" || r.From.Name == "" || r.To.Owner == "" || r.To.Name == "" {
		return fmt.Errorf("rename %s: member renames need owner and name on both sides", r.name)
	}
	if r.From.SameMember(r.To) {
		return fmt.Errorf("rename %s: renames %s to itself", r.name, r.From)
	}
	if r.From.Kind == tt.RefField {
		if !classfile.ValidFieldDescriptor(r.From.Descriptor) || !classfile.ValidFieldDescriptor(r.To.Descriptor) {
			return fmt.Errorf("rename %s: invalid field descriptor", r.name)
		}
		if classfile.TypeSlots(r.From.Descriptor) != classfile.TypeSlots(r.To.Descriptor) {
			return fmt.Errorf("rename %s: field %s changes stack size", r.name, r.From.Name)
		}
		return nil
	}

	from, err := classfile.ParseMethodDescriptor(r.From.Descriptor)
	if err != nil {
		return fmt.Errorf("rename %s: %w", r.name, err)
	}
	to, err := classfile.ParseMethodDescriptor(r.To.Descriptor)
	if err != nil {
		return fmt.Errorf("rename %s: %w", r.name, err)
	}
	if !sameShape(from, to) {
		return fmt.Errorf("rename %s: %s and %s differ in stack effect", r.name, r.From.Descriptor, r.To.Descriptor)
	}
	if (r.From.Name == "<init>") != (r.To.Name == "<init>") {
		return fmt.Errorf("rename %s: constructors can only be renamed to constructors", r.name)
	}
	return nil
}

// sameShape reports whether two method descriptors pop and push the same
// number of values with matching slot sizes.
func sameShape(a, b classfile.MethodDescriptor) bool {
	if len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if classfile.TypeSlots(a.Params[i]) != classfile.TypeSlots(b.Params[i]) {
			return false
		}
	}
	return classfile.TypeSlots(a.Return) == classfile.TypeSlots(b.Return)
}

// matches reports whether sym is a reference the member rename rewrites.
func (r *Rename) matches(sym tt.Symbol) bool {
	if r.IsType() || !sym.SameMember(r.From) {
		return false
	}
	return (sym.Kind == tt.RefField) == (r.From.Kind == tt.RefField)
}

// apply rewrites a matching member reference, keeping its dispatch kind.
func (r *Rename) apply(sym tt.Symbol) tt.Symbol {
	out := r.To
	if sym.Kind.IsMethod() {
		out.Kind = sym.Kind
	}
	return out
}

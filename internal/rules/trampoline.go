package rules

import (
	"fmt"

	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
)

const markerType = "Ljava/lang/Object;"

// Trampoline rewrites calls through a synthetic default-argument entry
// point to the direct overload. The entry point is static and takes the
// receiver (for instance targets), the explicit arguments, one
// placeholder per defaulted parameter, an int bitmask naming the
// defaulted parameters and an always-null marker object.
//
// A site matches when the placeholders are zero constants of the right
// type, the mask equals Mask and the marker is aconst_null. Placeholders,
// mask and marker are dropped and the call goes to Target.
type Trampoline struct {
	name    string
	Default tt.Symbol
	Target  Call
	// Defaults is the number of trailing parameters the host overload
	// fills in.
	Defaults int
	Mask     int32
	zeros    []uint8
}

// NewTrampoline returns a trampoline removal rule. A zero mask selects
// the bits of the defaulted parameters.
func NewTrampoline(name string, entry tt.Symbol, target Call, defaults int, mask int32) (*Trampoline, error) {
	r := &Trampoline{name: name, Default: entry, Target: target, Defaults: defaults, Mask: mask}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Trampoline) Name() string { return r.name }
func (r *Trampoline) Kind() Kind   { return KindTrampoline }

func (r *Trampoline) Sources() []tt.Symbol { return []tt.Symbol{r.Default} }

func (r *Trampoline) Replacement() tt.Symbol { return r.Target.Sym }

func (r *Trampoline) Precondition() string {
	return fmt.Sprintf("invokestatic %s with mask %#x and %d default placeholders", r.Default, r.Mask, r.Defaults)
}

func (r *Trampoline) validate() error {
	if r.Defaults < 1 {
		return fmt.Errorf("trampoline %s: defaults must be at least 1", r.name)
	}
	if err := checkCall(classfile.OpInvokestatic, r.Default, false); err != nil {
		return fmt.Errorf("trampoline %s: %w", r.name, err)
	}
	if err := checkCall(r.Target.Op, r.Target.Sym, false); err != nil {
		return fmt.Errorf("trampoline %s: target: %w", r.name, err)
	}
	md, _ := classfile.ParseMethodDescriptor(r.Default.Descriptor)
	n := len(md.Params) - 2 - r.Defaults
	if n < 0 || md.Params[len(md.Params)-2] != "I" || md.Params[len(md.Params)-1] != markerType {
		return fmt.Errorf("trampoline %s: %s does not end in %d placeholders, an int mask and a marker object",
			r.name, r.Default.Descriptor, r.Defaults)
	}
	kept := md.Params[:n]
	r.zeros = make([]uint8, r.Defaults)
	for i, p := range md.Params[n : n+r.Defaults] {
		r.zeros[i] = zeroPush(p)
	}

	want, _ := consumed(r.Target.Op, r.Target.Sym)
	ret, _ := produced(r.Target.Op, r.Target.Sym)
	if !sameOperands(kept, want) || !assignable(ret, md.Return) {
		return fmt.Errorf("trampoline %s: target %s does not match the explicit arguments of %s",
			r.name, r.Target.Sym, r.Default.Descriptor)
	}

	if r.Mask == 0 {
		// Mask bits count value parameters; the dispatch receiver has none.
		base := n
		if r.Target.Op != classfile.OpInvokestatic {
			base--
		}
		if base+r.Defaults > 31 {
			return fmt.Errorf("trampoline %s: defaulted parameters do not fit one mask", r.name)
		}
		for i := 0; i < r.Defaults; i++ {
			r.Mask |= 1 << (base + i)
		}
	}
	return nil
}

// TryMatch matches a trampoline call whose first placeholder is view[at].
func (r *Trampoline) TryMatch(view []Insn, at int) (Match, bool) {
	end := at + r.Defaults + 3
	if end > len(view) {
		return Match{}, false
	}
	for i, op := range r.zeros {
		in := view[at+i]
		if in.Op != op && !(op == classfile.OpIconst0 && in.Const != nil && *in.Const == 0) {
			return Match{}, false
		}
	}
	mask := view[at+r.Defaults]
	if mask.Const == nil || *mask.Const != r.Mask {
		return Match{}, false
	}
	if view[at+r.Defaults+1].Op != classfile.OpAconstNull {
		return Match{}, false
	}
	if !callsSymbol(view[end-1], classfile.OpInvokestatic, r.Default) {
		return Match{}, false
	}
	m := Match{Rule: r.name, Start: at, End: end, Replace: end - 1, Call: r.Target}
	for i := at; i < end-1; i++ {
		if i > at && view[i].Target {
			return Match{}, false
		}
		m.Delete = append(m.Delete, i)
	}
	if view[end-1].Target {
		return Match{}, false
	}
	return m, true
}

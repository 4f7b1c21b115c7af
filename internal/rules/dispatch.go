package rules

import (
	"fmt"

	tt "github.com/gnolang/classmig/internal/types"
)

// Dispatch changes how methods of one owner are called: every method
// reference to Owner becomes an interface method reference when
// Interface is set and a class method reference otherwise. Arguments and
// return types are unchanged.
type Dispatch struct {
	name      string
	Owner     string
	Interface bool
}

// NewDispatch returns a dispatch-kind rule for owner.
func NewDispatch(name, owner string, iface bool) (*Dispatch, error) {
	d := &Dispatch{name: name, Owner: owner, Interface: iface}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatch) Name() string { return d.name }
func (d *Dispatch) Kind() Kind   { return KindDispatch }

// Target is the reference kind method references to Owner end up with.
func (d *Dispatch) Target() tt.RefKind {
	if d.Interface {
		return tt.RefInterfaceMethod
	}
	return tt.RefMethod
}

// Sources returns the retired reference shape: any method of Owner
// called with the old dispatch kind.
func (d *Dispatch) Sources() []tt.Symbol {
	old := tt.RefInterfaceMethod
	if d.Interface {
		old = tt.RefMethod
	}
	return []tt.Symbol{{Owner: d.Owner, Kind: old}}
}

func (d *Dispatch) Precondition() string {
	if d.Interface {
		return fmt.Sprintf("class method calls on %s, which is now an interface", tt.DottedName(d.Owner))
	}
	return fmt.Sprintf("interface method calls on %s, which is now a class", tt.DottedName(d.Owner))
}

func (d *Dispatch) validate() error {
	if d.Owner == "" {
		return fmt.Errorf("dispatch %s: missing owner", d.name)
	}
	return nil
}

func (d *Dispatch) matches(sym tt.Symbol) bool {
	return sym.Owner == d.Owner && sym.Kind.IsMethod() && sym.Kind != d.Target()
}

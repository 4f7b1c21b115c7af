package types

import (
	"fmt"
	"strings"
)

// RefKind classifies what a symbol reference points at.
type RefKind uint8

const (
	RefType RefKind = iota + 1
	RefField
	// RefMethod is a method resolved against a concrete (class) owner.
	RefMethod
	// RefInterfaceMethod is a method resolved against an interface owner.
	RefInterfaceMethod
)

func (k RefKind) String() string {
	switch k {
	case RefType:
		return "type"
	case RefField:
		return "field"
	case RefMethod:
		return "method"
	case RefInterfaceMethod:
		return "interface-method"
	default:
		return fmt.Sprintf("RefKind(%d)", uint8(k))
	}
}

// ParseRefKind is the inverse of RefKind.String.
func ParseRefKind(s string) (RefKind, error) {
	switch s {
	case "type":
		return RefType, nil
	case "field":
		return RefField, nil
	case "method", "":
		return RefMethod, nil
	case "interface-method", "interface":
		return RefInterfaceMethod, nil
	}
	return 0, fmt.Errorf("unknown reference kind %q", s)
}

// IsMethod reports whether k is one of the two method dispatch kinds.
func (k RefKind) IsMethod() bool {
	return k == RefMethod || k == RefInterfaceMethod
}

// Symbol is a named cross-reference to a type, field or method defined
// outside the referencing class. Owner uses the internal (slash separated)
// form. Name and Descriptor are empty for type references.
type Symbol struct {
	Owner      string  `yaml:"owner" msgpack:"o"`
	Name       string  `yaml:"name,omitempty" msgpack:"n"`
	Descriptor string  `yaml:"descriptor,omitempty" msgpack:"d"`
	Kind       RefKind `yaml:"-" msgpack:"k"`
}

// TypeSymbol returns the reference to the type named owner.
func TypeSymbol(owner string) Symbol {
	return Symbol{Owner: owner, Kind: RefType}
}

func (s Symbol) String() string {
	if s.Kind == RefType {
		return s.Owner
	}
	return s.Owner + "." + s.Name + ":" + s.Descriptor
}

// Diagnostic renders the symbol the way it appears in an Incompatible
// verdict: dotted owner, then "#member" for member references.
func (s Symbol) Diagnostic() string {
	if s.Kind == RefType {
		return DottedName(s.Owner)
	}
	return DottedName(s.Owner) + "#" + s.Name
}

// SameMember compares owner, name and descriptor, ignoring dispatch kind.
func (s Symbol) SameMember(o Symbol) bool {
	return s.Owner == o.Owner && s.Name == o.Name && s.Descriptor == o.Descriptor
}

// DottedName converts an internal class name to its source form.
func DottedName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// Location identifies where a reference was found.
type Location struct {
	Class string // internal name of the referencing class
	// Method is the referencing method name, a field name for field
	// descriptors, or ClassLevel for class header metadata.
	Method string
	Entry  string // archive entry name, empty for a bare class
	Offset int    // instruction offset, -1 for metadata references
}

// ClassLevel marks references from class metadata rather than code.
const ClassLevel = "<class>"

// Reference is one scanned symbol reference with its origin.
type Reference struct {
	Symbol   Symbol
	Location Location
}

// VerdictKind is the result classification of a compatibility check.
type VerdictKind uint8

const (
	Compatible VerdictKind = iota
	NeedsMigration
	Incompatible
)

func (k VerdictKind) String() string {
	switch k {
	case Compatible:
		return "compatible"
	case NeedsMigration:
		return "needs-migration"
	case Incompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// MarshalText lets verdict kinds appear by name in JSON reports.
func (k VerdictKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *VerdictKind) UnmarshalText(text []byte) error {
	for _, v := range []VerdictKind{Compatible, NeedsMigration, Incompatible} {
		if v.String() == string(text) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown verdict %q", text)
}

// Verdict is the outcome of verifying one module. It is derived per call
// and never persisted.
type Verdict struct {
	Kind VerdictKind `json:"kind"`
	// CoveringRules lists, in table order, the rules that cover the
	// unresolved references of a NeedsMigration module.
	CoveringRules []string `json:"covering_rules,omitempty"`
	// Unresolved is the first unresolved reference of an Incompatible
	// module. It is nil for malformed modules.
	Unresolved *Reference `json:"unresolved,omitempty"`
	// Uncovered is set when the first unresolved reference would have
	// been migratable except for a missing covering rule.
	Uncovered bool `json:"uncovered,omitempty"`
	// Diagnostic is the human readable explanation for Incompatible.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// FormatDiagnostic builds "In <owner-class>.<owner-method>: <symbol>".
func FormatDiagnostic(ref Reference) string {
	return fmt.Sprintf("In %s.%s: %s",
		DottedName(ref.Location.Class), ref.Location.Method, ref.Symbol.Diagnostic())
}

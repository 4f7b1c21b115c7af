package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
)

// TableSpec is the YAML form of a rule table. Class names may be dotted
// or slash separated.
type TableSpec struct {
	Name  string     `yaml:"name" validate:"required"`
	From  string     `yaml:"from" validate:"omitempty,semver"`
	To    string     `yaml:"to" validate:"omitempty,semver"`
	Rules []RuleSpec `yaml:"rules" validate:"dive"`
}

// RuleSpec is the YAML form of one rule. Which fields apply depends on
// Kind:
//
//	rename      from, to
//	dispatch    owner, dispatch (interface or class)
//	collapse    steps, successor
//	trampoline  trampoline, target, defaults, mask
type RuleSpec struct {
	Name       string       `yaml:"name" validate:"required"`
	Kind       Kind         `yaml:"kind" validate:"required,oneof=rename dispatch collapse trampoline"`
	From       *SymbolSpec  `yaml:"from,omitempty"`
	To         *SymbolSpec  `yaml:"to,omitempty"`
	Owner      string       `yaml:"owner,omitempty"`
	Dispatch   string       `yaml:"dispatch,omitempty" validate:"omitempty,oneof=interface class"`
	Steps      []SymbolSpec `yaml:"steps,omitempty" validate:"dive"`
	Successor  *SymbolSpec  `yaml:"successor,omitempty"`
	Trampoline *SymbolSpec  `yaml:"trampoline,omitempty"`
	Target     *SymbolSpec  `yaml:"target,omitempty"`
	Defaults   int          `yaml:"defaults,omitempty" validate:"gte=0"`
	Mask       int32        `yaml:"mask,omitempty"`
}

// SymbolSpec names a symbol, optionally with the instruction using it.
// Without Kind the shape decides: no name is a type, a descriptor
// starting with '(' a method, anything else a field. Op forces the
// reference kind it implies.
type SymbolSpec struct {
	Op         string `yaml:"op,omitempty" validate:"omitempty,oneof=getstatic invokestatic invokevirtual invokeinterface"`
	Owner      string `yaml:"owner"`
	Name       string `yaml:"name,omitempty"`
	Descriptor string `yaml:"descriptor,omitempty"`
	Kind       string `yaml:"kind,omitempty" validate:"omitempty,oneof=type field method interface-method"`
}

var specValidate = validator.New()

// Load reads and builds the rule table at path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading rule table: %w", err)
	}
	return Parse(data)
}

// Parse builds a rule table from its YAML form.
func Parse(data []byte) (*Table, error) {
	var spec TableSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("error parsing rule table: %w", err)
	}
	return spec.Build()
}

// Build validates the table description and constructs the table.
func (s *TableSpec) Build() (*Table, error) {
	if err := specValidate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	rules := make([]Rule, 0, len(s.Rules))
	for i := range s.Rules {
		r, err := s.Rules[i].build()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return New(s.Name, s.From, s.To, rules...)
}

func (rs *RuleSpec) build() (Rule, error) {
	missing := func(field string) error {
		return fmt.Errorf("%s rule %q: missing %s", rs.Kind, rs.Name, field)
	}
	switch rs.Kind {
	case KindRename:
		if rs.From == nil || rs.To == nil {
			return nil, missing("from/to")
		}
		from, _, err := rs.From.symbol()
		if err != nil {
			return nil, err
		}
		to := rs.To.inherit(rs.From)
		toSym, _, err := to.symbol()
		if err != nil {
			return nil, err
		}
		return NewRename(rs.Name, from, toSym)

	case KindDispatch:
		if rs.Owner == "" {
			return nil, missing("owner")
		}
		if rs.Dispatch == "" {
			return nil, missing("dispatch")
		}
		return NewDispatch(rs.Name, internalName(rs.Owner), rs.Dispatch == "interface")

	case KindCollapse:
		if len(rs.Steps) == 0 {
			return nil, missing("steps")
		}
		if rs.Successor == nil {
			return nil, missing("successor")
		}
		steps := make([]Step, len(rs.Steps))
		for i := range rs.Steps {
			c, err := rs.Steps[i].call()
			if err != nil {
				return nil, fmt.Errorf("collapse rule %q: step %d: %w", rs.Name, i+1, err)
			}
			steps[i] = Step(c)
		}
		successor, err := rs.Successor.call()
		if err != nil {
			return nil, fmt.Errorf("collapse rule %q: successor: %w", rs.Name, err)
		}
		return NewCollapse(rs.Name, steps, successor)

	case KindTrampoline:
		if rs.Trampoline == nil {
			return nil, missing("trampoline")
		}
		if rs.Target == nil {
			return nil, missing("target")
		}
		entry, _, err := rs.Trampoline.symbol()
		if err != nil {
			return nil, err
		}
		target, err := rs.Target.call()
		if err != nil {
			return nil, fmt.Errorf("trampoline rule %q: target: %w", rs.Name, err)
		}
		return NewTrampoline(rs.Name, entry, target, rs.Defaults, rs.Mask)
	}
	return nil, fmt.Errorf("rule %q: unknown kind %q", rs.Name, rs.Kind)
}

// inherit fills empty fields of a rename target from its source.
func (s *SymbolSpec) inherit(from *SymbolSpec) *SymbolSpec {
	out := *s
	if from.Name == "" {
		return &out
	}
	if out.Owner == "" {
		out.Owner = from.Owner
	}
	if out.Name == "" {
		out.Name = from.Name
	}
	if out.Descriptor == "" {
		out.Descriptor = from.Descriptor
	}
	if out.Kind == "" {
		out.Kind = from.Kind
	}
	return &out
}

// symbol resolves s to a symbol and the opcode it names, if any.
func (s *SymbolSpec) symbol() (tt.Symbol, uint8, error) {
	if s.Owner == "" {
		return tt.Symbol{}, 0, fmt.Errorf("symbol %q without an owner", s.Name)
	}
	sym := tt.Symbol{
		Owner:      internalName(s.Owner),
		Name:       s.Name,
		Descriptor: s.Descriptor,
	}
	var op uint8
	if s.Op != "" {
		op, _ = classfile.Opcode(s.Op)
	}

	switch {
	case s.Kind != "":
		k, err := tt.ParseRefKind(s.Kind)
		if err != nil {
			return tt.Symbol{}, 0, err
		}
		sym.Kind = k
	case op == classfile.OpGetstatic:
		sym.Kind = tt.RefField
	case op == classfile.OpInvokeinterface:
		sym.Kind = tt.RefInterfaceMethod
	case s.Name == "":
		sym.Kind = tt.RefType
	case strings.HasPrefix(s.Descriptor, "("):
		sym.Kind = tt.RefMethod
	default:
		sym.Kind = tt.RefField
	}
	if sym.Kind == tt.RefType && (s.Name != "" || s.Descriptor != "") {
		return tt.Symbol{}, 0, fmt.Errorf("type %s cannot have a name or descriptor", s.Owner)
	}
	return sym, op, nil
}

// call resolves a SymbolSpec that must name an instruction.
func (s *SymbolSpec) call() (Call, error) {
	sym, op, err := s.symbol()
	if err != nil {
		return Call{}, err
	}
	if op == 0 {
		return Call{}, fmt.Errorf("%s.%s: missing op", s.Owner, s.Name)
	}
	return Call{Op: op, Sym: sym}, nil
}

func internalName(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

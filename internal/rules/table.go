package rules

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
)

// Oracle answers whether a symbol resolves in the running host.
type Oracle interface {
	Resolves(sym tt.Symbol) bool
}

type memberKey struct {
	owner, name, desc string
	field             bool
}

func keyOf(sym tt.Symbol) memberKey {
	return memberKey{owner: sym.Owner, name: sym.Name, desc: sym.Descriptor, field: sym.Kind == tt.RefField}
}

// Table is a validated rule table for one migration window. It is
// immutable after New and safe for concurrent use.
type Table struct {
	name     string
	from, to string
	rules    []Rule

	types    map[string]*Rename
	members  map[memberKey]*Rename
	dispatch map[string]*Dispatch
	windows  []WindowRule
	claimed  map[memberKey]WindowRule
}

// New validates rules and builds a table. from and to are the API
// generations of the window; both may be empty for an unversioned table.
// Rules that could match the same site are rejected.
func New(name, from, to string, rules ...Rule) (*Table, error) {
	if from != "" || to != "" {
		if !semver.IsValid(canonical(from)) || !semver.IsValid(canonical(to)) {
			return nil, fmt.Errorf("rule table %s: invalid migration window %q -> %q", name, from, to)
		}
		if semver.Compare(canonical(from), canonical(to)) >= 0 {
			return nil, fmt.Errorf("rule table %s: window %s -> %s does not move forward", name, from, to)
		}
	}

	t := &Table{
		name:     name,
		from:     from,
		to:       to,
		rules:    rules,
		types:    make(map[string]*Rename),
		members:  make(map[memberKey]*Rename),
		dispatch: make(map[string]*Dispatch),
		claimed:  make(map[memberKey]WindowRule),
	}

	names := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if r.Name() == "" {
			return nil, fmt.Errorf("rule table %s: %s rule without a name", name, r.Kind())
		}
		if _, dup := names[r.Name()]; dup {
			return nil, fmt.Errorf("rule table %s: duplicate rule name %q", name, r.Name())
		}
		names[r.Name()] = struct{}{}
		if err := r.validate(); err != nil {
			return nil, err
		}

		switch r := r.(type) {
		case *Rename:
			if r.IsType() {
				if prev, dup := t.types[r.From.Owner]; dup {
					return nil, ambiguous(r, prev, r.From.Owner)
				}
				t.types[r.From.Owner] = r
				continue
			}
			k := keyOf(r.From)
			if prev, dup := t.members[k]; dup {
				return nil, ambiguous(r, prev, r.From.String())
			}
			t.members[k] = r
		case *Dispatch:
			if prev, dup := t.dispatch[r.Owner]; dup {
				return nil, ambiguous(r, prev, r.Owner)
			}
			t.dispatch[r.Owner] = r
		case WindowRule:
			t.windows = append(t.windows, r)
		}
	}

	if err := t.checkOverlaps(); err != nil {
		return nil, fmt.Errorf("rule table %s: %w", name, err)
	}
	return t, nil
}

func ambiguous(r, prev Rule, site string) error {
	return fmt.Errorf("rules %q and %q both rewrite %s", prev.Name(), r.Name(), site)
}

// checkOverlaps rejects tables where two rules could claim one site or
// where a second migration would rewrite the output of the first.
func (t *Table) checkOverlaps() error {
	for _, r := range t.types {
		if d, ok := t.dispatch[r.From.Owner]; ok {
			return ambiguous(r, d, r.From.Owner)
		}
		if next, ok := t.types[r.To.Owner]; ok {
			return fmt.Errorf("rule %q renames to %s, which rule %q renames again", r.name, r.To.Owner, next.name)
		}
	}
	for _, r := range t.members {
		if d, ok := t.dispatch[r.From.Owner]; ok {
			return ambiguous(r, d, r.From.Owner)
		}
		if tr := t.renamedIn(r.From); tr != nil {
			return ambiguous(r, tr, r.From.String())
		}
		if tr := t.renamedIn(r.To); tr != nil {
			return fmt.Errorf("rule %q produces %s, which rule %q renames again", r.name, r.To, tr.name)
		}
		if next, ok := t.members[keyOf(r.To)]; ok {
			return fmt.Errorf("rule %q produces %s, which rule %q renames again", r.name, r.To, next.name)
		}
	}

	for _, w := range t.windows {
		for _, sym := range w.Sources() {
			if prev, ok := t.claimed[keyOf(sym)]; ok {
				return ambiguous(w, prev, sym.String())
			}
			t.claimed[keyOf(sym)] = w
			if other := t.classRuleFor(sym); other != nil {
				return ambiguous(w, other, sym.String())
			}
		}
	}
	for _, w := range t.windows {
		out := w.Replacement()
		if other, ok := t.claimed[keyOf(out)]; ok {
			return fmt.Errorf("rule %q produces %s, which rule %q rewrites again", w.Name(), out, other.Name())
		}
		if other := t.classRuleFor(out); other != nil {
			return fmt.Errorf("rule %q produces %s, which rule %q rewrites again", w.Name(), out, other.Name())
		}
	}
	return nil
}

// renamedIn returns a type rename touching the owner or descriptor of sym.
func (t *Table) renamedIn(sym tt.Symbol) *Rename {
	if r, ok := t.types[sym.Owner]; ok {
		return r
	}
	for _, c := range classfile.ClassNames(sym.Descriptor) {
		if r, ok := t.types[c]; ok {
			return r
		}
	}
	return nil
}

func (t *Table) classRuleFor(sym tt.Symbol) Rule {
	if r, ok := t.members[keyOf(sym)]; ok {
		return r
	}
	if r := t.renamedIn(sym); r != nil {
		return r
	}
	if d, ok := t.dispatch[sym.Owner]; ok {
		return d
	}
	return nil
}

func canonical(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// From returns the API generation plugins were compiled against.
func (t *Table) From() string { return t.from }

// To returns the API generation the table migrates to.
func (t *Table) To() string { return t.to }

// Rules returns the rules in table order.
func (t *Table) Rules() []Rule { return t.rules }

// Len returns the number of rules.
func (t *Table) Len() int { return len(t.rules) }

// Windows returns the window rules in table order.
func (t *Table) Windows() []WindowRule { return t.windows }

// CheckHost reports an error when a host of the given API generation is
// outside the table's window. Unversioned hosts and tables always pass.
func (t *Table) CheckHost(version string) error {
	if version == "" || t.to == "" {
		return nil
	}
	v := canonical(version)
	if !semver.IsValid(v) {
		return fmt.Errorf("host API version %q is not a semantic version", version)
	}
	to := canonical(t.to)
	if semver.Major(v) != semver.Major(to) || semver.Compare(v, to) < 0 {
		return fmt.Errorf("rule table %s migrates %s -> %s, host API is %s", t.name, t.from, t.to, version)
	}
	return nil
}

// MapClass applies type renames to an internal class name or array
// descriptor.
func (t *Table) MapClass(name string) (string, bool) {
	return classfile.RenameClassName(name, t.lookupType(nil))
}

// MapDescriptor applies type renames to a descriptor or generic
// signature.
func (t *Table) MapDescriptor(desc string) (string, bool) {
	return classfile.RenameClasses(desc, t.lookupType(nil))
}

func (t *Table) lookupType(fired *[]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		r, ok := t.types[name]
		if !ok {
			return "", false
		}
		if fired != nil {
			*fired = appendOnce(*fired, r.name)
		}
		return r.To.Owner, true
	}
}

// MapSymbol returns the new form of sym under the class-level rules and
// the names of the rules that changed it. Window rules are not applied.
func (t *Table) MapSymbol(sym tt.Symbol) (tt.Symbol, []string) {
	var fired []string
	lookup := t.lookupType(&fired)

	if sym.Kind == tt.RefType {
		if owner, ok := classfile.RenameClassName(sym.Owner, lookup); ok {
			sym.Owner = owner
		}
		return sym, fired
	}

	if r, ok := t.members[keyOf(sym)]; ok && r.matches(sym) {
		sym = r.apply(sym)
		fired = append(fired, r.name)
	} else {
		if owner, ok := classfile.RenameClassName(sym.Owner, lookup); ok {
			sym.Owner = owner
		}
		if desc, ok := classfile.RenameClasses(sym.Descriptor, lookup); ok {
			sym.Descriptor = desc
		}
	}
	if d, ok := t.dispatch[sym.Owner]; ok && d.matches(sym) {
		sym.Kind = d.Target()
		fired = appendOnce(fired, d.name)
	}
	return sym, fired
}

// Cover returns the rules that migrate the unresolved reference sym to a
// symbol the oracle accepts. ok is false when no rule does.
func (t *Table) Cover(sym tt.Symbol, o Oracle) (rules []string, ok bool) {
	if sym.Kind != tt.RefType {
		if w, claimed := t.claimed[keyOf(sym)]; claimed {
			if !o.Resolves(w.Replacement()) {
				return nil, false
			}
			return []string{w.Name()}, true
		}
	}
	mapped, fired := t.MapSymbol(sym)
	if len(fired) == 0 || !o.Resolves(mapped) {
		return nil, false
	}
	return fired, true
}

// Retires reports whether a rule rewrites sym away.
func (t *Table) Retires(sym tt.Symbol) bool {
	if _, ok := t.claimed[keyOf(sym)]; ok && sym.Kind != tt.RefType {
		return true
	}
	_, fired := t.MapSymbol(sym)
	return len(fired) > 0
}

func appendOnce(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

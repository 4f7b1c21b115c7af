// Package oracle answers whether a symbol exists in the running host API.
package oracle

import (
	"fmt"

	"github.com/gnolang/classmig/internal/classfile"
	"github.com/gnolang/classmig/internal/trie"
	tt "github.com/gnolang/classmig/internal/types"
)

// DefaultExemptPrefixes are the platform and language runtime packages
// that are never checked.
var DefaultExemptPrefixes = []string{
	"java/",
	"javax/",
	"jdk/",
	"sun/",
	"kotlin/",
	"org/ietf/",
	"org/omg/",
	"org/w3c/",
	"org/xml/",
}

const objectClass = "java/lang/Object"

// objectMembers are the methods every class and interface inherits.
var objectMembers = map[string]struct{}{
	"<init>()V":                    {},
	"clone()Ljava/lang/Object;":    {},
	"equals(Ljava/lang/Object;)Z":  {},
	"finalize()V":                  {},
	"getClass()Ljava/lang/Class;":  {},
	"hashCode()I":                  {},
	"notify()V":                    {},
	"notifyAll()V":                 {},
	"toString()Ljava/lang/String;": {},
	"wait()V":                      {},
	"wait(J)V":                     {},
	"wait(JI)V":                    {},
}

type classEntry struct {
	Class
	fields  map[string]struct{}
	methods map[string]struct{}
}

// Oracle is a read-only index over an API surface. It is safe for
// concurrent use.
type Oracle struct {
	version  string
	classes  map[string]*classEntry
	governed *trie.PrefixSet
	exempt   *trie.PrefixSet
	surface  *Surface
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithExemptPrefixes replaces the default exempt prefixes.
func WithExemptPrefixes(prefixes ...string) Option {
	return func(o *Oracle) {
		o.exempt = trie.NewPrefixSet(prefixes...)
	}
}

// New indexes s.
func New(s *Surface, opts ...Option) (*Oracle, error) {
	o := &Oracle{
		version:  s.Version,
		classes:  make(map[string]*classEntry, len(s.Classes)),
		governed: trie.NewPrefixSet(s.Packages...),
		exempt:   trie.NewPrefixSet(DefaultExemptPrefixes...),
		surface:  s,
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, c := range s.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("surface class without a name")
		}
		if _, dup := o.classes[c.Name]; dup {
			return nil, fmt.Errorf("surface lists class %s twice", c.Name)
		}
		e := &classEntry{
			Class:   c,
			fields:  make(map[string]struct{}, len(c.Fields)),
			methods: make(map[string]struct{}, len(c.Methods)),
		}
		for _, f := range c.Fields {
			if !classfile.ValidFieldDescriptor(f.Descriptor) {
				return nil, fmt.Errorf("%s.%s: invalid field descriptor %q", c.Name, f.Name, f.Descriptor)
			}
			e.fields[f.Name+":"+f.Descriptor] = struct{}{}
		}
		for _, m := range c.Methods {
			if _, err := classfile.ParseMethodDescriptor(m.Descriptor); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", c.Name, m.Name, err)
			}
			e.methods[m.Name+m.Descriptor] = struct{}{}
		}
		o.classes[c.Name] = e
	}
	return o, nil
}

// Load reads the surface at path and indexes it.
func Load(path string, opts ...Option) (*Oracle, error) {
	s, err := LoadSurface(path)
	if err != nil {
		return nil, err
	}
	return New(s, opts...)
}

// Version returns the API generation of the surface.
func (o *Oracle) Version() string { return o.version }

// Surface returns the indexed surface.
func (o *Oracle) Surface() *Surface { return o.surface }

// Len returns the number of classes in the surface.
func (o *Oracle) Len() int { return len(o.classes) }

// Checked reports whether references to class must resolve against the
// surface. Exempt packages and, when governed packages are declared,
// everything outside them are not checked.
func (o *Oracle) Checked(class string) bool {
	if o.exempt.Match(class) {
		return false
	}
	if o.governed.Len() > 0 {
		return o.governed.Match(class)
	}
	return true
}

// HasType reports whether class is part of the surface.
func (o *Oracle) HasType(class string) bool {
	_, ok := o.classes[class]
	return ok
}

// IsInterface reports whether class is a known interface.
func (o *Oracle) IsInterface(class string) bool {
	e, ok := o.classes[class]
	return ok && e.Interface
}

// Contains reports whether sym resolves in the host. Member lookup
// follows the class hierarchy the way the JVM resolves references, and
// the dispatch kind must agree with the owner being a class or an
// interface.
func (o *Oracle) Contains(sym tt.Symbol) bool {
	owner, ok := o.classes[sym.Owner]
	if !ok {
		return false
	}
	switch sym.Kind {
	case tt.RefType:
		return true
	case tt.RefMethod:
		if owner.Interface {
			return false
		}
	case tt.RefInterfaceMethod:
		if !owner.Interface {
			return false
		}
	}
	if sym.Name == "<init>" {
		_, ok := owner.methods[sym.Name+sym.Descriptor]
		return ok
	}
	return o.resolve(sym, owner.Name, map[string]bool{})
}

// Resolves reports whether sym is usable in the host: either it is not
// governed by the surface or the surface contains it. Array owners stand
// for their element class.
func (o *Oracle) Resolves(sym tt.Symbol) bool {
	owner := classfile.ElementClass(sym.Owner)
	if owner == "" || !o.Checked(owner) {
		return true
	}
	if owner != sym.Owner {
		// Arrays only inherit Object's members.
		return o.HasType(owner)
	}
	return o.Contains(sym)
}

func (o *Oracle) resolve(sym tt.Symbol, class string, seen map[string]bool) bool {
	if seen[class] {
		return false
	}
	seen[class] = true

	e, ok := o.classes[class]
	if !ok {
		if class == objectClass {
			_, found := objectMembers[sym.Name+sym.Descriptor]
			return sym.Kind.IsMethod() && found
		}
		// A supertype outside the surface belongs to a platform or
		// third-party library; it is trusted to declare the member.
		return !o.Checked(class)
	}
	if sym.Kind == tt.RefField {
		if _, found := e.fields[sym.Name+":"+sym.Descriptor]; found {
			return true
		}
	} else if _, found := e.methods[sym.Name+sym.Descriptor]; found {
		return true
	}

	if e.Super != "" && o.resolve(sym, e.Super, seen) {
		return true
	}
	for _, iface := range e.Interfaces {
		if o.resolve(sym, iface, seen) {
			return true
		}
	}
	if e.Super == "" && sym.Kind.IsMethod() {
		return o.resolve(sym, objectClass, seen)
	}
	return false
}

package classfile

import (
	"fmt"

	tt "github.com/gnolang/classmig/internal/types"
)

// ConstantKind is the tag of a constant pool entry.
type ConstantKind uint8

// ConstantKind values as defined for class file constant pools.
const (
	ConstantKindUtf8               ConstantKind = 1
	ConstantKindInteger            ConstantKind = 3
	ConstantKindFloat              ConstantKind = 4
	ConstantKindLong               ConstantKind = 5
	ConstantKindDouble             ConstantKind = 6
	ConstantKindClass              ConstantKind = 7
	ConstantKindString             ConstantKind = 8
	ConstantKindFieldref           ConstantKind = 9
	ConstantKindMethodref          ConstantKind = 10
	ConstantKindInterfaceMethodref ConstantKind = 11
	ConstantKindNameAndType        ConstantKind = 12
	ConstantKindMethodHandle       ConstantKind = 15
	ConstantKindMethodType         ConstantKind = 16
	ConstantKindDynamic            ConstantKind = 17
	ConstantKindInvokeDynamic      ConstantKind = 18
	ConstantKindModule             ConstantKind = 19
	ConstantKindPackage            ConstantKind = 20

	// ConstantKindPlaceholder fills index 0 and the unusable slot after
	// every long and double constant. It is never written.
	ConstantKindPlaceholder ConstantKind = 255
)

// Method handle reference kinds.
const (
	RefGetField         uint8 = 1
	RefGetStatic        uint8 = 2
	RefPutField         uint8 = 3
	RefPutStatic        uint8 = 4
	RefInvokeVirtual    uint8 = 5
	RefInvokeStatic     uint8 = 6
	RefInvokeSpecial    uint8 = 7
	RefNewInvokeSpecial uint8 = 8
	RefInvokeInterface  uint8 = 9
)

// Constant is one constant pool entry. Which fields are meaningful depends
// on Kind:
//
//	Utf8                          Utf8
//	Integer, Float, Long, Double  Value (raw big-endian bytes)
//	Class, String, MethodType,
//	Module, Package               Ref1
//	Fieldref, Methodref,
//	InterfaceMethodref            Ref1 = class, Ref2 = name and type
//	NameAndType                   Ref1 = name, Ref2 = descriptor
//	MethodHandle                  RefKind, Ref1 = referenced member
//	Dynamic, InvokeDynamic        Ref1 = bootstrap method, Ref2 = name and type
type Constant struct {
	Kind    ConstantKind
	Utf8    string
	Value   []byte
	Ref1    uint16
	Ref2    uint16
	RefKind uint8
}

// IsMemberRef reports whether c is a field or method reference.
func (c *Constant) IsMemberRef() bool {
	switch c.Kind {
	case ConstantKindFieldref, ConstantKindMethodref, ConstantKindInterfaceMethodref:
		return true
	}
	return false
}

type constKey struct {
	kind ConstantKind
	utf8 string
	ref1 uint16
	ref2 uint16
}

// ConstPool is a 1-indexed constant pool.
type ConstPool struct {
	entries []Constant
	index   map[constKey]uint16
}

// NewConstPool returns an empty pool holding only the index 0 placeholder.
func NewConstPool() *ConstPool {
	return &ConstPool{entries: []Constant{{Kind: ConstantKindPlaceholder}}}
}

// Count is the constant_pool_count value: number of entries plus one.
func (p *ConstPool) Count() int {
	return len(p.entries)
}

// At returns the entry at idx. The result may be modified in place.
func (p *ConstPool) At(idx uint16) (*Constant, error) {
	// A constant_pool index is valid if it is greater than zero and less
	// than constant_pool_count.
	if idx == 0 || int(idx) >= len(p.entries) {
		return nil, fmt.Errorf("invalid constant pool index %d", idx)
	}
	c := &p.entries[idx]
	if c.Kind == ConstantKindPlaceholder {
		return nil, fmt.Errorf("constant pool index %d points into a wide constant", idx)
	}
	return c, nil
}

func (p *ConstPool) expect(idx uint16, kind ConstantKind) (*Constant, error) {
	c, err := p.At(idx)
	if err != nil {
		return nil, err
	}
	if c.Kind != kind {
		return nil, fmt.Errorf("constant %d has tag %d, want %d", idx, c.Kind, kind)
	}
	return c, nil
}

// Utf8 returns the string at idx.
func (p *ConstPool) Utf8(idx uint16) (string, error) {
	c, err := p.expect(idx, ConstantKindUtf8)
	if err != nil {
		return "", err
	}
	return c.Utf8, nil
}

// ClassName returns the internal name of the class constant at idx.
func (p *ConstPool) ClassName(idx uint16) (string, error) {
	c, err := p.expect(idx, ConstantKindClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.Ref1)
}

// NameAndType returns the name and descriptor at idx.
func (p *ConstPool) NameAndType(idx uint16) (string, string, error) {
	c, err := p.expect(idx, ConstantKindNameAndType)
	if err != nil {
		return "", "", err
	}
	name, err := p.Utf8(c.Ref1)
	if err != nil {
		return "", "", err
	}
	desc, err := p.Utf8(c.Ref2)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef resolves a field, method or interface method reference.
func (p *ConstPool) MemberRef(idx uint16) (tt.Symbol, error) {
	c, err := p.At(idx)
	if err != nil {
		return tt.Symbol{}, err
	}
	var kind tt.RefKind
	switch c.Kind {
	case ConstantKindFieldref:
		kind = tt.RefField
	case ConstantKindMethodref:
		kind = tt.RefMethod
	case ConstantKindInterfaceMethodref:
		kind = tt.RefInterfaceMethod
	default:
		return tt.Symbol{}, fmt.Errorf("constant %d is not a member reference (tag %d)", idx, c.Kind)
	}
	owner, err := p.ClassName(c.Ref1)
	if err != nil {
		return tt.Symbol{}, err
	}
	name, desc, err := p.NameAndType(c.Ref2)
	if err != nil {
		return tt.Symbol{}, err
	}
	return tt.Symbol{Owner: owner, Name: name, Descriptor: desc, Kind: kind}, nil
}

func (p *ConstPool) buildIndex() {
	if p.index != nil {
		return
	}
	p.index = make(map[constKey]uint16, len(p.entries))
	for i := 1; i < len(p.entries); i++ {
		c := &p.entries[i]
		k, ok := keyOf(c)
		if !ok {
			continue
		}
		if _, exists := p.index[k]; !exists {
			p.index[k] = uint16(i)
		}
	}
}

func keyOf(c *Constant) (constKey, bool) {
	switch c.Kind {
	case ConstantKindUtf8:
		return constKey{kind: c.Kind, utf8: c.Utf8}, true
	case ConstantKindClass, ConstantKindString, ConstantKindMethodType:
		return constKey{kind: c.Kind, ref1: c.Ref1}, true
	case ConstantKindNameAndType, ConstantKindFieldref, ConstantKindMethodref, ConstantKindInterfaceMethodref:
		return constKey{kind: c.Kind, ref1: c.Ref1, ref2: c.Ref2}, true
	case ConstantKindInteger:
		return constKey{kind: c.Kind, utf8: string(c.Value)}, true
	case ConstantKindMethodHandle:
		return constKey{kind: c.Kind, ref1: c.Ref1, ref2: uint16(c.RefKind)}, true
	}
	return constKey{}, false
}

// add appends c unless an identical entry exists and returns its index.
func (p *ConstPool) add(c Constant) (uint16, error) {
	p.buildIndex()
	k, _ := keyOf(&c)
	if idx, ok := p.index[k]; ok {
		return idx, nil
	}
	if len(p.entries) >= 0xFFFF {
		return 0, fmt.Errorf("constant pool is full")
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	p.index[k] = idx
	return idx, nil
}

// AddUtf8 returns the index of a Utf8 constant holding s.
func (p *ConstPool) AddUtf8(s string) (uint16, error) {
	return p.add(Constant{Kind: ConstantKindUtf8, Utf8: s})
}

// AddClass returns the index of a class constant named name.
func (p *ConstPool) AddClass(name string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Kind: ConstantKindClass, Ref1: n})
}

// AddNameAndType returns the index of a NameAndType constant.
func (p *ConstPool) AddNameAndType(name, desc string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(desc)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Kind: ConstantKindNameAndType, Ref1: n, Ref2: d})
}

// AddMemberRef returns the index of the reference constant for sym.
func (p *ConstPool) AddMemberRef(sym tt.Symbol) (uint16, error) {
	kind, err := memberRefKind(sym.Kind)
	if err != nil {
		return 0, err
	}
	cls, err := p.AddClass(sym.Owner)
	if err != nil {
		return 0, err
	}
	nat, err := p.AddNameAndType(sym.Name, sym.Descriptor)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Kind: kind, Ref1: cls, Ref2: nat})
}

// AddString returns the index of a String constant holding s.
func (p *ConstPool) AddString(s string) (uint16, error) {
	n, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Kind: ConstantKindString, Ref1: n})
}

// AddInteger returns the index of an Integer constant.
func (p *ConstPool) AddInteger(v int32) (uint16, error) {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return p.add(Constant{Kind: ConstantKindInteger, Value: b})
}

// AddMethodType returns the index of a MethodType constant.
func (p *ConstPool) AddMethodType(desc string) (uint16, error) {
	d, err := p.AddUtf8(desc)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Kind: ConstantKindMethodType, Ref1: d})
}

// AddMethodHandle returns the index of a MethodHandle constant for sym.
func (p *ConstPool) AddMethodHandle(refKind uint8, sym tt.Symbol) (uint16, error) {
	ref, err := p.AddMemberRef(sym)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Kind: ConstantKindMethodHandle, RefKind: refKind, Ref1: ref})
}

// SetMemberRef points the existing reference at idx to sym in place, so
// every instruction and method handle using idx follows.
func (p *ConstPool) SetMemberRef(idx uint16, sym tt.Symbol) error {
	c, err := p.At(idx)
	if err != nil {
		return err
	}
	if !c.IsMemberRef() {
		return fmt.Errorf("constant %d is not a member reference", idx)
	}
	kind, err := memberRefKind(sym.Kind)
	if err != nil {
		return err
	}
	cls, err := p.AddClass(sym.Owner)
	if err != nil {
		return err
	}
	nat, err := p.AddNameAndType(sym.Name, sym.Descriptor)
	if err != nil {
		return err
	}
	// re-fetch: the adds above may have grown the slice
	c = &p.entries[idx]
	c.Kind, c.Ref1, c.Ref2 = kind, cls, nat
	p.index = nil
	return nil
}

// Update edits the entry at idx in place and drops the dedup index.
func (p *ConstPool) Update(idx uint16, fn func(c *Constant)) error {
	c, err := p.At(idx)
	if err != nil {
		return err
	}
	fn(c)
	p.index = nil
	return nil
}

// Each calls fn for every real entry in index order. fn must not add
// entries.
func (p *ConstPool) Each(fn func(idx uint16, c *Constant)) {
	for i := 1; i < len(p.entries); i++ {
		if p.entries[i].Kind == ConstantKindPlaceholder {
			continue
		}
		fn(uint16(i), &p.entries[i])
	}
}

func memberRefKind(k tt.RefKind) (ConstantKind, error) {
	switch k {
	case tt.RefField:
		return ConstantKindFieldref, nil
	case tt.RefMethod:
		return ConstantKindMethodref, nil
	case tt.RefInterfaceMethod:
		return ConstantKindInterfaceMethodref, nil
	}
	return 0, fmt.Errorf("%s is not a member reference kind", k)
}

func parseConstPool(r *byteReader) (*ConstPool, error) {
	count, err := r.readU2()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("constant_pool_count is zero")
	}
	p := &ConstPool{entries: make([]Constant, 1, count)}
	p.entries[0] = Constant{Kind: ConstantKindPlaceholder}

	for len(p.entries) < int(count) {
		tag, err := r.readU1()
		if err != nil {
			return nil, err
		}
		c := Constant{Kind: ConstantKind(tag)}
		switch c.Kind {
		case ConstantKindUtf8:
			n, err := r.readU2()
			if err != nil {
				return nil, err
			}
			b, err := r.readBytes(int(n))
			if err != nil {
				return nil, err
			}
			c.Utf8 = string(b)
		case ConstantKindInteger, ConstantKindFloat:
			b, err := r.readBytes(4)
			if err != nil {
				return nil, err
			}
			c.Value = append([]byte(nil), b...)
		case ConstantKindLong, ConstantKindDouble:
			b, err := r.readBytes(8)
			if err != nil {
				return nil, err
			}
			c.Value = append([]byte(nil), b...)
		case ConstantKindClass, ConstantKindString, ConstantKindMethodType,
			ConstantKindModule, ConstantKindPackage:
			if c.Ref1, err = r.readU2(); err != nil {
				return nil, err
			}
		case ConstantKindFieldref, ConstantKindMethodref, ConstantKindInterfaceMethodref,
			ConstantKindNameAndType, ConstantKindDynamic, ConstantKindInvokeDynamic:
			if c.Ref1, err = r.readU2(); err != nil {
				return nil, err
			}
			if c.Ref2, err = r.readU2(); err != nil {
				return nil, err
			}
		case ConstantKindMethodHandle:
			if c.RefKind, err = r.readU1(); err != nil {
				return nil, err
			}
			if c.Ref1, err = r.readU2(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("invalid cp_info tag %d at index %d", tag, len(p.entries))
		}
		p.entries = append(p.entries, c)

		// 8-byte values take up 2 constant pool entries.
		if c.Kind == ConstantKindLong || c.Kind == ConstantKindDouble {
			p.entries = append(p.entries, Constant{Kind: ConstantKindPlaceholder})
		}
	}
	if len(p.entries) != int(count) {
		return nil, fmt.Errorf("wide constant overruns constant_pool_count %d", count)
	}
	return p, nil
}

func (p *ConstPool) write(w *byteWriter) error {
	if err := w.count(len(p.entries), "constants"); err != nil {
		return err
	}
	for i := 1; i < len(p.entries); i++ {
		c := &p.entries[i]
		if c.Kind == ConstantKindPlaceholder {
			continue
		}
		w.u1(uint8(c.Kind))
		switch c.Kind {
		case ConstantKindUtf8:
			if err := w.count(len(c.Utf8), "utf8 bytes"); err != nil {
				return err
			}
			w.raw([]byte(c.Utf8))
		case ConstantKindInteger, ConstantKindFloat, ConstantKindLong, ConstantKindDouble:
			w.raw(c.Value)
		case ConstantKindClass, ConstantKindString, ConstantKindMethodType,
			ConstantKindModule, ConstantKindPackage:
			w.u2(c.Ref1)
		case ConstantKindMethodHandle:
			w.u1(c.RefKind)
			w.u2(c.Ref1)
		default:
			w.u2(c.Ref1)
			w.u2(c.Ref2)
		}
	}
	return nil
}

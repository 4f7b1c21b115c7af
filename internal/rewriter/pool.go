package rewriter

import (
	"encoding/binary"

	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
)

type memberEdit struct {
	idx  uint16
	sym  tt.Symbol
	flip bool
}

type utf8Edit struct {
	idx uint16
	to  string
}

// poolPass applies the class-level rules of one class.
type poolPass struct {
	r    *Rewriter
	cf   *classfile.ClassFile
	pool *classfile.ConstPool

	// flipped holds member references whose dispatch kind changed.
	flipped map[uint16]struct{}
	applied []string
	changed bool
	err     error
}

func (p *poolPass) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *poolPass) fired(names []string) {
	for _, n := range names {
		p.applied = appendOnce(p.applied, n)
	}
}

// run rewrites member references, class constants and descriptors. All
// reads happen before the first write so that entries added by the
// rewrite are never mapped a second time.
func (p *poolPass) run() error {
	var (
		members []memberEdit
		classes []utf8Edit
		natDesc []utf8Edit
		mtDesc  []utf8Edit
	)
	table := p.r.table
	p.pool.Each(func(idx uint16, c *classfile.Constant) {
		switch {
		case c.IsMemberRef():
			sym, err := p.pool.MemberRef(idx)
			if err != nil {
				p.fail(err)
				return
			}
			mapped, fired := table.MapSymbol(sym)
			if len(fired) == 0 {
				return
			}
			p.fired(fired)
			members = append(members, memberEdit{idx: idx, sym: mapped, flip: mapped.Kind != sym.Kind})
		case c.Kind == classfile.ConstantKindClass:
			name, err := p.pool.Utf8(c.Ref1)
			if err != nil {
				p.fail(err)
				return
			}
			if to, ok := table.MapClass(name); ok {
				_, fired := table.MapSymbol(tt.TypeSymbol(name))
				p.fired(fired)
				classes = append(classes, utf8Edit{idx: idx, to: to})
			}
		case c.Kind == classfile.ConstantKindNameAndType:
			desc, err := p.pool.Utf8(c.Ref2)
			if err != nil {
				p.fail(err)
				return
			}
			if to, ok := table.MapDescriptor(desc); ok {
				natDesc = append(natDesc, utf8Edit{idx: idx, to: to})
			}
		case c.Kind == classfile.ConstantKindMethodType:
			desc, err := p.pool.Utf8(c.Ref1)
			if err != nil {
				p.fail(err)
				return
			}
			if to, ok := table.MapDescriptor(desc); ok {
				mtDesc = append(mtDesc, utf8Edit{idx: idx, to: to})
			}
		}
	})
	if p.err != nil {
		return p.err
	}

	for _, e := range members {
		if err := p.pool.SetMemberRef(e.idx, e.sym); err != nil {
			return err
		}
		if e.flip {
			p.flipped[e.idx] = struct{}{}
		}
		p.changed = true
	}
	if err := p.repoint(classes, func(c *classfile.Constant, u uint16) { c.Ref1 = u }); err != nil {
		return err
	}
	if err := p.repoint(natDesc, func(c *classfile.Constant, u uint16) { c.Ref2 = u }); err != nil {
		return err
	}
	if err := p.repoint(mtDesc, func(c *classfile.Constant, u uint16) { c.Ref1 = u }); err != nil {
		return err
	}
	p.fixHandles()
	if p.err != nil {
		return p.err
	}
	return p.members()
}

// repoint makes each edited constant refer to a fresh Utf8 entry. Utf8
// entries are shared with string literals and names, so they are never
// changed in place.
func (p *poolPass) repoint(edits []utf8Edit, set func(c *classfile.Constant, utf8 uint16)) error {
	for _, e := range edits {
		u, err := p.pool.AddUtf8(e.to)
		if err != nil {
			return err
		}
		if err := p.pool.Update(e.idx, func(c *classfile.Constant) { set(c, u) }); err != nil {
			return err
		}
		p.changed = true
	}
	return nil
}

// fixHandles keeps method handle kinds in line with flipped references.
func (p *poolPass) fixHandles() {
	if len(p.flipped) == 0 {
		return
	}
	var edits []uint16
	p.pool.Each(func(idx uint16, c *classfile.Constant) {
		if c.Kind != classfile.ConstantKindMethodHandle {
			return
		}
		if _, ok := p.flipped[c.Ref1]; ok {
			edits = append(edits, idx)
		}
	})
	for _, idx := range edits {
		err := p.pool.Update(idx, func(c *classfile.Constant) {
			ref, err := p.pool.At(c.Ref1)
			if err != nil {
				p.fail(err)
				return
			}
			switch {
			case ref.Kind == classfile.ConstantKindInterfaceMethodref && c.RefKind == classfile.RefInvokeVirtual:
				c.RefKind = classfile.RefInvokeInterface
			case ref.Kind == classfile.ConstantKindMethodref && c.RefKind == classfile.RefInvokeInterface:
				c.RefKind = classfile.RefInvokeVirtual
			}
		})
		if err != nil {
			p.fail(err)
		}
	}
}

// members renames types in the class's own field and method descriptors,
// in Signature attributes and in annotations.
func (p *poolPass) members() error {
	if err := p.signature(p.cf.Attributes); err != nil {
		return err
	}
	if err := p.annotations(p.cf.Attributes); err != nil {
		return err
	}
	for _, list := range [][]*classfile.Member{p.cf.Fields, p.cf.Methods} {
		for _, m := range list {
			desc, err := p.pool.Utf8(m.DescriptorIndex)
			if err != nil {
				return err
			}
			if to, ok := p.r.table.MapDescriptor(desc); ok {
				if m.DescriptorIndex, err = p.pool.AddUtf8(to); err != nil {
					return err
				}
				p.changed = true
			}
			if err := p.signature(m.Attributes); err != nil {
				return err
			}
			if err := p.annotations(m.Attributes); err != nil {
				return err
			}
		}
	}
	return nil
}

// annotations renames the annotation, enum and class literal types held
// by annotation attributes.
func (p *poolPass) annotations(attrs []*classfile.Attribute) error {
	for _, a := range attrs {
		name := p.cf.AttributeName(a)
		if !classfile.IsAnnotationAttribute(name) {
			continue
		}
		err := classfile.MapAnnotationTypes(name, a.Info, func(idx uint16) (uint16, error) {
			desc, err := p.pool.Utf8(idx)
			if err != nil {
				return 0, err
			}
			to, ok := p.r.table.MapDescriptor(desc)
			if !ok {
				return idx, nil
			}
			for _, c := range classfile.ClassNames(desc) {
				_, fired := p.r.table.MapSymbol(tt.TypeSymbol(c))
				p.fired(fired)
			}
			p.changed = true
			return p.pool.AddUtf8(to)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *poolPass) signature(attrs []*classfile.Attribute) error {
	a := p.cf.FindAttribute(attrs, classfile.AttrSignature)
	if a == nil || len(a.Info) != 2 {
		return nil
	}
	sig, err := p.pool.Utf8(binary.BigEndian.Uint16(a.Info))
	if err != nil {
		return err
	}
	to, ok := p.r.table.MapDescriptor(sig)
	if !ok {
		return nil
	}
	u, err := p.pool.AddUtf8(to)
	if err != nil {
		return err
	}
	a.Info = binary.BigEndian.AppendUint16(nil, u)
	p.changed = true
	return nil
}

// locals renames types in LocalVariableTable and LocalVariableTypeTable
// rows of a method body.
func (p *poolPass) locals(mt *method) error {
	for _, attr := range mt.code.Attributes {
		switch p.cf.AttributeName(attr) {
		case classfile.AttrLocalVariableTable, classfile.AttrLocalVariableTypeTable:
		default:
			continue
		}
		vars, err := classfile.ParseLocalVariableTable(attr.Info)
		if err != nil {
			return err
		}
		edited := false
		for i := range vars {
			desc, err := p.pool.Utf8(vars[i].DescriptorIndex)
			if err != nil {
				return err
			}
			to, ok := p.r.table.MapDescriptor(desc)
			if !ok {
				continue
			}
			if vars[i].DescriptorIndex, err = p.pool.AddUtf8(to); err != nil {
				return err
			}
			edited = true
		}
		if !edited {
			continue
		}
		if attr.Info, err = classfile.EncodeLocalVariableTable(vars); err != nil {
			return err
		}
		mt.dirty = true
		p.changed = true
	}
	return nil
}

func appendOnce(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

// Package refscan extracts the symbolic cross-references of compiled
// classes in a stable order.
package refscan

import (
	"fmt"

	"github.com/gnolang/classmig/internal/classfile"
	"github.com/gnolang/classmig/internal/jar"
	tt "github.com/gnolang/classmig/internal/types"
)

// ClassInfo is the shape of a class defined by the scanned module.
type ClassInfo struct {
	Super      string
	Interfaces []string
	// Members holds name+descriptor of every declared field and method.
	Members map[string]struct{}
}

// Declares reports whether the class declares a member called name with
// descriptor desc.
func (c *ClassInfo) Declares(name, desc string) bool {
	_, ok := c.Members[name+desc]
	return ok
}

// Module is the scan result of one plugin archive.
type Module struct {
	Path string
	// Classes holds the classes the archive defines, by internal name.
	Classes map[string]*ClassInfo
	// References lists every reference in scan order: classes in entry
	// order, then within a class the header, fields, methods and finally
	// method handle constants. Annotations count with what they annotate.
	References []tt.Reference
}

// Defines reports whether the archive contains class.
func (m *Module) Defines(class string) bool {
	_, ok := m.Classes[class]
	return ok
}

// ScanArchive scans every class entry of the archive at path. A corrupt
// archive or class yields a *types.StructuralReadError.
func ScanArchive(path string) (*Module, error) {
	entries, err := jar.ReadFile(path)
	if err != nil {
		return nil, &tt.StructuralReadError{Path: path, Err: err}
	}
	return ScanEntries(path, entries)
}

// ScanEntries scans already decoded archive entries.
func ScanEntries(path string, entries []*jar.Entry) (*Module, error) {
	m := &Module{Path: path, Classes: make(map[string]*ClassInfo)}
	for _, e := range entries {
		if !e.IsClass() {
			continue
		}
		cf, err := classfile.Parse(e.Data)
		if err != nil {
			return nil, &tt.StructuralReadError{Path: path, Entry: e.Name(), Err: err}
		}
		refs, err := ScanClass(cf, e.Name())
		if err != nil {
			return nil, &tt.StructuralReadError{Path: path, Entry: e.Name(), Err: err}
		}
		info, err := describe(cf)
		if err != nil {
			return nil, &tt.StructuralReadError{Path: path, Entry: e.Name(), Err: err}
		}
		m.Classes[cf.Name()] = info
		m.References = append(m.References, refs...)
	}
	return m, nil
}

func describe(cf *classfile.ClassFile) (*ClassInfo, error) {
	info := &ClassInfo{
		Super:      cf.SuperName(),
		Interfaces: cf.InterfaceNames(),
		Members:    make(map[string]struct{}, len(cf.Fields)+len(cf.Methods)),
	}
	for _, list := range [][]*classfile.Member{cf.Fields, cf.Methods} {
		for _, m := range list {
			name, desc, err := cf.MemberName(m)
			if err != nil {
				return nil, err
			}
			info.Members[name+desc] = struct{}{}
		}
	}
	return info, nil
}

type scanner struct {
	cf    *classfile.ClassFile
	entry string
	refs  []tt.Reference
}

// ScanClass returns the references of one class. Instructions without a
// symbolic operand are skipped.
func ScanClass(cf *classfile.ClassFile, entry string) ([]tt.Reference, error) {
	s := &scanner{cf: cf, entry: entry}
	header := s.at(tt.ClassLevel, -1)

	if super := cf.SuperName(); super != "" {
		s.typeRef(super, header)
	}
	for _, iface := range cf.InterfaceNames() {
		s.typeRef(iface, header)
	}
	if err := s.annotations(cf.Attributes, header); err != nil {
		return nil, err
	}

	for _, f := range cf.Fields {
		name, desc, err := cf.MemberName(f)
		if err != nil {
			return nil, err
		}
		s.descriptorRefs(desc, s.at(name, -1))
		if err := s.annotations(f.Attributes, s.at(name, -1)); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	for _, m := range cf.Methods {
		if err := s.method(m); err != nil {
			return nil, err
		}
	}

	if err := s.methodHandles(header); err != nil {
		return nil, err
	}
	return s.refs, nil
}

func (s *scanner) at(method string, offset int) tt.Location {
	return tt.Location{Class: s.cf.Name(), Method: method, Entry: s.entry, Offset: offset}
}

func (s *scanner) add(sym tt.Symbol, loc tt.Location) {
	s.refs = append(s.refs, tt.Reference{Symbol: sym, Location: loc})
}

// typeRef records a class constant. Arrays stand for their element class;
// primitive arrays reference nothing.
func (s *scanner) typeRef(name string, loc tt.Location) {
	if c := classfile.ElementClass(name); c != "" {
		s.add(tt.TypeSymbol(c), loc)
	}
}

func (s *scanner) descriptorRefs(desc string, loc tt.Location) {
	for _, c := range classfile.ClassNames(desc) {
		s.add(tt.TypeSymbol(c), loc)
	}
}

// annotations records the types annotation attributes name. They never
// appear in an instruction.
func (s *scanner) annotations(attrs []*classfile.Attribute, loc tt.Location) error {
	for _, a := range attrs {
		name := s.cf.AttributeName(a)
		if !classfile.IsAnnotationAttribute(name) {
			continue
		}
		err := classfile.MapAnnotationTypes(name, a.Info, func(idx uint16) (uint16, error) {
			desc, err := s.cf.Pool.Utf8(idx)
			if err != nil {
				return 0, err
			}
			s.descriptorRefs(desc, loc)
			return idx, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// memberRef records a field or method reference. Members of array types
// (clone, length) reduce to the element type.
func (s *scanner) memberRef(idx uint16, loc tt.Location) error {
	sym, err := s.cf.Pool.MemberRef(idx)
	if err != nil {
		return err
	}
	if len(sym.Owner) > 0 && sym.Owner[0] == '[' {
		s.typeRef(sym.Owner, loc)
		return nil
	}
	s.add(sym, loc)
	return nil
}

func (s *scanner) method(m *classfile.Member) error {
	name, desc, err := s.cf.MemberName(m)
	if err != nil {
		return err
	}
	s.descriptorRefs(desc, s.at(name, -1))
	if err := s.annotations(m.Attributes, s.at(name, -1)); err != nil {
		return fmt.Errorf("%s%s: %w", name, desc, err)
	}

	code, _, err := s.cf.MethodCode(m)
	if err != nil {
		return fmt.Errorf("%s%s: %w", name, desc, err)
	}
	if code == nil {
		return nil
	}
	insns, err := classfile.DecodeInstructions(code.Code)
	if err != nil {
		return fmt.Errorf("%s%s: %w", name, desc, err)
	}
	for _, ins := range insns {
		if err := s.instruction(ins, s.at(name, ins.Offset)); err != nil {
			return fmt.Errorf("%s%s at %d: %w", name, desc, ins.Offset, err)
		}
	}
	for _, h := range code.ExceptionTable {
		if h.CatchType == 0 {
			continue
		}
		catch, err := s.cf.Pool.ClassName(h.CatchType)
		if err != nil {
			return fmt.Errorf("%s%s: %w", name, desc, err)
		}
		s.typeRef(catch, s.at(name, int(h.HandlerPC)))
	}
	return nil
}

func (s *scanner) instruction(ins *classfile.Instruction, loc tt.Location) error {
	switch op := ins.Opcode; {
	case classfile.IsFieldAccess(op), classfile.IsInvoke(op):
		return s.memberRef(ins.Index, loc)
	case op == classfile.OpNew, op == classfile.OpCheckcast, op == classfile.OpInstanceof,
		op == classfile.OpAnewarray, op == classfile.OpMultianewarray:
		name, err := s.cf.Pool.ClassName(ins.Index)
		if err != nil {
			return err
		}
		s.typeRef(name, loc)
	case op == classfile.OpLdc, op == classfile.OpLdcW:
		return s.constant(ins.Index, loc)
	}
	return nil
}

// constant records the symbols a loadable constant refers to.
func (s *scanner) constant(idx uint16, loc tt.Location) error {
	c, err := s.cf.Pool.At(idx)
	if err != nil {
		return err
	}
	switch c.Kind {
	case classfile.ConstantKindClass:
		name, err := s.cf.Pool.ClassName(idx)
		if err != nil {
			return err
		}
		s.typeRef(name, loc)
	case classfile.ConstantKindMethodType:
		desc, err := s.cf.Pool.Utf8(c.Ref1)
		if err != nil {
			return err
		}
		s.descriptorRefs(desc, loc)
	case classfile.ConstantKindMethodHandle:
		return s.memberRef(c.Ref1, loc)
	}
	return nil
}

// methodHandles records the members behind method handle constants, which
// bootstrap arguments of invokedynamic use without any instruction naming
// them.
func (s *scanner) methodHandles(loc tt.Location) error {
	var err error
	s.cf.Pool.Each(func(_ uint16, c *classfile.Constant) {
		if err != nil || c.Kind != classfile.ConstantKindMethodHandle {
			return
		}
		err = s.memberRef(c.Ref1, loc)
	})
	return err
}

// Package classfile reads, edits and writes JVM class files.
//
// Only the parts needed to find and rewrite symbolic references are
// modelled: the constant pool, members, and the Code attribute with its
// dependent tables. Every other attribute is kept as raw bytes and written
// back unchanged, so Parse followed by Bytes reproduces the input exactly.
package classfile

import (
	"fmt"
)

const magic = 0xCAFEBABE

// Access flags used by the scanner and the oracle builder.
const (
	AccPublic    uint16 = 0x0001
	AccPrivate   uint16 = 0x0002
	AccProtected uint16 = 0x0004
	AccStatic    uint16 = 0x0008
	AccInterface uint16 = 0x0200
	AccSynthetic uint16 = 0x1000
)

// Attribute names handled specially.
const (
	AttrCode                   = "Code"
	AttrStackMapTable          = "StackMapTable"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
	AttrSignature              = "Signature"

	AttrRuntimeVisibleAnnotations            = "RuntimeVisibleAnnotations"
	AttrRuntimeInvisibleAnnotations          = "RuntimeInvisibleAnnotations"
	AttrRuntimeVisibleParameterAnnotations   = "RuntimeVisibleParameterAnnotations"
	AttrRuntimeInvisibleParameterAnnotations = "RuntimeInvisibleParameterAnnotations"
	AttrRuntimeVisibleTypeAnnotations        = "RuntimeVisibleTypeAnnotations"
	AttrRuntimeInvisibleTypeAnnotations      = "RuntimeInvisibleTypeAnnotations"
	AttrAnnotationDefault                    = "AnnotationDefault"
)

// Attribute is an attribute kept as raw bytes.
type Attribute struct {
	NameIndex uint16
	Info      []byte
}

// Member is a field or a method.
type Member struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []*Attribute
}

// ClassFile is a parsed class.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         *ConstPool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []*Member
	Methods      []*Member
	Attributes   []*Attribute
}

// Parse decodes a class file.
func Parse(data []byte) (*ClassFile, error) {
	r := newByteReader(data)
	m, err := r.readU4()
	if err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("not a class file: bad magic 0x%08x", m)
	}
	cf := &ClassFile{}
	if cf.MinorVersion, err = r.readU2(); err != nil {
		return nil, err
	}
	if cf.MajorVersion, err = r.readU2(); err != nil {
		return nil, err
	}
	if cf.Pool, err = parseConstPool(r); err != nil {
		return nil, fmt.Errorf("constant pool: %w", err)
	}
	if cf.AccessFlags, err = r.readU2(); err != nil {
		return nil, err
	}
	if cf.ThisClass, err = r.readU2(); err != nil {
		return nil, err
	}
	if cf.SuperClass, err = r.readU2(); err != nil {
		return nil, err
	}
	n, err := r.readU2()
	if err != nil {
		return nil, err
	}
	cf.Interfaces = make([]uint16, n)
	for i := range cf.Interfaces {
		if cf.Interfaces[i], err = r.readU2(); err != nil {
			return nil, err
		}
	}
	if cf.Fields, err = parseMembers(r); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	if cf.Methods, err = parseMembers(r); err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}
	if cf.Attributes, err = parseAttributes(r); err != nil {
		return nil, fmt.Errorf("class attributes: %w", err)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after class file", r.remaining())
	}
	if _, err := cf.Pool.ClassName(cf.ThisClass); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	return cf, nil
}

func parseMembers(r *byteReader) ([]*Member, error) {
	n, err := r.readU2()
	if err != nil {
		return nil, err
	}
	members := make([]*Member, 0, n)
	for i := 0; i < int(n); i++ {
		m := &Member{}
		if m.AccessFlags, err = r.readU2(); err != nil {
			return nil, err
		}
		if m.NameIndex, err = r.readU2(); err != nil {
			return nil, err
		}
		if m.DescriptorIndex, err = r.readU2(); err != nil {
			return nil, err
		}
		if m.Attributes, err = parseAttributes(r); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

func parseAttributes(r *byteReader) ([]*Attribute, error) {
	n, err := r.readU2()
	if err != nil {
		return nil, err
	}
	attrs := make([]*Attribute, 0, n)
	for i := 0; i < int(n); i++ {
		a := &Attribute{}
		if a.NameIndex, err = r.readU2(); err != nil {
			return nil, err
		}
		length, err := r.readU4()
		if err != nil {
			return nil, err
		}
		info, err := r.readBytes(int(length))
		if err != nil {
			return nil, err
		}
		a.Info = info
		attrs = append(attrs, a)
	}
	return attrs, nil
}

// Bytes encodes the class file.
func (cf *ClassFile) Bytes() ([]byte, error) {
	w := &byteWriter{}
	w.u4(magic)
	w.u2(cf.MinorVersion)
	w.u2(cf.MajorVersion)
	if err := cf.Pool.write(w); err != nil {
		return nil, err
	}
	w.u2(cf.AccessFlags)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)
	if err := w.count(len(cf.Interfaces), "interfaces"); err != nil {
		return nil, err
	}
	for _, i := range cf.Interfaces {
		w.u2(i)
	}
	for _, members := range [][]*Member{cf.Fields, cf.Methods} {
		if err := w.count(len(members), "members"); err != nil {
			return nil, err
		}
		for _, m := range members {
			w.u2(m.AccessFlags)
			w.u2(m.NameIndex)
			w.u2(m.DescriptorIndex)
			if err := writeAttributes(w, m.Attributes); err != nil {
				return nil, err
			}
		}
	}
	if err := writeAttributes(w, cf.Attributes); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

func writeAttributes(w *byteWriter, attrs []*Attribute) error {
	if err := w.count(len(attrs), "attributes"); err != nil {
		return err
	}
	for _, a := range attrs {
		w.u2(a.NameIndex)
		if err := w.length(len(a.Info)); err != nil {
			return err
		}
		w.raw(a.Info)
	}
	return nil
}

// Name returns the internal name of the class.
func (cf *ClassFile) Name() string {
	name, _ := cf.Pool.ClassName(cf.ThisClass)
	return name
}

// SuperName returns the internal name of the superclass, or "" for
// java/lang/Object and module-info.
func (cf *ClassFile) SuperName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	name, _ := cf.Pool.ClassName(cf.SuperClass)
	return name
}

// InterfaceNames returns the internal names of the direct superinterfaces.
func (cf *ClassFile) InterfaceNames() []string {
	names := make([]string, 0, len(cf.Interfaces))
	for _, idx := range cf.Interfaces {
		if name, err := cf.Pool.ClassName(idx); err == nil {
			names = append(names, name)
		}
	}
	return names
}

// MemberName returns the name and descriptor of a field or method.
func (cf *ClassFile) MemberName(m *Member) (string, string, error) {
	name, err := cf.Pool.Utf8(m.NameIndex)
	if err != nil {
		return "", "", err
	}
	desc, err := cf.Pool.Utf8(m.DescriptorIndex)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// AttributeName returns the name of a.
func (cf *ClassFile) AttributeName(a *Attribute) string {
	name, _ := cf.Pool.Utf8(a.NameIndex)
	return name
}

// FindAttribute returns the first attribute called name.
func (cf *ClassFile) FindAttribute(attrs []*Attribute, name string) *Attribute {
	for _, a := range attrs {
		if cf.AttributeName(a) == name {
			return a
		}
	}
	return nil
}

// IsInterface reports whether the class is an interface.
func (cf *ClassFile) IsInterface() bool {
	return cf.AccessFlags&AccInterface != 0
}

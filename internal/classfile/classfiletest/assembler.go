// Package classfiletest assembles small class files and jars for tests.
package classfiletest

import (
	"archive/zip"
	"bytes"
	"os"
	"testing"

	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
	"github.com/stretchr/testify/require"
)

// Class describes a class to assemble.
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	Access     uint16

	pool    *classfile.ConstPool
	fields  []member
	methods []*Method
	attrs   []attr
	err     error
}

type member struct {
	access uint16
	name   string
	desc   string
	attrs  []attr
}

type attr struct {
	name string
	info []byte
}

// NewClass starts a public class extending java/lang/Object.
func NewClass(name string) *Class {
	return &Class{
		Name:   name,
		Super:  "java/lang/Object",
		Access: classfile.AccPublic | 0x0020, // ACC_SUPER
		pool:   classfile.NewConstPool(),
	}
}

// NewInterface starts a public interface.
func NewInterface(name string) *Class {
	c := NewClass(name)
	c.Access = classfile.AccPublic | classfile.AccInterface | 0x0400
	return c
}

// Pool exposes the constant pool so tests can add constants directly.
func (c *Class) Pool() *classfile.ConstPool { return c.pool }

func (c *Class) keep(err error) {
	if c.err == nil && err != nil {
		c.err = err
	}
}

func (c *Class) utf8(s string) uint16 {
	i, err := c.pool.AddUtf8(s)
	c.keep(err)
	return i
}

func (c *Class) class(name string) uint16 {
	i, err := c.pool.AddClass(name)
	c.keep(err)
	return i
}

// Field declares a field.
func (c *Class) Field(access uint16, name, desc string) *Class {
	c.fields = append(c.fields, member{access: access, name: name, desc: desc})
	return c
}

// FieldWithSignature declares a field with a generic Signature attribute.
func (c *Class) FieldWithSignature(access uint16, name, desc, sig string) *Class {
	c.fields = append(c.fields, member{access: access, name: name, desc: desc,
		attrs: []attr{{name: classfile.AttrSignature, info: u2(c.utf8(sig))}}})
	return c
}

// Signature attaches a class-level Signature attribute.
func (c *Class) Signature(sig string) *Class {
	c.attrs = append(c.attrs, attr{name: classfile.AttrSignature, info: u2(c.utf8(sig))})
	return c
}

// RawAttribute attaches an attribute the codec does not interpret.
func (c *Class) RawAttribute(name string, info []byte) *Class {
	c.attrs = append(c.attrs, attr{name: name, info: info})
	return c
}

// AbstractMethod declares a method without code.
func (c *Class) AbstractMethod(access uint16, name, desc string) *Class {
	c.methods = append(c.methods, &Method{class: c, Access: access | 0x0400, Name: name, Desc: desc, abstract: true})
	return c
}

// Method declares a method with code. MaxStack and MaxLocals default to
// generous values.
func (c *Class) Method(access uint16, name, desc string) *Method {
	m := &Method{class: c, Access: access, Name: name, Desc: desc, MaxStack: 8, MaxLocals: 8,
		labels: map[string]int{}}
	c.methods = append(c.methods, m)
	return m
}

// Bytes assembles the class.
func (c *Class) Bytes() ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	cf := &classfile.ClassFile{
		MajorVersion: 52,
		Pool:         c.pool,
		AccessFlags:  c.Access,
		ThisClass:    c.class(c.Name),
	}
	if c.Super != "" {
		cf.SuperClass = c.class(c.Super)
	}
	for _, i := range c.Interfaces {
		cf.Interfaces = append(cf.Interfaces, c.class(i))
	}
	for _, f := range c.fields {
		cf.Fields = append(cf.Fields, c.member(f))
	}
	for _, m := range c.methods {
		mm := member{access: m.Access, name: m.Name, desc: m.Desc}
		if !m.abstract {
			info, err := m.assemble()
			if err != nil {
				return nil, err
			}
			mm.attrs = append(mm.attrs, attr{name: classfile.AttrCode, info: info})
		}
		mm.attrs = append(mm.attrs, m.attrs...)
		cf.Methods = append(cf.Methods, c.member(mm))
	}
	cf.Attributes = c.attributes(c.attrs)
	if c.err != nil {
		return nil, c.err
	}
	return cf.Bytes()
}

// Build assembles the class and fails the test on error.
func (c *Class) Build(t testing.TB) []byte {
	t.Helper()
	data, err := c.Bytes()
	require.NoError(t, err)
	return data
}

func (c *Class) member(m member) *classfile.Member {
	return &classfile.Member{
		AccessFlags:     m.access,
		NameIndex:       c.utf8(m.name),
		DescriptorIndex: c.utf8(m.desc),
		Attributes:      c.attributes(m.attrs),
	}
}

func (c *Class) attributes(list []attr) []*classfile.Attribute {
	out := make([]*classfile.Attribute, 0, len(list))
	for _, a := range list {
		out = append(out, &classfile.Attribute{NameIndex: c.utf8(a.name), Info: a.info})
	}
	return out
}

func u2(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

// Entry is one jar member.
type Entry struct {
	Name string
	Data []byte
}

// ClassEntry names a class file entry after its internal class name.
func ClassEntry(t testing.TB, c *Class) Entry {
	return Entry{Name: c.Name + ".class", Data: c.Build(t)}
}

// JarBytes zips entries in order.
func JarBytes(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		require.NoError(t, err)
		_, err = w.Write(e.Data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// WriteJar writes a jar containing entries to path.
func WriteJar(t testing.TB, path string, entries ...Entry) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, JarBytes(t, entries...), 0o644))
}

// ReadJar returns the entries of the jar at path.
func ReadJar(t testing.TB, path string) []Entry {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var out []Entry
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		require.NoError(t, err)
		out = append(out, Entry{Name: f.Name, Data: buf.Bytes()})
	}
	return out
}

// Sym is shorthand for a member symbol.
func Sym(kind tt.RefKind, owner, name, desc string) tt.Symbol {
	return tt.Symbol{Owner: owner, Name: name, Descriptor: desc, Kind: kind}
}

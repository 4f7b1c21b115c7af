package classfiletest

import "bytes"

// Pair is one named element of an annotation.
type Pair struct {
	Name  string
	Value []byte
}

// Annotation encodes an annotation of type desc.
func (c *Class) Annotation(desc string, pairs ...Pair) []byte {
	var b bytes.Buffer
	b.Write(u2(c.utf8(desc)))
	b.Write(u2(uint16(len(pairs))))
	for _, p := range pairs {
		b.Write(u2(c.utf8(p.Name)))
		b.Write(p.Value)
	}
	return b.Bytes()
}

// Annotations encodes the body of a RuntimeVisibleAnnotations or
// RuntimeInvisibleAnnotations attribute.
func Annotations(annotations ...[]byte) []byte {
	b := u2(uint16(len(annotations)))
	for _, a := range annotations {
		b = append(b, a...)
	}
	return b
}

// ClassValue is a class literal element.
func (c *Class) ClassValue(desc string) []byte {
	return append([]byte{'c'}, u2(c.utf8(desc))...)
}

// EnumValue is an enum constant element.
func (c *Class) EnumValue(desc, name string) []byte {
	return append(append([]byte{'e'}, u2(c.utf8(desc))...), u2(c.utf8(name))...)
}

// StringValue is a string constant element.
func (c *Class) StringValue(s string) []byte {
	return append([]byte{'s'}, u2(c.utf8(s))...)
}

// NestedValue wraps an annotation as an element.
func NestedValue(annotation []byte) []byte {
	return append([]byte{'@'}, annotation...)
}

// ArrayValue is an array element.
func ArrayValue(values ...[]byte) []byte {
	b := append([]byte{'['}, u2(uint16(len(values)))...)
	for _, v := range values {
		b = append(b, v...)
	}
	return b
}

// FieldAttribute attaches an attribute to the most recently declared field.
func (c *Class) FieldAttribute(name string, info []byte) *Class {
	f := &c.fields[len(c.fields)-1]
	f.attrs = append(f.attrs, attr{name: name, info: info})
	return c
}

// Attribute attaches an attribute to the method.
func (m *Method) Attribute(name string, info []byte) *Method {
	m.attrs = append(m.attrs, attr{name: name, info: info})
	return m
}

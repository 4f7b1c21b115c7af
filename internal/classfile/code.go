package classfile

import "fmt"

// ExceptionHandler is one exception_table row. CatchType 0 catches all.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack       uint16
	MaxLocals      uint16
	Code           []byte
	ExceptionTable []ExceptionHandler
	Attributes     []*Attribute
}

// ParseCode decodes the body of a Code attribute.
func ParseCode(info []byte) (*Code, error) {
	r := newByteReader(info)
	c := &Code{}
	var err error
	if c.MaxStack, err = r.readU2(); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = r.readU2(); err != nil {
		return nil, err
	}
	n, err := r.readU4()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("empty code array")
	}
	if c.Code, err = r.readBytes(int(n)); err != nil {
		return nil, err
	}
	count, err := r.readU2()
	if err != nil {
		return nil, err
	}
	c.ExceptionTable = make([]ExceptionHandler, count)
	for i := range c.ExceptionTable {
		e := &c.ExceptionTable[i]
		for _, f := range []*uint16{&e.StartPC, &e.EndPC, &e.HandlerPC, &e.CatchType} {
			if *f, err = r.readU2(); err != nil {
				return nil, err
			}
		}
	}
	if c.Attributes, err = parseAttributes(r); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes in Code attribute", r.remaining())
	}
	return c, nil
}

// Bytes encodes the Code attribute body.
func (c *Code) Bytes() ([]byte, error) {
	w := &byteWriter{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	if err := w.length(len(c.Code)); err != nil {
		return nil, err
	}
	w.raw(c.Code)
	if err := w.count(len(c.ExceptionTable), "exception handlers"); err != nil {
		return nil, err
	}
	for _, e := range c.ExceptionTable {
		w.u2(e.StartPC)
		w.u2(e.EndPC)
		w.u2(e.HandlerPC)
		w.u2(e.CatchType)
	}
	if err := writeAttributes(w, c.Attributes); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

// MethodCode returns the parsed Code attribute of m, or nil for abstract
// and native methods.
func (cf *ClassFile) MethodCode(m *Member) (*Code, *Attribute, error) {
	a := cf.FindAttribute(m.Attributes, AttrCode)
	if a == nil {
		return nil, nil, nil
	}
	code, err := ParseCode(a.Info)
	if err != nil {
		return nil, nil, err
	}
	return code, a, nil
}

package classfile

import (
	"encoding/binary"
	"fmt"
)

// IsAnnotationAttribute reports whether attributes called name hold
// annotation structures that MapAnnotationTypes understands.
func IsAnnotationAttribute(name string) bool {
	switch name {
	case AttrRuntimeVisibleAnnotations, AttrRuntimeInvisibleAnnotations,
		AttrRuntimeVisibleParameterAnnotations, AttrRuntimeInvisibleParameterAnnotations,
		AttrRuntimeVisibleTypeAnnotations, AttrRuntimeInvisibleTypeAnnotations,
		AttrAnnotationDefault:
		return true
	}
	return false
}

// MapAnnotationTypes calls fn with the constant pool index of every type
// descriptor in the annotation attribute info: annotation types, enum
// types and class literals, nested values included. The index fn returns
// is written back into info in place.
func MapAnnotationTypes(name string, info []byte, fn func(idx uint16) (uint16, error)) error {
	a := &annotationWalker{r: newByteReader(info), fn: fn}
	var err error
	switch name {
	case AttrRuntimeVisibleAnnotations, AttrRuntimeInvisibleAnnotations:
		err = a.annotations(false)
	case AttrRuntimeVisibleParameterAnnotations, AttrRuntimeInvisibleParameterAnnotations:
		var n uint8
		if n, err = a.r.readU1(); err != nil {
			break
		}
		for range n {
			if err = a.annotations(false); err != nil {
				break
			}
		}
	case AttrRuntimeVisibleTypeAnnotations, AttrRuntimeInvisibleTypeAnnotations:
		err = a.annotations(true)
	case AttrAnnotationDefault:
		err = a.elementValue()
	default:
		return fmt.Errorf("%s is not an annotation attribute", name)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if a.r.remaining() != 0 {
		return fmt.Errorf("%s: %d trailing bytes", name, a.r.remaining())
	}
	return nil
}

type annotationWalker struct {
	r  *byteReader
	fn func(uint16) (uint16, error)
}

// typeIndex passes the next u2 through fn and stores the result.
func (a *annotationWalker) typeIndex() error {
	at := a.r.offset
	idx, err := a.r.readU2()
	if err != nil {
		return err
	}
	to, err := a.fn(idx)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(a.r.data[at:], to)
	return nil
}

func (a *annotationWalker) annotations(typed bool) error {
	n, err := a.r.readU2()
	if err != nil {
		return err
	}
	for range n {
		if typed {
			if err := a.typeTarget(); err != nil {
				return err
			}
		}
		if err := a.annotation(); err != nil {
			return err
		}
	}
	return nil
}

func (a *annotationWalker) annotation() error {
	if err := a.typeIndex(); err != nil {
		return err
	}
	pairs, err := a.r.readU2()
	if err != nil {
		return err
	}
	for range pairs {
		if err := a.r.skip(2); err != nil {
			return err
		}
		if err := a.elementValue(); err != nil {
			return err
		}
	}
	return nil
}

func (a *annotationWalker) elementValue() error {
	tag, err := a.r.readU1()
	if err != nil {
		return err
	}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		return a.r.skip(2)
	case 'e':
		if err := a.typeIndex(); err != nil {
			return err
		}
		return a.r.skip(2)
	case 'c':
		return a.typeIndex()
	case '@':
		return a.annotation()
	case '[':
		n, err := a.r.readU2()
		if err != nil {
			return err
		}
		for range n {
			if err := a.elementValue(); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown element value tag %q", tag)
}

// typeTarget skips the target_info and type_path that prefix a type
// annotation.
func (a *annotationWalker) typeTarget() error {
	kind, err := a.r.readU1()
	if err != nil {
		return err
	}
	switch {
	case kind == 0x00, kind == 0x01, kind == 0x16:
		err = a.r.skip(1)
	case kind == 0x10, kind == 0x11, kind == 0x12, kind == 0x17, kind == 0x42,
		kind >= 0x43 && kind <= 0x46:
		err = a.r.skip(2)
	case kind >= 0x13 && kind <= 0x15:
	case kind == 0x40, kind == 0x41:
		var n uint16
		if n, err = a.r.readU2(); err == nil {
			err = a.r.skip(6 * int(n))
		}
	case kind >= 0x47 && kind <= 0x4b:
		err = a.r.skip(3)
	default:
		return fmt.Errorf("unknown type annotation target 0x%02x", kind)
	}
	if err != nil {
		return err
	}
	path, err := a.r.readU1()
	if err != nil {
		return err
	}
	return a.r.skip(2 * int(path))
}

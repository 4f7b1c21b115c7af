package classfile

import "fmt"

// LineNumber maps the instruction at StartPC to a source line.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// LocalVariable is one row of a LocalVariableTable or
// LocalVariableTypeTable. DescriptorIndex holds the signature index for
// the type table.
type LocalVariable struct {
	StartPC         uint16
	Length          uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Index           uint16
}

// ParseLineNumberTable decodes a LineNumberTable attribute body.
func ParseLineNumberTable(info []byte) ([]LineNumber, error) {
	r := newByteReader(info)
	n, err := r.readU2()
	if err != nil {
		return nil, err
	}
	out := make([]LineNumber, n)
	for i := range out {
		if out[i].StartPC, err = r.readU2(); err != nil {
			return nil, err
		}
		if out[i].Line, err = r.readU2(); err != nil {
			return nil, err
		}
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes in LineNumberTable", r.remaining())
	}
	return out, nil
}

// EncodeLineNumberTable encodes a LineNumberTable attribute body.
func EncodeLineNumberTable(lines []LineNumber) ([]byte, error) {
	w := &byteWriter{}
	if err := w.count(len(lines), "line numbers"); err != nil {
		return nil, err
	}
	for _, l := range lines {
		w.u2(l.StartPC)
		w.u2(l.Line)
	}
	return w.bytes(), nil
}

// ParseLocalVariableTable decodes a LocalVariableTable or
// LocalVariableTypeTable attribute body.
func ParseLocalVariableTable(info []byte) ([]LocalVariable, error) {
	r := newByteReader(info)
	n, err := r.readU2()
	if err != nil {
		return nil, err
	}
	out := make([]LocalVariable, n)
	for i := range out {
		v := &out[i]
		for _, f := range []*uint16{&v.StartPC, &v.Length, &v.NameIndex, &v.DescriptorIndex, &v.Index} {
			if *f, err = r.readU2(); err != nil {
				return nil, err
			}
		}
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes in local variable table", r.remaining())
	}
	return out, nil
}

// EncodeLocalVariableTable encodes a LocalVariableTable or
// LocalVariableTypeTable attribute body.
func EncodeLocalVariableTable(vars []LocalVariable) ([]byte, error) {
	w := &byteWriter{}
	if err := w.count(len(vars), "local variables"); err != nil {
		return nil, err
	}
	for _, v := range vars {
		w.u2(v.StartPC)
		w.u2(v.Length)
		w.u2(v.NameIndex)
		w.u2(v.DescriptorIndex)
		w.u2(v.Index)
	}
	return w.bytes(), nil
}

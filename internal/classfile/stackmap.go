package classfile

import "fmt"

// Verification type tags.
const (
	VerifyTop               uint8 = 0
	VerifyInteger           uint8 = 1
	VerifyFloat             uint8 = 2
	VerifyDouble            uint8 = 3
	VerifyLong              uint8 = 4
	VerifyNull              uint8 = 5
	VerifyUninitializedThis uint8 = 6
	VerifyObject            uint8 = 7
	VerifyUninitialized     uint8 = 8
)

// VerificationType is one verification_type_info. Index is the class
// constant of an Object type; Offset is the `new` instruction of an
// Uninitialized type.
type VerificationType struct {
	Tag    uint8
	Index  uint16
	Offset int
}

// FrameKind is the compression form of a stack map frame.
type FrameKind uint8

const (
	FrameSame FrameKind = iota
	FrameSameLocals1
	FrameChop
	FrameAppend
	FrameFull
)

// StackMapFrame is a frame with its absolute code offset. Chop holds the
// number of removed locals of a chop frame.
type StackMapFrame struct {
	Kind   FrameKind
	Offset int
	Chop   int
	Locals []VerificationType
	Stack  []VerificationType
	// Extended records that a same or same_locals_1 frame used the
	// extended form even though its delta fits the short one.
	Extended bool
}

// ParseStackMapTable decodes a StackMapTable attribute body.
func ParseStackMapTable(info []byte) ([]*StackMapFrame, error) {
	r := newByteReader(info)
	n, err := r.readU2()
	if err != nil {
		return nil, err
	}
	frames := make([]*StackMapFrame, 0, n)
	prev := -1
	for i := 0; i < int(n); i++ {
		t, err := r.readU1()
		if err != nil {
			return nil, err
		}
		f := &StackMapFrame{}
		var delta int
		switch {
		case t <= 63:
			f.Kind, delta = FrameSame, int(t)
		case t <= 127:
			f.Kind, delta = FrameSameLocals1, int(t-64)
			v, err := readVerificationType(r)
			if err != nil {
				return nil, err
			}
			f.Stack = []VerificationType{v}
		case t < 247:
			return nil, fmt.Errorf("reserved stack map frame type %d", t)
		case t == 247:
			f.Kind = FrameSameLocals1
			if delta, err = readDelta(r); err != nil {
				return nil, err
			}
			f.Extended = delta <= 63
			v, err := readVerificationType(r)
			if err != nil {
				return nil, err
			}
			f.Stack = []VerificationType{v}
		case t <= 250:
			f.Kind, f.Chop = FrameChop, int(251-t)
			if delta, err = readDelta(r); err != nil {
				return nil, err
			}
		case t == 251:
			f.Kind = FrameSame
			if delta, err = readDelta(r); err != nil {
				return nil, err
			}
			f.Extended = delta <= 63
		case t <= 254:
			f.Kind = FrameAppend
			if delta, err = readDelta(r); err != nil {
				return nil, err
			}
			if f.Locals, err = readVerificationTypes(r, int(t-251)); err != nil {
				return nil, err
			}
		default:
			f.Kind = FrameFull
			if delta, err = readDelta(r); err != nil {
				return nil, err
			}
			nl, err := r.readU2()
			if err != nil {
				return nil, err
			}
			if f.Locals, err = readVerificationTypes(r, int(nl)); err != nil {
				return nil, err
			}
			ns, err := r.readU2()
			if err != nil {
				return nil, err
			}
			if f.Stack, err = readVerificationTypes(r, int(ns)); err != nil {
				return nil, err
			}
		}
		f.Offset = prev + delta + 1
		prev = f.Offset
		frames = append(frames, f)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes in StackMapTable", r.remaining())
	}
	return frames, nil
}

func readDelta(r *byteReader) (int, error) {
	v, err := r.readU2()
	return int(v), err
}

func readVerificationTypes(r *byteReader, n int) ([]VerificationType, error) {
	out := make([]VerificationType, 0, n)
	for i := 0; i < n; i++ {
		v, err := readVerificationType(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readVerificationType(r *byteReader) (VerificationType, error) {
	tag, err := r.readU1()
	if err != nil {
		return VerificationType{}, err
	}
	v := VerificationType{Tag: tag}
	switch {
	case tag == VerifyObject:
		if v.Index, err = r.readU2(); err != nil {
			return v, err
		}
	case tag == VerifyUninitialized:
		off, err := r.readU2()
		if err != nil {
			return v, err
		}
		v.Offset = int(off)
	case tag > VerifyUninitialized:
		return v, fmt.Errorf("invalid verification type tag %d", tag)
	}
	return v, nil
}

// EncodeStackMapTable encodes frames, which must be sorted by strictly
// increasing offset.
func EncodeStackMapTable(frames []*StackMapFrame) ([]byte, error) {
	w := &byteWriter{}
	if err := w.count(len(frames), "stack map frames"); err != nil {
		return nil, err
	}
	prev := -1
	for _, f := range frames {
		delta := f.Offset - prev - 1
		if delta < 0 || delta > 0xFFFF {
			return nil, fmt.Errorf("stack map frame at %d is out of order", f.Offset)
		}
		prev = f.Offset
		short := delta <= 63 && !f.Extended
		switch f.Kind {
		case FrameSame:
			if short {
				w.u1(uint8(delta))
			} else {
				w.u1(251)
				w.u2(uint16(delta))
			}
		case FrameSameLocals1:
			if len(f.Stack) != 1 {
				return nil, fmt.Errorf("same_locals_1 frame at %d has %d stack items", f.Offset, len(f.Stack))
			}
			if short {
				w.u1(uint8(64 + delta))
			} else {
				w.u1(247)
				w.u2(uint16(delta))
			}
			writeVerificationType(w, f.Stack[0])
		case FrameChop:
			if f.Chop < 1 || f.Chop > 3 {
				return nil, fmt.Errorf("chop frame at %d removes %d locals", f.Offset, f.Chop)
			}
			w.u1(uint8(251 - f.Chop))
			w.u2(uint16(delta))
		case FrameAppend:
			if len(f.Locals) < 1 || len(f.Locals) > 3 {
				return nil, fmt.Errorf("append frame at %d adds %d locals", f.Offset, len(f.Locals))
			}
			w.u1(uint8(251 + len(f.Locals)))
			w.u2(uint16(delta))
			for _, v := range f.Locals {
				writeVerificationType(w, v)
			}
		case FrameFull:
			w.u1(255)
			w.u2(uint16(delta))
			for _, list := range [][]VerificationType{f.Locals, f.Stack} {
				if err := w.count(len(list), "verification types"); err != nil {
					return nil, err
				}
				for _, v := range list {
					writeVerificationType(w, v)
				}
			}
		}
	}
	return w.bytes(), nil
}

func writeVerificationType(w *byteWriter, v VerificationType) {
	w.u1(v.Tag)
	switch v.Tag {
	case VerifyObject:
		w.u2(v.Index)
	case VerifyUninitialized:
		w.u2(uint16(v.Offset))
	}
}

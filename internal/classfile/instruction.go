package classfile

import (
	"errors"
	"fmt"
	"math"
)

// ErrBranchOverflow is returned when a relocated branch no longer fits its
// encoding.
var ErrBranchOverflow = errors.New("branch offset does not fit in 16 bits")

// Instruction is one decoded bytecode instruction. Branch and switch
// targets are absolute code offsets.
type Instruction struct {
	Offset int
	Opcode uint8
	Wide   bool

	Index uint16 // constant pool operand
	Local uint16 // local variable operand
	Value int32  // bipush/sipush immediate, iinc delta, newarray element type
	Count uint8  // invokeinterface argument slots, multianewarray dimensions

	Target  int     // branch target, switch default
	Low     int32   // tableswitch low bound
	Keys    []int32 // lookupswitch match keys
	Targets []int   // switch case targets
}

func (ins *Instruction) String() string {
	return fmt.Sprintf("%d: %s", ins.Offset, OpcodeName(ins.Opcode))
}

// IsBranch reports whether the instruction carries jump targets.
func (ins *Instruction) IsBranch() bool {
	switch opcodes[ins.Opcode].operand {
	case operandBranch2, operandBranch4, operandTableSwitch, operandLookupSwitch:
		return true
	}
	return false
}

// Len returns the encoded size of the instruction when placed at offset at.
func (ins *Instruction) Len(at int) int {
	switch opcodes[ins.Opcode].operand {
	case operandLocal:
		if ins.Wide {
			return 4
		}
		return 2
	case operandIinc:
		if ins.Wide {
			return 6
		}
		return 3
	case operandByte, operandConst1, operandArrayType:
		return 2
	case operandShort, operandConst2, operandBranch2:
		return 3
	case operandMultiArray:
		return 4
	case operandInterface, operandDynamic, operandBranch4:
		return 5
	case operandTableSwitch:
		return 1 + switchPadding(at) + 12 + 4*len(ins.Targets)
	case operandLookupSwitch:
		return 1 + switchPadding(at) + 8 + 8*len(ins.Targets)
	}
	return 1
}

// switchPadding is the number of zero bytes after a switch opcode at at,
// aligning the operands to a multiple of four from the start of the code.
func switchPadding(at int) int {
	return (4 - (at+1)%4) % 4
}

// DecodeInstructions decodes a method body. Undefined opcodes and targets
// that do not land on an instruction boundary are errors.
func DecodeInstructions(code []byte) ([]*Instruction, error) {
	r := newByteReader(code)
	var list []*Instruction
	for r.remaining() > 0 {
		ins, err := decodeOne(r)
		if err != nil {
			return nil, err
		}
		list = append(list, ins)
	}
	if err := checkTargets(list, len(code)); err != nil {
		return nil, err
	}
	return list, nil
}

func decodeOne(r *byteReader) (*Instruction, error) {
	at := r.offset
	op, err := r.readU1()
	if err != nil {
		return nil, err
	}
	ins := &Instruction{Offset: at, Opcode: op}
	info := opcodes[op]
	if info.name == "" {
		return nil, fmt.Errorf("undefined opcode 0x%02x at offset %d", op, at)
	}

	switch info.operand {
	case operandNone:
	case operandWide:
		inner, err := r.readU1()
		if err != nil {
			return nil, err
		}
		k := opcodes[inner].operand
		if k != operandLocal && k != operandIinc {
			return nil, fmt.Errorf("wide applied to %s at offset %d", OpcodeName(inner), at)
		}
		ins.Opcode, ins.Wide = inner, true
		if ins.Local, err = r.readU2(); err != nil {
			return nil, err
		}
		if k == operandIinc {
			v, err := r.readU2()
			if err != nil {
				return nil, err
			}
			ins.Value = int32(int16(v))
		}
	case operandLocal:
		v, err := r.readU1()
		if err != nil {
			return nil, err
		}
		ins.Local = uint16(v)
	case operandIinc:
		v, err := r.readU1()
		if err != nil {
			return nil, err
		}
		d, err := r.readU1()
		if err != nil {
			return nil, err
		}
		ins.Local, ins.Value = uint16(v), int32(int8(d))
	case operandByte:
		v, err := r.readU1()
		if err != nil {
			return nil, err
		}
		ins.Value = int32(int8(v))
	case operandShort:
		v, err := r.readU2()
		if err != nil {
			return nil, err
		}
		ins.Value = int32(int16(v))
	case operandArrayType:
		v, err := r.readU1()
		if err != nil {
			return nil, err
		}
		ins.Value = int32(v)
	case operandConst1:
		v, err := r.readU1()
		if err != nil {
			return nil, err
		}
		ins.Index = uint16(v)
	case operandConst2:
		if ins.Index, err = r.readU2(); err != nil {
			return nil, err
		}
	case operandInterface:
		if ins.Index, err = r.readU2(); err != nil {
			return nil, err
		}
		if ins.Count, err = r.readU1(); err != nil {
			return nil, err
		}
		if err := r.skip(1); err != nil {
			return nil, err
		}
	case operandDynamic:
		if ins.Index, err = r.readU2(); err != nil {
			return nil, err
		}
		if err := r.skip(2); err != nil {
			return nil, err
		}
	case operandMultiArray:
		if ins.Index, err = r.readU2(); err != nil {
			return nil, err
		}
		if ins.Count, err = r.readU1(); err != nil {
			return nil, err
		}
	case operandBranch2:
		v, err := r.readU2()
		if err != nil {
			return nil, err
		}
		ins.Target = at + int(int16(v))
	case operandBranch4:
		v, err := r.readI4()
		if err != nil {
			return nil, err
		}
		ins.Target = at + int(v)
	case operandTableSwitch, operandLookupSwitch:
		if err := decodeSwitch(r, ins); err != nil {
			return nil, err
		}
	}
	return ins, nil
}

func decodeSwitch(r *byteReader, ins *Instruction) error {
	at := ins.Offset
	if err := r.skip(switchPadding(at)); err != nil {
		return err
	}
	def, err := r.readI4()
	if err != nil {
		return err
	}
	ins.Target = at + int(def)

	if ins.Opcode == OpTableswitch {
		low, err := r.readI4()
		if err != nil {
			return err
		}
		high, err := r.readI4()
		if err != nil {
			return err
		}
		n := int64(high) - int64(low) + 1
		if n < 0 || n*4 > int64(r.remaining()) {
			return fmt.Errorf("tableswitch at offset %d has invalid bounds [%d, %d]", at, low, high)
		}
		ins.Low = low
		ins.Targets = make([]int, n)
		for i := range ins.Targets {
			off, err := r.readI4()
			if err != nil {
				return err
			}
			ins.Targets[i] = at + int(off)
		}
		return nil
	}

	n, err := r.readI4()
	if err != nil {
		return err
	}
	if n < 0 || int64(n)*8 > int64(r.remaining()) {
		return fmt.Errorf("lookupswitch at offset %d has invalid pair count %d", at, n)
	}
	ins.Keys = make([]int32, n)
	ins.Targets = make([]int, n)
	for i := range ins.Targets {
		if ins.Keys[i], err = r.readI4(); err != nil {
			return err
		}
		off, err := r.readI4()
		if err != nil {
			return err
		}
		ins.Targets[i] = at + int(off)
	}
	return nil
}

func checkTargets(list []*Instruction, codeLen int) error {
	starts := make(map[int]struct{}, len(list))
	for _, ins := range list {
		starts[ins.Offset] = struct{}{}
	}
	check := func(ins *Instruction, t int) error {
		if _, ok := starts[t]; !ok {
			return fmt.Errorf("%s jumps to %d, not an instruction boundary (code length %d)", ins, t, codeLen)
		}
		return nil
	}
	for _, ins := range list {
		if !ins.IsBranch() {
			continue
		}
		if err := check(ins, ins.Target); err != nil {
			return err
		}
		for _, t := range ins.Targets {
			if err := check(ins, t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Layout assigns consecutive offsets to list and returns the code length.
func Layout(list []*Instruction) int {
	at := 0
	for _, ins := range list {
		ins.Offset = at
		at += ins.Len(at)
	}
	return at
}

// EncodeInstructions writes list using the offsets assigned by Layout.
func EncodeInstructions(list []*Instruction) ([]byte, error) {
	w := &byteWriter{}
	for _, ins := range list {
		if w.buf.Len() != ins.Offset {
			return nil, fmt.Errorf("%s: stale layout, writer is at %d", ins, w.buf.Len())
		}
		if err := encodeOne(w, ins); err != nil {
			return nil, err
		}
	}
	return w.bytes(), nil
}

func encodeOne(w *byteWriter, ins *Instruction) error {
	info := opcodes[ins.Opcode]
	if info.name == "" || info.operand == operandWide {
		return fmt.Errorf("cannot encode opcode 0x%02x", ins.Opcode)
	}
	if ins.Wide {
		w.u1(OpWide)
	}
	w.u1(ins.Opcode)

	switch info.operand {
	case operandLocal:
		if ins.Wide {
			w.u2(ins.Local)
		} else {
			if ins.Local > math.MaxUint8 {
				return fmt.Errorf("%s: local %d needs wide", ins, ins.Local)
			}
			w.u1(uint8(ins.Local))
		}
	case operandIinc:
		if ins.Wide {
			w.u2(ins.Local)
			w.u2(uint16(int16(ins.Value)))
		} else {
			w.u1(uint8(ins.Local))
			w.u1(uint8(int8(ins.Value)))
		}
	case operandByte:
		w.u1(uint8(int8(ins.Value)))
	case operandArrayType:
		w.u1(uint8(ins.Value))
	case operandShort:
		w.u2(uint16(int16(ins.Value)))
	case operandConst1:
		if ins.Index > math.MaxUint8 {
			return fmt.Errorf("%s: constant index %d needs ldc_w", ins, ins.Index)
		}
		w.u1(uint8(ins.Index))
	case operandConst2:
		w.u2(ins.Index)
	case operandInterface:
		w.u2(ins.Index)
		w.u1(ins.Count)
		w.u1(0)
	case operandDynamic:
		w.u2(ins.Index)
		w.u2(0)
	case operandMultiArray:
		w.u2(ins.Index)
		w.u1(ins.Count)
	case operandBranch2:
		rel := ins.Target - ins.Offset
		if rel < math.MinInt16 || rel > math.MaxInt16 {
			return fmt.Errorf("%s: %w", ins, ErrBranchOverflow)
		}
		w.u2(uint16(int16(rel)))
	case operandBranch4:
		w.u4(uint32(int32(ins.Target - ins.Offset)))
	case operandTableSwitch, operandLookupSwitch:
		for i := 0; i < switchPadding(ins.Offset); i++ {
			w.u1(0)
		}
		w.u4(uint32(int32(ins.Target - ins.Offset)))
		if ins.Opcode == OpTableswitch {
			high := int64(ins.Low) + int64(len(ins.Targets)) - 1
			w.u4(uint32(ins.Low))
			w.u4(uint32(int32(high)))
			for _, t := range ins.Targets {
				w.u4(uint32(int32(t - ins.Offset)))
			}
			return nil
		}
		if err := w.length(len(ins.Targets)); err != nil {
			return err
		}
		for i, t := range ins.Targets {
			w.u4(uint32(ins.Keys[i]))
			w.u4(uint32(int32(t - ins.Offset)))
		}
	}
	return nil
}

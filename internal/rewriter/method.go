package rewriter

import (
	"fmt"
	"math"
	"sort"

	"github.com/gnolang/classmig/internal/classfile"
	"github.com/gnolang/classmig/internal/rules"
)

// method holds the rewrite state of one method body.
type method struct {
	index int // position in the class's method list
	name  string
	code  *classfile.Code
	attr  *classfile.Attribute
	insns []*classfile.Instruction
	arena *arena

	matches []rules.Match
	// grow is the extra operand stack a collapse may need: the successor
	// receives all its arguments at once.
	grow    int
	changed bool // code bytes must be re-encoded
	dirty   bool // Code attribute must be re-encoded
}

func (r *Rewriter) loadMethod(cf *classfile.ClassFile, index int) (*method, error) {
	m := cf.Methods[index]
	code, attr, err := cf.MethodCode(m)
	if err != nil || code == nil {
		return nil, err
	}
	name, _, err := cf.MemberName(m)
	if err != nil {
		return nil, err
	}
	insns, err := classfile.DecodeInstructions(code.Code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &method{
		index: index,
		name:  name,
		code:  code,
		attr:  attr,
		insns: insns,
		arena: newArena(insns, len(code.Code)),
	}, nil
}

// view reduces the method to what window rules match on.
func (mt *method) view(pool *classfile.ConstPool) ([]rules.Insn, error) {
	targets := make(map[int]struct{})
	for _, ins := range mt.insns {
		if !ins.IsBranch() {
			continue
		}
		targets[ins.Target] = struct{}{}
		for _, t := range ins.Targets {
			targets[t] = struct{}{}
		}
	}
	for _, h := range mt.code.ExceptionTable {
		targets[int(h.StartPC)] = struct{}{}
		targets[int(h.EndPC)] = struct{}{}
		targets[int(h.HandlerPC)] = struct{}{}
	}

	view := make([]rules.Insn, len(mt.insns))
	for i, ins := range mt.insns {
		in := rules.Insn{Op: ins.Opcode}
		_, in.Target = targets[ins.Offset]
		switch {
		case classfile.IsInvoke(ins.Opcode) || classfile.IsFieldAccess(ins.Opcode):
			sym, err := pool.MemberRef(ins.Index)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ins, err)
			}
			in.Member = &sym
		case ins.Opcode >= classfile.OpIconstM1 && ins.Opcode <= classfile.OpIconst5:
			v := int32(ins.Opcode) - int32(classfile.OpIconst0)
			in.Const = &v
		case ins.Opcode == classfile.OpBipush || ins.Opcode == classfile.OpSipush:
			v := ins.Value
			in.Const = &v
		case ins.Opcode == classfile.OpLdc || ins.Opcode == classfile.OpLdcW:
			c, err := pool.At(ins.Index)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ins, err)
			}
			if c.Kind == classfile.ConstantKindInteger && len(c.Value) == 4 {
				v := int32(uint32(c.Value[0])<<24 | uint32(c.Value[1])<<16 | uint32(c.Value[2])<<8 | uint32(c.Value[3]))
				in.Const = &v
			}
		}
		view[i] = in
	}
	return view, nil
}

// match finds non-overlapping window matches left to right, taking the
// longest window when several rules match at the same instruction.
func match(view []rules.Insn, windows []rules.WindowRule) []rules.Match {
	var out []rules.Match
	for i := 0; i < len(view); {
		var best rules.Match
		found := false
		for _, w := range windows {
			m, ok := w.TryMatch(view, i)
			if ok && (!found || m.Len() > best.Len()) {
				best, found = m, true
			}
		}
		if !found {
			i++
			continue
		}
		out = append(out, best)
		i = best.End
	}
	return out
}

// splice applies the matches to the instruction list. Constants of the
// replaced calls stay in the pool unreferenced; the pool only grows, so
// indices held by attributes the rewriter does not decode stay valid.
func (mt *method) splice(pool *classfile.ConstPool) error {
	for _, m := range mt.matches {
		md, err := classfile.ParseMethodDescriptor(m.Call.Sym.Descriptor)
		if err != nil {
			return err
		}
		idx, err := pool.AddMemberRef(m.Call.Sym)
		if err != nil {
			return err
		}
		for _, d := range m.Delete {
			mt.arena.remove(nodeID(d))
		}
		ins := mt.insns[m.Replace]
		ins.Opcode, ins.Index, ins.Count = m.Call.Op, idx, 0
		if m.Call.Op == classfile.OpInvokeinterface {
			ins.Count = uint8(md.ArgSlots() + 1)
		}
		if slots := md.ArgSlots() + 1; slots > mt.grow {
			mt.grow = slots
		}
		mt.changed = true
	}
	return nil
}

// fixDispatch flips invoke opcodes whose constant changed between a class
// and an interface method reference.
func (mt *method) fixDispatch(pool *classfile.ConstPool, flipped map[uint16]struct{}) error {
	if len(flipped) == 0 {
		return nil
	}
	for id := mt.arena.head; id != none; id = mt.arena.nodes[id].next {
		ins := mt.arena.nodes[id].ins
		if _, ok := flipped[ins.Index]; !ok {
			continue
		}
		if ins.Opcode != classfile.OpInvokevirtual && ins.Opcode != classfile.OpInvokeinterface {
			continue
		}
		c, err := pool.At(ins.Index)
		if err != nil {
			return err
		}
		switch {
		case c.Kind == classfile.ConstantKindInterfaceMethodref && ins.Opcode == classfile.OpInvokevirtual:
			sym, err := pool.MemberRef(ins.Index)
			if err != nil {
				return err
			}
			md, err := classfile.ParseMethodDescriptor(sym.Descriptor)
			if err != nil {
				return err
			}
			ins.Opcode, ins.Count = classfile.OpInvokeinterface, uint8(md.ArgSlots()+1)
			mt.changed = true
		case c.Kind == classfile.ConstantKindMethodref && ins.Opcode == classfile.OpInvokeinterface:
			ins.Opcode, ins.Count = classfile.OpInvokevirtual, 0
			mt.changed = true
		}
	}
	return nil
}

// relink lays the code out again and moves every offset-bearing table to
// the new positions.
func (mt *method) relink(cf *classfile.ClassFile) error {
	a := mt.arena
	if err := a.layout(); err != nil {
		return err
	}
	body, err := classfile.EncodeInstructions(a.live())
	if err != nil {
		return err
	}
	mt.code.Code = body

	var handlers []classfile.ExceptionHandler
	for _, h := range mt.code.ExceptionTable {
		start, err := a.target(int(h.StartPC))
		if err != nil {
			return err
		}
		end, err := a.target(int(h.EndPC))
		if err != nil {
			return err
		}
		handler, err := a.target(int(h.HandlerPC))
		if err != nil {
			return err
		}
		if start >= end {
			continue
		}
		handlers = append(handlers, classfile.ExceptionHandler{
			StartPC: uint16(start), EndPC: uint16(end), HandlerPC: uint16(handler), CatchType: h.CatchType,
		})
	}
	mt.code.ExceptionTable = handlers

	if grown := int(mt.code.MaxStack) + mt.grow; grown > math.MaxUint16 {
		mt.code.MaxStack = math.MaxUint16
	} else {
		mt.code.MaxStack = uint16(grown)
	}

	var attrs []*classfile.Attribute
	for _, attr := range mt.code.Attributes {
		var info []byte
		switch cf.AttributeName(attr) {
		case classfile.AttrLineNumberTable:
			info, err = mt.relinkLines(attr.Info)
		case classfile.AttrLocalVariableTable, classfile.AttrLocalVariableTypeTable:
			info, err = mt.relinkLocals(attr.Info)
		case classfile.AttrStackMapTable:
			info, err = mt.relinkFrames(attr.Info)
		default:
			// Other code attributes (type annotations and the like) carry
			// offsets this package does not model.
			continue
		}
		if err != nil {
			return err
		}
		attrs = append(attrs, &classfile.Attribute{NameIndex: attr.NameIndex, Info: info})
	}
	mt.code.Attributes = attrs
	mt.dirty = true
	return nil
}

func (mt *method) relinkLines(info []byte) ([]byte, error) {
	lines, err := classfile.ParseLineNumberTable(info)
	if err != nil {
		return nil, err
	}
	type row struct {
		classfile.LineNumber
		moved bool
	}
	rows := make([]row, 0, len(lines))
	owner := make(map[uint16]int) // new pc -> index in rows
	for _, l := range lines {
		pc, err := mt.arena.target(int(l.StartPC))
		if err != nil {
			return nil, err
		}
		if pc >= mt.arena.size {
			continue
		}
		r := row{LineNumber: classfile.LineNumber{StartPC: uint16(pc), Line: l.Line}, moved: mt.arena.forwarded(int(l.StartPC))}
		if i, dup := owner[r.StartPC]; dup {
			// A deleted instruction's line yields to the line of the
			// instruction that took its place.
			if rows[i].moved && !r.moved {
				rows[i] = r
			}
			continue
		}
		owner[r.StartPC] = len(rows)
		rows = append(rows, r)
	}
	out := make([]classfile.LineNumber, len(rows))
	for i, r := range rows {
		out[i] = r.LineNumber
	}
	return classfile.EncodeLineNumberTable(out)
}

func (mt *method) relinkLocals(info []byte) ([]byte, error) {
	vars, err := classfile.ParseLocalVariableTable(info)
	if err != nil {
		return nil, err
	}
	out := vars[:0]
	for _, v := range vars {
		start, err := mt.arena.target(int(v.StartPC))
		if err != nil {
			return nil, err
		}
		end, err := mt.arena.target(int(v.StartPC) + int(v.Length))
		if err != nil {
			return nil, err
		}
		if end <= start {
			continue
		}
		v.StartPC, v.Length = uint16(start), uint16(end-start)
		out = append(out, v)
	}
	return classfile.EncodeLocalVariableTable(out)
}

func (mt *method) relinkFrames(info []byte) ([]byte, error) {
	frames, err := classfile.ParseStackMapTable(info)
	if err != nil {
		return nil, err
	}
	remap := func(list []classfile.VerificationType) error {
		for i := range list {
			if list[i].Tag != classfile.VerifyUninitialized {
				continue
			}
			at, err := mt.arena.target(list[i].Offset)
			if err != nil {
				return err
			}
			list[i].Offset = at
		}
		return nil
	}
	for _, f := range frames {
		if f.Offset, err = mt.arena.target(f.Offset); err != nil {
			return nil, err
		}
		if err := remap(f.Locals); err != nil {
			return nil, err
		}
		if err := remap(f.Stack); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Offset < frames[j].Offset })
	return classfile.EncodeStackMapTable(frames)
}

// store writes the Code attribute back when anything changed.
func (mt *method) store() error {
	if !mt.dirty {
		return nil
	}
	info, err := mt.code.Bytes()
	if err != nil {
		return err
	}
	mt.attr.Info = info
	return nil
}

package rewriter

import (
	"fmt"

	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
)

// check re-reads a rewritten class and validates the method bodies whose
// code changed. A failure is a *types.RewriteInvariantViolation.
func (r *Rewriter) check(out []byte, methods []*method) error {
	cf, err := classfile.Parse(out)
	if err != nil {
		return &tt.RewriteInvariantViolation{Reason: fmt.Sprintf("output does not parse: %v", err)}
	}
	for _, mt := range methods {
		if !mt.changed {
			continue
		}
		if mt.index >= len(cf.Methods) {
			return &tt.RewriteInvariantViolation{Class: cf.Name(), Method: mt.name, Reason: "method disappeared"}
		}
		if err := checkMethod(cf, cf.Methods[mt.index]); err != nil {
			return &tt.RewriteInvariantViolation{Class: cf.Name(), Method: mt.name, Reason: err.Error()}
		}
	}
	return nil
}

// checkMethod validates one body: every instruction decodes, every offset
// in the dependent tables lands on an instruction boundary, and invoke
// opcodes agree with the kind of the constant they use.
func checkMethod(cf *classfile.ClassFile, m *classfile.Member) error {
	code, _, err := cf.MethodCode(m)
	if err != nil {
		return err
	}
	list, err := classfile.DecodeInstructions(code.Code)
	if err != nil {
		return err
	}
	size := len(code.Code)
	starts := make(map[int]struct{}, len(list))
	for _, ins := range list {
		starts[ins.Offset] = struct{}{}
	}
	boundary := func(what string, at int, end bool) error {
		if end && at == size {
			return nil
		}
		if _, ok := starts[at]; !ok {
			return fmt.Errorf("%s at %d is not an instruction boundary", what, at)
		}
		return nil
	}

	for _, ins := range list {
		if err := checkInvoke(cf.Pool, ins); err != nil {
			return err
		}
	}
	for _, h := range code.ExceptionTable {
		if h.StartPC >= h.EndPC {
			return fmt.Errorf("empty exception range [%d, %d)", h.StartPC, h.EndPC)
		}
		if err := boundary("exception range start", int(h.StartPC), false); err != nil {
			return err
		}
		if err := boundary("exception range end", int(h.EndPC), true); err != nil {
			return err
		}
		if err := boundary("exception handler", int(h.HandlerPC), false); err != nil {
			return err
		}
	}

	for _, attr := range code.Attributes {
		switch cf.AttributeName(attr) {
		case classfile.AttrLineNumberTable:
			lines, err := classfile.ParseLineNumberTable(attr.Info)
			if err != nil {
				return err
			}
			for _, l := range lines {
				if err := boundary("line number entry", int(l.StartPC), false); err != nil {
					return err
				}
			}
		case classfile.AttrLocalVariableTable, classfile.AttrLocalVariableTypeTable:
			vars, err := classfile.ParseLocalVariableTable(attr.Info)
			if err != nil {
				return err
			}
			for _, v := range vars {
				if err := boundary("local variable start", int(v.StartPC), false); err != nil {
					return err
				}
				if err := boundary("local variable end", int(v.StartPC)+int(v.Length), true); err != nil {
					return err
				}
			}
		case classfile.AttrStackMapTable:
			frames, err := classfile.ParseStackMapTable(attr.Info)
			if err != nil {
				return err
			}
			for _, f := range frames {
				if err := boundary("stack map frame", f.Offset, false); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkInvoke(pool *classfile.ConstPool, ins *classfile.Instruction) error {
	var want classfile.ConstantKind
	switch ins.Opcode {
	case classfile.OpInvokevirtual:
		want = classfile.ConstantKindMethodref
	case classfile.OpInvokeinterface:
		want = classfile.ConstantKindInterfaceMethodref
	case classfile.OpGetstatic, classfile.OpPutstatic, classfile.OpGetfield, classfile.OpPutfield:
		want = classfile.ConstantKindFieldref
	default:
		return nil
	}
	c, err := pool.At(ins.Index)
	if err != nil {
		return fmt.Errorf("%s: %w", ins, err)
	}
	if c.Kind != want {
		return fmt.Errorf("%s uses constant %d with tag %d", ins, ins.Index, c.Kind)
	}
	if ins.Opcode != classfile.OpInvokeinterface {
		return nil
	}
	sym, err := pool.MemberRef(ins.Index)
	if err != nil {
		return err
	}
	md, err := classfile.ParseMethodDescriptor(sym.Descriptor)
	if err != nil {
		return err
	}
	if int(ins.Count) != md.ArgSlots()+1 {
		return fmt.Errorf("%s declares %d argument slots, %s needs %d", ins, ins.Count, sym, md.ArgSlots()+1)
	}
	return nil
}

package classfiletest

import (
	"fmt"
	"math"
	"sort"

	"github.com/gnolang/classmig/internal/classfile"
	tt "github.com/gnolang/classmig/internal/types"
)

// Method collects the body of one method. Jump targets, frames, handlers
// and local variable ranges refer to labels placed with Label.
type Method struct {
	class     *Class
	Access    uint16
	Name      string
	Desc      string
	MaxStack  uint16
	MaxLocals uint16
	abstract  bool

	code     []*pending
	labels   map[string]int
	lines    []lineMark
	frames   []Frame
	handlers []handlerSpec
	locals   []localSpec
	attrs    []attr
}

type pending struct {
	ins     *classfile.Instruction
	target  string
	targets []string
}

type lineMark struct {
	at   int
	line uint16
}

type handlerSpec struct {
	start, end, handler string
	catch               string
}

type localSpec struct {
	name, desc string
	signature  bool
	index      uint16
	start, end string
}

// VType is a verification type for Frame. Class names an Object type and
// New names the label of the `new` of an Uninitialized type.
type VType struct {
	Tag   uint8
	Class string
	New   string
}

// Frame is a stack map frame placed at Label.
type Frame struct {
	Label  string
	Kind   classfile.FrameKind
	Chop   int
	Locals []VType
	Stack  []VType
}

// Convenience verification types.
var (
	VInt  = VType{Tag: classfile.VerifyInteger}
	VTop  = VType{Tag: classfile.VerifyTop}
	VNull = VType{Tag: classfile.VerifyNull}
)

// VObject is the verification type of an instance of class.
func VObject(class string) VType { return VType{Tag: classfile.VerifyObject, Class: class} }

// VUninit is the verification type created by the `new` at label.
func VUninit(label string) VType { return VType{Tag: classfile.VerifyUninitialized, New: label} }

func (m *Method) emit(ins *classfile.Instruction) *Method {
	m.code = append(m.code, &pending{ins: ins})
	return m
}

// Op emits an instruction without operands.
func (m *Method) Op(op uint8) *Method {
	return m.emit(&classfile.Instruction{Opcode: op})
}

func (m *Method) local(short, long uint8, n uint16) *Method {
	if n < 4 {
		return m.Op(short + uint8(n))
	}
	return m.emit(&classfile.Instruction{Opcode: long, Local: n, Wide: n > math.MaxUint8})
}

// Aload loads reference local n.
func (m *Method) Aload(n uint16) *Method { return m.local(classfile.OpAload0, classfile.OpAload, n) }

// Iload loads int local n.
func (m *Method) Iload(n uint16) *Method { return m.local(classfile.OpIload0, classfile.OpIload, n) }

// Astore stores reference local n.
func (m *Method) Astore(n uint16) *Method { return m.local(0x4b, classfile.OpAstore, n) }

// Istore stores int local n.
func (m *Method) Istore(n uint16) *Method { return m.local(0x3b, classfile.OpIstore, n) }

// Iconst pushes v with the shortest encoding.
func (m *Method) Iconst(v int32) *Method {
	switch {
	case v >= -1 && v <= 5:
		return m.Op(uint8(int32(classfile.OpIconst0) + v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return m.emit(&classfile.Instruction{Opcode: classfile.OpBipush, Value: v})
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return m.emit(&classfile.Instruction{Opcode: classfile.OpSipush, Value: v})
	}
	idx, err := m.class.pool.AddInteger(v)
	m.class.keep(err)
	return m.LdcConst(idx)
}

// AconstNull pushes null.
func (m *Method) AconstNull() *Method { return m.Op(classfile.OpAconstNull) }

// Ldc pushes a string constant.
func (m *Method) Ldc(s string) *Method {
	idx, err := m.class.pool.AddString(s)
	m.class.keep(err)
	return m.LdcConst(idx)
}

// LdcConst pushes the constant at idx using ldc or ldc_w as needed.
func (m *Method) LdcConst(idx uint16) *Method {
	op := classfile.OpLdc
	if idx > math.MaxUint8 {
		op = classfile.OpLdcW
	}
	return m.emit(&classfile.Instruction{Opcode: op, Index: idx})
}

// LdcClass pushes a class literal.
func (m *Method) LdcClass(name string) *Method {
	return m.LdcConst(m.class.class(name))
}

// LdcMethodHandle pushes a method handle constant.
func (m *Method) LdcMethodHandle(refKind uint8, sym tt.Symbol) *Method {
	idx, err := m.class.pool.AddMethodHandle(refKind, sym)
	m.class.keep(err)
	return m.LdcConst(idx)
}

// Field emits a field access.
func (m *Method) Field(op uint8, owner, name, desc string) *Method {
	idx, err := m.class.pool.AddMemberRef(Sym(tt.RefField, owner, name, desc))
	m.class.keep(err)
	return m.emit(&classfile.Instruction{Opcode: op, Index: idx})
}

// Invoke emits a method call. invokeinterface uses an interface method
// reference and derives its count operand from desc.
func (m *Method) Invoke(op uint8, owner, name, desc string) *Method {
	kind := tt.RefMethod
	if op == classfile.OpInvokeinterface {
		kind = tt.RefInterfaceMethod
	}
	return m.InvokeRef(op, Sym(kind, owner, name, desc))
}

// InvokeRef emits a call through an explicit reference kind, for static
// interface methods and similar mixes.
func (m *Method) InvokeRef(op uint8, sym tt.Symbol) *Method {
	idx, err := m.class.pool.AddMemberRef(sym)
	m.class.keep(err)
	ins := &classfile.Instruction{Opcode: op, Index: idx}
	if op == classfile.OpInvokeinterface {
		md, err := classfile.ParseMethodDescriptor(sym.Descriptor)
		m.class.keep(err)
		ins.Count = uint8(md.ArgSlots() + 1)
	}
	return m.emit(ins)
}

func (m *Method) typeOp(op uint8, class string) *Method {
	return m.emit(&classfile.Instruction{Opcode: op, Index: m.class.class(class)})
}

// New allocates an instance of class.
func (m *Method) New(class string) *Method { return m.typeOp(classfile.OpNew, class) }

// Checkcast casts the top of stack to class.
func (m *Method) Checkcast(class string) *Method { return m.typeOp(classfile.OpCheckcast, class) }

// Instanceof tests the top of stack against class.
func (m *Method) Instanceof(class string) *Method { return m.typeOp(classfile.OpInstanceof, class) }

// Anewarray allocates an array of class.
func (m *Method) Anewarray(class string) *Method { return m.typeOp(classfile.OpAnewarray, class) }

// Jump emits a branch to label.
func (m *Method) Jump(op uint8, label string) *Method {
	m.code = append(m.code, &pending{ins: &classfile.Instruction{Opcode: op}, target: label})
	return m
}

// TableSwitch emits a tableswitch over low..low+len(targets)-1.
func (m *Method) TableSwitch(low int32, def string, targets ...string) *Method {
	m.code = append(m.code, &pending{
		ins:    &classfile.Instruction{Opcode: classfile.OpTableswitch, Low: low},
		target: def, targets: targets,
	})
	return m
}

// LookupSwitch emits a lookupswitch; keys must be sorted.
func (m *Method) LookupSwitch(def string, keys []int32, targets ...string) *Method {
	m.code = append(m.code, &pending{
		ins:    &classfile.Instruction{Opcode: classfile.OpLookupswitch, Keys: keys},
		target: def, targets: targets,
	})
	return m
}

// Return emits a return instruction.
func (m *Method) Return(op uint8) *Method { return m.Op(op) }

// Label names the position of the next instruction.
func (m *Method) Label(name string) *Method {
	m.labels[name] = len(m.code)
	return m
}

// Line maps the next instruction to a source line.
func (m *Method) Line(line uint16) *Method {
	m.lines = append(m.lines, lineMark{at: len(m.code), line: line})
	return m
}

// Frame records a stack map frame.
func (m *Method) Frame(f Frame) *Method {
	m.frames = append(m.frames, f)
	return m
}

// Handler adds an exception table row. An empty catch catches everything.
func (m *Method) Handler(start, end, handler, catch string) *Method {
	m.handlers = append(m.handlers, handlerSpec{start: start, end: end, handler: handler, catch: catch})
	return m
}

// Local adds a LocalVariableTable row covering [start, end).
func (m *Method) Local(name, desc string, index uint16, start, end string) *Method {
	m.locals = append(m.locals, localSpec{name: name, desc: desc, index: index, start: start, end: end})
	return m
}

// LocalType adds a LocalVariableTypeTable row covering [start, end).
func (m *Method) LocalType(name, sig string, index uint16, start, end string) *Method {
	m.locals = append(m.locals, localSpec{name: name, desc: sig, signature: true, index: index, start: start, end: end})
	return m
}

// End returns the owning class.
func (m *Method) End() *Class { return m.class }

func (m *Method) assemble() ([]byte, error) {
	list := make([]*classfile.Instruction, len(m.code))
	for i, p := range m.code {
		if len(p.targets) > 0 {
			p.ins.Targets = make([]int, len(p.targets))
		}
		list[i] = p.ins
	}
	size := classfile.Layout(list)
	offset := func(label string) (int, error) {
		i, ok := m.labels[label]
		if !ok {
			return 0, fmt.Errorf("%s: undefined label %q", m.Name, label)
		}
		if i == len(list) {
			return size, nil
		}
		return list[i].Offset, nil
	}
	for _, p := range m.code {
		if p.target == "" {
			continue
		}
		var err error
		if p.ins.Target, err = offset(p.target); err != nil {
			return nil, err
		}
		for i, l := range p.targets {
			if p.ins.Targets[i], err = offset(l); err != nil {
				return nil, err
			}
		}
	}
	body, err := classfile.EncodeInstructions(list)
	if err != nil {
		return nil, err
	}

	code := &classfile.Code{MaxStack: m.MaxStack, MaxLocals: m.MaxLocals, Code: body}
	for _, h := range m.handlers {
		var row [3]int
		for i, l := range []string{h.start, h.end, h.handler} {
			if row[i], err = offset(l); err != nil {
				return nil, err
			}
		}
		var catch uint16
		if h.catch != "" {
			catch = m.class.class(h.catch)
		}
		code.ExceptionTable = append(code.ExceptionTable, classfile.ExceptionHandler{
			StartPC: uint16(row[0]), EndPC: uint16(row[1]), HandlerPC: uint16(row[2]), CatchType: catch,
		})
	}

	var attrs []attr
	if len(m.lines) > 0 {
		var lnt []classfile.LineNumber
		for _, l := range m.lines {
			pc := size
			if l.at < len(list) {
				pc = list[l.at].Offset
			}
			lnt = append(lnt, classfile.LineNumber{StartPC: uint16(pc), Line: l.line})
		}
		info, err := classfile.EncodeLineNumberTable(lnt)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr{name: classfile.AttrLineNumberTable, info: info})
	}
	for _, sig := range []bool{false, true} {
		var rows []classfile.LocalVariable
		for _, l := range m.locals {
			if l.signature != sig {
				continue
			}
			start, err := offset(l.start)
			if err != nil {
				return nil, err
			}
			end, err := offset(l.end)
			if err != nil {
				return nil, err
			}
			rows = append(rows, classfile.LocalVariable{
				StartPC: uint16(start), Length: uint16(end - start),
				NameIndex: m.class.utf8(l.name), DescriptorIndex: m.class.utf8(l.desc), Index: l.index,
			})
		}
		if len(rows) == 0 {
			continue
		}
		info, err := classfile.EncodeLocalVariableTable(rows)
		if err != nil {
			return nil, err
		}
		name := classfile.AttrLocalVariableTable
		if sig {
			name = classfile.AttrLocalVariableTypeTable
		}
		attrs = append(attrs, attr{name: name, info: info})
	}
	if len(m.frames) > 0 {
		frames := make([]*classfile.StackMapFrame, 0, len(m.frames))
		for _, f := range m.frames {
			at, err := offset(f.Label)
			if err != nil {
				return nil, err
			}
			sf := &classfile.StackMapFrame{Kind: f.Kind, Offset: at, Chop: f.Chop}
			if sf.Locals, err = m.vtypes(f.Locals, offset); err != nil {
				return nil, err
			}
			if sf.Stack, err = m.vtypes(f.Stack, offset); err != nil {
				return nil, err
			}
			frames = append(frames, sf)
		}
		sort.Slice(frames, func(i, j int) bool { return frames[i].Offset < frames[j].Offset })
		info, err := classfile.EncodeStackMapTable(frames)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr{name: classfile.AttrStackMapTable, info: info})
	}
	code.Attributes = m.class.attributes(attrs)
	return code.Bytes()
}

func (m *Method) vtypes(list []VType, offset func(string) (int, error)) ([]classfile.VerificationType, error) {
	out := make([]classfile.VerificationType, 0, len(list))
	for _, v := range list {
		vt := classfile.VerificationType{Tag: v.Tag}
		switch v.Tag {
		case classfile.VerifyObject:
			vt.Index = m.class.class(v.Class)
		case classfile.VerifyUninitialized:
			at, err := offset(v.New)
			if err != nil {
				return nil, err
			}
			vt.Offset = at
		}
		out = append(out, vt)
	}
	return out, nil
}

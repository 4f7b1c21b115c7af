package classfile

// Opcodes referenced by name elsewhere in the module.
const (
	OpNop             uint8 = 0x00
	OpAconstNull      uint8 = 0x01
	OpIconstM1        uint8 = 0x02
	OpIconst0         uint8 = 0x03
	OpIconst5         uint8 = 0x08
	OpLconst0         uint8 = 0x09
	OpLconst1         uint8 = 0x0a
	OpFconst0         uint8 = 0x0b
	OpFconst2         uint8 = 0x0d
	OpDconst0         uint8 = 0x0e
	OpDconst1         uint8 = 0x0f
	OpBipush          uint8 = 0x10
	OpSipush          uint8 = 0x11
	OpLdc             uint8 = 0x12
	OpLdcW            uint8 = 0x13
	OpLdc2W           uint8 = 0x14
	OpIload           uint8 = 0x15
	OpLload           uint8 = 0x16
	OpFload           uint8 = 0x17
	OpDload           uint8 = 0x18
	OpAload           uint8 = 0x19
	OpIload0          uint8 = 0x1a
	OpAload0          uint8 = 0x2a
	OpAload3          uint8 = 0x2d
	OpIstore          uint8 = 0x36
	OpAstore          uint8 = 0x3a
	OpPop             uint8 = 0x57
	OpPop2            uint8 = 0x58
	OpIinc            uint8 = 0x84
	OpIfeq            uint8 = 0x99
	OpGoto            uint8 = 0xa7
	OpJsr             uint8 = 0xa8
	OpRet             uint8 = 0xa9
	OpTableswitch     uint8 = 0xaa
	OpLookupswitch    uint8 = 0xab
	OpIreturn         uint8 = 0xac
	OpAreturn         uint8 = 0xb0
	OpReturn          uint8 = 0xb1
	OpGetstatic       uint8 = 0xb2
	OpPutstatic       uint8 = 0xb3
	OpGetfield        uint8 = 0xb4
	OpPutfield        uint8 = 0xb5
	OpInvokevirtual   uint8 = 0xb6
	OpInvokespecial   uint8 = 0xb7
	OpInvokestatic    uint8 = 0xb8
	OpInvokeinterface uint8 = 0xb9
	OpInvokedynamic   uint8 = 0xba
	OpNew             uint8 = 0xbb
	OpNewarray        uint8 = 0xbc
	OpAnewarray       uint8 = 0xbd
	OpAthrow          uint8 = 0xbf
	OpCheckcast       uint8 = 0xc0
	OpInstanceof      uint8 = 0xc1
	OpWide            uint8 = 0xc4
	OpMultianewarray  uint8 = 0xc5
	OpIfnull          uint8 = 0xc6
	OpIfnonnull       uint8 = 0xc7
	OpGotoW           uint8 = 0xc8
	OpJsrW            uint8 = 0xc9
)

// operandKind describes how the bytes following an opcode are laid out.
type operandKind uint8

const (
	operandNone operandKind = iota
	// u1 local index, u2 under wide
	operandLocal
	// s1 immediate (bipush)
	operandByte
	// s2 immediate (sipush)
	operandShort
	// u1 constant pool index (ldc)
	operandConst1
	// u2 constant pool index
	operandConst2
	// u2 index, u1 count, u1 zero
	operandInterface
	// u2 index, u2 zero
	operandDynamic
	// u1 local, s1 delta; u2, s2 under wide
	operandIinc
	// s2 relative target
	operandBranch2
	// s4 relative target
	operandBranch4
	// u1 primitive array type
	operandArrayType
	// u2 index, u1 dimensions
	operandMultiArray
	operandTableSwitch
	operandLookupSwitch
	operandWide
)

type opcodeInfo struct {
	name    string
	operand operandKind
}

// opcodes is indexed by opcode. Entries with an empty name are undefined.
var opcodes [256]opcodeInfo

var byName map[string]uint8

func init() {
	names := [...]string{
		"nop", "aconst_null", "iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3",
		"iconst_4", "iconst_5", "lconst_0", "lconst_1", "fconst_0", "fconst_1", "fconst_2",
		"dconst_0", "dconst_1", "bipush", "sipush", "ldc", "ldc_w", "ldc2_w", "iload", "lload",
		"fload", "dload", "aload", "iload_0", "iload_1", "iload_2", "iload_3", "lload_0",
		"lload_1", "lload_2", "lload_3", "fload_0", "fload_1", "fload_2", "fload_3", "dload_0",
		"dload_1", "dload_2", "dload_3", "aload_0", "aload_1", "aload_2", "aload_3", "iaload",
		"laload", "faload", "daload", "aaload", "baload", "caload", "saload", "istore",
		"lstore", "fstore", "dstore", "astore", "istore_0", "istore_1", "istore_2", "istore_3",
		"lstore_0", "lstore_1", "lstore_2", "lstore_3", "fstore_0", "fstore_1", "fstore_2",
		"fstore_3", "dstore_0", "dstore_1", "dstore_2", "dstore_3", "astore_0", "astore_1",
		"astore_2", "astore_3", "iastore", "lastore", "fastore", "dastore", "aastore",
		"bastore", "castore", "sastore", "pop", "pop2", "dup", "dup_x1", "dup_x2", "dup2",
		"dup2_x1", "dup2_x2", "swap", "iadd", "ladd", "fadd", "dadd", "isub", "lsub", "fsub",
		"dsub", "imul", "lmul", "fmul", "dmul", "idiv", "ldiv", "fdiv", "ddiv", "irem", "lrem",
		"frem", "drem", "ineg", "lneg", "fneg", "dneg", "ishl", "lshl", "ishr", "lshr", "iushr",
		"lushr", "iand", "land", "ior", "lor", "ixor", "lxor", "iinc", "i2l", "i2f", "i2d",
		"l2i", "l2f", "l2d", "f2i", "f2l", "f2d", "d2i", "d2l", "d2f", "i2b", "i2c", "i2s",
		"lcmp", "fcmpl", "fcmpg", "dcmpl", "dcmpg", "ifeq", "ifne", "iflt", "ifge", "ifgt",
		"ifle", "if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple",
		"if_acmpeq", "if_acmpne", "goto", "jsr", "ret", "tableswitch", "lookupswitch",
		"ireturn", "lreturn", "freturn", "dreturn", "areturn", "return", "getstatic",
		"putstatic", "getfield", "putfield", "invokevirtual", "invokespecial", "invokestatic",
		"invokeinterface", "invokedynamic", "new", "newarray", "anewarray", "arraylength",
		"athrow", "checkcast", "instanceof", "monitorenter", "monitorexit", "wide",
		"multianewarray", "ifnull", "ifnonnull", "goto_w", "jsr_w",
	}
	byName = make(map[string]uint8, len(names))
	for op, name := range names {
		opcodes[op].name = name
		byName[name] = uint8(op)
	}

	set := func(k operandKind, ops ...uint8) {
		for _, op := range ops {
			opcodes[op].operand = k
		}
	}
	set(operandLocal, OpIload, OpLload, OpFload, OpDload, OpAload, OpRet)
	set(operandLocal, 0x36, 0x37, 0x38, 0x39, 0x3a) // xstore
	set(operandByte, OpBipush)
	set(operandShort, OpSipush)
	set(operandConst1, OpLdc)
	set(operandConst2, OpLdcW, OpLdc2W, OpGetstatic, OpPutstatic, OpGetfield, OpPutfield,
		OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpNew, OpAnewarray, OpCheckcast, OpInstanceof)
	set(operandInterface, OpInvokeinterface)
	set(operandDynamic, OpInvokedynamic)
	set(operandIinc, OpIinc)
	for op := OpIfeq; op <= OpJsr; op++ {
		set(operandBranch2, op)
	}
	set(operandBranch2, OpIfnull, OpIfnonnull)
	set(operandBranch4, OpGotoW, OpJsrW)
	set(operandArrayType, OpNewarray)
	set(operandMultiArray, OpMultianewarray)
	set(operandTableSwitch, OpTableswitch)
	set(operandLookupSwitch, OpLookupswitch)
	set(operandWide, OpWide)
}

// OpcodeName returns the mnemonic for op, or "" when op is undefined.
func OpcodeName(op uint8) string {
	return opcodes[op].name
}

// Opcode looks up an opcode by mnemonic.
func Opcode(name string) (uint8, bool) {
	op, ok := byName[name]
	return op, ok
}

// IsInvoke reports whether op is one of the member invocation opcodes.
func IsInvoke(op uint8) bool {
	switch op {
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		return true
	}
	return false
}

// IsFieldAccess reports whether op reads or writes a field.
func IsFieldAccess(op uint8) bool {
	return op >= OpGetstatic && op <= OpPutfield
}

// IsReturnOrThrow reports whether control never falls through op.
func IsReturnOrThrow(op uint8) bool {
	return (op >= OpIreturn && op <= OpReturn) || op == OpAthrow
}

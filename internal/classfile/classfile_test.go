package classfile_test

import (
	"testing"

	"github.com/gnolang/classmig/internal/classfile"
	"github.com/gnolang/classmig/internal/classfile/classfiletest"
	tt "github.com/gnolang/classmig/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleClass() *classfiletest.Class {
	c := classfiletest.NewClass("com/acme/Sample")
	c.Interfaces = []string{"java/lang/Runnable"}
	c.Field(classfile.AccPrivate, "name", "Ljava/lang/String;")
	c.Signature("Ljava/lang/Object;Ljava/lang/Runnable;")
	c.RawAttribute("SourceFile", []byte{0, 1})

	m := c.Method(classfile.AccPublic, "run", "()V")
	m.Label("start").Line(10).
		Aload(0).
		Field(classfile.OpGetfield, "com/acme/Sample", "name", "Ljava/lang/String;").
		Jump(classfile.OpIfnull, "done").
		Line(11).
		Iconst(1000).
		TableSwitch(0, "done", "a", "b").
		Label("a").Iconst(1).Op(classfile.OpPop).
		Label("b").Ldc("x").Op(classfile.OpPop).
		Label("done").Frame(classfiletest.Frame{Label: "done", Kind: classfile.FrameSame}).
		Return(classfile.OpReturn).
		Label("end").
		Local("this", "Lcom/acme/Sample;", 0, "start", "end")
	m.Frame(classfiletest.Frame{Label: "a", Kind: classfile.FrameSame})
	m.Frame(classfiletest.Frame{Label: "b", Kind: classfile.FrameSame})
	return c
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	data := sampleClass().Build(t)
	cf, err := classfile.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "com/acme/Sample", cf.Name())
	assert.Equal(t, "java/lang/Object", cf.SuperName())
	assert.Equal(t, []string{"java/lang/Runnable"}, cf.InterfaceNames())
	require.Len(t, cf.Fields, 1)
	require.Len(t, cf.Methods, 1)

	out, err := cf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()

	data := sampleClass().Build(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte{0xCA, 0xFE, 0xBA, 0xBF}, data[4:]...)},
		{"truncated", data[:len(data)/2]},
		{"trailing bytes", append(append([]byte{}, data...), 0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := classfile.Parse(tc.data)
			assert.Error(t, err)
		})
	}
}

func TestParseRejectsUnknownConstantTag(t *testing.T) {
	t.Parallel()

	// magic, version, one-entry pool with tag 2 (unused)
	data := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0, 0, 52, 0, 2, 2, 0, 0}
	_, err := classfile.Parse(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cp_info tag 2")
}

func TestDecodeInstructions(t *testing.T) {
	t.Parallel()

	cf, err := classfile.Parse(sampleClass().Build(t))
	require.NoError(t, err)
	code, _, err := cf.MethodCode(cf.Methods[0])
	require.NoError(t, err)

	list, err := classfile.DecodeInstructions(code.Code)
	require.NoError(t, err)

	var names []string
	for _, ins := range list {
		names = append(names, classfile.OpcodeName(ins.Opcode))
	}
	assert.Equal(t, []string{
		"aload_0", "getfield", "ifnull", "sipush", "tableswitch",
		"iconst_1", "pop", "ldc", "pop", "return",
	}, names)

	sw := list[4]
	assert.Equal(t, 10, sw.Offset)
	assert.Equal(t, 1+1+12+8, sw.Len(sw.Offset))
	assert.Equal(t, list[9].Offset, sw.Target)
	assert.Equal(t, []int{list[5].Offset, list[7].Offset}, sw.Targets)

	out, err := classfile.EncodeInstructions(list)
	require.NoError(t, err)
	assert.Equal(t, code.Code, out)
}

func TestAssembledLookupSwitchTargets(t *testing.T) {
	t.Parallel()

	c := classfiletest.NewClass("com/acme/Pick")
	c.Method(classfile.AccPublic|classfile.AccStatic, "pick", "(I)I").
		Iload(0).
		LookupSwitch("other", []int32{1, 7, 9}, "one", "seven", "seven").
		Label("one").Iconst(1).Return(classfile.OpIreturn).
		Label("seven").Iconst(7).Return(classfile.OpIreturn).
		Label("other").Iconst(0).Return(classfile.OpIreturn)

	cf, err := classfile.Parse(c.Build(t))
	require.NoError(t, err)
	code, _, err := cf.MethodCode(cf.Methods[0])
	require.NoError(t, err)
	list, err := classfile.DecodeInstructions(code.Code)
	require.NoError(t, err)
	require.Len(t, list, 8)

	sw := list[1]
	assert.Equal(t, classfile.OpLookupswitch, sw.Opcode)
	assert.Equal(t, []int32{1, 7, 9}, sw.Keys)
	assert.Equal(t, 1+2+8+3*8, sw.Len(sw.Offset))
	assert.Equal(t, list[6].Offset, sw.Target)
	assert.Equal(t, []int{list[2].Offset, list[4].Offset, list[4].Offset}, sw.Targets)
}

func TestDecodeInstructionsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code []byte
	}{
		{"undefined opcode", []byte{0xcb}},
		{"reserved opcode", []byte{0xfe}},
		{"truncated operand", []byte{classfile.OpSipush, 0}},
		{"branch into operand", []byte{classfile.OpGoto, 0, 1, classfile.OpReturn}},
		{"wide on non-local", []byte{classfile.OpWide, classfile.OpNop}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := classfile.DecodeInstructions(tc.code)
			assert.Error(t, err)
		})
	}
}

func TestSwitchPaddingFollowsOffset(t *testing.T) {
	t.Parallel()

	sw := &classfile.Instruction{Opcode: classfile.OpLookupswitch, Keys: []int32{1}, Targets: []int{0}}
	ret := &classfile.Instruction{Opcode: classfile.OpReturn}
	list := []*classfile.Instruction{{Opcode: classfile.OpIconst0}, sw, ret}

	size := classfile.Layout(list)
	assert.Equal(t, 1, sw.Offset)
	// opcode at 1, operands start at 4
	assert.Equal(t, 1+2+8+8, sw.Len(1))
	assert.Equal(t, 1+sw.Len(1)+1, size)

	sw.Target, sw.Targets[0] = ret.Offset, ret.Offset
	body, err := classfile.EncodeInstructions(list)
	require.NoError(t, err)

	back, err := classfile.DecodeInstructions(body)
	require.NoError(t, err)
	require.Len(t, back, 3)
	assert.Equal(t, ret.Offset, back[1].Target)
	assert.Equal(t, []int32{1}, back[1].Keys)
}

func TestEncodeBranchOverflow(t *testing.T) {
	t.Parallel()

	j := &classfile.Instruction{Opcode: classfile.OpGoto, Target: 40000}
	_, err := classfile.EncodeInstructions([]*classfile.Instruction{j})
	assert.ErrorIs(t, err, classfile.ErrBranchOverflow)
}

func TestStackMapRoundTrip(t *testing.T) {
	t.Parallel()

	frames := []*classfile.StackMapFrame{
		{Kind: classfile.FrameSame, Offset: 3},
		{Kind: classfile.FrameSameLocals1, Offset: 100, Stack: []classfile.VerificationType{{Tag: classfile.VerifyInteger}}},
		{Kind: classfile.FrameAppend, Offset: 104, Locals: []classfile.VerificationType{{Tag: classfile.VerifyObject, Index: 7}}},
		{Kind: classfile.FrameChop, Offset: 110, Chop: 1},
		{Kind: classfile.FrameSame, Offset: 111, Extended: true},
		{Kind: classfile.FrameFull, Offset: 120,
			Locals: []classfile.VerificationType{{Tag: classfile.VerifyTop}},
			Stack:  []classfile.VerificationType{{Tag: classfile.VerifyUninitialized, Offset: 112}}},
	}
	data, err := classfile.EncodeStackMapTable(frames)
	require.NoError(t, err)

	back, err := classfile.ParseStackMapTable(data)
	require.NoError(t, err)
	assert.Equal(t, frames, back)
}

func TestConstPoolMemberRefs(t *testing.T) {
	t.Parallel()

	p := classfile.NewConstPool()
	sym := classfiletest.Sym(tt.RefMethod, "a/B", "run", "()V")

	idx, err := p.AddMemberRef(sym)
	require.NoError(t, err)
	again, err := p.AddMemberRef(sym)
	require.NoError(t, err)
	assert.Equal(t, idx, again)

	got, err := p.MemberRef(idx)
	require.NoError(t, err)
	assert.Equal(t, sym, got)

	moved := classfiletest.Sym(tt.RefInterfaceMethod, "a/C", "start", "()V")
	require.NoError(t, p.SetMemberRef(idx, moved))
	got, err = p.MemberRef(idx)
	require.NoError(t, err)
	assert.Equal(t, moved, got)

	_, err = p.MemberRef(0)
	assert.Error(t, err)
}

func TestRenameClasses(t *testing.T) {
	t.Parallel()

	rename := func(name string) (string, bool) {
		if name == "old/Type" {
			return "new/Type", true
		}
		return "", false
	}
	tests := []struct {
		in, want string
		changed  bool
	}{
		{"(Lold/Type;I)Lold/Type;", "(Lnew/Type;I)Lnew/Type;", true},
		{"[[Lold/Type;", "[[Lnew/Type;", true},
		{"Ljava/util/List<Lold/Type;>;", "Ljava/util/List<Lnew/Type;>;", true},
		{"<LT:Lold/Type;>(TLT;)V", "<LT:Lnew/Type;>(TLT;)V", true},
		{"Lold/Type<TT;>.Inner;", "Lnew/Type<TT;>.Inner;", true},
		{"(Lold/TypeX;)V", "(Lold/TypeX;)V", false},
		{"I", "I", false},
	}
	for _, tc := range tests {
		got, changed := classfile.RenameClasses(tc.in, rename)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.changed, changed, tc.in)
	}
}

func TestMethodDescriptor(t *testing.T) {
	t.Parallel()

	md, err := classfile.ParseMethodDescriptor("(IJLjava/lang/String;[D)Z")
	require.NoError(t, err)
	assert.Equal(t, []string{"I", "J", "Ljava/lang/String;", "[D"}, md.Params)
	assert.Equal(t, "Z", md.Return)
	assert.Equal(t, 5, md.ArgSlots())
	assert.Equal(t, "(IJLjava/lang/String;[D)Z", md.String())

	for _, bad := range []string{"", "I", "(I", "(Q)V", "(L;)V", "()"} {
		_, err := classfile.ParseMethodDescriptor(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, []string{"a/B", "c/D"}, classfile.ClassNames("(La/B;[Lc/D;I)V"))
	assert.Equal(t, "a/B", classfile.ElementClass("[[La/B;"))
	assert.Equal(t, "", classfile.ElementClass("[I"))
	assert.Equal(t, "a/B", classfile.ElementClass("a/B"))
}

func TestMapAnnotationTypes(t *testing.T) {
	t.Parallel()

	c := classfiletest.NewClass("com/acme/Annotated")
	pool := c.Pool()
	info := classfiletest.Annotations(
		c.Annotation("Lcom/acme/Marker;"),
		c.Annotation("Lcom/acme/Config;",
			classfiletest.Pair{Name: "mode", Value: c.EnumValue("Lcom/acme/Mode;", "FAST")},
			classfiletest.Pair{Name: "label", Value: c.StringValue("x")},
			classfiletest.Pair{Name: "types", Value: classfiletest.ArrayValue(
				c.ClassValue("Lcom/acme/Session;"), c.ClassValue("V"))},
			classfiletest.Pair{Name: "inner", Value: classfiletest.NestedValue(c.Annotation("Lcom/acme/Inner;"))},
		),
	)

	var seen []string
	collect := func(idx uint16) (uint16, error) {
		s, err := pool.Utf8(idx)
		if err != nil {
			return 0, err
		}
		seen = append(seen, s)
		return idx, nil
	}
	require.NoError(t, classfile.MapAnnotationTypes(classfile.AttrRuntimeVisibleAnnotations, info, collect))
	assert.Equal(t, []string{
		"Lcom/acme/Marker;", "Lcom/acme/Config;", "Lcom/acme/Mode;",
		"Lcom/acme/Session;", "V", "Lcom/acme/Inner;",
	}, seen)

	session, err := pool.AddUtf8("Lcom/acme/Session;")
	require.NoError(t, err)
	renamed, err := pool.AddUtf8("Lcom/acme/NewSession;")
	require.NoError(t, err)
	size := len(info)
	require.NoError(t, classfile.MapAnnotationTypes(classfile.AttrRuntimeVisibleAnnotations, info,
		func(idx uint16) (uint16, error) {
			if idx == session {
				return renamed, nil
			}
			return idx, nil
		}))
	assert.Len(t, info, size)

	seen = nil
	require.NoError(t, classfile.MapAnnotationTypes(classfile.AttrRuntimeVisibleAnnotations, info, collect))
	assert.Contains(t, seen, "Lcom/acme/NewSession;")
	assert.NotContains(t, seen, "Lcom/acme/Session;")
}

func TestMapAnnotationTypesLayouts(t *testing.T) {
	t.Parallel()

	c := classfiletest.NewClass("com/acme/Annotated")
	marker := c.Annotation("Lcom/acme/Marker;")
	parameters := append([]byte{2}, classfiletest.Annotations()...)
	parameters = append(parameters, classfiletest.Annotations(marker)...)
	// field type annotation: empty_target, then a one-step type_path
	typed := append([]byte{0, 1, 0x13, 1, 3, 0}, marker...)
	// local variable annotation with one range
	local := append([]byte{0, 1, 0x40, 0, 1, 0, 0, 0, 4, 0, 1, 0}, marker...)

	tests := []struct {
		name  string
		attr  string
		info  []byte
		count int
	}{
		{"parameters", classfile.AttrRuntimeInvisibleParameterAnnotations, parameters, 1},
		{"type", classfile.AttrRuntimeVisibleTypeAnnotations, typed, 1},
		{"local variable type", classfile.AttrRuntimeInvisibleTypeAnnotations, local, 1},
		{"default", classfile.AttrAnnotationDefault, c.ClassValue("Lcom/acme/Session;"), 1},
		{"no annotations", classfile.AttrRuntimeVisibleAnnotations, classfiletest.Annotations(), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			count := 0
			err := classfile.MapAnnotationTypes(tc.attr, tc.info, func(idx uint16) (uint16, error) {
				count++
				return idx, nil
			})
			require.NoError(t, err)
			assert.Equal(t, tc.count, count)
		})
	}
}

func TestMapAnnotationTypesRejectsMalformed(t *testing.T) {
	t.Parallel()

	keep := func(idx uint16) (uint16, error) { return idx, nil }
	tests := []struct {
		name string
		attr string
		info []byte
	}{
		{"not an annotation attribute", classfile.AttrSignature, []byte{0, 1}},
		{"truncated", classfile.AttrRuntimeVisibleAnnotations, []byte{0, 1, 0}},
		{"unknown tag", classfile.AttrAnnotationDefault, []byte{'x', 0, 1}},
		{"unknown target", classfile.AttrRuntimeVisibleTypeAnnotations, []byte{0, 1, 0x7f}},
		{"trailing bytes", classfile.AttrRuntimeVisibleAnnotations, []byte{0, 0, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, classfile.MapAnnotationTypes(tc.attr, tc.info, keep))
		})
	}
	assert.False(t, classfile.IsAnnotationAttribute(classfile.AttrCode))
	assert.True(t, classfile.IsAnnotationAttribute(classfile.AttrRuntimeInvisibleAnnotations))
}

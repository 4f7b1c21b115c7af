package rewriter

import (
	"archive/zip"
	"strings"
	"testing"

	"github.com/gnolang/classmig/internal/classfile"
	"github.com/gnolang/classmig/internal/classfile/classfiletest"
	"github.com/gnolang/classmig/internal/jar"
	"github.com/gnolang/classmig/internal/refscan"
	"github.com/gnolang/classmig/internal/rules"
	tt "github.com/gnolang/classmig/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const migrationRules = `
name: host-1-to-2
from: 1.0.0
to: 2.0.0
rules:
  - name: session-type
    kind: rename
    from: {owner: org.host.api.KtSession}
    to: {owner: org.host.api.Session}
  - name: provider-interface
    kind: dispatch
    owner: org.host.api.SymbolProvider
    dispatch: interface
  - name: analysis-entry
    kind: collapse
    steps:
      - {op: invokestatic, owner: org.host.api.SessionProvider, name: getInstance, descriptor: (Lorg/host/api/Project;)Lorg/host/api/SessionProvider;}
      - {op: invokevirtual, owner: org.host.api.SessionProvider, name: getToken, descriptor: (Lorg/host/api/Element;)Lorg/host/api/Token;}
      - {op: invokestatic, owner: org.host.api.Hooks, name: enter, descriptor: (Lorg/host/api/Token;)V}
    successor: {op: invokestatic, owner: org.host.api.Analysis, name: enter, descriptor: (Lorg/host/api/Project;Lorg/host/api/Element;)V}
  - name: render-defaults
    kind: trampoline
    trampoline: {owner: org.host.api.Renderer, name: render$default, descriptor: (Lorg/host/api/Renderer;Ljava/lang/String;IILjava/lang/Object;)Ljava/lang/String;}
    target: {op: invokevirtual, owner: org.host.api.Renderer, name: render, descriptor: (Ljava/lang/String;)Ljava/lang/String;}
    defaults: 1
`

const (
	sessionProvider = "org/host/api/SessionProvider"
	getInstanceDesc = "(Lorg/host/api/Project;)Lorg/host/api/SessionProvider;"
	getTokenDesc    = "(Lorg/host/api/Element;)Lorg/host/api/Token;"
	enterDesc       = "(Lorg/host/api/Token;)V"
	renderDefDesc   = "(Lorg/host/api/Renderer;Ljava/lang/String;IILjava/lang/Object;)Ljava/lang/String;"
	symbolOfDesc    = "(Lorg/host/api/Element;)Ljava/lang/Object;"
)

var (
	retired = []tt.Symbol{
		classfiletest.Sym(tt.RefMethod, sessionProvider, "getInstance", getInstanceDesc),
		classfiletest.Sym(tt.RefMethod, sessionProvider, "getToken", getTokenDesc),
		classfiletest.Sym(tt.RefMethod, "org/host/api/Hooks", "enter", enterDesc),
	}
	successor = classfiletest.Sym(tt.RefMethod, "org/host/api/Analysis", "enter", "(Lorg/host/api/Project;Lorg/host/api/Element;)V")
	render    = classfiletest.Sym(tt.RefMethod, "org/host/api/Renderer", "render", "(Ljava/lang/String;)Ljava/lang/String;")
)

func newTestRewriter(t *testing.T) *Rewriter {
	t.Helper()
	table, err := rules.Parse([]byte(migrationRules))
	require.NoError(t, err)
	return New(table)
}

// collapseClass calls the retired three-step entry sequence inside a try
// block, followed by a branch, with line numbers, a local variable and
// stack map frames around it.
func collapseClass() *classfiletest.Class {
	c := classfiletest.NewClass("org/plugin/Check")
	m := c.Method(classfile.AccPublic, "analyze", "(Lorg/host/api/Project;Lorg/host/api/Element;)V")
	m.Label("start").Line(10).Aload(1).
		Line(11).Invoke(classfile.OpInvokestatic, sessionProvider, "getInstance", getInstanceDesc).
		Aload(2).
		Invoke(classfile.OpInvokevirtual, sessionProvider, "getToken", getTokenDesc).
		Invoke(classfile.OpInvokestatic, "org/host/api/Hooks", "enter", enterDesc).
		Label("after").Line(12).Aload(2).
		Jump(classfile.OpIfnull, "end").
		Aload(2).
		Invoke(classfile.OpInvokeinterface, "org/host/api/Element", "getText", "()Ljava/lang/String;").
		Op(classfile.OpPop).
		Label("end").Return(classfile.OpReturn).
		Label("handler").Astore(3).
		Return(classfile.OpReturn).
		Handler("start", "after", "handler", "java/lang/Exception").
		Local("project", "Lorg/host/api/Project;", 1, "start", "end").
		Frame(classfiletest.Frame{Label: "end", Kind: classfile.FrameSame}).
		Frame(classfiletest.Frame{
			Label: "handler", Kind: classfile.FrameSameLocals1,
			Stack: []classfiletest.VType{classfiletest.VObject("java/lang/Exception")},
		})
	return c
}

func trampolineClass() *classfiletest.Class {
	c := classfiletest.NewClass("org/plugin/View")
	c.Method(classfile.AccPublic|classfile.AccStatic, "show", "(Lorg/host/api/Renderer;)Ljava/lang/String;").
		Aload(0).
		Ldc("title").
		Iconst(0).
		Iconst(2).
		AconstNull().
		Invoke(classfile.OpInvokestatic, "org/host/api/Renderer", "render$default", renderDefDesc).
		Return(classfile.OpAreturn)
	return c
}

func classLevelClass() *classfiletest.Class {
	provider := "org/host/api/SymbolProvider"
	c := classfiletest.NewClass("org/plugin/Check")
	c.Field(classfile.AccPrivate, "session", "Lorg/host/api/KtSession;")
	c.Method(classfile.AccPublic, "use", "(Lorg/host/api/KtSession;Lorg/host/api/SymbolProvider;Lorg/host/api/Element;)V").
		Label("start").Aload(2).
		Aload(3).
		Invoke(classfile.OpInvokevirtual, provider, "symbolOf", symbolOfDesc).
		Op(classfile.OpPop).
		Aload(1).
		Checkcast("org/host/api/KtSession").
		Op(classfile.OpPop).
		LdcClass("org/host/api/KtSession").
		Op(classfile.OpPop).
		LdcMethodHandle(classfile.RefInvokeVirtual, classfiletest.Sym(tt.RefMethod, provider, "symbolOf", symbolOfDesc)).
		Op(classfile.OpPop).
		Return(classfile.OpReturn).
		Label("end").
		Local("session", "Lorg/host/api/KtSession;", 1, "start", "end")
	return c
}

type body struct {
	cf    *classfile.ClassFile
	code  *classfile.Code
	insns []*classfile.Instruction
}

func methodBody(t *testing.T, data []byte, name string) body {
	t.Helper()
	cf, err := classfile.Parse(data)
	require.NoError(t, err)
	for _, m := range cf.Methods {
		n, _, err := cf.MemberName(m)
		require.NoError(t, err)
		if n != name {
			continue
		}
		code, _, err := cf.MethodCode(m)
		require.NoError(t, err)
		insns, err := classfile.DecodeInstructions(code.Code)
		require.NoError(t, err)
		return body{cf: cf, code: code, insns: insns}
	}
	t.Fatalf("method %s not found", name)
	return body{}
}

func (b body) ops() []uint8 {
	out := make([]uint8, len(b.insns))
	for i, ins := range b.insns {
		out[i] = ins.Opcode
	}
	return out
}

func (b body) offsets() []int {
	out := make([]int, len(b.insns))
	for i, ins := range b.insns {
		out[i] = ins.Offset
	}
	return out
}

func (b body) attr(t *testing.T, name string) []byte {
	t.Helper()
	a := b.cf.FindAttribute(b.code.Attributes, name)
	require.NotNil(t, a, name)
	return a.Info
}

func TestRewriteCollapse(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	out, res, err := r.Rewrite(collapseClass().Build(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"analysis-entry"}, res.Applied)
	assert.Equal(t, map[string]int{"analysis-entry": 1}, res.Windows)

	b := methodBody(t, out, "analyze")
	assert.Equal(t, []uint8{
		classfile.OpAload0 + 1,
		classfile.OpAload0 + 2,
		classfile.OpInvokestatic,
		classfile.OpAload0 + 2,
		classfile.OpIfnull,
		classfile.OpAload0 + 2,
		classfile.OpInvokeinterface,
		classfile.OpPop,
		classfile.OpReturn,
		0x4e, // astore_3
		classfile.OpReturn,
	}, b.ops())
	assert.Equal(t, []int{0, 1, 2, 5, 6, 9, 10, 15, 16, 17, 18}, b.offsets())
	assert.Equal(t, 16, b.insns[4].Target)
	assert.Len(t, b.code.Code, 19)
	assert.Equal(t, uint16(8+3), b.code.MaxStack)

	call, err := b.cf.Pool.MemberRef(b.insns[2].Index)
	require.NoError(t, err)
	assert.Equal(t, successor, call)
	for _, ins := range b.insns {
		if !classfile.IsInvoke(ins.Opcode) {
			continue
		}
		sym, err := b.cf.Pool.MemberRef(ins.Index)
		require.NoError(t, err)
		for _, old := range retired {
			assert.False(t, sym.SameMember(old), "%s still calls %s", ins, old)
		}
	}

	require.Len(t, b.code.ExceptionTable, 1)
	h := b.code.ExceptionTable[0]
	assert.Equal(t, [3]uint16{0, 5, 17}, [3]uint16{h.StartPC, h.EndPC, h.HandlerPC})

	lines, err := classfile.ParseLineNumberTable(b.attr(t, classfile.AttrLineNumberTable))
	require.NoError(t, err)
	assert.Equal(t, []classfile.LineNumber{{StartPC: 0, Line: 10}, {StartPC: 1, Line: 11}, {StartPC: 5, Line: 12}}, lines)

	vars, err := classfile.ParseLocalVariableTable(b.attr(t, classfile.AttrLocalVariableTable))
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, uint16(0), vars[0].StartPC)
	assert.Equal(t, uint16(16), vars[0].Length)

	frames, err := classfile.ParseStackMapTable(b.attr(t, classfile.AttrStackMapTable))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, 16, frames[0].Offset)
	assert.Equal(t, 17, frames[1].Offset)
	assert.Equal(t, classfile.FrameSameLocals1, frames[1].Kind)
}

func TestRewriteCollapseKeepsPoolEntries(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	in := collapseClass().Build(t)
	before, err := classfile.Parse(in)
	require.NoError(t, err)
	out, err := r.MigrateClass(in)
	require.NoError(t, err)
	after, err := classfile.Parse(out)
	require.NoError(t, err)

	// existing indices stay valid: the pool only grows
	assert.Greater(t, after.Pool.Count(), before.Pool.Count())
	before.Pool.Each(func(idx uint16, c *classfile.Constant) {
		got, err := after.Pool.At(idx)
		require.NoError(t, err)
		assert.Equal(t, c.Kind, got.Kind, "constant %d", idx)
	})

	var pooled []tt.Symbol
	after.Pool.Each(func(idx uint16, c *classfile.Constant) {
		if c.IsMemberRef() {
			sym, err := after.Pool.MemberRef(idx)
			require.NoError(t, err)
			pooled = append(pooled, sym)
		}
	})
	refs, err := refscan.ScanClass(after, "org/plugin/Check.class")
	require.NoError(t, err)
	for _, old := range retired {
		assert.Contains(t, pooled, old)
		for _, ref := range refs {
			assert.False(t, ref.Symbol.SameMember(old), "%s is still referenced", old)
		}
	}
}

func TestRewriteRelinksSwitch(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	c := classfiletest.NewClass("org/plugin/Pick")
	c.Method(classfile.AccPublic|classfile.AccStatic, "pick", "(ILorg/host/api/Project;Lorg/host/api/Element;)V").
		Aload(1).
		Invoke(classfile.OpInvokestatic, sessionProvider, "getInstance", getInstanceDesc).
		Aload(2).
		Invoke(classfile.OpInvokevirtual, sessionProvider, "getToken", getTokenDesc).
		Invoke(classfile.OpInvokestatic, "org/host/api/Hooks", "enter", enterDesc).
		Iload(0).
		TableSwitch(0, "d", "a", "b").
		Label("a").Return(classfile.OpReturn).
		Label("b").Return(classfile.OpReturn).
		Label("d").Return(classfile.OpReturn).
		Frame(classfiletest.Frame{Label: "a", Kind: classfile.FrameSame}).
		Frame(classfiletest.Frame{Label: "b", Kind: classfile.FrameSame}).
		Frame(classfiletest.Frame{Label: "d", Kind: classfile.FrameSame})
	in := c.Build(t)
	before := methodBody(t, in, "pick")
	require.Len(t, before.code.Code, 39)

	out, err := r.MigrateClass(in)
	require.NoError(t, err)
	b := methodBody(t, out, "pick")
	require.Len(t, b.insns, 8)
	sw := b.insns[4]
	assert.Equal(t, classfile.OpTableswitch, sw.Opcode)
	assert.Equal(t, 6, sw.Offset)
	assert.Equal(t, 30, sw.Target)
	assert.Equal(t, []int{28, 29}, sw.Targets)
	assert.Len(t, b.code.Code, 31)

	frames, err := classfile.ParseStackMapTable(b.attr(t, classfile.AttrStackMapTable))
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []int{28, 29, 30}, []int{frames[0].Offset, frames[1].Offset, frames[2].Offset})
}

func TestRewriteTrampoline(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	out, res, err := r.Rewrite(trampolineClass().Build(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"render-defaults"}, res.Applied)

	b := methodBody(t, out, "show")
	assert.Equal(t, []uint8{classfile.OpAload0, classfile.OpLdc, classfile.OpInvokevirtual, classfile.OpAreturn}, b.ops())
	assert.Len(t, b.code.Code, 7)
	sym, err := b.cf.Pool.MemberRef(b.insns[2].Index)
	require.NoError(t, err)
	assert.Equal(t, render, sym)
}

func TestRewriteClassLevelRules(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	out, res, err := r.Rewrite(classLevelClass().Build(t))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session-type", "provider-interface"}, res.Applied)
	assert.Empty(t, res.Windows)

	b := methodBody(t, out, "use")
	call := b.insns[2]
	assert.Equal(t, classfile.OpInvokeinterface, call.Opcode)
	assert.Equal(t, uint8(2), call.Count)
	sym, err := b.cf.Pool.MemberRef(call.Index)
	require.NoError(t, err)
	assert.Equal(t, tt.RefInterfaceMethod, sym.Kind)
	assert.Len(t, b.code.Code, 20)

	cast, err := b.cf.Pool.ClassName(b.insns[5].Index)
	require.NoError(t, err)
	assert.Equal(t, "org/host/api/Session", cast)

	_, desc, err := b.cf.MemberName(b.cf.Methods[0])
	require.NoError(t, err)
	assert.Equal(t, "(Lorg/host/api/Session;Lorg/host/api/SymbolProvider;Lorg/host/api/Element;)V", desc)
	_, fieldDesc, err := b.cf.MemberName(b.cf.Fields[0])
	require.NoError(t, err)
	assert.Equal(t, "Lorg/host/api/Session;", fieldDesc)

	vars, err := classfile.ParseLocalVariableTable(b.attr(t, classfile.AttrLocalVariableTable))
	require.NoError(t, err)
	require.Len(t, vars, 1)
	localDesc, err := b.cf.Pool.Utf8(vars[0].DescriptorIndex)
	require.NoError(t, err)
	assert.Equal(t, "Lorg/host/api/Session;", localDesc)
	assert.Equal(t, uint16(20), vars[0].Length)

	handles := 0
	b.cf.Pool.Each(func(_ uint16, c *classfile.Constant) {
		if c.Kind == classfile.ConstantKindMethodHandle {
			handles++
			assert.Equal(t, classfile.RefInvokeInterface, c.RefKind)
		}
	})
	assert.Equal(t, 1, handles)

	refs, err := refscan.ScanClass(b.cf, "org/plugin/Check.class")
	require.NoError(t, err)
	for _, ref := range refs {
		assert.NotContains(t, ref.Symbol.Owner+ref.Symbol.Descriptor, "KtSession", ref.Location)
	}
}

func TestRewriteRenamesAnnotationTypes(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	c := classfiletest.NewClass("org/plugin/Check")
	c.RawAttribute(classfile.AttrRuntimeVisibleAnnotations, classfiletest.Annotations(
		c.Annotation("Lorg/host/api/KtSession;")))
	c.Method(classfile.AccPublic, "run", "()V").
		Attribute(classfile.AttrRuntimeInvisibleAnnotations, classfiletest.Annotations(
			c.Annotation("Lorg/host/api/Uses;", classfiletest.Pair{
				Name: "value",
				Value: classfiletest.ArrayValue(
					c.ClassValue("Lorg/host/api/KtSession;"),
					classfiletest.NestedValue(c.Annotation("Lorg/host/api/Scope;", classfiletest.Pair{
						Name:  "of",
						Value: c.EnumValue("Lorg/host/api/KtSession;", "PROJECT"),
					}))),
			}))).
		Return(classfile.OpReturn)

	out, res, err := r.Rewrite(c.Build(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"session-type"}, res.Applied)

	cf, err := classfile.Parse(out)
	require.NoError(t, err)
	refs, err := refscan.ScanClass(cf, "org/plugin/Check.class")
	require.NoError(t, err)
	var types []string
	for _, ref := range refs {
		types = append(types, ref.Symbol.Owner)
	}
	assert.Equal(t, []string{
		"java/lang/Object", "org/host/api/Session",
		"org/host/api/Uses", "org/host/api/Session", "org/host/api/Scope", "org/host/api/Session",
	}, types)

	again, _, err := r.Rewrite(out)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestRewriteLeavesUnrelatedClassesAlone(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	c := classfiletest.NewClass("org/plugin/Plain")
	c.Method(classfile.AccPublic, "name", "()Ljava/lang/String;").
		Ldc("plain").
		Invoke(classfile.OpInvokevirtual, "java/lang/String", "trim", "()Ljava/lang/String;").
		Return(classfile.OpAreturn)
	in := c.Build(t)

	out, res, err := r.Rewrite(in)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, in, out)
}

func TestRewriteSkipsWindowWithInboundBranch(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	c := classfiletest.NewClass("org/plugin/Loop")
	c.Method(classfile.AccPublic, "run", "(Lorg/host/api/Project;Lorg/host/api/Element;)V").
		Aload(1).
		Invoke(classfile.OpInvokestatic, sessionProvider, "getInstance", getInstanceDesc).
		Label("mid").Aload(2).
		Invoke(classfile.OpInvokevirtual, sessionProvider, "getToken", getTokenDesc).
		Invoke(classfile.OpInvokestatic, "org/host/api/Hooks", "enter", enterDesc).
		Return(classfile.OpReturn).
		Jump(classfile.OpGoto, "mid")
	in := c.Build(t)

	out, err := r.MigrateClass(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRewriteIsIdempotent(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	tests := []struct {
		name  string
		class *classfiletest.Class
	}{
		{"collapse", collapseClass()},
		{"trampoline", trampolineClass()},
		{"class level", classLevelClass()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			once, err := r.MigrateClass(tc.class.Build(t))
			require.NoError(t, err)
			twice, res, err := r.Rewrite(once)
			require.NoError(t, err)
			assert.False(t, res.Changed())
			assert.Equal(t, once, twice)
		})
	}
}

func TestRewriteIsDeterministic(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	in := collapseClass().Build(t)
	first, err := r.MigrateClass(append([]byte(nil), in...))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.MigrateClass(append([]byte(nil), in...))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMigrateEntries(t *testing.T) {
	t.Parallel()
	r := newTestRewriter(t)

	manifest := []byte("Manifest-Version: 1.0\r\n")
	plain := classfiletest.NewClass("org/plugin/Plain")
	entries := []*jar.Entry{
		{Header: zip.FileHeader{Name: "META-INF/MANIFEST.MF"}, Data: manifest},
		{Header: zip.FileHeader{Name: "org/plugin/Check.class"}, Data: collapseClass().Build(t)},
		{Header: zip.FileHeader{Name: "org/plugin/Plain.class"}, Data: plain.Build(t)},
		{Header: zip.FileHeader{Name: "org/plugin/View.class"}, Data: trampolineClass().Build(t)},
	}
	sum, err := r.MigrateEntries(entries)
	require.NoError(t, err)
	assert.True(t, sum.Changed())
	assert.Equal(t, 2, sum.Classes)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Equal(t, map[string]int{"analysis-entry": 1, "render-defaults": 1}, sum.Rules)
	assert.Equal(t, manifest, entries[0].Data)

	entries[1].Data = []byte("broken")
	_, err = r.MigrateEntries(entries)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "org/plugin/Check.class: "))
}

func TestCheckMethodRejectsInconsistentInvoke(t *testing.T) {
	t.Parallel()

	c := classfiletest.NewClass("org/plugin/Bad")
	c.Method(classfile.AccPublic, "run", "(Lorg/host/api/SymbolProvider;)V").
		Aload(1).
		InvokeRef(classfile.OpInvokevirtual, classfiletest.Sym(tt.RefInterfaceMethod, "org/host/api/SymbolProvider", "reset", "()V")).
		Return(classfile.OpReturn)
	cf, err := classfile.Parse(c.Build(t))
	require.NoError(t, err)

	err = checkMethod(cf, cf.Methods[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invokevirtual")
}

func TestArenaForwarding(t *testing.T) {
	t.Parallel()

	list := []*classfile.Instruction{
		{Offset: 0, Opcode: classfile.OpNop},
		{Offset: 1, Opcode: classfile.OpNop},
		{Offset: 2, Opcode: classfile.OpNop},
		{Offset: 3, Opcode: classfile.OpReturn},
	}
	a := newArena(list, 4)
	a.remove(1)
	a.remove(2)
	a.remove(0)
	assert.Equal(t, nodeID(3), a.head)
	assert.Equal(t, nodeID(3), a.resolve(0))
	assert.Equal(t, nodeID(3), a.resolve(1))
	assert.Equal(t, nodeID(3), a.nodes[1].forward, "path is compressed")

	require.NoError(t, a.layout())
	for _, old := range []int{0, 1, 2, 3} {
		at, err := a.target(old)
		require.NoError(t, err)
		assert.Equal(t, 0, at)
	}
	at, err := a.target(4)
	require.NoError(t, err)
	assert.Equal(t, 1, at)
	_, err = a.target(7)
	assert.Error(t, err)
	assert.True(t, a.forwarded(1))
	assert.False(t, a.forwarded(3))
}

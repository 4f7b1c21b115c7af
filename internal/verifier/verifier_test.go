package verifier

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gnolang/classmig/internal/classfile"
	"github.com/gnolang/classmig/internal/classfile/classfiletest"
	"github.com/gnolang/classmig/internal/oracle"
	"github.com/gnolang/classmig/internal/rules"
	tt "github.com/gnolang/classmig/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostSurface = `
version: 2.0.0
packages: [org.host.api]
classes:
  - name: org.host.api.Base
    methods:
      - {name: <init>, descriptor: ()V}
      - {name: resolve, descriptor: ()Lorg/host/api/Element;}
  - name: org.host.api.Element
    interface: true
    methods:
      - {name: getText, descriptor: ()Ljava/lang/String;}
  - name: org.host.api.Session
  - name: org.host.api.SymbolProvider
    interface: true
    methods:
      - {name: symbolOf, descriptor: (Lorg/host/api/Element;)Ljava/lang/Object;}
`

const migrationRules = `
name: host-1-to-2
from: 1.0.0
to: 2.0.0
rules:
  - {name: session, kind: rename, from: {owner: org.host.api.KtSession}, to: {owner: org.host.api.Session}}
  - {name: provider-interface, kind: dispatch, owner: org.host.api.SymbolProvider, dispatch: interface}
`

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	s, err := oracle.ParseYAML([]byte(hostSurface))
	require.NoError(t, err)
	o, err := oracle.New(s)
	require.NoError(t, err)
	table, err := rules.Parse([]byte(migrationRules))
	require.NoError(t, err)
	return New(o, table)
}

func writePlugin(t *testing.T, classes ...*classfiletest.Class) string {
	t.Helper()
	entries := []classfiletest.Entry{
		{Name: "META-INF/services/org.host.api.CheckProvider", Data: []byte("org.plugin.Check\n")},
	}
	for _, c := range classes {
		entries = append(entries, classfiletest.ClassEntry(t, c))
	}
	path := filepath.Join(t.TempDir(), "plugin.jar")
	classfiletest.WriteJar(t, path, entries...)
	return path
}

func pluginCheck() *classfiletest.Class {
	c := classfiletest.NewClass("org/plugin/Check")
	c.Super = "org/host/api/Base"
	c.Method(classfile.AccPublic, "<init>", "()V").
		Aload(0).
		Invoke(classfile.OpInvokespecial, "org/host/api/Base", "<init>", "()V").
		Return(classfile.OpReturn)
	return c
}

func TestVerifyCompatible(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t)

	c := pluginCheck()
	c.Method(classfile.AccPublic, "text", "()Ljava/lang/String;").
		Aload(0).
		Invoke(classfile.OpInvokevirtual, "org/plugin/Check", "resolve", "()Lorg/host/api/Element;").
		Invoke(classfile.OpInvokeinterface, "org/host/api/Element", "getText", "()Ljava/lang/String;").
		Aload(0).
		Invoke(classfile.OpInvokevirtual, "org/plugin/Helper", "help", "()V").
		Return(classfile.OpAreturn)
	helper := classfiletest.NewClass("org/plugin/Helper")
	helper.Method(classfile.AccPublic, "help", "()V").Return(classfile.OpReturn)

	path := writePlugin(t, c, helper)
	verdict := v.Verify(path)
	assert.Equal(t, tt.Verdict{Kind: tt.Compatible}, verdict)
	assert.True(t, v.IsCompatible(path))
	assert.False(t, v.NeedsAPIMigration(path))
}

func TestVerifyDiagnostic(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t)

	c := classfiletest.NewClass("org/plugin/rules/ClassReferenceCheck")
	c.Method(classfile.AccPublic, "isClassReference", "(Lorg/host/api/Element;)Z").
		Field(classfile.OpGetstatic, "org/host/api/Owner", "Companion", "Lorg/host/api/Owner$Companion;").
		Op(classfile.OpPop).
		Field(classfile.OpGetstatic, "org/host/api/Gone", "INSTANCE", "Lorg/host/api/Gone;").
		Op(classfile.OpPop).
		Iconst(1).
		Return(classfile.OpIreturn)

	verdict := v.Verify(writePlugin(t, c))
	assert.Equal(t, tt.Incompatible, verdict.Kind)
	assert.Equal(t, "In org.plugin.rules.ClassReferenceCheck.isClassReference: org.host.api.Owner#Companion", verdict.Diagnostic)
	require.NotNil(t, verdict.Unresolved)
	assert.Equal(t, 0, verdict.Unresolved.Location.Offset)
	assert.False(t, verdict.Uncovered)
}

func TestVerifyNeedsMigration(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t)

	c := pluginCheck()
	c.Method(classfile.AccPublic, "run", "(Lorg/host/api/SymbolProvider;Lorg/host/api/Element;)V").
		Aload(1).
		Aload(2).
		Invoke(classfile.OpInvokevirtual, "org/host/api/SymbolProvider", "symbolOf", "(Lorg/host/api/Element;)Ljava/lang/Object;").
		Op(classfile.OpPop).
		LdcClass("org/host/api/KtSession").
		Op(classfile.OpPop).
		Return(classfile.OpReturn)

	path := writePlugin(t, c)
	verdict := v.Verify(path)
	assert.Equal(t, tt.NeedsMigration, verdict.Kind)
	assert.Equal(t, []string{"session", "provider-interface"}, verdict.CoveringRules)
	assert.Nil(t, verdict.Unresolved)
	assert.True(t, v.NeedsAPIMigration(path))
	assert.False(t, v.IsCompatible(path), "soundness")
}

func TestVerifyAnnotationOnlyReference(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t)

	c := pluginCheck()
	c.RawAttribute(classfile.AttrRuntimeVisibleAnnotations, classfiletest.Annotations(
		c.Annotation("Lorg/host/api/KtSession;")))
	verdict := v.Verify(writePlugin(t, c))
	assert.Equal(t, tt.NeedsMigration, verdict.Kind)
	assert.Equal(t, []string{"session"}, verdict.CoveringRules)

	gone := pluginCheck()
	gone.Method(classfile.AccPublic, "run", "()V").
		Attribute(classfile.AttrRuntimeInvisibleAnnotations, classfiletest.Annotations(
			gone.Annotation("Lorg/host/api/Session;", classfiletest.Pair{
				Name:  "kind",
				Value: gone.EnumValue("Lorg/host/api/Gone;", "ALL"),
			}))).
		Return(classfile.OpReturn)
	verdict = v.Verify(writePlugin(t, gone))
	assert.Equal(t, tt.Incompatible, verdict.Kind)
	assert.Equal(t, "In org.plugin.Check.run: org.host.api.Gone", verdict.Diagnostic)
}

func TestVerifyUncoveredMigration(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t)

	c := pluginCheck()
	c.Method(classfile.AccPublic, "run", "()V").
		LdcClass("org/host/api/KtSession").
		Op(classfile.OpPop).
		Aload(0).
		Invoke(classfile.OpInvokevirtual, "org/host/api/Base", "vanished", "()V").
		Return(classfile.OpReturn)

	verdict := v.Verify(writePlugin(t, c))
	assert.Equal(t, tt.Incompatible, verdict.Kind)
	assert.True(t, verdict.Uncovered)
	assert.Equal(t, "In org.plugin.Check.run: org.host.api.Base#vanished", verdict.Diagnostic)
}

func TestVerifyInheritedMember(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t)

	c := pluginCheck()
	c.Method(classfile.AccPublic, "run", "()V").
		Aload(0).
		Invoke(classfile.OpInvokevirtual, "org/plugin/Check", "vanished", "()V").
		Return(classfile.OpReturn)

	verdict := v.Verify(writePlugin(t, c))
	assert.Equal(t, tt.Incompatible, verdict.Kind)
	assert.Equal(t, "In org.plugin.Check.run: org.host.api.Base#vanished", verdict.Diagnostic)
}

func TestVerifyMalformed(t *testing.T) {
	t.Parallel()
	v := newTestVerifier(t)
	dir := t.TempDir()

	notZip := filepath.Join(dir, "broken.jar")
	require.NoError(t, os.WriteFile(notZip, []byte("definitely not a jar"), 0o644))
	verdict := v.Verify(notZip)
	assert.Equal(t, tt.Incompatible, verdict.Kind)
	assert.True(t, strings.HasPrefix(verdict.Diagnostic, "malformed module: "), verdict.Diagnostic)
	assert.Nil(t, verdict.Unresolved)

	data := pluginCheck().Build(t)
	truncated := filepath.Join(dir, "truncated.jar")
	classfiletest.WriteJar(t, truncated, classfiletest.Entry{Name: "org/plugin/Check.class", Data: data[:20]})
	verdict = v.Verify(truncated)
	assert.Equal(t, tt.Incompatible, verdict.Kind)
	assert.True(t, strings.HasPrefix(verdict.Diagnostic, "malformed module: org/plugin/Check.class: "), verdict.Diagnostic)

	assert.False(t, v.IsCompatible(filepath.Join(dir, "missing.jar")))
}

func TestVerifyWithoutRules(t *testing.T) {
	t.Parallel()

	s, err := oracle.ParseYAML([]byte(hostSurface))
	require.NoError(t, err)
	o, err := oracle.New(s)
	require.NoError(t, err)
	v := New(o, nil)

	c := pluginCheck()
	c.Method(classfile.AccPublic, "run", "()V").
		LdcClass("org/host/api/KtSession").
		Op(classfile.OpPop).
		Return(classfile.OpReturn)
	verdict := v.Verify(writePlugin(t, c))
	assert.Equal(t, tt.Incompatible, verdict.Kind)
	assert.Equal(t, "In org.plugin.Check.run: org.host.api.KtSession", verdict.Diagnostic)
	assert.False(t, verdict.Uncovered)
}

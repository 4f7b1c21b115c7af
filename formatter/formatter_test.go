package formatter

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tt "github.com/gnolang/classmig/internal/types"
	"github.com/gnolang/classmig/migrate"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

var reports = []migrate.Report{
	{
		Path:     "plugins/current.jar",
		Verdict:  tt.Verdict{Kind: tt.Compatible},
		Loadable: "plugins/current.jar",
	},
	{
		Path:     "plugins/outdated.jar",
		Verdict:  tt.Verdict{Kind: tt.NeedsMigration, CoveringRules: []string{"session", "provider-interface"}},
		Loadable: ".classmig-cache/outdated-0123456789abcdef.jar",
	},
	{
		Path: "plugins/broken.jar",
		Verdict: tt.Verdict{
			Kind:       tt.Incompatible,
			Unresolved: &tt.Reference{},
			Diagnostic: "In org.plugin.rules.ClassReferenceCheck.isClassReference: org.host.api.Owner#Companion",
		},
		Refusal: "In org.plugin.rules.ClassReferenceCheck.isClassReference: org.host.api.Owner#Companion",
	},
	{
		Path:    "plugins/truncated.jar",
		Verdict: tt.Verdict{Kind: tt.Incompatible, Diagnostic: "malformed module: zip: not a valid zip file"},
		Refusal: "malformed module: zip: not a valid zip file",
	},
}

func TestGenerateFormattedReport(t *testing.T) {
	t.Parallel()

	expected := `ok: compatible
 --> plugins/current.jar

warning: needs-migration
 --> plugins/outdated.jar
 = rules: session, provider-interface
 = loads: .classmig-cache/outdated-0123456789abcdef.jar

error: incompatible
 --> plugins/broken.jar
 |
 = In org.plugin.rules.ClassReferenceCheck.isClassReference: org.host.api.Owner#Companion

error: incompatible
 --> plugins/truncated.jar
 |
 = malformed module: zip: not a valid zip file
Note: the archive could not be read

`

	assert.Equal(t, expected, GenerateFormattedReport(reports))
}

func TestGenerateFormattedReportUncovered(t *testing.T) {
	t.Parallel()
	r := migrate.Report{
		Path:    "plugins/partial.jar",
		Verdict: tt.Verdict{Kind: tt.Incompatible, Uncovered: true, Unresolved: &tt.Reference{}},
		Refusal: "plugins/partial.jar uses an API that changed",
	}
	out := GenerateFormattedReport([]migrate.Report{r})
	assert.Contains(t, out, "Note: the plugin needs migration, but at least one change has no migration rule; upgrade the plugin\n")
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, reports[:2]))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "plugins/outdated.jar", decoded[1]["path"])
	verdict := decoded[1]["verdict"].(map[string]any)
	assert.Equal(t, "needs-migration", verdict["kind"])
	assert.Equal(t, []any{"session", "provider-interface"}, verdict["covering_rules"])
	assert.NotContains(t, decoded[0], "refusal")

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestSummary(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "4 plugins: 1 compatible, 1 needs migration, 2 refused", Summary(reports))
	assert.Equal(t, "1 plugin: 1 compatible, 0 needs migration, 0 refused", Summary(reports[:1]))
}

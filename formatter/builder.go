package formatter

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/fatih/color"

	tt "github.com/gnolang/classmig/internal/types"
	"github.com/gnolang/classmig/migrate"
)

var (
	errorStyle      = color.New(color.FgRed, color.Bold)
	warningStyle    = color.New(color.FgHiYellow, color.Bold)
	okStyle         = color.New(color.FgGreen, color.Bold)
	ruleStyle       = color.New(color.FgYellow, color.Bold)
	fileStyle       = color.New(color.FgCyan, color.Bold)
	lineStyle       = color.New(color.FgHiBlue, color.Bold)
	messageStyle    = color.New(color.FgRed, color.Bold)
	suggestionStyle = color.New(color.FgGreen, color.Bold)
)

// reportFormatter is the interface that wraps the ReportTemplate method.
// Implementations are responsible for formatting one kind of verdict.
type reportFormatter interface {
	ReportTemplate() string
}

// getReportFormatter returns the formatter for a report, based on whether
// it was refused and on its verdict.
func getReportFormatter(r migrate.Report) reportFormatter {
	switch {
	case r.Refused():
		return &RefusalFormatter{}
	case r.Verdict.Kind == tt.NeedsMigration:
		return &MigrationFormatter{}
	default:
		return &CompatibleFormatter{}
	}
}

// GenerateFormattedReport formats reports into a human-readable string.
func GenerateFormattedReport(reports []migrate.Report) string {
	var builder strings.Builder
	for _, r := range reports {
		builder.WriteString(buildReport(r, getReportFormatter(r)))
	}
	return builder.String()
}

/***** Report Formatter Builder *****/

type ReportData struct {
	Verdict  string
	Path     string
	Loadable string
	Rules    []string
	Message  string
	Note     string
	Padding  string
}

func buildReport(r migrate.Report, formatter reportFormatter) string {
	data := ReportData{
		Verdict:  r.Verdict.Kind.String(),
		Path:     r.Path,
		Loadable: r.Loadable,
		Rules:    r.Verdict.CoveringRules,
		Message:  r.Refusal,
		Note:     refusalNote(r.Verdict),
		Padding:  " ",
	}
	if data.Loadable == r.Path {
		data.Loadable = ""
	}

	funcMap := template.FuncMap{
		"header":  header,
		"rules":   rules,
		"message": message,
		"loads":   loads,
		"note":    note,
	}

	tmpl := template.Must(template.New("report").Funcs(funcMap).Parse(formatter.ReportTemplate()))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Sprintf("Error formatting report: %v", err)
	}
	return buf.String()
}

func refusalNote(v tt.Verdict) string {
	switch {
	case v.Uncovered:
		return "the plugin needs migration, but at least one change has no migration rule; upgrade the plugin"
	case v.Kind == tt.Incompatible && v.Unresolved == nil:
		return "the archive could not be read"
	}
	return ""
}

// utils functions used in the text templates

func header(verdict string, padding string, path string) string {
	var endString string
	switch verdict {
	case tt.Incompatible.String():
		endString = errorStyle.Sprint("error: ")
	case tt.NeedsMigration.String():
		endString = warningStyle.Sprint("warning: ")
	default:
		endString = okStyle.Sprint("ok: ")
	}
	endString += ruleStyle.Sprintf("%s\n", verdict)
	endString += lineStyle.Sprintf("%s--> ", padding)
	endString += fileStyle.Sprintf("%s\n", path)
	return endString
}

func rules(names []string, padding string) string {
	if len(names) == 0 {
		return ""
	}
	return lineStyle.Sprintf("%s= ", padding) + "rules: " + ruleStyle.Sprintf("%s\n", strings.Join(names, ", "))
}

func message(msg string, padding string) string {
	return lineStyle.Sprintf("%s|\n", padding) +
		lineStyle.Sprintf("%s= ", padding) + messageStyle.Sprintf("%s\n", msg)
}

func loads(path string, padding string) string {
	if path == "" {
		return ""
	}
	return lineStyle.Sprintf("%s= ", padding) + "loads: " + fileStyle.Sprintf("%s\n", path)
}

func note(note string) string {
	if note == "" {
		return ""
	}
	return suggestionStyle.Sprint("Note: ") + lineStyle.Sprintf("%s\n", note)
}

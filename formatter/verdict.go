package formatter

// CompatibleFormatter formats plugins that load as they are.
type CompatibleFormatter struct{}

func (f *CompatibleFormatter) ReportTemplate() string {
	return `{{header .Verdict .Padding .Path}}
`
}

// MigrationFormatter formats plugins that load once migrated.
type MigrationFormatter struct{}

func (f *MigrationFormatter) ReportTemplate() string {
	return `{{header .Verdict .Padding .Path -}}
{{rules .Rules .Padding -}}
{{loads .Loadable .Padding}}
`
}

// RefusalFormatter formats plugins that must not be loaded.
type RefusalFormatter struct{}

func (f *RefusalFormatter) ReportTemplate() string {
	return `{{header .Verdict .Padding .Path -}}
{{message .Message .Padding -}}
{{if .Note}}{{note .Note}}{{end}}
`
}

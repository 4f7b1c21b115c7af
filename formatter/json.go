package formatter

import (
	"encoding/json"
	"fmt"
	"io"

	tt "github.com/gnolang/classmig/internal/types"
	"github.com/gnolang/classmig/migrate"
)

// WriteJSON writes reports as an indented JSON array.
func WriteJSON(w io.Writer, reports []migrate.Report) error {
	if reports == nil {
		reports = []migrate.Report{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("error marshalling reports to JSON: %w", err)
	}
	return nil
}

// Summary counts reports by outcome, e.g.
// "4 plugins: 2 compatible, 1 needs migration, 1 refused".
func Summary(reports []migrate.Report) string {
	var compatible, migration, refused int
	for _, r := range reports {
		switch {
		case r.Refused():
			refused++
		case r.Verdict.Kind == tt.NeedsMigration:
			migration++
		default:
			compatible++
		}
	}
	noun := "plugins"
	if len(reports) == 1 {
		noun = "plugin"
	}
	return fmt.Sprintf("%d %s: %d compatible, %d needs migration, %d refused",
		len(reports), noun, compatible, migration, refused)
}

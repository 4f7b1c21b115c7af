package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gnolang/classmig/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the migration rules in the rule table",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		if config.Rules == "" {
			return errors.New("no rule table configured")
		}
		table, err := rules.Load(config.Rules)
		if err != nil {
			return err
		}
		return printRuleTable(cmd.OutOrStdout(), table)
	},
}

func printRuleTable(out io.Writer, table *rules.Table) error {
	fmt.Fprintf(out, "%s: %s -> %s, %d rules\n\n", table.Name(), table.From(), table.To(), table.Len())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tAPPLIES WHEN")
	for _, r := range table.Rules() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name(), r.Kind(), r.Precondition())
	}
	return w.Flush()
}

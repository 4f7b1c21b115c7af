package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/gnolang/classmig/migrate"
)

var dryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate [paths...]",
	Short: "Migrate outdated plugin archives into the cache",
	Long: `Verifies each plugin and, when it needs migration, rewrites it into the
cache directory. Reports name the archive the host should load.
Example) classmig migrate plugins/`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		c, err := assemble()
		if err != nil {
			return err
		}
		processor := migrate.MigratePlugin
		if dryRun {
			processor = migrate.VerifyPlugin
		}
		return runProcess(ctx, cmd.OutOrStdout(), c.Engine, args, processor)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report what would be migrated")
}

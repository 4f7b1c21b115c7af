package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gnolang/classmig/migrate"
)

var force bool

// initCmd: classmig init
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfigurationFile(cfgFile, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", cfgFile)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
}

func initConfigurationFile(configurationPath string, overwrite bool) error {
	if configurationPath == "" {
		configurationPath = migrate.DefaultConfigurationPath
	}
	if _, err := os.Stat(configurationPath); err == nil && !overwrite {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configurationPath)
	}
	return migrate.WriteConfigurationFile(configurationPath, migrate.DefaultConfig())
}

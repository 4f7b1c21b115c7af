package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gnolang/classmig/internal/oracle"
)

var snapshotPath string

var oracleCmd = &cobra.Command{
	Use:   "oracle",
	Short: "Work with host API surfaces",
}

var oracleBuildCmd = &cobra.Command{
	Use:   "build <host-api.jar>",
	Short: "Extract the API surface of a host jar into a snapshot",
	Long: `Reads every public class of the host API jar and writes its surface as a
msgpack snapshot, which loads faster than the jar itself.
Example) classmig oracle build host-api-2.1.0.jar -o host-api.msgpack`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := oracle.FromArchive(args[0])
		if err != nil {
			return err
		}
		if err := oracle.SaveSnapshot(snapshotPath, s); err != nil {
			return fmt.Errorf("error writing snapshot: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "API %s: %d classes written to %s\n", s.Version, len(s.Classes), snapshotPath)
		return nil
	},
}

func init() {
	oracleBuildCmd.Flags().StringVarP(&snapshotPath, "output", "o", "host-api.msgpack", "Snapshot path")
	oracleCmd.AddCommand(oracleBuildCmd)
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnolang/classmig/formatter"
	"github.com/gnolang/classmig/migrate"
)

var (
	jsonOutput bool
	outPath    string
)

var verifyCmd = &cobra.Command{
	Use:   "verify [paths...]",
	Short: "Classify plugin archives against the host API",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		c, err := assemble()
		if err != nil {
			return err
		}
		return runProcess(ctx, cmd.OutOrStdout(), c.Engine, args, migrate.VerifyPlugin)
	},
}

func init() {
	for _, c := range []*cobra.Command{verifyCmd, migrateCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Output reports in JSON format")
		c.Flags().StringVarP(&outPath, "output", "o", "", "Output path (when using JSON)")
	}
}

// runProcess processes paths and prints the reports. Any refusal makes
// the command exit with status 1.
func runProcess(
	ctx context.Context,
	out io.Writer,
	engine migrate.PluginEngine,
	paths []string,
	processor migrate.Processor,
) error {
	reports, err := migrate.ProcessPaths(ctx, logger, engine, paths, processor)
	if err != nil {
		logger.Error("Error processing plugins", zap.Error(err))
		return err
	}

	if err := printReports(out, reports, jsonOutput, outPath); err != nil {
		return err
	}

	for _, r := range reports {
		if r.Refused() {
			return &ExitError{Code: 1}
		}
	}
	return nil
}

func printReports(out io.Writer, reports []migrate.Report, isJSON bool, jsonPath string) error {
	if !isJSON {
		fmt.Fprint(out, formatter.GenerateFormattedReport(reports))
		fmt.Fprintln(out, formatter.Summary(reports))
		return nil
	}
	if jsonPath == "" {
		return formatter.WriteJSON(out, reports)
	}

	f, err := os.Create(jsonPath)
	if err != nil {
		return fmt.Errorf("error creating JSON output file: %w", err)
	}
	defer f.Close()
	return formatter.WriteJSON(f, reports)
}

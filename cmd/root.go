package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnolang/classmig/migrate"
)

const defaultTimeout = 5 * time.Minute

var (
	cfgFile  string
	timeout  time.Duration
	verbose  bool
	cacheDir string
	surface  string
	ruleFile string

	logger *zap.Logger
)

// ExitError asks main to exit with Code without printing anything more.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

var rootCmd = &cobra.Command{
	Use:              "classmig [paths...]",
	Short:            "classmig - verify plugin jars against a host API and migrate the outdated ones",
	TraverseChildren: true, // Prioritize subcommands
	SilenceUsage:     true,
	SilenceErrors:    true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// no subcommand
		if len(args) == 0 {
			return cmd.Help()
		}
		// Format: classmig [path1 path2 ...] => behaves like the verify subcommand
		verifyCmd.SetContext(cmd.Context())
		return verifyCmd.RunE(verifyCmd, args)
	},
}

// Execute runs the command line. An *ExitError carries the exit code.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", migrate.DefaultConfigurationPath, "Configuration file")
	flags.DurationVar(&timeout, "timeout", defaultTimeout, "Give up after this long")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log engine decisions")
	flags.StringVar(&cacheDir, "cache-dir", "", "Directory for migrated archives (overrides the config)")
	flags.StringVar(&surface, "surface", "", "API surface: .yaml, .msgpack or host .jar (overrides the config)")
	flags.StringVar(&ruleFile, "rules", "", "Migration rule table (overrides the config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(oracleCmd)
	rootCmd.AddCommand(watchCmd)
}

func initLogger() error {
	if logger != nil {
		return nil
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	config.Encoding = "console"
	config.DisableStacktrace = true
	if verbose {
		config = zap.NewDevelopmentConfig()
	}
	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	logger = l
	return nil
}

// loadConfig reads the configuration file when there is one, otherwise
// starts from the defaults. Flags override either.
func loadConfig() (migrate.Config, error) {
	config := migrate.DefaultConfig()
	if _, err := os.Stat(cfgFile); err == nil {
		if config, err = migrate.ParseConfigurationFile(cfgFile); err != nil {
			return config, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return config, err
	} else if surface == "" {
		return config, fmt.Errorf("no configuration at %s: run \"classmig init\" or pass --surface", cfgFile)
	} else if ruleFile == "" {
		config.Rules = ""
	}

	if cacheDir != "" {
		config.CacheDir = cacheDir
	}
	if surface != "" {
		config.Surface = surface
	}
	if ruleFile != "" {
		config.Rules = ruleFile
	}
	return config, nil
}

func assemble() (*migrate.Components, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return migrate.AssembleConfig(config, logger)
}

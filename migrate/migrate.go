// Package migrate is the public entry point of classmig: it builds an
// engine from a configuration file and processes plugin archives in bulk.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gnolang/classmig/internal"
	"github.com/gnolang/classmig/internal/oracle"
	"github.com/gnolang/classmig/internal/rewriter"
	"github.com/gnolang/classmig/internal/rules"
	tt "github.com/gnolang/classmig/internal/types"
	"github.com/gnolang/classmig/scanner"
)

// PluginEngine is what batch processing needs from an engine.
type PluginEngine interface {
	Verify(path string) tt.Verdict
	Resolve(path string) (tt.Verdict, string, error)
}

// Report is the outcome of processing one plugin archive.
type Report struct {
	Path    string     `json:"path"`
	Verdict tt.Verdict `json:"verdict"`
	// Loadable is the archive the host should load, set by MigratePlugin
	// when the plugin is not refused.
	Loadable string `json:"loadable,omitempty"`
	// Refusal explains why the plugin cannot be loaded.
	Refusal string `json:"refusal,omitempty"`
}

// Refused reports whether the plugin must not be loaded.
func (r Report) Refused() bool { return r.Refusal != "" }

// Processor handles one plugin archive. Errors are faults, not refusals.
type Processor func(engine PluginEngine, path string) (Report, error)

// Components are the pieces New assembles, for callers that need more
// than the engine.
type Components struct {
	Engine  *internal.Engine
	Oracle  *oracle.Oracle
	Table   *rules.Table
	Cache   *internal.MigrationCache
	Metrics *internal.Metrics
}

// New builds an engine from the configuration file at configurationPath.
func New(configurationPath string, logger *zap.Logger) (*internal.Engine, error) {
	c, err := Assemble(configurationPath, logger)
	if err != nil {
		return nil, err
	}
	return c.Engine, nil
}

// Assemble loads the surface and rule table named by the configuration
// and wires the engine, cache and metrics together.
func Assemble(configurationPath string, logger *zap.Logger) (*Components, error) {
	config, err := ParseConfigurationFile(configurationPath)
	if err != nil {
		return nil, err
	}
	return AssembleConfig(config, logger)
}

// AssembleConfig is Assemble for an already resolved configuration.
func AssembleConfig(config Config, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var opts []oracle.Option
	if config.ExemptPrefixes != nil {
		opts = append(opts, oracle.WithExemptPrefixes(config.ExemptPrefixes...))
	}
	o, err := oracle.Load(config.Surface, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading API surface: %w", err)
	}

	var table *rules.Table
	if config.Rules != "" {
		if table, err = rules.Load(config.Rules); err != nil {
			return nil, err
		}
		if err := table.CheckHost(o.Version()); err != nil {
			return nil, err
		}
	}

	metrics := internal.NewMetrics()
	c := &Components{Oracle: o, Table: table, Metrics: metrics}
	if table != nil {
		rw := rewriter.New(table, rewriter.WithLogger(logger))
		c.Cache, err = internal.NewMigrationCache(config.CacheDir, rw,
			internal.WithCacheLogger(logger),
			internal.WithCacheMetrics(metrics),
		)
		if err != nil {
			return nil, err
		}
	}
	c.Engine = internal.NewEngine(o, table, c.Cache,
		internal.WithEngineLogger(logger),
		internal.WithEngineMetrics(metrics),
	)
	logger.Debug("engine ready",
		zap.String("surface", config.Surface),
		zap.String("api", o.Version()),
		zap.Int("classes", o.Len()),
		zap.Int("rules", ruleCount(table)),
	)
	return c, nil
}

func ruleCount(t *rules.Table) int {
	if t == nil {
		return 0
	}
	return t.Len()
}

// VerifyPlugin classifies a plugin without migrating it.
func VerifyPlugin(engine PluginEngine, path string) (Report, error) {
	v := engine.Verify(path)
	r := Report{Path: path, Verdict: v}
	if v.Kind == tt.Incompatible {
		r.Refusal = v.Diagnostic
	}
	return r, nil
}

// MigratePlugin resolves the archive the host should load for a plugin,
// migrating it when needed.
func MigratePlugin(engine PluginEngine, path string) (Report, error) {
	v, loadable, err := engine.Resolve(path)
	r := Report{Path: path, Verdict: v}
	switch {
	case err == nil:
		r.Loadable = loadable
	case tt.IsRefusal(err):
		r.Refusal = err.Error()
	default:
		return r, err
	}
	return r, nil
}

// ProcessPaths runs processor over every plugin archive named by paths,
// expanding directories. Reports come back in path order. A processor
// error stops the run; archives already processed are still reported.
func ProcessPaths(
	ctx context.Context,
	logger *zap.Logger,
	engine PluginEngine,
	paths []string,
	processor Processor,
) ([]Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	files, err := expand(paths)
	if err != nil {
		return nil, err
	}

	var bar *progressbar.ProgressBar
	if len(files) > 1 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("plugins"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))
	}

	reports := make([]Report, len(files))
	done := make([]bool, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, file := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := processor(engine, file)
			if err != nil {
				logger.Error("error processing plugin", zap.String("path", file), zap.Error(err))
				return fmt.Errorf("%s: %w", file, err)
			}
			reports[i], done[i] = r, true
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	out := make([]Report, 0, len(files))
	for i := range reports {
		if done[i] {
			out = append(out, reports[i])
		}
	}
	return out, err
}

// expand replaces directories with the plugin archives below them.
func expand(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		found, err := scanner.New(path).Paths()
		if err != nil {
			return nil, fmt.Errorf("error scanning %s: %w", path, err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, errors.New("no plugin archives found")
	}
	return files, nil
}

package internal

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gnolang/classmig/internal/refscan"
	"github.com/gnolang/classmig/internal/rules"
	tt "github.com/gnolang/classmig/internal/types"
	"github.com/gnolang/classmig/internal/verifier"
)

// Engine decides, per candidate plugin, which archive the host should
// load: the plugin itself, its migrated form, or none at all.
type Engine struct {
	verifier *verifier.Verifier
	// strict re-verifies migrated archives with no rules, so anything
	// still unresolved after migration is reported as such.
	strict  *verifier.Verifier
	cache   *MigrationCache
	logger  *zap.Logger
	metrics *Metrics

	watchMu sync.Mutex
	watch   *watchState
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger verdicts and refusals go to.
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithEngineMetrics records verdicts and refusals in m.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine checking plugins against o. table may be
// nil, in which case no plugin is migratable. cache may be nil when only
// verification is needed.
func NewEngine(o verifier.Oracle, table *rules.Table, cache *MigrationCache, opts ...EngineOption) *Engine {
	e := &Engine{cache: cache, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.verifier = verifier.New(o, table, verifier.WithLogger(e.logger))
	e.strict = verifier.New(o, nil, verifier.WithLogger(e.logger))
	return e
}

// Verify classifies the plugin at path.
func (e *Engine) Verify(path string) tt.Verdict {
	verdict, _ := e.verify(e.verifier, path)
	return verdict
}

// verify returns the verdict together with the scan failure behind a
// malformed verdict.
func (e *Engine) verify(v *verifier.Verifier, path string) (tt.Verdict, error) {
	m, err := refscan.ScanArchive(path)
	if err != nil {
		verdict := verifier.Malformed(err)
		e.logger.Warn("malformed plugin", zap.String("path", path), zap.Error(err))
		e.metrics.observeVerdict(verdict)
		return verdict, err
	}
	verdict := v.VerifyModule(m)
	e.logger.Info("verified plugin",
		zap.String("path", path),
		zap.Stringer("verdict", verdict.Kind),
		zap.Strings("rules", verdict.CoveringRules),
	)
	e.metrics.observeVerdict(verdict)
	return verdict, nil
}

// Loadable returns the archive to load for the plugin at path: path itself
// when it is compatible, the migrated archive when it needs migration. A
// plugin that cannot be loaded yields an error for which types.IsRefusal
// holds. Any other error is a fault of the engine or its rule table.
func (e *Engine) Loadable(path string) (string, error) {
	_, loadable, err := e.Resolve(path)
	return loadable, err
}

// Resolve is Loadable also returning the verdict for the plugin as found.
func (e *Engine) Resolve(path string) (tt.Verdict, string, error) {
	verdict, scanErr := e.verify(e.verifier, path)
	switch verdict.Kind {
	case tt.Compatible:
		return verdict, path, nil
	case tt.Incompatible:
		return verdict, "", e.refuse(refusal(path, verdict, scanErr))
	}

	if e.cache == nil {
		return verdict, "", errors.New("plugin needs migration but no migration cache is configured")
	}
	migrated, err := e.cache.GetMigratedJar(path)
	if err != nil {
		return verdict, "", err
	}

	after, scanErr := e.verify(e.strict, migrated)
	switch {
	case after.Kind == tt.Compatible:
		return verdict, migrated, nil
	case scanErr != nil:
		return verdict, "", fmt.Errorf("migrated plugin %s is unreadable: %w", migrated, scanErr)
	default:
		return verdict, "", e.refuse(&tt.UncoveredMigrationError{Path: path, Reference: *after.Unresolved})
	}
}

func refusal(path string, verdict tt.Verdict, scanErr error) error {
	var structural *tt.StructuralReadError
	switch {
	case errors.As(scanErr, &structural):
		return structural
	case scanErr != nil:
		return &tt.StructuralReadError{Path: path, Err: scanErr}
	case verdict.Uncovered:
		return &tt.UncoveredMigrationError{Path: path, Reference: *verdict.Unresolved}
	default:
		return &tt.UnresolvedSymbolError{Path: path, Diagnostic: verdict.Diagnostic}
	}
}

func (e *Engine) refuse(err error) error {
	reason := "unresolved"
	var (
		uncovered *tt.UncoveredMigrationError
		malformed *tt.StructuralReadError
	)
	switch {
	case errors.As(err, &uncovered):
		reason = "uncovered"
	case errors.As(err, &malformed):
		reason = "malformed"
	}
	e.logger.Warn("refused plugin", zap.String("reason", reason), zap.Error(err))
	e.metrics.observeRefusal(reason)
	return err
}

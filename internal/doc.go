// Package internal decides which archive the host loads for each plugin.
//
// Key components:
//
// Engine: verifies a plugin archive against the host API surface and the
// migration rule table, and answers "which archive should the host load"
// with the plugin itself, its migrated form, or a refusal.
//
// MigrationCache: rewrites a plugin archive at most once per content
// identity and remembers where the migrated archive was written for the
// lifetime of the process.
//
// Metrics: prometheus counters for verdicts, refusals, rewritten classes
// and cache activity, kept on a registry owned by the caller.
//
// The engine can also watch plugin directories and verify archives again
// as they change.
//
// Usage:
//
//	rw := rewriter.New(table)
//	cache, err := internal.NewMigrationCache(".classmig-cache", rw)
//	if err != nil {
//	    // handle error
//	}
//	engine := internal.NewEngine(oracle, table, cache)
//
//	path, err := engine.Loadable("plugins/check.jar")
//	if types.IsRefusal(err) {
//	    // skip the plugin
//	}
//
// This package is intended for internal use within classmig and should not
// be imported by external packages.
package internal

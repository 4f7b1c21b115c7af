package types

import (
	"errors"
	"fmt"
)

// StructuralReadError reports a corrupt archive or class file. Verification
// fails closed on it.
type StructuralReadError struct {
	Path  string
	Entry string
	Err   error
}

func (e *StructuralReadError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("malformed module %s: %s: %v", e.Path, e.Entry, e.Err)
	}
	return fmt.Sprintf("malformed module %s: %v", e.Path, e.Err)
}

func (e *StructuralReadError) Unwrap() error { return e.Err }

// UnresolvedSymbolError refuses a module whose first unresolved reference
// has no covering rule and is not otherwise migratable.
type UnresolvedSymbolError struct {
	Path       string
	Diagnostic string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("%s is incompatible with the host API: %s", e.Path, e.Diagnostic)
}

// UncoveredMigrationError refuses a module that needs migration but
// contains at least one incompatibility no rule covers.
type UncoveredMigrationError struct {
	Path      string
	Reference Reference
}

func (e *UncoveredMigrationError) Error() string {
	return fmt.Sprintf("%s uses an API that changed in a way that cannot be migrated automatically, upgrade the plugin (%s)",
		e.Path, FormatDiagnostic(e.Reference))
}

// RewriteInvariantViolation means a rewrite produced an inconsistent class.
// It points at a defect in the rule table, not in the input.
type RewriteInvariantViolation struct {
	Class  string
	Method string
	Reason string
}

func (e *RewriteInvariantViolation) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("rewrite invariant violated in %s: %s", DottedName(e.Class), e.Reason)
	}
	return fmt.Sprintf("rewrite invariant violated in %s.%s: %s", DottedName(e.Class), e.Method, e.Reason)
}

// IsRefusal reports whether err means the plugin must be excluded from the
// run rather than aborting it.
func IsRefusal(err error) bool {
	var (
		unresolved *UnresolvedSymbolError
		uncovered  *UncoveredMigrationError
		malformed  *StructuralReadError
	)
	return errors.As(err, &unresolved) || errors.As(err, &uncovered) || errors.As(err, &malformed)
}

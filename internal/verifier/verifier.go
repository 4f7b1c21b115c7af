// Package verifier classifies plugin archives against the host API.
package verifier

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gnolang/classmig/internal/refscan"
	"github.com/gnolang/classmig/internal/rules"
	tt "github.com/gnolang/classmig/internal/types"
)

// Oracle answers whether a symbol is usable in the host.
type Oracle interface {
	Resolves(sym tt.Symbol) bool
}

// Verifier cross-checks scanned references against an oracle and a rule
// table. It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	oracle Oracle
	table  *rules.Table
	logger *zap.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger verdicts are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New returns a verifier. table may be nil, in which case nothing is
// migratable.
func New(o Oracle, table *rules.Table, opts ...Option) *Verifier {
	v := &Verifier{oracle: o, table: table, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify scans the archive at path and classifies it. Malformed archives
// are Incompatible; Verify never fails.
func (v *Verifier) Verify(path string) tt.Verdict {
	m, err := refscan.ScanArchive(path)
	if err != nil {
		verdict := Malformed(err)
		v.logger.Warn("malformed plugin", zap.String("path", path), zap.Error(err))
		return verdict
	}
	return v.VerifyModule(m)
}

// IsCompatible reports whether every reference of the archive resolves.
func (v *Verifier) IsCompatible(path string) bool {
	return v.Verify(path).Kind == tt.Compatible
}

// NeedsAPIMigration reports whether the archive does not resolve as is
// but every unresolved reference is covered by a rule.
func (v *Verifier) NeedsAPIMigration(path string) bool {
	return v.Verify(path).Kind == tt.NeedsMigration
}

// Malformed turns a scan failure into the verdict reported for it.
func Malformed(err error) tt.Verdict {
	cause := err
	entry := ""
	var structural *tt.StructuralReadError
	if errors.As(err, &structural) {
		cause, entry = structural.Err, structural.Entry
	}
	diag := fmt.Sprintf("malformed module: %v", cause)
	if entry != "" {
		diag = fmt.Sprintf("malformed module: %s: %v", entry, cause)
	}
	return tt.Verdict{Kind: tt.Incompatible, Diagnostic: diag}
}

// VerifyModule classifies a scanned module. References are visited in
// scan order; the first one that neither resolves nor is covered by a
// rule makes the module Incompatible and is the only one reported.
func (v *Verifier) VerifyModule(m *refscan.Module) tt.Verdict {
	var (
		covering   = make(map[string]struct{})
		unresolved int
		first      *tt.Reference
	)
	for i := range m.References {
		ref := m.References[i]
		sym, migratable, ok := v.effective(m, ref.Symbol)
		if ok {
			continue
		}
		unresolved++
		if migratable && v.table != nil {
			if names, covered := v.table.Cover(sym, v.oracle); covered {
				for _, n := range names {
					covering[n] = struct{}{}
				}
				continue
			}
		}
		if first == nil {
			ref.Symbol = sym
			first = &ref
		}
	}

	var verdict tt.Verdict
	switch {
	case first != nil:
		verdict = tt.Verdict{
			Kind:       tt.Incompatible,
			Unresolved: first,
			Uncovered:  len(covering) > 0,
			Diagnostic: tt.FormatDiagnostic(*first),
		}
	case unresolved > 0:
		verdict = tt.Verdict{Kind: tt.NeedsMigration, CoveringRules: v.inTableOrder(covering)}
	default:
		verdict = tt.Verdict{Kind: tt.Compatible}
	}

	v.logger.Debug("verified plugin",
		zap.String("path", m.Path),
		zap.Stringer("verdict", verdict.Kind),
		zap.Int("references", len(m.References)),
		zap.Int("unresolved", unresolved),
	)
	return verdict
}

// effective returns the symbol to check for sym. References to classes
// the module defines are exempt unless the member is inherited from a host
// supertype, in which case the host supertype is checked instead and no
// rule applies, since rules are keyed on host owners. ok reports whether
// the reference resolves.
func (v *Verifier) effective(m *refscan.Module, sym tt.Symbol) (out tt.Symbol, migratable, ok bool) {
	if _, internal := m.Classes[sym.Owner]; !internal {
		return sym, true, v.oracle.Resolves(sym)
	}
	if sym.Kind == tt.RefType {
		return sym, false, true
	}
	hosts, declared := hostOwners(m, sym, sym.Owner, map[string]bool{})
	if declared || len(hosts) == 0 {
		return sym, false, true
	}
	for _, owner := range hosts {
		candidate := sym
		candidate.Owner = owner
		if v.oracle.Resolves(candidate) {
			return candidate, false, true
		}
	}
	sym.Owner = hosts[0]
	return sym, false, false
}

// hostOwners walks the module's class hierarchy from class looking for a
// declaration of sym. declared is set when a module class declares it;
// otherwise hosts lists the supertypes where the lookup leaves the module,
// superclass first.
func hostOwners(m *refscan.Module, sym tt.Symbol, class string, seen map[string]bool) (hosts []string, declared bool) {
	if seen[class] {
		return nil, false
	}
	seen[class] = true
	info, internal := m.Classes[class]
	if !internal {
		return []string{class}, false
	}
	if info.Declares(sym.Name, sym.Descriptor) {
		return nil, true
	}
	for _, next := range append([]string{info.Super}, info.Interfaces...) {
		if next == "" {
			continue
		}
		h, d := hostOwners(m, sym, next, seen)
		if d {
			return nil, true
		}
		hosts = append(hosts, h...)
	}
	return hosts, false
}

func (v *Verifier) inTableOrder(names map[string]struct{}) []string {
	out := make([]string, 0, len(names))
	for _, r := range v.table.Rules() {
		if _, ok := names[r.Name()]; ok {
			out = append(out, r.Name())
		}
	}
	return out
}

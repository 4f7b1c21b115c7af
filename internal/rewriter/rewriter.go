// Package rewriter applies a rule table to compiled classes.
//
// A class is rewritten in two passes. The pool pass applies class-level
// rules to the constant pool, so every instruction, method handle and
// descriptor using a renamed symbol follows without touching code. The
// code pass matches window rules against each method body and splices the
// replacement call in, relinking branches, exception ranges, debug tables
// and stack map frames. The result is checked before it is returned.
package rewriter

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/gnolang/classmig/internal/classfile"
	"github.com/gnolang/classmig/internal/jar"
	"github.com/gnolang/classmig/internal/rules"
	tt "github.com/gnolang/classmig/internal/types"
)

// Rewriter rewrites classes under one rule table. It is safe for
// concurrent use.
type Rewriter struct {
	table  *rules.Table
	logger *zap.Logger
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithLogger sets the logger rewrites are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rewriter) { r.logger = l }
}

// New returns a rewriter for table.
func New(table *rules.Table, opts ...Option) *Rewriter {
	r := &Rewriter{table: table, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result describes the rewrite of one class.
type Result struct {
	Class string
	// Applied lists the rules that changed the class, in the order they
	// first fired.
	Applied []string
	// Windows counts the window matches spliced per rule.
	Windows map[string]int
}

// Changed reports whether the class was rewritten.
func (r *Result) Changed() bool { return len(r.Applied) > 0 }

// MigrateClass rewrites one class file. A class no rule applies to is
// returned unchanged, byte for byte. Rewriting is idempotent.
func (r *Rewriter) MigrateClass(data []byte) ([]byte, error) {
	out, _, err := r.Rewrite(data)
	return out, err
}

// Rewrite is MigrateClass reporting what changed.
func (r *Rewriter) Rewrite(data []byte) ([]byte, *Result, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	res := &Result{Class: cf.Name(), Windows: map[string]int{}}

	var methods []*method
	for i := range cf.Methods {
		mt, err := r.loadMethod(cf, i)
		if err != nil {
			return nil, nil, err
		}
		if mt != nil {
			methods = append(methods, mt)
		}
	}

	// Window matching reads the pool before the pool pass changes it.
	if windows := r.table.Windows(); len(windows) > 0 {
		for _, mt := range methods {
			view, err := mt.view(cf.Pool)
			if err != nil {
				return nil, nil, err
			}
			mt.matches = match(view, windows)
		}
	}

	pass := &poolPass{r: r, cf: cf, pool: cf.Pool, flipped: map[uint16]struct{}{}}
	if err := pass.run(); err != nil {
		return nil, nil, err
	}
	res.Applied = pass.applied

	for _, mt := range methods {
		if err := pass.locals(mt); err != nil {
			return nil, nil, err
		}
		if err := mt.splice(cf.Pool); err != nil {
			return nil, nil, r.violation(cf, mt.name, err)
		}
		for _, m := range mt.matches {
			res.Windows[m.Rule]++
			res.Applied = appendOnce(res.Applied, m.Rule)
		}
		if err := mt.fixDispatch(cf.Pool, pass.flipped); err != nil {
			return nil, nil, err
		}
		if mt.changed {
			if err := mt.relink(cf); err != nil {
				return nil, nil, r.violation(cf, mt.name, err)
			}
		}
		if err := mt.store(); err != nil {
			return nil, nil, r.violation(cf, mt.name, err)
		}
	}

	if !pass.changed && len(res.Windows) == 0 {
		return data, res, nil
	}
	out, err := cf.Bytes()
	if err != nil {
		return nil, nil, r.violation(cf, "", err)
	}
	if err := r.check(out, methods); err != nil {
		return nil, nil, err
	}
	r.logger.Debug("rewrote class",
		zap.String("class", res.Class),
		zap.Strings("rules", res.Applied),
	)
	return out, res, nil
}

func (r *Rewriter) violation(cf *classfile.ClassFile, method string, err error) error {
	return &tt.RewriteInvariantViolation{Class: cf.Name(), Method: method, Reason: err.Error()}
}

// Summary describes the rewrite of an archive.
type Summary struct {
	Classes   int            // classes rewritten
	Unchanged int            // classes left as they were
	Rules     map[string]int // classes each rule changed
}

// Changed reports whether any class was rewritten.
func (s *Summary) Changed() bool { return s.Classes > 0 }

// MigrateEntries rewrites every class entry in place. Other entries are
// kept verbatim. Class names are never changed, so entry names stay valid.
func (r *Rewriter) MigrateEntries(entries []*jar.Entry) (*Summary, error) {
	sum := &Summary{Rules: map[string]int{}}
	for _, e := range entries {
		if !e.IsClass() {
			continue
		}
		out, res, err := r.Rewrite(e.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if !res.Changed() || bytes.Equal(out, e.Data) {
			sum.Unchanged++
			continue
		}
		e.Data = out
		sum.Classes++
		for _, name := range res.Applied {
			sum.Rules[name]++
		}
	}
	return sum, nil
}

package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	tt "github.com/gnolang/classmig/internal/types"
)

// Metrics counts engine activity on its own registry, so several engines
// in one process do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	// verdicts counts verifications by verdict kind.
	verdicts *prometheus.CounterVec
	// refusals counts plugins excluded from loading, by reason.
	refusals *prometheus.CounterVec
	// rewrittenClasses counts class entries changed by the rewriter.
	rewrittenClasses prometheus.Counter
	// ruleApplications counts classes each rule changed.
	ruleApplications *prometheus.CounterVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	passThrough      prometheus.Counter
}

// NewMetrics registers the engine collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classmig_verdicts_total",
			Help: "Plugin verifications by verdict",
		}, []string{"verdict"}),
		refusals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classmig_refusals_total",
			Help: "Plugins refused at load time by reason",
		}, []string{"reason"}),
		rewrittenClasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "classmig_rewritten_classes_total",
			Help: "Class entries changed by migration",
		}),
		ruleApplications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classmig_rule_applications_total",
			Help: "Classes changed per rewrite rule",
		}, []string{"rule"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "classmig_cache_hits_total",
			Help: "Migrated archives served from the cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "classmig_cache_misses_total",
			Help: "Migrated archives produced by a rewrite",
		}),
		passThrough: factory.NewCounter(prometheus.CounterOpts{
			Name: "classmig_cache_pass_through_total",
			Help: "Migration requests that changed no class",
		}),
	}
}

func (m *Metrics) observeVerdict(v tt.Verdict) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(v.Kind.String()).Inc()
}

func (m *Metrics) observeRefusal(reason string) {
	if m == nil {
		return
	}
	m.refusals.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeRewrite(classes int, rules map[string]int) {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
	m.rewrittenClasses.Add(float64(classes))
	for name, n := range rules {
		m.ruleApplications.WithLabelValues(name).Add(float64(n))
	}
}

func (m *Metrics) observeHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) observePassThrough() {
	if m != nil {
		m.passThrough.Inc()
	}
}

package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts decision outcomes and cache behaviour.
type Metrics struct {
	Decisions *prometheus.CounterVec
	Cache     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accessd_decisions_total",
			Help: "Access decisions by result and source.",
		}, []string{"result", "source"}),
		Cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accessd_decision_cache_total",
			Help: "Decision cache lookups by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Decisions, m.Cache)
	}
	return m
}

func (m *Metrics) observe(d Decision, cached bool) {
	if m == nil {
		return
	}
	result := "deny"
	if d.Allowed {
		result = "allow"
	}
	source := "role"
	if d.MatchedOverrideID != nil {
		source = "override"
	}
	if !d.Allowed && d.MatchedOverrideID == nil && d.SourceRoleID == nil {
		source = "none"
	}
	m.Decisions.WithLabelValues(result, source).Inc()
	outcome := "miss"
	if cached {
		outcome = "hit"
	}
	m.Cache.WithLabelValues(outcome).Inc()
}

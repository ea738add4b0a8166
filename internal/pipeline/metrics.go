package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts generations and cache lookups.
type Metrics struct {
	generations  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "historian_generations_total",
			Help: "Calls to the text-generation endpoint by record kind and outcome.",
		}, []string{"kind", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "historian_cache_lookups_total",
			Help: "Enrichment cache lookups by result (hit, miss, record).",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.generations, m.cacheLookups)
	}
	return m
}

func (m *Metrics) generation(kind, outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

package fortune

import "github.com/prometheus/client_golang/prometheus"

// metrics is nil-safe: a nil *metrics records nothing.
type metrics struct {
	draws     *prometheus.CounterVec
	values    prometheus.Histogram
	cached    prometheus.Counter
	narrative *prometheus.CounterVec
	pruned    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fortunebot",
			Subsystem: "fortune",
			Name:      "draws_total",
			Help:      "Fortune values drawn, by algorithm.",
		}, []string{"algorithm"}),
		values: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fortunebot",
			Subsystem: "fortune",
			Name:      "value",
			Help:      "Distribution of drawn fortune values.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		cached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fortunebot",
			Subsystem: "fortune",
			Name:      "cached_queries_total",
			Help:      "jrrp calls answered from today's record.",
		}),
		narrative: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fortunebot",
			Subsystem: "fortune",
			Name:      "narratives_total",
			Help:      "Narrative texts, by kind and source (llm or fallback).",
		}, []string{"kind", "source"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fortunebot",
			Subsystem: "fortune",
			Name:      "pruned_days_total",
			Help:      "Days of records removed by the prune job.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.draws, m.values, m.cached, m.narrative, m.pruned)
	}
	return m
}

func (m *metrics) drawn(alg Algorithm, v int) {
	if m == nil {
		return
	}
	m.draws.WithLabelValues(string(alg)).Inc()
	m.values.Observe(float64(v))
}

func (m *metrics) cachedHit() {
	if m == nil {
		return
	}
	m.cached.Inc()
}

func (m *metrics) narrated(kind string, fallback bool) {
	if m == nil {
		return
	}
	src := "llm"
	if fallback {
		src = "fallback"
	}
	m.narrative.WithLabelValues(kind, src).Inc()
}

func (m *metrics) prunedDays(n int) {
	if m == nil {
		return
	}
	m.pruned.Add(float64(n))
}

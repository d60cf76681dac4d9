package router

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts routed commands. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rejected *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fortunebot",
			Subsystem: "router",
			Name:      "commands_total",
			Help:      "Commands handled, by route and result.",
		}, []string{"cmd", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fortunebot",
			Subsystem: "router",
			Name:      "command_duration_seconds",
			Help:      "Command handler latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"cmd"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fortunebot",
			Subsystem: "router",
			Name:      "rejected_total",
			Help:      "Commands not dispatched, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.rejected)
	}
	return m
}

func (m *Metrics) observe(cmd string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.requests.WithLabelValues(cmd, result).Inc()
	m.duration.WithLabelValues(cmd).Observe(d.Seconds())
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// MWMetrics records the outcome and latency of each command.
func MWMetrics(m *Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			m.observe(req.Command, time.Since(start), err)
			return err
		}
	}
}

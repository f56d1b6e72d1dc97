// Package metrics holds the Prometheus collectors of the ledger and the image pipeline.
// A nil *Collectors is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "emprata"

type Collectors struct {
	registry *prometheus.Registry

	charges            *prometheus.CounterVec
	refunds            *prometheus.CounterVec
	denied             prometheus.Counter
	mirrorFailures     prometheus.Counter
	mirrorDropped      prometheus.Counter
	generations        *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	exports            *prometheus.CounterVec
}

func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "charges_total",
			Help:      "Credits debited before a generation call.",
		}, []string{"plan"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "refunds_total",
			Help:      "Credits returned after a failed generation.",
		}, []string{"plan"}),
		denied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "insufficient_credits_total",
			Help:      "Attempts rejected because the balance was empty.",
		}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mirror_failures_total",
			Help:      "Balance snapshots that could not be written to the account store.",
		}),
		mirrorDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mirror_dropped_total",
			Help:      "Balance snapshots dropped because the mirror queue was full.",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "attempts_total",
			Help:      "Generation attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Wall time of the external generation call.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 60, 120, 240},
		}, []string{"provider"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "total",
			Help:      "Exports by final stage.",
		}, []string{"stage"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.charges, c.refunds, c.denied, c.mirrorFailures, c.mirrorDropped,
		c.generations, c.generationDuration, c.exports,
	)
	return c
}

// Handler serves the private registry in the Prometheus text format. Without
// collectors it answers 404.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collectors) Charge(plan string) {
	if c == nil {
		return
	}
	c.charges.WithLabelValues(plan).Inc()
}

func (c *Collectors) Refund(plan string) {
	if c == nil {
		return
	}
	c.refunds.WithLabelValues(plan).Inc()
}

func (c *Collectors) Denied() {
	if c == nil {
		return
	}
	c.denied.Inc()
}

func (c *Collectors) MirrorFailed() {
	if c == nil {
		return
	}
	c.mirrorFailures.Inc()
}

func (c *Collectors) MirrorDropped() {
	if c == nil {
		return
	}
	c.mirrorDropped.Inc()
}

func (c *Collectors) Generation(provider, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.generations.WithLabelValues(provider, outcome).Inc()
	if took > 0 {
		c.generationDuration.WithLabelValues(provider).Observe(took.Seconds())
	}
}

func (c *Collectors) Export(stage string) {
	if c == nil {
		return
	}
	c.exports.WithLabelValues(stage).Inc()
}

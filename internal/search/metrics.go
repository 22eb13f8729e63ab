package search

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports search progress to Prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	trials       *prometheus.CounterVec
	evalDuration prometheus.Histogram
	bestCost     prometheus.Gauge
	lastCost     prometheus.Gauge
	promotions   prometheus.Counter
}

// NewMetrics creates the search collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quanthpo_trials_total",
			Help: "Evaluated configurations by outcome",
		}, []string{"status"}),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quanthpo_evaluation_duration_seconds",
			Help:    "Wall time of one quantize-and-score evaluation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		bestCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quanthpo_best_cost",
			Help: "Lowest EMD cost promoted so far",
		}),
		lastCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quanthpo_last_cost",
			Help: "EMD cost of the most recent successful evaluation",
		}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quanthpo_promotions_total",
			Help: "Artifacts promoted to the output path",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.trials, m.evalDuration, m.bestCost, m.lastCost, m.promotions)
	}
	return m
}

// ObserveTrial records one finished trial
func (m *Metrics) ObserveTrial(t Trial, best float64) {
	if m == nil {
		return
	}
	status := "ok"
	if t.Err != "" {
		status = "failed"
	}
	m.trials.WithLabelValues(status).Inc()
	m.evalDuration.Observe(t.Duration.Seconds())
	if t.Err == "" && !math.IsInf(t.Cost, 0) {
		m.lastCost.Set(t.Cost)
	}
	if t.Promoted {
		m.promotions.Inc()
	}
	if !math.IsInf(best, 0) {
		m.bestCost.Set(best)
	}
}

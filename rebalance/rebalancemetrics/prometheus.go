package rebalancemetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/parti/rebalance"
)

// PrometheusCollector implements rebalance.RebalanceMetricsCollector
// backed by Prometheus, following the same lazy-registration-via-once
// pattern as internal/metrics.PrometheusCollector.
type PrometheusCollector struct {
	*NopCollector

	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	futuresCreated    *prometheus.CounterVec
	futuresDone       *prometheus.CounterVec
	futureDuration    prometheus.Histogram
	partitionsDone    *prometheus.CounterVec
	partitionsMissed  *prometheus.CounterVec
	demandsSent       *prometheus.CounterVec
	suppliesReceived  *prometheus.CounterVec
	activeSuppliers   prometheus.Gauge
	dummyExchangeForced prometheus.Counter
}

var _ rebalance.RebalanceMetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector. reg defaults to
// prometheus.DefaultRegisterer and namespace to "parti" when empty, same
// defaulting rule as internal/metrics.NewPrometheus.
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "parti"
	}

	return &PrometheusCollector{NopCollector: NewNop(), reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.futuresCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "futures_created_total",
			Help:      "Total rebalance futures created, by initial/real.",
		}, []string{"kind"})

		p.futuresDone = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "futures_done_total",
			Help:      "Total rebalance futures resolved, by outcome.",
		}, []string{"outcome"})

		p.futureDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "future_duration_seconds",
			Help:      "Wall-clock duration of a rebalance future from creation to resolution.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		})

		p.partitionsDone = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "partitions_rebalanced_total",
			Help:      "Total partitions successfully rebalanced, by supplier.",
		}, []string{"supplier"})

		p.partitionsMissed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "partitions_missed_total",
			Help:      "Total partitions reported missed, by supplier.",
		}, []string{"supplier"})

		p.demandsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "demands_sent_total",
			Help:      "Total demand messages sent, by supplier.",
		}, []string{"supplier"})

		p.suppliesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "supplies_received_total",
			Help:      "Total supply messages accepted for processing, by supplier.",
		}, []string{"supplier"})

		p.activeSuppliers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "active_suppliers",
			Help:      "Current number of suppliers with outstanding rebalance work.",
		})

		p.dummyExchangeForced = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "dummy_exchanges_forced_total",
			Help:      "Total forced dummy exchanges triggered by missed partitions.",
		})

		p.reg.MustRegister(p.futuresCreated)
		p.reg.MustRegister(p.futuresDone)
		p.reg.MustRegister(p.futureDuration)
		p.reg.MustRegister(p.partitionsDone)
		p.reg.MustRegister(p.partitionsMissed)
		p.reg.MustRegister(p.demandsSent)
		p.reg.MustRegister(p.suppliesReceived)
		p.reg.MustRegister(p.activeSuppliers)
		p.reg.MustRegister(p.dummyExchangeForced)
	})
}

// RecordFutureCreated increments the created counter by kind.
func (p *PrometheusCollector) RecordFutureCreated(initial bool) {
	p.ensureRegistered()

	kind := "real"
	if initial {
		kind = "initial"
	}
	p.futuresCreated.WithLabelValues(kind).Inc()
}

// RecordFutureDone increments the done counter by outcome and observes
// duration.
func (p *PrometheusCollector) RecordFutureDone(succeeded bool, durationSeconds float64) {
	p.ensureRegistered()

	outcome := "failure"
	if succeeded {
		outcome = "success"
	}
	p.futuresDone.WithLabelValues(outcome).Inc()
	p.futureDuration.Observe(durationSeconds)
}

// RecordPartitionRebalanced increments the per-supplier success counter.
func (p *PrometheusCollector) RecordPartitionRebalanced(supplier string) {
	p.ensureRegistered()
	p.partitionsDone.WithLabelValues(supplier).Inc()
}

// RecordPartitionMissed increments the per-supplier missed counter.
func (p *PrometheusCollector) RecordPartitionMissed(supplier string) {
	p.ensureRegistered()
	p.partitionsMissed.WithLabelValues(supplier).Inc()
}

// RecordDemandSent increments the per-supplier demand counter.
func (p *PrometheusCollector) RecordDemandSent(supplier string, _ int) {
	p.ensureRegistered()
	p.demandsSent.WithLabelValues(supplier).Inc()
}

// RecordSupplyReceived increments the per-supplier supply counter.
func (p *PrometheusCollector) RecordSupplyReceived(supplier string, _ int) {
	p.ensureRegistered()
	p.suppliesReceived.WithLabelValues(supplier).Inc()
}

// SetActiveSuppliers sets the active-suppliers gauge.
func (p *PrometheusCollector) SetActiveSuppliers(count int) {
	p.ensureRegistered()
	p.activeSuppliers.Set(float64(count))
}

// RecordDummyExchangeForced increments the forced-dummy-exchange counter.
func (p *PrometheusCollector) RecordDummyExchangeForced() {
	p.ensureRegistered()
	p.dummyExchangeForced.Inc()
}

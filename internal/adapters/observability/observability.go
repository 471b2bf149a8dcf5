// Package observability implements the Observability port over slog and
// Prometheus.
package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iotflow/tierflow/internal/ports"
)

type Obs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	degraded *prometheus.CounterVec
}

func New(log *slog.Logger, reg prometheus.Registerer) *Obs {
	submissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tierflow_submissions_total",
		Help: "Telemetry records durably stored.",
	})
	writeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tierflow_durable_write_failures_total",
		Help: "Submissions rejected because the durable write failed.",
	})
	snapshotUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tierflow_snapshot_updates_total",
		Help: "Latest-value snapshots written through to the cache tier.",
	})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tierflow_cache_hits_total",
		Help: "Latest-value reads served from the cache tier.",
	})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tierflow_cache_misses_total",
		Help: "Latest-value reads that fell back to the durable store.",
	})
	deletions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tierflow_deletions_total",
		Help: "Telemetry records removed by range deletes.",
	})
	aggregations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tierflow_aggregations_total",
		Help: "Aggregation queries served.",
	})
	degraded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tierflow_degraded_total",
		Help: "Best-effort tier failures, swallowed and logged.",
	}, []string{"op"})
	queueLen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tierflow_side_effect_queue_len",
		Help: "Tasks buffered in the side-effect pool.",
	})
	writeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tierflow_durable_write_seconds",
		Help:    "Latency of the mandatory durable write.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	sideEffectLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tierflow_side_effect_seconds",
		Help:    "Latency of detached best-effort tasks.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	reg.MustRegister(
		submissions, writeFailures, snapshotUpdates, cacheHits, cacheMisses,
		deletions, aggregations, degraded, queueLen, writeLatency, sideEffectLatency,
	)

	return &Obs{
		log: log,
		counters: map[string]prometheus.Counter{
			"tierflow_submissions_total":            submissions,
			"tierflow_durable_write_failures_total": writeFailures,
			"tierflow_snapshot_updates_total":       snapshotUpdates,
			"tierflow_cache_hits_total":             cacheHits,
			"tierflow_cache_misses_total":           cacheMisses,
			"tierflow_deletions_total":              deletions,
			"tierflow_aggregations_total":           aggregations,
		},
		gauges: map[string]prometheus.Gauge{
			"side_effect_queue_len": queueLen,
		},
		histos: map[string]prometheus.Observer{
			"tierflow_durable_write_seconds": writeLatency,
			"side_effect_seconds":            sideEffectLatency,
		},
		degraded: degraded,
	}
}

func (o *Obs) LogInfo(msg string, fields ...ports.Field) {
	o.log.Info(msg, attrs(fields)...)
}

func (o *Obs) LogError(msg string, err error, fields ...ports.Field) {
	o.log.Error(msg, append(attrs(fields), slog.Any("error", err))...)
}

func (o *Obs) IncCounter(name string, v float64) {
	if c, ok := o.counters[name]; ok {
		c.Add(v)
	}
}

func (o *Obs) ObserveLatency(name string, seconds float64) {
	if h, ok := o.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (o *Obs) SetGauge(name string, v float64) {
	if g, ok := o.gauges[name]; ok {
		g.Set(v)
	}
}

func (o *Obs) RecordDegraded(op string, deviceID int64, err error) {
	o.degraded.WithLabelValues(op).Inc()
	o.log.Warn("best-effort tier degraded",
		slog.String("op", op),
		slog.Int64("device_id", deviceID),
		slog.Any("error", err),
	)
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*Obs)(nil)

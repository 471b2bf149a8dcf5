// Package aggregate computes windowed statistics over telemetry ranges.
//
// Buckets are fixed, start-aligned, non-overlapping windows covering
// [start, end). Stored rollups are used verbatim when present; everything else
// is folded from raw rows with running accumulators. A bucket with zero
// samples is omitted, never emitted as zero.
//
// Only numeric values participate in aggregation. This includes count: a
// textual measurement sample contributes to no function, so mean/count pairs
// stay consistent with each other.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iotflow/tierflow/internal/app/config"
	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

// Query identifies one aggregation request. End is exclusive; a zero End means
// "now" as resolved by the caller's time parser.
type Query struct {
	DeviceID    int64
	Measurement string
	Kind        domain.AggregationKind
	Window      time.Duration
	Start       time.Time
	End         time.Time
}

type Engine struct {
	store ports.DurableStore
	obs   ports.Observability

	maxBuckets     int
	durableTimeout time.Duration
	saveRollups    bool
	now            func() time.Time
}

func NewEngine(store ports.DurableStore, obs ports.Observability, cfg *config.Config) *Engine {
	return &Engine{
		store:          store,
		obs:            obs,
		maxBuckets:     cfg.Pipeline.MaxBuckets,
		durableTimeout: cfg.Pipeline.DurableTimeout,
		saveRollups:    cfg.Pipeline.SaveRollups,
		now:            time.Now,
	}
}

// Aggregate returns buckets ordered by bucket start ascending.
func (e *Engine) Aggregate(ctx context.Context, q Query) ([]domain.AggregationBucket, error) {
	if !q.Kind.Valid() {
		return nil, fmt.Errorf("unknown aggregation function %q", q.Kind)
	}
	if q.Window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", q.Window)
	}
	if q.End.IsZero() {
		q.End = e.now().UTC()
	}
	if !q.End.After(q.Start) {
		return nil, fmt.Errorf("end %s is not after start %s", q.End, q.Start)
	}

	span := q.End.Sub(q.Start)
	nBuckets := int(span / q.Window)
	if span%q.Window != 0 {
		nBuckets++
	}
	if nBuckets > e.maxBuckets {
		return nil, fmt.Errorf("%w: %d buckets exceed ceiling %d", domain.ErrAggregationRangeTooLarge, nBuckets, e.maxBuckets)
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.durableTimeout)
	defer cancel()

	rollups, err := e.store.ReadRollups(storeCtx, q.DeviceID, q.Measurement, q.Kind, q.Window, q.Start, q.End)
	if err != nil {
		// Missing rollups only cost recomputation.
		e.obs.RecordDegraded("rollup_read", q.DeviceID, err)
		rollups = nil
	}

	byStart := make(map[int64]domain.AggregationBucket, len(rollups))
	for _, b := range rollups {
		// A rollup saved against another query's grid overlaps this query's
		// buckets without coinciding with any of them; admitting it would
		// report the same samples twice. Off-grid rollups are recomputed.
		if bucketIndex(q, b.BucketStart) >= 0 && b.BucketStart.Sub(q.Start)%q.Window == 0 {
			byStart[b.BucketStart.UnixMilli()] = b
		}
	}

	computed, err := e.foldRaw(storeCtx, q, nBuckets, byStart)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AggregationBucket, 0, len(byStart)+len(computed))
	for _, b := range byStart {
		out = append(out, b)
	}
	out = append(out, computed...)
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })

	e.obs.IncCounter("tierflow_aggregations_total", 1)
	return out, nil
}

// foldRaw computes every bucket that has no stored rollup, streaming raw rows
// in one ascending pass with running accumulators.
func (e *Engine) foldRaw(ctx context.Context, q Query, nBuckets int, have map[int64]domain.AggregationBucket) ([]domain.AggregationBucket, error) {
	if len(have) == nBuckets {
		return nil, nil
	}

	// A bucket may be persisted only once it can no longer grow: its window
	// must close before both the query end and the wall clock.
	rollupCutoff := q.End
	if now := e.now().UTC(); now.Before(rollupCutoff) {
		rollupCutoff = now
	}

	accs := make(map[int]*accumulator)
	err := e.store.ScanMeasurement(ctx, q.DeviceID, q.Measurement, q.Start, q.End, func(at time.Time, v domain.Value) error {
		if !v.IsNumber() {
			return nil
		}
		idx := bucketIndex(q, at)
		if idx < 0 || idx >= nBuckets {
			return nil
		}
		if _, ok := have[q.Start.Add(time.Duration(idx)*q.Window).UnixMilli()]; ok {
			return nil
		}
		a, ok := accs[idx]
		if !ok {
			a = &accumulator{}
			accs[idx] = a
		}
		a.add(v.Num)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %q for device %d: %w", q.Measurement, q.DeviceID, err)
	}

	out := make([]domain.AggregationBucket, 0, len(accs))
	for idx, a := range accs {
		b := domain.AggregationBucket{
			DeviceID:    q.DeviceID,
			Measurement: q.Measurement,
			Kind:        q.Kind,
			Window:      q.Window,
			BucketStart: q.Start.Add(time.Duration(idx) * q.Window),
			Value:       a.value(q.Kind),
			SampleCount: a.count,
		}
		out = append(out, b)

		if e.saveRollups && !b.BucketStart.Add(q.Window).After(rollupCutoff) {
			if err := e.store.WriteRollup(ctx, b); err != nil {
				e.obs.RecordDegraded("rollup_write", q.DeviceID, err)
			}
		}
	}
	return out, nil
}

// bucketIndex maps an instant to its start-aligned bucket, or -1 when outside
// [start, end).
func bucketIndex(q Query, at time.Time) int {
	if at.Before(q.Start) || !at.Before(q.End) {
		return -1
	}
	return int(at.Sub(q.Start) / q.Window)
}

// accumulator keeps the running state every aggregation kind can be read from,
// so one pass serves them all.
type accumulator struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (a *accumulator) add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.count++
}

func (a *accumulator) value(kind domain.AggregationKind) float64 {
	switch kind {
	case domain.AggMean:
		if a.count == 0 {
			return 0
		}
		return a.sum / float64(a.count)
	case domain.AggSum:
		return a.sum
	case domain.AggMin:
		return a.min
	case domain.AggMax:
		return a.max
	case domain.AggCount:
		return float64(a.count)
	}
	return 0
}

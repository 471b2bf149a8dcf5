// Package coordinator holds the tiered write and read policies: the durable
// store is the source of truth, the cache tier is a best-effort latency
// optimization, and the event log is a best-effort audit trail.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/iotflow/tierflow/internal/app/config"
	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

var (
	errPoolFull   = errors.New("side effect queue full")
	errPoolClosed = errors.New("side effect pool closed")
)

// Submission is one inbound telemetry write. A zero Instant means "now".
// Device identity is resolved and authorized by the caller before this point.
type Submission struct {
	DeviceID     int64
	UserID       int64
	Measurements map[string]domain.Value
	Metadata     map[string]string
	Instant      time.Time
}

// Writer orchestrates a submission across the three tiers. It is the sole
// writer of telemetry records and the sole write-through path to snapshots and
// liveness markers.
type Writer struct {
	store  ports.DurableStore
	cache  ports.CacheTier
	events ports.EventLog
	obs    ports.Observability
	pool   *SideEffects

	snapshotTTL time.Duration
	livenessTTL time.Duration
	pipeline    config.PipelineConfig

	seq atomic.Uint64
	now func() time.Time
}

func NewWriter(store ports.DurableStore, cache ports.CacheTier, events ports.EventLog, pool *SideEffects, obs ports.Observability, cfg *config.Config) *Writer {
	return &Writer{
		store:       store,
		cache:       cache,
		events:      events,
		obs:         obs,
		pool:        pool,
		snapshotTTL: cfg.Cache.SnapshotTTL,
		livenessTTL: cfg.Cache.LivenessTTL,
		pipeline:    cfg.Pipeline,
		now:         time.Now,
	}
}

// Submit writes one record. The durable write is the only mandatory step: if
// it fails, nothing else runs and the submission fails whole. Cache, event,
// and liveness updates are best-effort; their failures degrade latency or
// audit completeness, never correctness.
func (w *Writer) Submit(ctx context.Context, sub Submission) (domain.SubmissionResult, error) {
	if len(sub.Measurements) == 0 {
		return domain.SubmissionResult{}, fmt.Errorf("%w: empty measurement map", domain.ErrInvalidMeasurementPayload)
	}
	for name := range sub.Measurements {
		if name == "" {
			return domain.SubmissionResult{}, fmt.Errorf("%w: empty measurement name", domain.ErrInvalidMeasurementPayload)
		}
	}

	instant := sub.Instant
	if instant.IsZero() {
		instant = w.now()
	}
	instant = instant.UTC().Truncate(time.Millisecond)

	rec := domain.TelemetryRecord{
		DeviceID:     sub.DeviceID,
		UserID:       sub.UserID,
		Instant:      instant,
		Seq:          w.seq.Add(1),
		Measurements: sub.Measurements,
		Metadata:     sub.Metadata,
	}

	// The durable write runs to completion even if the caller disconnects
	// mid-flight; a revoked half-submission would leave ambiguous state.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.pipeline.DurableTimeout)
	defer cancel()

	start := time.Now()
	if err := w.store.Write(writeCtx, rec); err != nil {
		w.obs.IncCounter("tierflow_durable_write_failures_total", 1)
		return domain.SubmissionResult{}, fmt.Errorf("%w: %v", domain.ErrDurableWriteFailed, err)
	}
	w.obs.ObserveLatency("tierflow_durable_write_seconds", time.Since(start).Seconds())
	w.obs.IncCounter("tierflow_submissions_total", 1)

	w.updateSnapshot(ctx, rec)

	ev := domain.NewEvent(domain.EventTelemetrySubmitted, rec.DeviceID, rec.Instant)
	ev.UserID = rec.UserID
	ev.Details = map[string]any{
		"measurements": measurementNames(rec.Measurements),
		"count":        len(rec.Measurements),
	}
	w.pool.Dispatch("event_append", rec.DeviceID, w.pipeline.EventTimeout, func(ctx context.Context) error {
		return w.events.Append(ctx, ev)
	})

	w.pool.Dispatch("liveness_update", rec.DeviceID, w.pipeline.CacheTimeout, func(ctx context.Context) error {
		return w.cache.SetLiveness(ctx, rec.DeviceID, rec.Instant, w.livenessTTL)
	})

	return domain.SubmissionResult{
		DeviceID: rec.DeviceID,
		Instant:  rec.Instant,
		Seq:      rec.Seq,
		Durable:  true,
	}, nil
}

// updateSnapshot refreshes the cached latest-value view. Synchronous so a read
// immediately after Submit hits the cache, but failures are swallowed: the
// read path always has the durable store as fallback.
func (w *Writer) updateSnapshot(ctx context.Context, rec domain.TelemetryRecord) {
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.pipeline.CacheTimeout)
	defer cancel()

	points := make(map[string]domain.MeasurementPoint, len(rec.Measurements))
	for name, v := range rec.Measurements {
		points[name] = domain.MeasurementPoint{Value: v, Instant: rec.Instant}
	}

	if err := w.cache.SetSnapshot(cacheCtx, rec.DeviceID, points, w.snapshotTTL); err != nil {
		w.obs.RecordDegraded("snapshot_update", rec.DeviceID, err)
		return
	}
	w.obs.IncCounter("tierflow_snapshot_updates_total", 1)
}

func measurementNames(m map[string]domain.Value) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

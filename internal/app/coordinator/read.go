package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/iotflow/tierflow/internal/app/config"
	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

const defaultRangeLimit = 1000

// Reader serves latest-value reads cache-aside and delegates range queries to
// the durable store. It never writes telemetry records; its only cache write
// is snapshot repopulation on a miss.
type Reader struct {
	store  ports.DurableStore
	cache  ports.CacheTier
	events ports.EventLog
	obs    ports.Observability
	pool   *SideEffects

	snapshotTTL time.Duration
	pipeline    config.PipelineConfig
	now         func() time.Time
}

func NewReader(store ports.DurableStore, cache ports.CacheTier, events ports.EventLog, pool *SideEffects, obs ports.Observability, cfg *config.Config) *Reader {
	return &Reader{
		store:       store,
		cache:       cache,
		events:      events,
		obs:         obs,
		pool:        pool,
		snapshotTTL: cfg.Cache.SnapshotTTL,
		pipeline:    cfg.Pipeline,
		now:         time.Now,
	}
}

// GetLatest returns the device's latest-value snapshot, cache first. A cache
// miss or a cache error is never a failure; the durable store is the fallback.
// ErrNotFound means the device has no data anywhere, a valid empty result.
func (r *Reader) GetLatest(ctx context.Context, deviceID int64) (domain.Snapshot, error) {
	cacheCtx, cancel := context.WithTimeout(ctx, r.pipeline.CacheTimeout)
	snap, hit, err := r.cache.GetSnapshot(cacheCtx, deviceID)
	cancel()
	if err != nil {
		r.obs.RecordDegraded("snapshot_probe", deviceID, err)
	} else if hit {
		r.obs.IncCounter("tierflow_cache_hits_total", 1)
		return snap, nil
	}
	r.obs.IncCounter("tierflow_cache_misses_total", 1)

	storeCtx, cancel := context.WithTimeout(ctx, r.pipeline.DurableTimeout)
	defer cancel()
	points, err := r.store.QueryLatest(storeCtx, deviceID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("query latest for device %d: %w", deviceID, err)
	}
	if len(points) == 0 {
		return domain.Snapshot{}, domain.ErrNotFound
	}

	snap = domain.Snapshot{DeviceID: deviceID, Measurements: points}

	// Repopulation is best-effort; a failed cache write never fails the read.
	repopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.pipeline.CacheTimeout)
	defer cancel()
	if err := r.cache.SetSnapshot(repopCtx, deviceID, points, r.snapshotTTL); err != nil {
		r.obs.RecordDegraded("snapshot_repopulate", deviceID, err)
	}

	return snap, nil
}

// GetRange returns records in [start, end] ordered by (instant DESC, seq
// DESC). Always served from the durable store: the space of ranges is
// unbounded and caching them would need range-indexed invalidation this design
// deliberately avoids.
func (r *Reader) GetRange(ctx context.Context, deviceID int64, start, end time.Time, limit int) ([]domain.TelemetryRecord, error) {
	if end.IsZero() {
		end = r.now().UTC()
	}
	limit = r.clampLimit(limit)

	storeCtx, cancel := context.WithTimeout(ctx, r.pipeline.DurableTimeout)
	defer cancel()

	recs, err := r.store.QueryRange(storeCtx, deviceID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("query range for device %d: %w", deviceID, err)
	}
	return recs, nil
}

// GetUserRange returns measurement rows across all of a user's devices.
func (r *Reader) GetUserRange(ctx context.Context, userID int64, start, end time.Time, limit int) ([]domain.UserMeasurementRow, error) {
	if end.IsZero() {
		end = r.now().UTC()
	}
	limit = r.clampLimit(limit)

	storeCtx, cancel := context.WithTimeout(ctx, r.pipeline.DurableTimeout)
	defer cancel()

	rows, err := r.store.QueryUserRange(storeCtx, userID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("query user range for user %d: %w", userID, err)
	}
	return rows, nil
}

// CountUserRange counts user-indexed rows since start.
func (r *Reader) CountUserRange(ctx context.Context, userID int64, start time.Time) (int64, error) {
	storeCtx, cancel := context.WithTimeout(ctx, r.pipeline.DurableTimeout)
	defer cancel()
	return r.store.CountUserRange(storeCtx, userID, start)
}

// DeleteRange removes all records in [start, end] and returns the count. The
// one destructive, irreversible operation. Cache is left alone: a stale
// snapshot referencing a deleted instant self-corrects at TTL expiry or on the
// next write. The deletion itself is logged as an event, not reconciled
// against prior events.
func (r *Reader) DeleteRange(ctx context.Context, deviceID int64, start, end time.Time) (int64, error) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.pipeline.DurableTimeout)
	defer cancel()

	count, err := r.store.Delete(storeCtx, deviceID, start, end)
	if err != nil {
		return 0, fmt.Errorf("delete range for device %d: %w", deviceID, err)
	}
	r.obs.IncCounter("tierflow_deletions_total", float64(count))

	ev := domain.NewEvent(domain.EventTelemetryDeleted, deviceID, r.now().UTC())
	ev.Details = map[string]any{
		"start": start,
		"end":   end,
		"count": count,
	}
	r.pool.Dispatch("event_append", deviceID, r.pipeline.EventTimeout, func(ctx context.Context) error {
		return r.events.Append(ctx, ev)
	})

	return count, nil
}

func (r *Reader) clampLimit(limit int) int {
	if limit <= 0 {
		limit = defaultRangeLimit
	}
	if limit > r.pipeline.MaxRangeLimit {
		limit = r.pipeline.MaxRangeLimit
	}
	return limit
}

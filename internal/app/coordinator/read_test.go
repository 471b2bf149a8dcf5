package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/iotflow/tierflow/internal/domain"
)

func TestGetLatestCacheHitSkipsStore(t *testing.T) {
	store := &fakeStore{latestErr: errors.New("store must not be queried on a hit")}
	cache := newFakeCache()
	obs := newFakeObs()

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	cache.snapshots[42] = map[string]domain.MeasurementPoint{
		"temperature": {Value: domain.Number(23.5), Instant: at},
	}

	r := NewReader(store, cache, &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	snap, err := r.GetLatest(t.Context(), 42)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if snap.Measurements["temperature"].Value.Num != 23.5 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if obs.counter("tierflow_cache_hits_total") != 1 {
		t.Fatalf("cache hit not counted")
	}
}

func TestGetLatestMissFallsBackAndRepopulates(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{latest: map[string]domain.MeasurementPoint{
		"humidity": {Value: domain.Number(61), Instant: at},
	}}
	cache := newFakeCache()
	obs := newFakeObs()

	r := NewReader(store, cache, &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	snap, err := r.GetLatest(t.Context(), 42)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if snap.DeviceID != 42 || len(snap.Measurements) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if obs.counter("tierflow_cache_misses_total") != 1 {
		t.Fatalf("cache miss not counted")
	}
	if repop := cache.snapshotOf(42); len(repop) != 1 {
		t.Fatalf("snapshot not repopulated after miss: %v", repop)
	}
}

func TestGetLatestCacheErrorIsAMiss(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{latest: map[string]domain.MeasurementPoint{
		"temperature": {Value: domain.Number(23.5), Instant: at},
	}}
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	obs := newFakeObs()

	r := NewReader(store, cache, &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	snap, err := r.GetLatest(t.Context(), 42)
	if err != nil {
		t.Fatalf("GetLatest failed on cache error: %v", err)
	}
	if len(snap.Measurements) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	found := false
	for _, op := range obs.degradedOps() {
		if op == "snapshot_probe" {
			found = true
		}
	}
	if !found {
		t.Fatalf("cache error not recorded as degraded, got %v", obs.degradedOps())
	}
}

func TestGetLatestNoDataAnywhere(t *testing.T) {
	store := &fakeStore{latest: map[string]domain.MeasurementPoint{}}
	obs := newFakeObs()
	r := NewReader(store, newFakeCache(), &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	_, err := r.GetLatest(t.Context(), 42)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetLatestRepopulationFailureIsSwallowed(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{latest: map[string]domain.MeasurementPoint{
		"temperature": {Value: domain.Number(23.5), Instant: at},
	}}
	cache := newFakeCache()
	cache.setErr = errors.New("redis down")
	obs := newFakeObs()

	r := NewReader(store, cache, &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	if _, err := r.GetLatest(t.Context(), 42); err != nil {
		t.Fatalf("GetLatest failed on repopulation error: %v", err)
	}
}

func TestGetRangeClampsLimit(t *testing.T) {
	store := &fakeStore{}
	obs := newFakeObs()
	r := NewReader(store, newFakeCache(), &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	start := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		limit int
		want  int
	}{
		{0, defaultRangeLimit},
		{-5, defaultRangeLimit},
		{500, 500},
		{999_999, 10_000},
	}
	for _, tc := range cases {
		if _, err := r.GetRange(t.Context(), 42, start, end, tc.limit); err != nil {
			t.Fatalf("GetRange(limit=%d): %v", tc.limit, err)
		}
		if store.gotLimit != tc.want {
			t.Fatalf("limit %d clamped to %d, want %d", tc.limit, store.gotLimit, tc.want)
		}
	}
}

func TestGetRangeDefaultsEndToNow(t *testing.T) {
	store := &fakeStore{}
	obs := newFakeObs()
	r := NewReader(store, newFakeCache(), &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	start := fixed.Add(-time.Hour)
	if _, err := r.GetRange(t.Context(), 42, start, time.Time{}, 10); err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if !store.gotEnd.Equal(fixed) {
		t.Fatalf("end = %v, want %v", store.gotEnd, fixed)
	}
}

func TestDeleteRangeReturnsCountAndLogsEvent(t *testing.T) {
	store := &fakeStore{deleteCount: 17}
	events := &fakeEvents{}
	obs := newFakeObs()
	pool := NewSideEffects(1, 4, obs)

	r := NewReader(store, newFakeCache(), events, pool, obs, testConfig())

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	count, err := r.DeleteRange(t.Context(), 42, start, end)
	if err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}
	if count != 17 {
		t.Fatalf("count = %d, want 17", count)
	}
	if obs.counter("tierflow_deletions_total") != 17 {
		t.Fatalf("deletions counter = %v, want 17", obs.counter("tierflow_deletions_total"))
	}

	pool.Close()
	evs := events.appended()
	if len(evs) != 1 || evs[0].Type != domain.EventTelemetryDeleted {
		t.Fatalf("events = %+v, want one telemetry.deleted", evs)
	}
	if evs[0].Details["count"] != int64(17) {
		t.Fatalf("event count detail = %v", evs[0].Details["count"])
	}
}

func TestDeleteRangeStoreFailure(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("timeout")}
	obs := newFakeObs()
	r := NewReader(store, newFakeCache(), &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	if _, err := r.DeleteRange(t.Context(), 42, time.Time{}, time.Time{}); err == nil {
		t.Fatalf("DeleteRange succeeded despite store failure")
	}
}

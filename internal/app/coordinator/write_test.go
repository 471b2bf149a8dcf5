package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iotflow/tierflow/internal/domain"
)

func TestSubmitWritesDurableThenCachesAndDispatches(t *testing.T) {
	store := &fakeStore{}
	cache := newFakeCache()
	events := &fakeEvents{}
	obs := newFakeObs()
	pool := NewSideEffects(2, 16, obs)

	w := NewWriter(store, cache, events, pool, obs, testConfig())

	at := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	res, err := w.Submit(t.Context(), Submission{
		DeviceID: 42,
		UserID:   7,
		Measurements: map[string]domain.Value{
			"temperature": domain.Number(23.5),
			"status":      domain.Text("ok"),
		},
		Instant: at,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Durable {
		t.Fatalf("result not marked durable: %+v", res)
	}
	if want := at.Truncate(time.Millisecond); !res.Instant.Equal(want) {
		t.Fatalf("instant = %v, want millisecond-truncated %v", res.Instant, want)
	}

	writes := store.written()
	if len(writes) != 1 {
		t.Fatalf("durable writes = %d, want 1", len(writes))
	}
	if writes[0].Seq == 0 {
		t.Fatalf("record has no sequence number")
	}
	if writes[0].UserID != 7 {
		t.Fatalf("user id = %d, want 7", writes[0].UserID)
	}

	snap := cache.snapshotOf(42)
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d points, want 2", len(snap))
	}
	if got := snap["temperature"].Value; got.Num != 23.5 {
		t.Fatalf("cached temperature = %v, want 23.5", got)
	}

	// Event and liveness run on the pool; draining it makes them observable.
	pool.Close()

	evs := events.appended()
	if len(evs) != 1 {
		t.Fatalf("events appended = %d, want 1", len(evs))
	}
	if evs[0].Type != domain.EventTelemetrySubmitted {
		t.Fatalf("event type = %q", evs[0].Type)
	}
	if evs[0].Details["count"] != 2 {
		t.Fatalf("event details count = %v, want 2", evs[0].Details["count"])
	}
	if _, ok := cache.lastLiveness(42); !ok {
		t.Fatalf("liveness marker not set")
	}
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	store := &fakeStore{}
	cache := newFakeCache()
	obs := newFakeObs()
	w := NewWriter(store, cache, &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	cases := []map[string]domain.Value{
		nil,
		{},
		{"": domain.Number(1)},
	}
	for _, m := range cases {
		_, err := w.Submit(t.Context(), Submission{DeviceID: 1, Measurements: m})
		if !errors.Is(err, domain.ErrInvalidMeasurementPayload) {
			t.Fatalf("measurements %v: err = %v, want ErrInvalidMeasurementPayload", m, err)
		}
	}
	if n := len(store.written()); n != 0 {
		t.Fatalf("rejected payloads reached the store: %d writes", n)
	}
}

func TestSubmitDurableFailureAbortsEverything(t *testing.T) {
	store := &fakeStore{writeErr: errors.New("connection refused")}
	cache := newFakeCache()
	events := &fakeEvents{}
	obs := newFakeObs()
	pool := NewSideEffects(2, 16, obs)

	w := NewWriter(store, cache, events, pool, obs, testConfig())

	_, err := w.Submit(t.Context(), Submission{
		DeviceID:     42,
		Measurements: map[string]domain.Value{"temperature": domain.Number(1)},
	})
	if !errors.Is(err, domain.ErrDurableWriteFailed) {
		t.Fatalf("err = %v, want ErrDurableWriteFailed", err)
	}

	pool.Close()
	if snap := cache.snapshotOf(42); snap != nil {
		t.Fatalf("cache updated despite durable failure: %v", snap)
	}
	if evs := events.appended(); len(evs) != 0 {
		t.Fatalf("events appended despite durable failure: %d", len(evs))
	}
	if _, ok := cache.lastLiveness(42); ok {
		t.Fatalf("liveness updated despite durable failure")
	}
	if obs.counter("tierflow_durable_write_failures_total") != 1 {
		t.Fatalf("durable write failure not counted")
	}
}

func TestSubmitSurvivesCacheFailure(t *testing.T) {
	store := &fakeStore{}
	cache := newFakeCache()
	cache.setErr = errors.New("redis down")
	obs := newFakeObs()

	w := NewWriter(store, cache, &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	res, err := w.Submit(t.Context(), Submission{
		DeviceID:     42,
		Measurements: map[string]domain.Value{"temperature": domain.Number(1)},
	})
	if err != nil {
		t.Fatalf("Submit failed on cache error: %v", err)
	}
	if !res.Durable {
		t.Fatalf("result not durable: %+v", res)
	}

	found := false
	for _, op := range obs.degradedOps() {
		if op == "snapshot_update" {
			found = true
		}
	}
	if !found {
		t.Fatalf("cache failure not recorded as degraded, got %v", obs.degradedOps())
	}
}

func TestSubmitAssignsMonotonicSequence(t *testing.T) {
	store := &fakeStore{}
	obs := newFakeObs()
	w := NewWriter(store, newFakeCache(), &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := w.Submit(t.Context(), Submission{
			DeviceID:     1,
			Measurements: map[string]domain.Value{"temperature": domain.Number(float64(i))},
			Instant:      at,
		}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	writes := store.written()
	for i := 1; i < len(writes); i++ {
		if writes[i].Seq <= writes[i-1].Seq {
			t.Fatalf("seq not monotonic: %d then %d", writes[i-1].Seq, writes[i].Seq)
		}
	}
}

func TestSubmitDefaultsInstantToNow(t *testing.T) {
	store := &fakeStore{}
	obs := newFakeObs()
	w := NewWriter(store, newFakeCache(), &fakeEvents{}, newTestPool(t, obs), obs, testConfig())

	fixed := time.Date(2026, 3, 14, 9, 26, 53, 500_000_000, time.UTC)
	w.now = func() time.Time { return fixed }

	res, err := w.Submit(t.Context(), Submission{
		DeviceID:     1,
		Measurements: map[string]domain.Value{"temperature": domain.Number(1)},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Instant.Equal(fixed) {
		t.Fatalf("instant = %v, want %v", res.Instant, fixed)
	}
	if res.Instant.Location() != time.UTC {
		t.Fatalf("instant not UTC: %v", res.Instant)
	}
}

func TestSideEffectsDropsWhenSaturated(t *testing.T) {
	obs := newFakeObs()
	pool := NewSideEffects(1, 1, obs)
	defer pool.Close()

	block := make(chan struct{})
	pool.Dispatch("blocker", 0, 0, func(ctx context.Context) error {
		<-block
		return nil
	})
	// One slot in the queue, then drops.
	pool.Dispatch("queued", 0, 0, func(ctx context.Context) error { return nil })

	dropped := false
	for i := 0; i < 10; i++ {
		if !pool.Dispatch("overflow", 0, 0, func(ctx context.Context) error { return nil }) {
			dropped = true
			break
		}
	}
	close(block)
	if !dropped {
		t.Fatalf("saturated pool accepted every task")
	}
}

func TestSideEffectsRejectsAfterClose(t *testing.T) {
	obs := newFakeObs()
	pool := NewSideEffects(1, 4, obs)
	pool.Close()

	if pool.Dispatch("late", 0, 0, func(ctx context.Context) error { return nil }) {
		t.Fatalf("closed pool accepted a task")
	}
}

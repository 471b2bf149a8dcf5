package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iotflow/tierflow/internal/app/config"
	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

// Fakes embed the port interfaces so only the methods under test need
// implementing; an unexpected call panics and fails the test loudly.

type fakeStore struct {
	ports.DurableStore

	mu        sync.Mutex
	writes    []domain.TelemetryRecord
	writeErr  error
	latest    map[string]domain.MeasurementPoint
	latestErr error

	rangeRecs []domain.TelemetryRecord
	gotStart  time.Time
	gotEnd    time.Time
	gotLimit  int

	deleteCount int64
	deleteErr   error
}

func (s *fakeStore) Write(_ context.Context, rec domain.TelemetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, rec)
	return nil
}

func (s *fakeStore) QueryLatest(context.Context, int64) (map[string]domain.MeasurementPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latestErr
}

func (s *fakeStore) QueryRange(_ context.Context, _ int64, start, end time.Time, limit int) ([]domain.TelemetryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotStart, s.gotEnd, s.gotLimit = start, end, limit
	return s.rangeRecs, nil
}

func (s *fakeStore) Delete(context.Context, int64, time.Time, time.Time) (int64, error) {
	return s.deleteCount, s.deleteErr
}

func (s *fakeStore) written() []domain.TelemetryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TelemetryRecord(nil), s.writes...)
}

type fakeCache struct {
	ports.CacheTier

	mu        sync.Mutex
	snapshots map[int64]map[string]domain.MeasurementPoint
	liveness  map[int64]time.Time
	setErr    error
	getErr    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		snapshots: make(map[int64]map[string]domain.MeasurementPoint),
		liveness:  make(map[int64]time.Time),
	}
}

func (c *fakeCache) SetSnapshot(_ context.Context, deviceID int64, points map[string]domain.MeasurementPoint, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	cur := c.snapshots[deviceID]
	if cur == nil {
		cur = make(map[string]domain.MeasurementPoint)
		c.snapshots[deviceID] = cur
	}
	for name, p := range points {
		cur[name] = p
	}
	return nil
}

func (c *fakeCache) GetSnapshot(_ context.Context, deviceID int64) (domain.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return domain.Snapshot{}, false, c.getErr
	}
	points, ok := c.snapshots[deviceID]
	if !ok {
		return domain.Snapshot{}, false, nil
	}
	return domain.Snapshot{DeviceID: deviceID, Measurements: points}, true, nil
}

func (c *fakeCache) SetLiveness(_ context.Context, deviceID int64, at time.Time, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveness[deviceID] = at
	return nil
}

func (c *fakeCache) snapshotOf(deviceID int64) map[string]domain.MeasurementPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots[deviceID]
}

func (c *fakeCache) lastLiveness(deviceID int64) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.liveness[deviceID]
	return at, ok
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *fakeEvents) Append(_ context.Context, ev domain.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *fakeEvents) Close() error { return nil }

func (e *fakeEvents) appended() []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Event(nil), e.events...)
}

type fakeObs struct {
	mu       sync.Mutex
	counters map[string]float64
	degraded []string
}

func newFakeObs() *fakeObs {
	return &fakeObs{counters: make(map[string]float64)}
}

func (o *fakeObs) LogInfo(string, ...ports.Field)         {}
func (o *fakeObs) LogError(string, error, ...ports.Field) {}
func (o *fakeObs) ObserveLatency(string, float64)         {}
func (o *fakeObs) SetGauge(string, float64)               {}

func (o *fakeObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters[name] += v
}

func (o *fakeObs) RecordDegraded(op string, _ int64, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degraded = append(o.degraded, op)
}

func (o *fakeObs) counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func (o *fakeObs) degradedOps() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.degraded...)
}

func testConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{
			SnapshotTTL: 10 * time.Minute,
			LivenessTTL: 5 * time.Minute,
		},
		Pipeline: config.PipelineConfig{
			MaxRangeLimit:  10_000,
			MaxBuckets:     5_000,
			DurableTimeout: time.Second,
			CacheTimeout:   time.Second,
			EventTimeout:   time.Second,
		},
	}
}

func newTestPool(t *testing.T, obs ports.Observability) *SideEffects {
	t.Helper()
	pool := NewSideEffects(2, 16, obs)
	t.Cleanup(pool.Close)
	return pool
}

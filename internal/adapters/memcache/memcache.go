// Package memcache is an in-process CacheTier for single-node deploys and
// tests. Entries carry per-key deadlines checked lazily on read; the LRU bound
// keeps the tier from growing without limit.
package memcache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

const (
	snapshotPrefix = "snapshot:"
	lastSeenPrefix = "lastseen:"
	ratePrefix     = "rate:"
)

type entry struct {
	points   map[string]domain.MeasurementPoint
	at       time.Time
	count    int64
	deadline time.Time
}

type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
	now func() time.Time
}

func New(maxEntries int) (*Cache, error) {
	l, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, now: time.Now}, nil
}

func (c *Cache) SetSnapshot(_ context.Context, deviceID int64, points map[string]domain.MeasurementPoint, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := snapshotPrefix + strconv.FormatInt(deviceID, 10)
	merged := make(map[string]domain.MeasurementPoint, len(points))
	if e, ok := c.fresh(key); ok {
		for name, p := range e.points {
			merged[name] = p
		}
	}
	for name, p := range points {
		merged[name] = p
	}

	c.lru.Add(key, entry{points: merged, deadline: c.now().Add(ttl)})
	return nil
}

func (c *Cache) GetSnapshot(_ context.Context, deviceID int64) (domain.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.fresh(snapshotPrefix + strconv.FormatInt(deviceID, 10))
	if !ok {
		return domain.Snapshot{}, false, nil
	}

	points := make(map[string]domain.MeasurementPoint, len(e.points))
	for name, p := range e.points {
		points[name] = p
	}
	return domain.Snapshot{DeviceID: deviceID, Measurements: points}, true, nil
}

func (c *Cache) SetLiveness(_ context.Context, deviceID int64, at time.Time, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := lastSeenPrefix + strconv.FormatInt(deviceID, 10)
	c.lru.Add(key, entry{at: at, deadline: c.now().Add(ttl)})
	return nil
}

func (c *Cache) LastSeen(_ context.Context, deviceID int64) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.fresh(lastSeenPrefix + strconv.FormatInt(deviceID, 10))
	if !ok {
		return time.Time{}, false, nil
	}
	return e.at, true, nil
}

func (c *Cache) OnlineDevices(_ context.Context) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []int64
	for _, key := range c.lru.Keys() {
		if !strings.HasPrefix(key, lastSeenPrefix) {
			continue
		}
		if _, ok := c.fresh(key); !ok {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, lastSeenPrefix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *Cache) IncrRate(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := ratePrefix + key
	if e, ok := c.fresh(k); ok {
		e.count++
		c.lru.Add(k, e)
		return e.count, nil
	}

	c.lru.Add(k, entry{count: 1, deadline: c.now().Add(window)})
	return 1, nil
}

func (c *Cache) Ping(context.Context) error { return nil }

func (c *Cache) Close() error {
	c.lru.Purge()
	return nil
}

// fresh returns the entry at key if its deadline has not passed, evicting it
// otherwise. Callers hold c.mu.
func (c *Cache) fresh(key string) (entry, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return entry{}, false
	}
	if c.now().After(e.deadline) {
		c.lru.Remove(key)
		return entry{}, false
	}
	return e, true
}

var _ ports.CacheTier = (*Cache)(nil)

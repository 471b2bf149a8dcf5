// Package rediscache is the production CacheTier. Snapshots live in per-device
// hashes so a submission carrying a subset of measurements merges field-wise;
// liveness markers pair a per-device key with the devices:online sorted set.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

const onlineSet = "devices:online"

type Cache struct {
	client      *redis.Client
	livenessTTL time.Duration
	now         func() time.Time
}

func New(addr, password string, db int, livenessTTL time.Duration) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &Cache{client: client, livenessTTL: livenessTTL, now: time.Now}
}

func snapshotKey(deviceID int64) string { return "telemetry:latest:" + strconv.FormatInt(deviceID, 10) }
func lastSeenKey(deviceID int64) string { return "device:lastseen:" + strconv.FormatInt(deviceID, 10) }

func (c *Cache) SetSnapshot(ctx context.Context, deviceID int64, points map[string]domain.MeasurementPoint, ttl time.Duration) error {
	fields := make(map[string]any, len(points))
	for name, p := range points {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal snapshot point %q: %w", name, err)
		}
		fields[name] = raw
	}

	key := snapshotKey(deviceID)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) GetSnapshot(ctx context.Context, deviceID int64) (domain.Snapshot, bool, error) {
	raw, err := c.client.HGetAll(ctx, snapshotKey(deviceID)).Result()
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	if len(raw) == 0 {
		return domain.Snapshot{}, false, nil
	}

	points := make(map[string]domain.MeasurementPoint, len(raw))
	for name, v := range raw {
		var p domain.MeasurementPoint
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return domain.Snapshot{}, false, fmt.Errorf("decode snapshot point %q: %w", name, err)
		}
		points[name] = p
	}
	return domain.Snapshot{DeviceID: deviceID, Measurements: points}, true, nil
}

func (c *Cache) SetLiveness(ctx context.Context, deviceID int64, at time.Time, ttl time.Duration) error {
	pipe := c.client.Pipeline()
	pipe.Set(ctx, lastSeenKey(deviceID), at.UTC().Format(time.RFC3339Nano), ttl)
	pipe.ZAdd(ctx, onlineSet, redis.Z{Score: float64(at.Unix()), Member: deviceID})
	pipe.ZRemRangeByScore(ctx, onlineSet, "-inf", strconv.FormatInt(c.now().Add(-c.livenessTTL).Unix(), 10))
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) LastSeen(ctx context.Context, deviceID int64) (time.Time, bool, error) {
	raw, err := c.client.Get(ctx, lastSeenKey(deviceID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode last seen: %w", err)
	}
	return at, true, nil
}

func (c *Cache) OnlineDevices(ctx context.Context) ([]int64, error) {
	cutoff := c.now().Add(-c.livenessTTL).Unix()
	members, err := c.client.ZRangeByScore(ctx, onlineSet, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *Cache) IncrRate(ctx context.Context, key string, window time.Duration) (int64, error) {
	rateKey := "ratelimit:" + key
	count, err := c.client.Incr(ctx, rateKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, rateKey, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

var _ ports.CacheTier = (*Cache)(nil)

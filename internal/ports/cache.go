package ports

import (
	"context"
	"time"

	"github.com/iotflow/tierflow/internal/domain"
)

// CacheTier is the volatile low-latency tier. Every value it holds is derived
// and TTL-bound; last-write-wins on concurrent updates of the same key is
// acceptable because nothing here is a source of truth.
type CacheTier interface {
	// SetSnapshot merges points into the device's latest-value view and
	// refreshes its freshness TTL, so a submission carrying a subset of
	// measurements never evicts the rest.
	SetSnapshot(ctx context.Context, deviceID int64, points map[string]domain.MeasurementPoint, ttl time.Duration) error

	// GetSnapshot probes for a cached snapshot. A miss is (zero, false, nil),
	// not an error.
	GetSnapshot(ctx context.Context, deviceID int64) (domain.Snapshot, bool, error)

	// SetLiveness marks a device as recently seen. The TTL doubles as the
	// online/offline horizon.
	SetLiveness(ctx context.Context, deviceID int64, at time.Time, ttl time.Duration) error

	// LastSeen returns the liveness marker, if still fresh.
	LastSeen(ctx context.Context, deviceID int64) (time.Time, bool, error)

	// OnlineDevices lists devices with a live marker.
	OnlineDevices(ctx context.Context) ([]int64, error)

	// IncrRate bumps a rate-limit counter, creating it with the window TTL on
	// first use, and returns the count inside the current window.
	IncrRate(ctx context.Context, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

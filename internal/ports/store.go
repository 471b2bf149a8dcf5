package ports

import (
	"context"
	"time"

	"github.com/iotflow/tierflow/internal/domain"
)

// DurableStore is the authoritative, range-queryable telemetry tier. Its Write
// is the only mandatory step of a submission; every implementation must be safe
// for concurrent use.
type DurableStore interface {
	// Write persists one record atomically: afterwards the record is either
	// fully visible or absent, never partial.
	Write(ctx context.Context, rec domain.TelemetryRecord) error

	// QueryRange returns records for a device in [start, end], ordered by
	// (instant DESC, seq DESC). The ordering is a contract, not an
	// implementation detail.
	QueryRange(ctx context.Context, deviceID int64, start, end time.Time, limit int) ([]domain.TelemetryRecord, error)

	// QueryLatest returns the most recent point per measurement for a device.
	// An empty map means the device has no data.
	QueryLatest(ctx context.Context, deviceID int64) (map[string]domain.MeasurementPoint, error)

	// QueryUserRange returns measurement rows across all devices owned by a
	// user, ordered by instant descending.
	QueryUserRange(ctx context.Context, userID int64, start, end time.Time, limit int) ([]domain.UserMeasurementRow, error)

	// CountUserRange counts user-indexed rows since start.
	CountUserRange(ctx context.Context, userID int64, start time.Time) (int64, error)

	// ScanMeasurement streams one measurement's samples in [start, end) in
	// ascending time order, calling fn once per sample. Lets the aggregation
	// engine fold large buckets without holding them in memory.
	ScanMeasurement(ctx context.Context, deviceID int64, measurement string, start, end time.Time, fn func(at time.Time, v domain.Value) error) error

	// Delete removes all device records in [start, end] and reports how many
	// rows were removed. Irreversible.
	Delete(ctx context.Context, deviceID int64, start, end time.Time) (int64, error)

	// WriteRollup persists a pre-computed aggregation bucket.
	WriteRollup(ctx context.Context, b domain.AggregationBucket) error

	// ReadRollups returns stored buckets for (device, measurement, kind,
	// window) with bucket starts in [start, end).
	ReadRollups(ctx context.Context, deviceID int64, measurement string, kind domain.AggregationKind, window time.Duration, start, end time.Time) ([]domain.AggregationBucket, error)

	Ping(ctx context.Context) error
	Close() error
}

// Package timescale is the Postgres/TimescaleDB DurableStore. Records are
// exploded into one row per measurement, the layout range and
// latest-per-measurement queries want; QueryRange reassembles rows into
// records keyed by (ts, seq).
package timescale

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_data (
	device_id     BIGINT      NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	seq           BIGINT      NOT NULL,
	measurement   TEXT        NOT NULL,
	numeric_value DOUBLE PRECISION,
	text_value    TEXT,
	metadata      JSONB
);
CREATE INDEX IF NOT EXISTS device_data_device_ts_idx
	ON device_data (device_id, ts DESC, seq DESC);
CREATE INDEX IF NOT EXISTS device_data_measurement_idx
	ON device_data (device_id, measurement, ts);

CREATE TABLE IF NOT EXISTS user_data (
	user_id       BIGINT      NOT NULL,
	device_id     BIGINT      NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	seq           BIGINT      NOT NULL,
	measurement   TEXT        NOT NULL,
	numeric_value DOUBLE PRECISION,
	text_value    TEXT
);
CREATE INDEX IF NOT EXISTS user_data_user_ts_idx
	ON user_data (user_id, ts DESC, seq DESC);

CREATE TABLE IF NOT EXISTS aggregated_data (
	device_id    BIGINT      NOT NULL,
	measurement  TEXT        NOT NULL,
	aggregation  TEXT        NOT NULL,
	window_ms    BIGINT      NOT NULL,
	bucket_start TIMESTAMPTZ NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	sample_count BIGINT      NOT NULL,
	PRIMARY KEY (device_id, measurement, aggregation, window_ms, bucket_start)
);
`

type Store struct {
	db *sqlx.DB
}

func New(connString string) (*Store, error) {
	db, err := sqlx.Connect("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Write(ctx context.Context, rec domain.TelemetryRecord) error {
	var metadata any
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = raw
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("INSERT INTO device_data (device_id, ts, seq, measurement, numeric_value, text_value, metadata) VALUES ")
	i := 0
	for name, v := range rec.Measurements {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6, len(args)+7))
		args = append(args, rec.DeviceID, rec.Instant, rec.Seq, name, numericColumn(v), textColumn(v), metadata)
		i++
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert device rows: %w", err)
	}

	if rec.UserID != 0 {
		var (
			ub    strings.Builder
			uargs []any
		)
		ub.WriteString("INSERT INTO user_data (user_id, device_id, ts, seq, measurement, numeric_value, text_value) VALUES ")
		i = 0
		for name, v := range rec.Measurements {
			if i > 0 {
				ub.WriteString(",")
			}
			ub.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				len(uargs)+1, len(uargs)+2, len(uargs)+3, len(uargs)+4, len(uargs)+5, len(uargs)+6, len(uargs)+7))
			uargs = append(uargs, rec.UserID, rec.DeviceID, rec.Instant, rec.Seq, name, numericColumn(v), textColumn(v))
			i++
		}
		if _, err := tx.ExecContext(ctx, ub.String(), uargs...); err != nil {
			return fmt.Errorf("insert user rows: %w", err)
		}
	}

	return tx.Commit()
}

type deviceRow struct {
	DeviceID     int64           `db:"device_id"`
	TS           time.Time       `db:"ts"`
	Seq          int64           `db:"seq"`
	Measurement  string          `db:"measurement"`
	NumericValue sql.NullFloat64 `db:"numeric_value"`
	TextValue    sql.NullString  `db:"text_value"`
	Metadata     []byte          `db:"metadata"`
}

func (r deviceRow) value() domain.Value {
	if r.TextValue.Valid {
		return domain.Text(r.TextValue.String)
	}
	return domain.Number(r.NumericValue.Float64)
}

func (s *Store) QueryRange(ctx context.Context, deviceID int64, start, end time.Time, limit int) ([]domain.TelemetryRecord, error) {
	const q = `
		SELECT device_id, ts, seq, measurement, numeric_value, text_value, metadata
		FROM device_data
		WHERE device_id = $1 AND ts >= $2 AND ts <= $3
		  AND (ts, seq) IN (
			SELECT DISTINCT ts, seq FROM device_data
			WHERE device_id = $1 AND ts >= $2 AND ts <= $3
			ORDER BY ts DESC, seq DESC
			LIMIT $4
		  )
		ORDER BY ts DESC, seq DESC`

	var rows []deviceRow
	if err := s.db.SelectContext(ctx, &rows, q, deviceID, start, end, limit); err != nil {
		return nil, err
	}

	var out []domain.TelemetryRecord
	for _, row := range rows {
		n := len(out)
		if n == 0 || !out[n-1].Instant.Equal(row.TS) || out[n-1].Seq != uint64(row.Seq) {
			rec := domain.TelemetryRecord{
				DeviceID:     row.DeviceID,
				Instant:      row.TS.UTC(),
				Seq:          uint64(row.Seq),
				Measurements: make(map[string]domain.Value),
			}
			if len(row.Metadata) > 0 {
				_ = json.Unmarshal(row.Metadata, &rec.Metadata)
			}
			out = append(out, rec)
			n++
		}
		out[n-1].Measurements[row.Measurement] = row.value()
	}
	return out, nil
}

func (s *Store) QueryLatest(ctx context.Context, deviceID int64) (map[string]domain.MeasurementPoint, error) {
	const q = `
		SELECT DISTINCT ON (measurement)
			device_id, ts, seq, measurement, numeric_value, text_value
		FROM device_data
		WHERE device_id = $1
		ORDER BY measurement, ts DESC, seq DESC`

	var rows []deviceRow
	if err := s.db.SelectContext(ctx, &rows, q, deviceID); err != nil {
		return nil, err
	}

	points := make(map[string]domain.MeasurementPoint, len(rows))
	for _, row := range rows {
		points[row.Measurement] = domain.MeasurementPoint{Value: row.value(), Instant: row.TS.UTC()}
	}
	return points, nil
}

func (s *Store) QueryUserRange(ctx context.Context, userID int64, start, end time.Time, limit int) ([]domain.UserMeasurementRow, error) {
	const q = `
		SELECT device_id, ts, seq, measurement, numeric_value, text_value
		FROM user_data
		WHERE user_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC, seq DESC
		LIMIT $4`

	var rows []deviceRow
	if err := s.db.SelectContext(ctx, &rows, q, userID, start, end, limit); err != nil {
		return nil, err
	}

	out := make([]domain.UserMeasurementRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.UserMeasurementRow{
			DeviceID:    row.DeviceID,
			Instant:     row.TS.UTC(),
			Measurement: row.Measurement,
			Value:       row.value(),
		})
	}
	return out, nil
}

func (s *Store) CountUserRange(ctx context.Context, userID int64, start time.Time) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM user_data WHERE user_id = $1 AND ts >= $2`, userID, start)
	return count, err
}

func (s *Store) ScanMeasurement(ctx context.Context, deviceID int64, measurement string, start, end time.Time, fn func(at time.Time, v domain.Value) error) error {
	const q = `
		SELECT device_id, ts, seq, measurement, numeric_value, text_value
		FROM device_data
		WHERE device_id = $1 AND measurement = $2 AND ts >= $3 AND ts < $4
		ORDER BY ts ASC, seq ASC`

	rows, err := s.db.QueryxContext(ctx, q, deviceID, measurement, start, end)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row deviceRow
		if err := rows.StructScan(&row); err != nil {
			return err
		}
		if err := fn(row.TS.UTC(), row.value()); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Delete(ctx context.Context, deviceID int64, start, end time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Reported count is records (submissions), not exploded rows.
	var count int64
	if err := tx.GetContext(ctx, &count,
		`SELECT COUNT(DISTINCT (ts, seq)) FROM device_data WHERE device_id = $1 AND ts >= $2 AND ts <= $3`,
		deviceID, start, end); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM device_data WHERE device_id = $1 AND ts >= $2 AND ts <= $3`,
		deviceID, start, end); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_data WHERE device_id = $1 AND ts >= $2 AND ts <= $3`,
		deviceID, start, end); err != nil {
		return 0, err
	}

	return count, tx.Commit()
}

func (s *Store) WriteRollup(ctx context.Context, b domain.AggregationBucket) error {
	const q = `
		INSERT INTO aggregated_data (device_id, measurement, aggregation, window_ms, bucket_start, value, sample_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, measurement, aggregation, window_ms, bucket_start)
		DO UPDATE SET value = EXCLUDED.value, sample_count = EXCLUDED.sample_count`

	_, err := s.db.ExecContext(ctx, q,
		b.DeviceID, b.Measurement, string(b.Kind), b.Window.Milliseconds(), b.BucketStart, b.Value, b.SampleCount)
	return err
}

type rollupRow struct {
	BucketStart time.Time `db:"bucket_start"`
	Value       float64   `db:"value"`
	SampleCount int64     `db:"sample_count"`
}

func (s *Store) ReadRollups(ctx context.Context, deviceID int64, measurement string, kind domain.AggregationKind, window time.Duration, start, end time.Time) ([]domain.AggregationBucket, error) {
	const q = `
		SELECT bucket_start, value, sample_count
		FROM aggregated_data
		WHERE device_id = $1 AND measurement = $2 AND aggregation = $3 AND window_ms = $4
		  AND bucket_start >= $5 AND bucket_start < $6
		ORDER BY bucket_start ASC`

	var rows []rollupRow
	if err := s.db.SelectContext(ctx, &rows, q,
		deviceID, measurement, string(kind), window.Milliseconds(), start, end); err != nil {
		return nil, err
	}

	out := make([]domain.AggregationBucket, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.AggregationBucket{
			DeviceID:    deviceID,
			Measurement: measurement,
			Kind:        kind,
			Window:      window,
			BucketStart: row.BucketStart.UTC(),
			Value:       row.Value,
			SampleCount: row.SampleCount,
		})
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func numericColumn(v domain.Value) any {
	if v.IsNumber() {
		return v.Num
	}
	return nil
}

func textColumn(v domain.Value) any {
	if v.IsNumber() {
		return nil
	}
	return v.Text
}

var _ ports.DurableStore = (*Store)(nil)

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind discriminates the two value shapes a measurement can carry.
type ValueKind uint8

const (
	KindNumber ValueKind = iota
	KindText
)

// Value is a tagged union: a measurement is either numeric or textual.
// Only numeric values participate in aggregation.
type Value struct {
	Kind ValueKind
	Num  float64
	Text string
}

func Number(v float64) Value { return Value{Kind: KindNumber, Num: v} }
func Text(s string) Value    { return Value{Kind: KindText, Text: s} }

func (v Value) IsNumber() bool { return v.Kind == KindNumber }

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindText {
		return json.Marshal(v.Text)
	}
	return json.Marshal(v.Num)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	// json.Unmarshal treats null as a no-op on *float64, which would read as
	// the number zero. Reject it outright.
	if string(data) == "null" {
		return fmt.Errorf("measurement value must be a number or a string, got null")
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*v = Number(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Text(s)
		return nil
	}
	return fmt.Errorf("measurement value must be a number or a string, got %s", data)
}

// TelemetryRecord is one device submission. Immutable once durably stored.
// (Instant, Seq) orders records within a device; Seq is the ingestion-sequence
// tiebreak for submissions sharing the same instant.
type TelemetryRecord struct {
	DeviceID     int64             `json:"device_id"`
	UserID       int64             `json:"user_id,omitempty"`
	Instant      time.Time         `json:"timestamp"`
	Seq          uint64            `json:"seq"`
	Measurements map[string]Value  `json:"measurements"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// MeasurementPoint is one measurement's last known value and when it was seen.
type MeasurementPoint struct {
	Value   Value     `json:"value"`
	Instant time.Time `json:"timestamp"`
}

// Snapshot is the cached latest-value view of a device. It is derived state:
// rebuilt from the durable store on a miss, never written back to it.
type Snapshot struct {
	DeviceID     int64                       `json:"device_id"`
	Measurements map[string]MeasurementPoint `json:"measurements"`
}

// AggregationKind names a windowed statistic.
type AggregationKind string

const (
	AggMean  AggregationKind = "mean"
	AggSum   AggregationKind = "sum"
	AggMin   AggregationKind = "min"
	AggMax   AggregationKind = "max"
	AggCount AggregationKind = "count"
)

func (k AggregationKind) Valid() bool {
	switch k {
	case AggMean, AggSum, AggMin, AggMax, AggCount:
		return true
	}
	return false
}

// AggregationBucket holds one windowed statistic, either computed on demand or
// persisted as a rollup.
type AggregationBucket struct {
	DeviceID    int64           `json:"device_id"`
	Measurement string          `json:"measurement"`
	Kind        AggregationKind `json:"aggregation"`
	Window      time.Duration   `json:"window"`
	BucketStart time.Time       `json:"bucket_start"`
	Value       float64         `json:"value"`
	SampleCount int64           `json:"sample_count"`
}

// UserMeasurementRow is one measurement from the user-indexed view, spanning
// all devices a user owns.
type UserMeasurementRow struct {
	DeviceID    int64     `json:"device_id"`
	Instant     time.Time `json:"timestamp"`
	Measurement string    `json:"measurement_name"`
	Value       Value     `json:"value"`
}

// SubmissionResult is returned by a successful Submit. Durable is always true
// on success; it exists so callers can surface "stored, cache degraded"
// diagnostics distinctly from full success.
type SubmissionResult struct {
	DeviceID int64     `json:"device_id"`
	Instant  time.Time `json:"timestamp"`
	Seq      uint64    `json:"seq"`
	Durable  bool      `json:"durable"`
}

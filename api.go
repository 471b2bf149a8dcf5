// Package tierflow re-exports the embedding API so consumers can import
// github.com/iotflow/tierflow directly.
package tierflow

import (
	base "github.com/iotflow/tierflow/pkg/tierflow"
)

// Re-exported errors for convenience.
var (
	ErrInvalidTimeExpression     = base.ErrInvalidTimeExpression
	ErrInvalidMeasurementPayload = base.ErrInvalidMeasurementPayload
	ErrDurableWriteFailed        = base.ErrDurableWriteFailed
	ErrNotFound                  = base.ErrNotFound
	ErrAggregationRangeTooLarge  = base.ErrAggregationRangeTooLarge
)

type (
	Config            = base.Config
	Pipeline          = base.Pipeline
	Option            = base.Option
	Submission        = base.Submission
	SubmissionResult  = base.SubmissionResult
	TelemetryRecord   = base.TelemetryRecord
	MeasurementPoint  = base.MeasurementPoint
	Snapshot          = base.Snapshot
	Value             = base.Value
	Event             = base.Event
	AggregationKind   = base.AggregationKind
	AggregationQuery  = base.AggregationQuery
	AggregationBucket = base.AggregationBucket
	DurableStore      = base.DurableStore
	CacheTier         = base.CacheTier
	EventLog          = base.EventLog
)

const (
	AggMean  = base.AggMean
	AggSum   = base.AggSum
	AggMin   = base.AggMin
	AggMax   = base.AggMax
	AggCount = base.AggCount
)

var (
	Number      = base.Number
	Text        = base.Text
	ResolveTime = base.ResolveTime
)

// LoadConfig reads YAML configuration from disk.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Open assembles a pipeline from an in-memory Config.
func Open(cfg *Config, opts ...Option) (*Pipeline, error) {
	return base.Open(cfg, opts...)
}

// OpenPath loads configuration from disk and opens the pipeline.
func OpenPath(path string, opts ...Option) (*Pipeline, error) {
	return base.OpenPath(path, opts...)
}

// Component override options.
var (
	WithStore      = base.WithStore
	WithCache      = base.WithCache
	WithEventLog   = base.WithEventLog
	WithLogger     = base.WithLogger
	WithRegisterer = base.WithRegisterer
)

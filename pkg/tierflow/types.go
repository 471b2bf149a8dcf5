package tierflow

import (
	"github.com/iotflow/tierflow/internal/app/aggregate"
	"github.com/iotflow/tierflow/internal/app/config"
	"github.com/iotflow/tierflow/internal/app/coordinator"
	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
	"github.com/iotflow/tierflow/internal/timeexpr"
)

// Aliases so embedders never import internal packages directly.
type (
	Config           = config.Config
	Submission       = coordinator.Submission
	SubmissionResult = domain.SubmissionResult
	TelemetryRecord  = domain.TelemetryRecord
	MeasurementPoint = domain.MeasurementPoint
	Snapshot         = domain.Snapshot
	Value            = domain.Value
	Event            = domain.Event
	AggregationKind  = domain.AggregationKind
	AggregationQuery = aggregate.Query

	AggregationBucket = domain.AggregationBucket

	DurableStore = ports.DurableStore
	CacheTier    = ports.CacheTier
	EventLog     = ports.EventLog
)

// Measurement value constructors.
var (
	Number = domain.Number
	Text   = domain.Text
)

// Aggregation functions.
const (
	AggMean  = domain.AggMean
	AggSum   = domain.AggSum
	AggMin   = domain.AggMin
	AggMax   = domain.AggMax
	AggCount = domain.AggCount
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrInvalidTimeExpression     = domain.ErrInvalidTimeExpression
	ErrInvalidMeasurementPayload = domain.ErrInvalidMeasurementPayload
	ErrDurableWriteFailed        = domain.ErrDurableWriteFailed
	ErrNotFound                  = domain.ErrNotFound
	ErrAggregationRangeTooLarge  = domain.ErrAggregationRangeTooLarge
)

// LoadConfig reads YAML configuration from disk, applying defaults and
// validating backend switches.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// ResolveTime evaluates a time expression, relative ("-15m") or absolute
// ISO 8601, against the given reference instant.
var ResolveTime = timeexpr.Resolve

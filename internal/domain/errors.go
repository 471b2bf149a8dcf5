package domain

import "errors"

var (
	// ErrInvalidTimeExpression marks a time string matching neither the
	// -<N>{s,m,h,d} relative grammar nor an ISO-8601 UTC instant.
	ErrInvalidTimeExpression = errors.New("invalid time expression")

	// ErrInvalidMeasurementPayload marks an empty or malformed measurement map.
	ErrInvalidMeasurementPayload = errors.New("invalid measurement payload")

	// ErrDurableWriteFailed marks a rejected or unavailable durable write. The
	// whole submission fails; nothing downstream of the durable store runs.
	ErrDurableWriteFailed = errors.New("durable write failed")

	// ErrNotFound is a valid empty result for latest-value reads, not a fault.
	ErrNotFound = errors.New("no telemetry data found")

	// ErrAggregationRangeTooLarge marks a span/window pair whose bucket count
	// exceeds the configured ceiling.
	ErrAggregationRangeTooLarge = errors.New("aggregation range too large")
)

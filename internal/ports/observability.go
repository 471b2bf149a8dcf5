package ports

// Observability is the logging and metrics surface the pipeline writes to.
type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)
	SetGauge(name string, v float64)

	// RecordDegraded notes a swallowed best-effort failure (cache write, event
	// append, liveness update). Diagnostics only; never surfaced to callers.
	RecordDegraded(op string, deviceID int64, err error)
}

type Field struct {
	Key   string
	Value any
}

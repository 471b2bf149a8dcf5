package ports

import (
	"context"

	"github.com/iotflow/tierflow/internal/domain"
)

// EventLog is the best-effort audit tier. Append is synchronous at the port so
// implementations stay simple; the write coordinator detaches it onto a bounded
// worker pool, which is where the fire-and-forget contract lives. Event loss is
// acceptable; the durable store stays authoritative.
type EventLog interface {
	Append(ctx context.Context, ev domain.Event) error
	Close() error
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event appended to the event log.
type EventType string

const (
	EventTelemetrySubmitted EventType = "telemetry.submitted"
	EventTelemetryDeleted   EventType = "telemetry.deleted"
	EventConfigChanged      EventType = "config.changed"
	EventStatusChanged      EventType = "status.changed"
)

// Event is a best-effort audit record. Loss is acceptable; the durable store
// stays authoritative.
type Event struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"event_type"`
	DeviceID int64          `json:"device_id"`
	UserID   int64          `json:"user_id,omitempty"`
	Instant  time.Time      `json:"timestamp"`
	Details  map[string]any `json:"details,omitempty"`
}

func NewEvent(t EventType, deviceID int64, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		DeviceID: deviceID,
		Instant:  at,
	}
}

// Package sloglog is an EventLog that writes events to the process log.
// Used when no broker is configured, and in tests.
package sloglog

import (
	"context"
	"log/slog"

	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

type Sink struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Sink {
	return &Sink{log: log}
}

func (s *Sink) Append(_ context.Context, ev domain.Event) error {
	s.log.Info("event",
		slog.String("id", ev.ID),
		slog.String("type", string(ev.Type)),
		slog.Int64("device_id", ev.DeviceID),
		slog.Time("timestamp", ev.Instant),
		slog.Any("details", ev.Details),
	)
	return nil
}

func (s *Sink) Close() error { return nil }

var _ ports.EventLog = (*Sink)(nil)

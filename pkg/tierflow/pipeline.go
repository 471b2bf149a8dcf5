// Package tierflow is the embedding API: it wires the three storage tiers and
// the coordinators from a Config so hosts can run the pipeline in-process,
// with or without the HTTP surface.
package tierflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iotflow/tierflow/internal/adapters/kafkalog"
	"github.com/iotflow/tierflow/internal/adapters/memcache"
	"github.com/iotflow/tierflow/internal/adapters/mongostore"
	"github.com/iotflow/tierflow/internal/adapters/observability"
	"github.com/iotflow/tierflow/internal/adapters/rediscache"
	"github.com/iotflow/tierflow/internal/adapters/sloglog"
	"github.com/iotflow/tierflow/internal/adapters/timescale"
	"github.com/iotflow/tierflow/internal/app/aggregate"
	"github.com/iotflow/tierflow/internal/app/config"
	"github.com/iotflow/tierflow/internal/app/coordinator"
	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
	"github.com/iotflow/tierflow/internal/server"
)

// Pipeline is a fully wired ingest/cache/query stack. Safe for concurrent use.
type Pipeline struct {
	writer *coordinator.Writer
	reader *coordinator.Reader
	engine *aggregate.Engine
	pool   *coordinator.SideEffects

	store  ports.DurableStore
	cache  ports.CacheTier
	events ports.EventLog
	obs    ports.Observability
	cfg    *config.Config

	log *slog.Logger
	reg prometheus.Registerer

	handler http.Handler
}

// Option overrides one wired component before the pipeline is assembled.
type Option func(*Pipeline)

// WithStore replaces the config-selected durable store.
func WithStore(s DurableStore) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.store = s
		}
	}
}

// WithCache replaces the config-selected cache tier.
func WithCache(c CacheTier) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.cache = c
		}
	}
}

// WithEventLog replaces the config-selected event log.
func WithEventLog(e EventLog) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.events = e
		}
	}
}

// WithLogger sets the slog logger backing observability. Defaults to a JSON
// logger on stdout.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithRegisterer sets the Prometheus registerer metrics land in. Defaults to a
// private registry; pass prometheus.DefaultRegisterer to share the global one.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pipeline) {
		if reg != nil {
			p.reg = reg
		}
	}
}

// OpenPath loads YAML configuration from disk and opens the pipeline.
func OpenPath(path string, opts ...Option) (*Pipeline, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return Open(cfg, opts...)
}

// Open assembles a pipeline from an in-memory Config. Components not
// overridden by options are built from the config's backend switches.
func Open(cfg *Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg.ApplyDefaults()

	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.log == nil {
		p.log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if p.reg == nil {
		p.reg = prometheus.NewRegistry()
	}
	p.obs = observability.New(p.log, p.reg)

	if p.store == nil {
		store, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		p.store = store
	}
	if p.cache == nil {
		cache, err := openCache(cfg)
		if err != nil {
			return nil, err
		}
		p.cache = cache
	}
	if p.events == nil {
		events, err := openEventLog(cfg, p.log)
		if err != nil {
			return nil, err
		}
		p.events = events
	}

	p.pool = coordinator.NewSideEffects(cfg.Pipeline.SideEffectWorkers, cfg.Pipeline.SideEffectQueueLen, p.obs)
	p.writer = coordinator.NewWriter(p.store, p.cache, p.events, p.pool, p.obs, cfg)
	p.reader = coordinator.NewReader(p.store, p.cache, p.events, p.pool, p.obs, cfg)
	p.engine = aggregate.NewEngine(p.store, p.obs, cfg)
	p.handler = server.New(p.writer, p.reader, p.engine, p.store, p.cache, p.obs, cfg).Handler()

	return p, nil
}

// Submit writes one telemetry record through the tiered write path.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (SubmissionResult, error) {
	return p.writer.Submit(ctx, sub)
}

// Latest returns the device's latest-value snapshot, cache first.
func (p *Pipeline) Latest(ctx context.Context, deviceID int64) (Snapshot, error) {
	return p.reader.GetLatest(ctx, deviceID)
}

// Range returns records in [start, end] ordered newest first.
func (p *Pipeline) Range(ctx context.Context, deviceID int64, start, end time.Time, limit int) ([]TelemetryRecord, error) {
	return p.reader.GetRange(ctx, deviceID, start, end, limit)
}

// UserRange returns measurement rows across all of a user's devices.
func (p *Pipeline) UserRange(ctx context.Context, userID int64, start, end time.Time, limit int) ([]domain.UserMeasurementRow, error) {
	return p.reader.GetUserRange(ctx, userID, start, end, limit)
}

// Aggregate computes windowed statistics over one measurement.
func (p *Pipeline) Aggregate(ctx context.Context, q AggregationQuery) ([]AggregationBucket, error) {
	return p.engine.Aggregate(ctx, q)
}

// DeleteRange removes all device records in [start, end] and returns the count.
func (p *Pipeline) DeleteRange(ctx context.Context, deviceID int64, start, end time.Time) (int64, error) {
	return p.reader.DeleteRange(ctx, deviceID, start, end)
}

// Handler exposes the HTTP API for hosts that mount it on their own server.
func (p *Pipeline) Handler() http.Handler { return p.handler }

// Close drains pending side effects and releases the tiers.
func (p *Pipeline) Close() error {
	p.pool.Close()
	errStore := p.store.Close()
	errCache := p.cache.Close()
	errEvents := p.events.Close()
	if errStore != nil {
		return errStore
	}
	if errCache != nil {
		return errCache
	}
	return errEvents
}

func openStore(cfg *Config) (ports.DurableStore, error) {
	switch cfg.Storage.Backend {
	case "mongo":
		return mongostore.New(cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
	default:
		return timescale.New(cfg.Storage.Timescale.ConnString)
	}
}

func openCache(cfg *Config) (ports.CacheTier, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return rediscache.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB, cfg.Cache.LivenessTTL), nil
	default:
		return memcache.New(cfg.Cache.Memory.MaxEntries)
	}
}

func openEventLog(cfg *Config, log *slog.Logger) (ports.EventLog, error) {
	switch cfg.Events.Backend {
	case "kafka":
		return kafkalog.New(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
	default:
		return sloglog.New(log), nil
	}
}

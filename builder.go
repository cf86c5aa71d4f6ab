package objperm

import (
	"log/slog"

	internalaudit "github.com/MrEthical07/objperm/internal/audit"
	"github.com/MrEthical07/objperm/permission"
	"github.com/MrEthical07/objperm/record"
	"github.com/MrEthical07/objperm/record/redisstore"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. It is single-use.
type Builder struct {
	config Config

	store      record.Store
	membership record.Membership
	redis      redis.UniversalClient

	logger    *slog.Logger
	auditSink AuditSink

	types     []TypeDefinition
	listeners []Listener

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the record store. It takes precedence over WithRedis.
func (b *Builder) WithStore(store record.Store) *Builder {
	b.store = store
	return b
}

// WithMembership sets the group membership source. Without one, actors
// only see their own records.
func (b *Builder) WithMembership(m record.Membership) *Builder {
	b.membership = m
	return b
}

// WithRedis makes Build create a Redis store and membership on client,
// keyed under Config.Store.RedisPrefix, for whichever of the two was not
// set explicitly.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTypes registers entityType with names at Build time.
func (b *Builder) WithTypes(entityType string, names ...string) *Builder {
	b.types = append(b.types, TypeDefinition{Name: entityType, Permissions: names})
	return b
}

// WithTypeDefinitions registers every definition at Build time.
func (b *Builder) WithTypeDefinitions(defs []TypeDefinition) *Builder {
	b.types = append(b.types, defs...)
	return b
}

// WithListener subscribes l to the engine's notifier at Build time.
func (b *Builder) WithListener(l Listener) *Builder {
	b.listeners = append(b.listeners, l)
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the engine. With no store
// and no Redis client the engine runs on an in-memory store.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	b.built = true

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- STORES --------
	store := b.store
	membership := b.membership
	if b.redis != nil {
		if store == nil {
			store = redisstore.New(b.redis, cfg.Store.RedisPrefix)
		}
		if membership == nil {
			membership = redisstore.NewMembership(b.redis, cfg.Store.RedisPrefix)
		}
	}
	if store == nil {
		store = record.NewMemoryStore()
	}

	// -------- PERMISSION REGISTRY --------
	registry := permission.NewRegistry()
	for _, def := range b.types {
		if _, err := registry.Register(def.Name, def.Permissions...); err != nil {
			return nil, err
		}
	}

	metrics := NewMetrics(cfg.Metrics)

	engine := &Engine{
		config:     cfg,
		registry:   registry,
		store:      store,
		membership: membership,
		notifier:   NewNotifier(logger, metrics),
		metrics:    metrics,
		logger:     logger,
	}

	for _, l := range b.listeners {
		engine.notifier.Subscribe(l)
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	if cfg.Permission.FreezeAfterBuild {
		registry.Freeze()
	}

	logger.Debug("objperm engine built",
		slog.Int("entity_types", registry.Count()),
		slog.Int("listeners", engine.notifier.Len()),
		slog.Bool("audit", cfg.Audit.Enabled),
		slog.Bool("metrics", cfg.Metrics.Enabled),
	)

	return engine, nil
}

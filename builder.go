package authcore

import (
	"errors"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/token"
	"go.uber.org/zap"
)

// Builder assembles an Engine.
//
// Builder instances are configured during initialization; Build may be
// called once.
type Builder struct {
	config    Config
	adapter   store.Adapter
	log       *zap.Logger
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithAdapter sets the storage adapter. The Engine does not close it.
func (b *Builder) WithAdapter(a store.Adapter) *Builder {
	b.adapter = a
	return b
}

// WithLogger sets the logger. Without one, Build constructs a logger from
// Config.Log.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// WithAuditSink sets where audit events go. With auditing enabled and no
// sink, events are logged through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces the time source of every component. It exists for
// tests and tooling that need deterministic expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration and wires the components.
//
// Build may return an error when the configuration is invalid, no adapter
// was supplied, or ticket keys cannot be parsed. A Builder builds at most
// one Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.adapter == nil {
		return nil, errors.New("storage adapter required")
	}

	log := b.log
	if log == nil {
		var err error
		log, err = newLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
	}
	log = log.Named("authcore")

	hasher, err := password.NewHasher(cfg.passwordParams())
	if err != nil {
		return nil, err
	}

	// -------- CREDENTIALS, SESSIONS, TOKENS --------
	credentials := credential.New(b.adapter, hasher, credential.Policy{
		MinPasswordLength: cfg.Password.MinLength,
		MaxPasswordLength: cfg.Password.MaxLength,
		MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
		LockoutDuration:   cfg.Lockout.Duration,
		UpgradeOnLogin:    cfg.Password.UpgradeOnLogin,
		DefaultRole:       cfg.Permission.DefaultRole,
	}, log)
	sessions := session.NewManager(b.adapter, b.adapter, log)
	tokens := token.NewManager(b.adapter, log)

	// -------- PERMISSIONS --------
	cache := permission.NewCache(b.adapter, log)
	resolver := permission.NewResolver(cache, b.adapter, cfg.Permission.SuperRole, log)
	registry := permission.NewRegistry(b.adapter, resolver, cache, cfg.Permission.DefaultRole, log)

	e := &Engine{
		config:      cfg,
		log:         log,
		adapter:     b.adapter,
		credentials: credentials,
		sessions:    sessions,
		tokens:      tokens,
		cache:       cache,
		resolver:    resolver,
		registry:    registry,
		metrics:     NewMetrics(cfg.Metrics),
		now:         time.Now,
	}

	// -------- TICKETS --------
	if cfg.Ticket.Enabled {
		tm, err := jwt.NewManager(cfg.ticketConfig())
		if err != nil {
			return nil, err
		}
		e.tickets = tm
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = audit.NewZapSink(log.Named("audit"))
	}
	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     log,
	}, sink)

	if b.clock != nil {
		e.setClock(b.clock)
	}

	b.built = true
	return e, nil
}

func newLogger(cfg LogConfig) (*zap.Logger, error) {
	return logging.New(logging.Config(cfg))
}

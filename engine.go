package authcore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/token"
	"go.uber.org/zap"
)

// Engine orchestrates credentials, sessions, tokens and the permission
// registry over one storage adapter.
//
// Engine instances are built once by Builder and are safe for concurrent
// use. Every method that touches storage takes a context.
type Engine struct {
	config      Config
	log         *zap.Logger
	adapter     store.Adapter
	ownsAdapter bool

	credentials *credential.Store
	sessions    *session.Manager
	tokens      *token.Manager
	cache       *permission.Cache
	resolver    *permission.Resolver
	registry    *permission.Registry
	tickets     *jwt.Manager

	audit   *audit.Dispatcher
	metrics *Metrics
	now     func() time.Time
	closed  atomic.Bool
}

// Open connects the configured storage and builds an Engine that owns it.
// Close releases the storage connection.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	adapter, err := OpenStorage(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	e, err := New().WithConfig(cfg).WithAdapter(adapter).WithLogger(log).Build()
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}
	e.ownsAdapter = true
	return e, nil
}

// Close drains the audit dispatcher and, for engines created by Open, closes
// the storage adapter. Close is idempotent.
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownsAdapter {
		return e.adapter.Close()
	}
	return nil
}

// Config returns a copy of the configuration the Engine was built with.
func (e *Engine) Config() Config { return e.config }

// Adapter exposes the storage adapter, e.g. for host documents.
func (e *Engine) Adapter() store.Adapter { return e.adapter }

// Ping checks storage connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return e.adapter.Ping(ctx)
}

// AuditDropped returns the number of audit events discarded so far.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed returns the number of queued audit events the sink rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

// MetricsSnapshot returns a copy of the engine's metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int64) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

// observe records the time since start when latency histograms are on.
func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// setClock propagates a time source to every time-dependent component.
func (e *Engine) setClock(now func() time.Time) {
	e.now = now
	e.credentials.SetClock(now)
	e.sessions.SetClock(now)
	e.tokens.SetClock(now)
	if e.tickets != nil {
		e.tickets.SetClock(now)
	}
}

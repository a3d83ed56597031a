package authcore

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/mongostore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/MrEthical07/authcore/store/sqlstore"
	"go.uber.org/zap"
)

// OpenStorage connects the backend named by cfg.Backend, retrying under the
// configured policy, and runs its migration when AutoMigrate is set.
func OpenStorage(ctx context.Context, cfg StorageConfig, log *zap.Logger) (store.Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	policy := store.RetryPolicy{Attempts: cfg.ConnectAttempts, Delay: cfg.ConnectDelay}
	if policy.Attempts == 0 {
		policy = store.DefaultRetryPolicy
	}
	log = log.With(zap.String("backend", cfg.Backend))

	var (
		adapter store.Adapter
		err     error
	)
	switch cfg.Backend {
	case BackendRedis:
		adapter, err = redisstore.Open(ctx, cfg.URL, redisstore.Options{
			Prefix:           cfg.Prefix,
			ExpiredRetention: cfg.ExpiredRetention,
		}, policy, log)
	case BackendPostgres, BackendMySQL, BackendSQLite:
		adapter, err = sqlstore.Open(ctx, sqlstore.Config{
			Driver:        cfg.Backend,
			DSN:           cfg.URL,
			MaxOpenConns:  cfg.MaxOpenConns,
			MaxIdleConns:  cfg.MaxIdleConns,
			SlowThreshold: cfg.SlowQueryThreshold,
		}, policy, log)
	case BackendMongo:
		adapter, err = mongostore.Open(ctx, cfg.URL, cfg.Database, policy, log)
	default:
		return nil, fmt.Errorf("%w: unsupported storage backend %q", store.ErrInvalidArgument, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := Migrate(ctx, adapter); err != nil {
			_ = adapter.Close()
			return nil, err
		}
	}
	return adapter, nil
}

// Migrate runs the adapter's schema setup if it has one.
func Migrate(ctx context.Context, adapter store.Adapter) error {
	m, ok := adapter.(store.Migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}

package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPrefix    = "ac"
	defaultRetention = 24 * time.Hour
	maxWatchRetries  = 8
	mgetChunk        = 256
)

// Options configures key layout and retention.
type Options struct {
	// Prefix namespaces every key. Defaults to "ac".
	Prefix string
	// ExpiredRetention keeps expired sessions and tokens readable for this
	// long past their expiry so lookups can still report them as expired.
	ExpiredRetention time.Duration
	// Logger receives best-effort cleanup failures. Defaults to a no-op.
	Logger *zap.Logger
}

// Store is a Redis-backed document adapter. Users, roles and permissions are
// JSON documents; sessions and tokens are hashes so Lua scripts can inspect
// them without decoding.
type Store struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
	log       *zap.Logger
}

var _ store.Adapter = (*Store)(nil)

// New wraps an existing client.
func New(rdb redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.ExpiredRetention <= 0 {
		opts.ExpiredRetention = defaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		rdb:       rdb,
		prefix:    opts.Prefix,
		retention: opts.ExpiredRetention,
		log:       opts.Logger,
	}
}

// Open parses a redis:// URL, connects under policy and returns a Store.
func Open(ctx context.Context, url string, opts Options, policy store.RetryPolicy, log *zap.Logger) (*Store, error) {
	clientOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, store.Backend("parse redis url", err)
	}
	rdb := redis.NewClient(clientOpts)
	err = store.Connect(ctx, policy, log, "redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	if opts.Logger == nil && log != nil {
		opts.Logger = log.With(zap.String("component", "redisstore"))
	}
	return New(rdb, opts), nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.rdb.Ping(ctx).Err())
}

// Close releases the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) userKey(id string) string          { return s.prefix + ":user:" + id }
func (s *Store) emailKey(email string) string      { return s.prefix + ":user-email:" + email }
func (s *Store) usersKey() string                  { return s.prefix + ":users" }
func (s *Store) sessionKey(id string) string       { return s.prefix + ":sess:" + id }
func (s *Store) userSessionsPrefix() string        { return s.prefix + ":user-sess:" }
func (s *Store) userSessionsKey(uid string) string { return s.userSessionsPrefix() + uid }
func (s *Store) sessionExpiryKey() string          { return s.prefix + ":sess-exp" }
func (s *Store) tokenKey(tok string) string        { return s.prefix + ":tok:" + tok }
func (s *Store) userTokensPrefix() string          { return s.prefix + ":user-tok:" }
func (s *Store) userTokensKey(uid string) string   { return s.userTokensPrefix() + uid }
func (s *Store) tokenExpiryKey() string            { return s.prefix + ":tok-exp" }
func (s *Store) roleKey(id string) string          { return s.prefix + ":role:" + id }
func (s *Store) roleNameKey(name string) string    { return s.prefix + ":role-name:" + name }
func (s *Store) rolesKey() string                  { return s.prefix + ":roles" }
func (s *Store) permKey(id string) string          { return s.prefix + ":perm:" + id }
func (s *Store) permsKey() string                  { return s.prefix + ":perms" }
func (s *Store) docsKey(collection string) string  { return s.prefix + ":doc:" + collection }

// wrap maps go-redis errors onto the storage contract.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	return store.Backend(op, err)
}

// watch runs fn under WATCH on keys, retrying lost optimistic races.
func (s *Store) watch(ctx context.Context, op string, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrap(op, err)
	}
	return store.Backend(op, store.ErrConflict)
}

// mutateDoc reads the JSON document at key, lets fn modify it and writes it
// back in one MULTI/EXEC guarded by WATCH. fn may return extra commands to
// queue in the same transaction.
func mutateDoc[T any](ctx context.Context, s *Store, op, key string, fn func(tx *redis.Tx, doc *T) (func(redis.Pipeliner), error)) (*T, error) {
	var out *T
	err := s.watch(ctx, op, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		extra, err := fn(tx, &doc)
		if err != nil {
			return err
		}
		data, err := json.Marshal(&doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = &doc
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// loadDocs MGETs keys in chunks and decodes the present ones.
func loadDocs[T any](ctx context.Context, s *Store, op string, keys []string) ([]*T, error) {
	out := make([]*T, 0, len(keys))
	for start := 0; start < len(keys); start += mgetChunk {
		end := start + mgetChunk
		if end > len(keys) {
			end = len(keys)
		}
		vals, err := s.rdb.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, wrap(op, err)
		}
		for _, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var doc T
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return nil, store.Backend(op, err)
			}
			out = append(out, &doc)
		}
	}
	return out, nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

package permission

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// fillTimeout bounds one shared fill. The fill outlives the caller that
// started it, so it cannot rely on that caller's deadline.
const fillTimeout = 5 * time.Second

// Source is the storage the cache fills from.
type Source interface {
	GetRoleByName(ctx context.Context, name string) (*store.Role, error)
	ListPermissions(ctx context.Context, ids ...string) ([]*store.Permission, error)
}

// Cache maps role names to their permission sets. It is safe for concurrent
// use. A fill that overlaps an invalidation is returned to its caller but not
// stored.
type Cache struct {
	src Source
	log *zap.Logger

	mu         sync.RWMutex
	entries    map[string][]*store.Permission
	generation uint64

	fills singleflight.Group
}

// NewCache builds an empty cache over src.
func NewCache(src Source, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		src:     src,
		log:     log.Named("permission.cache"),
		entries: make(map[string][]*store.Permission),
	}
}

// RolePermissions returns the permissions held by the named role. An unknown
// role holds nothing. Storage errors are returned and nothing is cached.
func (c *Cache) RolePermissions(ctx context.Context, role string) ([]*store.Permission, error) {
	c.mu.RLock()
	perms, ok := c.entries[role]
	gen := c.generation
	c.mu.RUnlock()
	if ok {
		return perms, nil
	}

	// Callers arriving after an invalidation must not join an older fill.
	key := strconv.FormatUint(gen, 10) + ":" + role
	ch := c.fills.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
		defer cancel()
		perms, err := c.load(fctx, role)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.entries[role] = perms
		}
		c.mu.Unlock()
		c.log.Debug("role permissions loaded", zap.String("role", role), zap.Int("count", len(perms)))
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*store.Permission), nil
	}
}

func (c *Cache) load(ctx context.Context, role string) ([]*store.Permission, error) {
	r, err := c.src.GetRoleByName(ctx, role)
	if errors.Is(err, store.ErrNotFound) {
		return []*store.Permission{}, nil
	}
	if err != nil {
		return nil, err
	}
	return lookup(ctx, c.src, r.Permissions)
}

// lookup resolves ids, treating an empty list as the empty set rather than
// every permission.
func lookup(ctx context.Context, src Source, ids []string) ([]*store.Permission, error) {
	if len(ids) == 0 {
		return []*store.Permission{}, nil
	}
	return src.ListPermissions(ctx, ids...)
}

// Invalidate drops the cached set of one role.
func (c *Cache) Invalidate(role string) {
	c.mu.Lock()
	delete(c.entries, role)
	c.generation++
	c.mu.Unlock()
}

// Clear drops every cached set.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string][]*store.Permission)
	c.generation++
	c.mu.Unlock()
}

// Len returns the number of cached roles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

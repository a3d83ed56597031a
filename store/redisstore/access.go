package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

/* ==== ROLES ==== */

func (s *Store) CreateRole(ctx context.Context, r *store.Role) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := store.Timestamp(time.Now())
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Permissions = store.DedupeIDs(r.Permissions)

	data, err := json.Marshal(r)
	if err != nil {
		return store.Backend("create role", err)
	}
	res, err := createIndexedDocLua.Run(ctx, s.rdb,
		[]string{s.roleNameKey(r.Name), s.roleKey(r.ID), s.rolesKey()},
		r.ID, data,
	).Int()
	if err != nil {
		return wrap("create role", err)
	}
	if res != 1 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, id string) (*store.Role, error) {
	raw, err := s.rdb.Get(ctx, s.roleKey(id)).Bytes()
	if err != nil {
		return nil, wrap("get role", err)
	}
	var r store.Role
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, store.Backend("get role", err)
	}
	return &r, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*store.Role, error) {
	id, err := s.rdb.Get(ctx, s.roleNameKey(name)).Result()
	if err != nil {
		return nil, wrap("get role by name", err)
	}
	return s.GetRole(ctx, id)
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd store.RoleUpdate) (*store.Role, error) {
	return mutateDoc(ctx, s, "update role", s.roleKey(id), func(_ *redis.Tx, r *store.Role) (func(redis.Pipeliner), error) {
		upd.Apply(r)
		r.UpdatedAt = store.Timestamp(time.Now())
		return nil, nil
	})
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	key := s.roleKey(id)
	return s.watch(ctx, "delete role", func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var r store.Role
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, s.roleNameKey(r.Name))
			pipe.SRem(ctx, s.rolesKey(), id)
			return nil
		})
		return err
	}, key)
}

func (s *Store) ListRoles(ctx context.Context) ([]*store.Role, error) {
	ids, err := s.rdb.SMembers(ctx, s.rolesKey()).Result()
	if err != nil {
		return nil, wrap("list roles", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.roleKey(id)
	}
	roles, err := loadDocs[store.Role](ctx, s, "list roles", keys)
	if err != nil {
		return nil, err
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (s *Store) AddRolePermission(ctx context.Context, roleID, permID string) (*store.Role, error) {
	return mutateDoc(ctx, s, "add role permission", s.roleKey(roleID), func(_ *redis.Tx, r *store.Role) (func(redis.Pipeliner), error) {
		if !r.HasPermission(permID) {
			r.Permissions = append(r.Permissions, permID)
			r.UpdatedAt = store.Timestamp(time.Now())
		}
		return nil, nil
	})
}

func (s *Store) RemoveRolePermission(ctx context.Context, roleID, permID string) (*store.Role, error) {
	return mutateDoc(ctx, s, "remove role permission", s.roleKey(roleID), func(_ *redis.Tx, r *store.Role) (func(redis.Pipeliner), error) {
		kept := r.Permissions[:0]
		for _, p := range r.Permissions {
			if p != permID {
				kept = append(kept, p)
			}
		}
		r.Permissions = kept
		r.UpdatedAt = store.Timestamp(time.Now())
		return nil, nil
	})
}

/* ==== PERMISSIONS ==== */

func (s *Store) CreatePermission(ctx context.Context, p *store.Permission) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ContextID == "" {
		p.ContextID = p.ID
	}
	data, err := json.Marshal(p)
	if err != nil {
		return store.Backend("create permission", err)
	}
	res, err := createDocLua.Run(ctx, s.rdb, []string{s.permKey(p.ID), s.permsKey()}, p.ID, data).Int()
	if err != nil {
		return wrap("create permission", err)
	}
	if res == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (*store.Permission, error) {
	raw, err := s.rdb.Get(ctx, s.permKey(id)).Bytes()
	if err != nil {
		return nil, wrap("get permission", err)
	}
	var p store.Permission
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, store.Backend("get permission", err)
	}
	return &p, nil
}

func (s *Store) UpdatePermission(ctx context.Context, id string, upd store.PermissionUpdate) (*store.Permission, error) {
	return mutateDoc(ctx, s, "update permission", s.permKey(id), func(_ *redis.Tx, p *store.Permission) (func(redis.Pipeliner), error) {
		upd.Apply(p)
		return nil, nil
	})
}

// DeletePermission also removes the permission from every role.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	n, err := deleteDocLua.Run(ctx, s.rdb, []string{s.permKey(id), s.permsKey()}, id).Int()
	if err != nil {
		return wrap("delete permission", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	roles, err := s.ListRoles(ctx)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if !r.HasPermission(id) {
			continue
		}
		if _, err := s.RemoveRolePermission(ctx, r.ID, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context, ids ...string) ([]*store.Permission, error) {
	if len(ids) == 0 {
		all, err := s.rdb.SMembers(ctx, s.permsKey()).Result()
		if err != nil {
			return nil, wrap("list permissions", err)
		}
		ids = all
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.permKey(id)
	}
	perms, err := loadDocs[store.Permission](ctx, s, "list permissions", keys)
	if err != nil {
		return nil, err
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms, nil
}

/* ==== DOCUMENTS ==== */

func decodeDocument(raw string) (store.Document, error) {
	var d store.Document
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) InsertDocument(ctx context.Context, collection string, doc store.Document) (store.Document, error) {
	if !store.ValidCollection(collection) {
		return nil, store.ErrInvalidArgument
	}
	doc = store.PrepareInsert(doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, store.Backend("insert document", err)
	}
	ok, err := s.rdb.HSetNX(ctx, s.docsKey(collection), doc.ID(), data).Result()
	if err != nil {
		return nil, wrap("insert document", err)
	}
	if !ok {
		return nil, store.ErrDuplicate
	}
	return decodeDocument(string(data))
}

func (s *Store) FindDocument(ctx context.Context, collection, id string) (store.Document, error) {
	if !store.ValidCollection(collection) {
		return nil, store.ErrInvalidArgument
	}
	raw, err := s.rdb.HGet(ctx, s.docsKey(collection), id).Result()
	if err != nil {
		return nil, wrap("find document", err)
	}
	d, err := decodeDocument(raw)
	if err != nil {
		return nil, store.Backend("find document", err)
	}
	return d, nil
}

func (s *Store) matchingDocuments(ctx context.Context, collection string, filter store.Filter) ([]store.Document, error) {
	if !store.ValidCollection(collection) {
		return nil, store.ErrInvalidArgument
	}
	all, err := s.rdb.HGetAll(ctx, s.docsKey(collection)).Result()
	if err != nil {
		return nil, wrap("find documents", err)
	}
	out := make([]store.Document, 0, len(all))
	for _, raw := range all {
		d, err := decodeDocument(raw)
		if err != nil {
			return nil, store.Backend("find documents", err)
		}
		if store.MatchDocument(d, filter) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) FindDocuments(ctx context.Context, collection string, filter store.Filter, opts store.ListOptions) ([]store.Document, error) {
	docs, err := s.matchingDocuments(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	if opts.SortBy == "" {
		opts.SortBy = store.IDField
	}
	store.SortDocuments(docs, opts)
	return store.Page(docs, opts), nil
}

func (s *Store) UpdateDocument(ctx context.Context, collection, id string, set store.Document) (store.Document, error) {
	if !store.ValidCollection(collection) {
		return nil, store.ErrInvalidArgument
	}
	key := s.docsKey(collection)
	var out store.Document
	err := s.watch(ctx, "update document", func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, id).Result()
		if err != nil {
			return err
		}
		d, err := decodeDocument(raw)
		if err != nil {
			return err
		}
		for k, v := range set {
			if k == store.IDField {
				continue
			}
			d[k] = v
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, data)
			return nil
		})
		if err != nil {
			return err
		}
		out, err = decodeDocument(string(data))
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	if !store.ValidCollection(collection) {
		return store.ErrInvalidArgument
	}
	n, err := s.rdb.HDel(ctx, s.docsKey(collection), id).Result()
	if err != nil {
		return wrap("delete document", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountDocuments(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	docs, err := s.matchingDocuments(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

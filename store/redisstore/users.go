package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type userDoc struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"password_hash,omitempty"`
	Role             string    `json:"role"`
	Permissions      []string  `json:"permissions,omitempty"`
	Username         string    `json:"username,omitempty"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	Locale           string    `json:"locale,omitempty"`
	Avatar           string    `json:"avatar,omitempty"`
	LastActiveAt     time.Time `json:"last_active_at"`
	LastAuthMethod   string    `json:"last_auth_method,omitempty"`
	FailedAttempts   int       `json:"failed_attempts"`
	Blocked          bool      `json:"blocked"`
	LockoutUntil     time.Time `json:"lockout_until"`
	ResetToken       string    `json:"reset_token,omitempty"`
	ResetRequestedAt time.Time `json:"reset_requested_at"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func fromUser(u *store.User) *userDoc {
	d := userDoc(*u)
	return &d
}

func (d *userDoc) user() *store.User {
	u := store.User(*d)
	return &u
}

// CreateUser inserts u, failing with store.ErrDuplicateEmail when the email
// index is taken.
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = store.NormalizeEmail(u.Email)
	now := store.Timestamp(time.Now())
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	data, err := json.Marshal(fromUser(u))
	if err != nil {
		return store.Backend("create user", err)
	}
	res, err := createIndexedDocLua.Run(ctx, s.rdb,
		[]string{s.emailKey(u.Email), s.userKey(u.ID), s.usersKey()},
		u.ID, data,
	).Int()
	if err != nil {
		return wrap("create user", err)
	}
	switch res {
	case 0:
		return store.ErrDuplicateEmail
	case -1:
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	raw, err := s.rdb.Get(ctx, s.userKey(id)).Bytes()
	if err != nil {
		return nil, wrap("get user", err)
	}
	var d userDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, store.Backend("get user", err)
	}
	return d.user(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	id, err := s.rdb.Get(ctx, s.emailKey(store.NormalizeEmail(email))).Result()
	if err != nil {
		return nil, wrap("get user by email", err)
	}
	return s.GetUserByID(ctx, id)
}

// UpdateUser applies upd atomically. An email change moves the unique index
// in the same transaction.
func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) (*store.User, error) {
	d, err := mutateDoc(ctx, s, "update user", s.userKey(id), func(tx *redis.Tx, d *userDoc) (func(redis.Pipeliner), error) {
		u := d.user()
		oldEmail := u.Email
		upd.Apply(u)
		u.UpdatedAt = store.Timestamp(time.Now())
		*d = *fromUser(u)

		if u.Email == oldEmail {
			return nil, nil
		}
		newKey := s.emailKey(u.Email)
		if err := tx.Watch(ctx, newKey).Err(); err != nil {
			return nil, err
		}
		taken, err := tx.Exists(ctx, newKey).Result()
		if err != nil {
			return nil, err
		}
		if taken > 0 {
			return nil, store.ErrDuplicateEmail
		}
		return func(pipe redis.Pipeliner) {
			pipe.Del(ctx, s.emailKey(oldEmail))
			pipe.Set(ctx, newKey, id, 0)
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return d.user(), nil
}

func (s *Store) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (*store.User, error) {
	d, err := mutateDoc(ctx, s, "record failed login", s.userKey(id), func(_ *redis.Tx, d *userDoc) (func(redis.Pipeliner), error) {
		d.FailedAttempts++
		if maxAttempts > 0 && d.FailedAttempts >= maxAttempts {
			d.LockoutUntil = store.Timestamp(lockUntil)
			d.FailedAttempts = 0
		}
		d.UpdatedAt = store.Timestamp(time.Now())
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return d.user(), nil
}

func (s *Store) AddUserPermission(ctx context.Context, id, permID string) (*store.User, error) {
	return s.userPermission(ctx, "add user permission", id, permID, "add")
}

func (s *Store) RemoveUserPermission(ctx context.Context, id, permID string) (*store.User, error) {
	return s.userPermission(ctx, "remove user permission", id, permID, "remove")
}

// userPermission edits the grant list server-side so concurrent grants never
// race through a client-side read.
func (s *Store) userPermission(ctx context.Context, op, id, permID, mode string) (*store.User, error) {
	now := store.Timestamp(time.Now()).Format(time.RFC3339Nano)
	raw, err := userPermissionLua.Run(ctx, s.rdb, []string{s.userKey(id)}, permID, mode, now).Text()
	if err != nil {
		return nil, wrap(op, err)
	}
	var d userDoc
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, store.Backend(op, err)
	}
	return d.user(), nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	key := s.userKey(id)
	return s.watch(ctx, "delete user", func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var d userDoc
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, s.emailKey(d.Email))
			pipe.SRem(ctx, s.usersKey(), id)
			return nil
		})
		return err
	}, key)
}

func (s *Store) allUsers(ctx context.Context, filter store.UserFilter) ([]*store.User, error) {
	ids, err := s.rdb.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, wrap("list users", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.userKey(id)
	}
	docs, err := loadDocs[userDoc](ctx, s, "list users", keys)
	if err != nil {
		return nil, err
	}
	out := make([]*store.User, 0, len(docs))
	for _, d := range docs {
		u := d.user()
		if filter.Match(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context, filter store.UserFilter, opts store.ListOptions) ([]*store.User, error) {
	users, err := s.allUsers(ctx, filter)
	if err != nil {
		return nil, err
	}
	store.SortUsers(users, opts)
	return store.Page(users, opts), nil
}

func (s *Store) CountUsers(ctx context.Context, filter store.UserFilter) (int64, error) {
	users, err := s.allUsers(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(users)), nil
}

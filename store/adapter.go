package store

import (
	"context"
	"time"
)

// UserStore persists users. Email is unique across all users.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)
	// RecordFailedLogin atomically increments the failure counter. When the
	// counter reaches maxAttempts the user is locked until lockUntil and the
	// counter restarts at zero.
	RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (*User, error)
	// AddUserPermission and RemoveUserPermission change one direct grant in
	// place. Concurrent calls for different grants all take effect.
	AddUserPermission(ctx context.Context, id, permID string) (*User, error)
	RemoveUserPermission(ctx context.Context, id, permID string) (*User, error)
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, filter UserFilter, opts ListOptions) ([]*User, error)
	CountUsers(ctx context.Context, filter UserFilter) (int64, error)
}

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateSessionExpiry sets a new expiry only if the stored session is
	// still live at now. Otherwise it returns ErrNotFound.
	UpdateSessionExpiry(ctx context.Context, id string, expires, now time.Time) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) (int64, error)
	ListUserSessions(ctx context.Context, userID string, now time.Time) ([]*Session, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// TokenStore persists single-use tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, t *Token) error
	GetToken(ctx context.Context, token, userID, tokenType string) (*Token, error)
	// ConsumeToken atomically finds and deletes the token matching all three
	// keys. Concurrent callers observe at most one non-ErrNotFound result.
	ConsumeToken(ctx context.Context, token, userID, tokenType string) (*Token, error)
	DeleteUserTokens(ctx context.Context, userID string) (int64, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	ListTokens(ctx context.Context, filter TokenFilter) ([]*Token, error)
}

// RoleStore persists roles. Role names are unique.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (*Role, error)
	DeleteRole(ctx context.Context, id string) error
	ListRoles(ctx context.Context) ([]*Role, error)
	AddRolePermission(ctx context.Context, roleID, permID string) (*Role, error)
	RemoveRolePermission(ctx context.Context, roleID, permID string) (*Role, error)
}

// PermissionStore persists permissions.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	UpdatePermission(ctx context.Context, id string, upd PermissionUpdate) (*Permission, error)
	DeletePermission(ctx context.Context, id string) error
	// ListPermissions returns the permissions with the given IDs, skipping
	// unknown ones, or every permission when no IDs are given.
	ListPermissions(ctx context.Context, ids ...string) ([]*Permission, error)
}

// DocumentStore serves host-application collections outside the core entities.
type DocumentStore interface {
	InsertDocument(ctx context.Context, collection string, doc Document) (Document, error)
	FindDocument(ctx context.Context, collection, id string) (Document, error)
	FindDocuments(ctx context.Context, collection string, filter Filter, opts ListOptions) ([]Document, error)
	UpdateDocument(ctx context.Context, collection, id string, set Document) (Document, error)
	DeleteDocument(ctx context.Context, collection, id string) error
	CountDocuments(ctx context.Context, collection string, filter Filter) (int64, error)
}

// Adapter is the full storage contract every backend implements.
type Adapter interface {
	UserStore
	SessionStore
	TokenStore
	RoleStore
	PermissionStore
	DocumentStore

	Ping(ctx context.Context) error
	Close() error
}

// Migrator is implemented by backends that manage a schema or indexes.
type Migrator interface {
	Migrate(ctx context.Context) error
}

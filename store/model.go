package store

import (
	"strings"
	"time"
)

// User is the persisted identity record.
//
// PasswordHash is never serialized to JSON. Backends persist it through their
// own record types.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	Role             string    `json:"role"`
	Permissions      []string  `json:"permissions,omitempty"`
	Username         string    `json:"username,omitempty"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	Locale           string    `json:"locale,omitempty"`
	Avatar           string    `json:"avatar,omitempty"`
	LastActiveAt     time.Time `json:"last_active_at,omitempty"`
	LastAuthMethod   string    `json:"last_auth_method,omitempty"`
	FailedAttempts   int       `json:"failed_attempts"`
	Blocked          bool      `json:"blocked"`
	LockoutUntil     time.Time `json:"lockout_until,omitempty"`
	ResetToken       string    `json:"-"`
	ResetRequestedAt time.Time `json:"reset_requested_at,omitempty"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Sanitized returns a copy without credential material.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.PasswordHash = ""
	out.ResetToken = ""
	out.Permissions = append([]string(nil), u.Permissions...)
	return &out
}

// LockedAt reports whether a lockout window is active at now.
func (u *User) LockedAt(now time.Time) bool {
	return !u.LockoutUntil.IsZero() && now.Before(u.LockoutUntil)
}

// UserUpdate is a partial update. Nil fields are left untouched.
type UserUpdate struct {
	Email            *string
	PasswordHash     *string
	Role             *string
	Permissions      *[]string
	Username         *string
	FirstName        *string
	LastName         *string
	Locale           *string
	Avatar           *string
	LastActiveAt     *time.Time
	LastAuthMethod   *string
	FailedAttempts   *int
	Blocked          *bool
	LockoutUntil     *time.Time
	ResetToken       *string
	ResetRequestedAt *time.Time
	TwoFactorEnabled *bool
}

// Apply copies the set fields of upd onto u.
func (upd UserUpdate) Apply(u *User) {
	if upd.Email != nil {
		u.Email = NormalizeEmail(*upd.Email)
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Permissions != nil {
		u.Permissions = append([]string(nil), (*upd.Permissions)...)
	}
	if upd.Username != nil {
		u.Username = *upd.Username
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Locale != nil {
		u.Locale = *upd.Locale
	}
	if upd.Avatar != nil {
		u.Avatar = *upd.Avatar
	}
	if upd.LastActiveAt != nil {
		u.LastActiveAt = Timestamp(*upd.LastActiveAt)
	}
	if upd.LastAuthMethod != nil {
		u.LastAuthMethod = *upd.LastAuthMethod
	}
	if upd.FailedAttempts != nil {
		u.FailedAttempts = *upd.FailedAttempts
	}
	if upd.Blocked != nil {
		u.Blocked = *upd.Blocked
	}
	if upd.LockoutUntil != nil {
		u.LockoutUntil = Timestamp(*upd.LockoutUntil)
	}
	if upd.ResetToken != nil {
		u.ResetToken = *upd.ResetToken
	}
	if upd.ResetRequestedAt != nil {
		u.ResetRequestedAt = Timestamp(*upd.ResetRequestedAt)
	}
	if upd.TwoFactorEnabled != nil {
		u.TwoFactorEnabled = *upd.TwoFactorEnabled
	}
}

// UserFilter restricts user listings. Zero fields match everything.
type UserFilter struct {
	Role    string
	Email   string
	Blocked *bool
}

// Match reports whether u passes the filter.
func (f UserFilter) Match(u *User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.Email != "" && u.Email != NormalizeEmail(f.Email) {
		return false
	}
	if f.Blocked != nil && u.Blocked != *f.Blocked {
		return false
	}
	return true
}

// ListOptions controls ordering and paging.
type ListOptions struct {
	SortBy     string
	Descending bool
	Limit      int
	Skip       int
}

// Session binds an opaque identifier to a user until Expires.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Expires   time.Time `json:"expires"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiredAt reports whether the session is no longer live at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.Expires)
}

// Token is a single-use typed credential.
type Token struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Type      string    `json:"type"`
	Expires   time.Time `json:"expires"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiredAt reports whether the token is no longer usable at now.
func (t *Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.Expires)
}

// TokenFilter restricts token listings. Zero fields match everything.
type TokenFilter struct {
	UserID string
	Email  string
	Type   string
}

// Match reports whether t passes the filter.
func (f TokenFilter) Match(t *Token) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.Email != "" && t.Email != NormalizeEmail(f.Email) {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}

// Role is a named bundle of permission IDs.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPermission reports whether permID is assigned to the role.
func (r *Role) HasPermission(permID string) bool {
	for _, p := range r.Permissions {
		if p == permID {
			return true
		}
	}
	return false
}

// RoleUpdate is a partial role update. Role names are immutable.
type RoleUpdate struct {
	Description *string
	Permissions *[]string
}

// Apply copies the set fields of upd onto r.
func (upd RoleUpdate) Apply(r *Role) {
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.Permissions != nil {
		r.Permissions = DedupeIDs(*upd.Permissions)
	}
}

// Permission is an atomic capability.
type Permission struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContextID    string `json:"context_id"`
	Action       string `json:"action"`
	ContextType  string `json:"context_type"`
	RequiredRole string `json:"required_role,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Clone returns a copy of p that shares no memory with it.
func (p *Permission) Clone() *Permission {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

// ClonePermissions copies every element of ps.
func ClonePermissions(ps []*Permission) []*Permission {
	if ps == nil {
		return nil
	}
	out := make([]*Permission, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}

// PermissionUpdate is a partial permission update.
type PermissionUpdate struct {
	Name         *string
	ContextID    *string
	Action       *string
	ContextType  *string
	RequiredRole *string
	Description  *string
}

// Apply copies the set fields of upd onto p.
func (upd PermissionUpdate) Apply(p *Permission) {
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.ContextID != nil {
		p.ContextID = *upd.ContextID
	}
	if upd.Action != nil {
		p.Action = *upd.Action
	}
	if upd.ContextType != nil {
		p.ContextType = *upd.ContextType
	}
	if upd.RequiredRole != nil {
		p.RequiredRole = *upd.RequiredRole
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Timestamp normalizes t to UTC millisecond precision, the resolution every
// backend stores.
func Timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Millisecond)
}

// DedupeIDs drops repeated ids, keeping first occurrences in order.
func DedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

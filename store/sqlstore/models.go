package sqlstore

import (
	"time"

	"github.com/MrEthical07/authcore/store"
	"gorm.io/datatypes"
)

type userRow struct {
	ID               string                      `gorm:"primaryKey;size:64"`
	Email            string                      `gorm:"size:320;not null;uniqueIndex"`
	PasswordHash     string                      `gorm:"size:255"`
	Role             string                      `gorm:"size:128;index"`
	Permissions      datatypes.JSONSlice[string] `gorm:"type:json"`
	Username         string                      `gorm:"size:255"`
	FirstName        string                      `gorm:"size:255"`
	LastName         string                      `gorm:"size:255"`
	Locale           string                      `gorm:"size:32"`
	Avatar           string                      `gorm:"size:1024"`
	LastActiveAt     *time.Time
	LastAuthMethod   string `gorm:"size:32"`
	FailedAttempts   int    `gorm:"not null;default:0"`
	Blocked          bool   `gorm:"not null;default:false;index"`
	LockoutUntil     *time.Time
	ResetToken       string `gorm:"size:255"`
	ResetRequestedAt *time.Time
	TwoFactorEnabled bool      `gorm:"not null;default:false"`
	CreatedAt        time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (userRow) TableName() string { return "authcore_users" }

type sessionRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"size:64;not null;index"`
	Expires   time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

func (sessionRow) TableName() string { return "authcore_sessions" }

type tokenRow struct {
	Token     string    `gorm:"primaryKey;size:128"`
	UserID    string    `gorm:"size:64;not null;index"`
	Email     string    `gorm:"size:320;index"`
	Type      string    `gorm:"size:64;not null"`
	Expires   time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

func (tokenRow) TableName() string { return "authcore_tokens" }

type roleRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Name        string    `gorm:"size:128;not null;uniqueIndex"`
	Description string    `gorm:"size:1024"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (roleRow) TableName() string { return "authcore_roles" }

// rolePermissionRow is the role<->permission join table.
type rolePermissionRow struct {
	RoleID       string    `gorm:"primaryKey;size:64"`
	PermissionID string    `gorm:"primaryKey;size:128;index"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime:false"`
}

func (rolePermissionRow) TableName() string { return "authcore_role_permissions" }

type permissionRow struct {
	ID           string `gorm:"primaryKey;size:128"`
	Name         string `gorm:"size:255"`
	ContextID    string `gorm:"size:255;index"`
	Action       string `gorm:"size:32;not null"`
	ContextType  string `gorm:"size:32;not null"`
	RequiredRole string `gorm:"size:128"`
	Description  string `gorm:"size:1024"`
}

func (permissionRow) TableName() string { return "authcore_permissions" }

type documentRow struct {
	Collection string         `gorm:"primaryKey;size:64"`
	ID         string         `gorm:"primaryKey;size:128"`
	Data       datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null;autoCreateTime:false"`
	UpdatedAt  time.Time      `gorm:"not null;autoUpdateTime:false"`
}

func (documentRow) TableName() string { return "authcore_documents" }

func allModels() []any {
	return []any{
		&userRow{},
		&sessionRow{},
		&tokenRow{},
		&roleRow{},
		&rolePermissionRow{},
		&permissionRow{},
		&documentRow{},
	}
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	ts := store.Timestamp(t)
	return &ts
}

func fromOptTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func toUserRow(u *store.User) *userRow {
	return &userRow{
		ID:               u.ID,
		Email:            u.Email,
		PasswordHash:     u.PasswordHash,
		Role:             u.Role,
		Permissions:      datatypes.JSONSlice[string](append([]string{}, u.Permissions...)),
		Username:         u.Username,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Locale:           u.Locale,
		Avatar:           u.Avatar,
		LastActiveAt:     optTime(u.LastActiveAt),
		LastAuthMethod:   u.LastAuthMethod,
		FailedAttempts:   u.FailedAttempts,
		Blocked:          u.Blocked,
		LockoutUntil:     optTime(u.LockoutUntil),
		ResetToken:       u.ResetToken,
		ResetRequestedAt: optTime(u.ResetRequestedAt),
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        store.Timestamp(u.CreatedAt),
		UpdatedAt:        store.Timestamp(u.UpdatedAt),
	}
}

func (r *userRow) user() *store.User {
	var perms []string
	if len(r.Permissions) > 0 {
		perms = append(perms, r.Permissions...)
	}
	return &store.User{
		ID:               r.ID,
		Email:            r.Email,
		PasswordHash:     r.PasswordHash,
		Role:             r.Role,
		Permissions:      perms,
		Username:         r.Username,
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		Locale:           r.Locale,
		Avatar:           r.Avatar,
		LastActiveAt:     fromOptTime(r.LastActiveAt),
		LastAuthMethod:   r.LastAuthMethod,
		FailedAttempts:   r.FailedAttempts,
		Blocked:          r.Blocked,
		LockoutUntil:     fromOptTime(r.LockoutUntil),
		ResetToken:       r.ResetToken,
		ResetRequestedAt: fromOptTime(r.ResetRequestedAt),
		TwoFactorEnabled: r.TwoFactorEnabled,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

// userColumns maps a partial update onto column assignments.
func userColumns(upd store.UserUpdate) map[string]any {
	cols := map[string]any{}
	if upd.Email != nil {
		cols["email"] = store.NormalizeEmail(*upd.Email)
	}
	if upd.PasswordHash != nil {
		cols["password_hash"] = *upd.PasswordHash
	}
	if upd.Role != nil {
		cols["role"] = *upd.Role
	}
	if upd.Permissions != nil {
		cols["permissions"] = datatypes.JSONSlice[string](append([]string{}, (*upd.Permissions)...))
	}
	if upd.Username != nil {
		cols["username"] = *upd.Username
	}
	if upd.FirstName != nil {
		cols["first_name"] = *upd.FirstName
	}
	if upd.LastName != nil {
		cols["last_name"] = *upd.LastName
	}
	if upd.Locale != nil {
		cols["locale"] = *upd.Locale
	}
	if upd.Avatar != nil {
		cols["avatar"] = *upd.Avatar
	}
	if upd.LastActiveAt != nil {
		cols["last_active_at"] = optTime(*upd.LastActiveAt)
	}
	if upd.LastAuthMethod != nil {
		cols["last_auth_method"] = *upd.LastAuthMethod
	}
	if upd.FailedAttempts != nil {
		cols["failed_attempts"] = *upd.FailedAttempts
	}
	if upd.Blocked != nil {
		cols["blocked"] = *upd.Blocked
	}
	if upd.LockoutUntil != nil {
		cols["lockout_until"] = optTime(*upd.LockoutUntil)
	}
	if upd.ResetToken != nil {
		cols["reset_token"] = *upd.ResetToken
	}
	if upd.ResetRequestedAt != nil {
		cols["reset_requested_at"] = optTime(*upd.ResetRequestedAt)
	}
	if upd.TwoFactorEnabled != nil {
		cols["two_factor_enabled"] = *upd.TwoFactorEnabled
	}
	return cols
}

func permissionColumns(upd store.PermissionUpdate) map[string]any {
	cols := map[string]any{}
	if upd.Name != nil {
		cols["name"] = *upd.Name
	}
	if upd.ContextID != nil {
		cols["context_id"] = *upd.ContextID
	}
	if upd.Action != nil {
		cols["action"] = *upd.Action
	}
	if upd.ContextType != nil {
		cols["context_type"] = *upd.ContextType
	}
	if upd.RequiredRole != nil {
		cols["required_role"] = *upd.RequiredRole
	}
	if upd.Description != nil {
		cols["description"] = *upd.Description
	}
	return cols
}

func (r *sessionRow) session() *store.Session {
	return &store.Session{ID: r.ID, UserID: r.UserID, Expires: r.Expires.UTC(), CreatedAt: r.CreatedAt.UTC()}
}

func (r *tokenRow) token() *store.Token {
	return &store.Token{
		Token:     r.Token,
		UserID:    r.UserID,
		Email:     r.Email,
		Type:      r.Type,
		Expires:   r.Expires.UTC(),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (r *permissionRow) permission() *store.Permission {
	return &store.Permission{
		ID:           r.ID,
		Name:         r.Name,
		ContextID:    r.ContextID,
		Action:       r.Action,
		ContextType:  r.ContextType,
		RequiredRole: r.RequiredRole,
		Description:  r.Description,
	}
}

package authcore

import (
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/token"
)

// Records and filters shared with the store package.
type (
	User             = store.User
	Session          = store.Session
	Token            = store.Token
	Role             = store.Role
	Permission       = store.Permission
	RoleUpdate       = store.RoleUpdate
	PermissionUpdate = store.PermissionUpdate
	UserFilter       = store.UserFilter
	TokenFilter      = store.TokenFilter
	ListOptions      = store.ListOptions
)

// NewUser is the input to CreateUser. An empty Password creates an account
// that cannot log in until a password is set.
type NewUser = credential.NewUser

// UserAttributes is a partial user update; nil fields are left unchanged.
type UserAttributes = credential.Attributes

// TokenRequest is the input to CreateToken.
type TokenRequest = token.IssueRequest

// TokenResult reports the outcome of ValidateToken and ConsumeToken.
type TokenResult = token.Result

// TokenStatus distinguishes missing, expired and valid tokens.
type TokenStatus = token.Status

// Token status values.
const (
	TokenNotFound = token.NotFound
	TokenExpired  = token.Expired
	TokenValid    = token.Valid
)

// Token types issued by the engine's own flows.
const (
	TokenTypeInvite            = token.TypeInvite
	TokenTypePasswordReset     = token.TypePasswordReset
	TokenTypeEmailVerification = token.TypeEmailVerification
)

// PermissionQuery asks whether a user may perform Action on ContextID.
type PermissionQuery = permission.Query

// Decision is the result of CheckPermission.
type Decision = permission.Decision

// Management capabilities required by registry mutations.
const (
	ManageRoles       = permission.ManageRoles
	ManagePermissions = permission.ManagePermissions
)

// LoginResult is returned by Login.
type LoginResult struct {
	User    *User    `json:"user"`
	Session *Session `json:"session"`
	// Ticket is a signed session ticket, set only when tickets are enabled.
	Ticket string `json:"ticket,omitempty"`
}

// PurgeResult counts records removed by Purge.
type PurgeResult struct {
	Sessions int64 `json:"sessions"`
	Tokens   int64 `json:"tokens"`
}

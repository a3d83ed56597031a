package authcore

import (
	"errors"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// Error taxonomy. Most values alias the sentinel of the package that raises
// it, so errors.Is works against either name.
var (
	// ErrNotFound is returned when a mutation targets a record that does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrDuplicateEmail is returned when an email is already registered.
	ErrDuplicateEmail = store.ErrDuplicateEmail
	// ErrDuplicate is returned for any other uniqueness collision, e.g. a role name.
	ErrDuplicate = store.ErrDuplicate
	// ErrBackend matches every *store.BackendError.
	ErrBackend = store.ErrBackend
	// ErrConnect is returned when the storage connection retries are exhausted.
	ErrConnect = store.ErrConnect
	// ErrInvalidArgument reports a malformed storage request.
	ErrInvalidArgument = store.ErrInvalidArgument

	// ErrInvalidCredentials covers unknown email, wrong password and lockout alike.
	ErrInvalidCredentials = credential.ErrInvalidCredentials
	// ErrUserBlocked is returned only after the password verified.
	ErrUserBlocked = credential.ErrUserBlocked
	// ErrInvalidInput wraps email and password policy violations.
	ErrInvalidInput = credential.ErrInvalidInput

	// ErrUnauthorized is returned when an actor lacks a management capability.
	ErrUnauthorized = permission.ErrUnauthorized
	// ErrSelfLockout is returned for a mutation that would strip the actor of
	// its own management capability.
	ErrSelfLockout = permission.ErrSelfLockout
	// ErrReservedRole protects the super-authority role.
	ErrReservedRole = permission.ErrReservedRole

	// ErrExpired is returned when extending a session that already expired,
	// or consuming an expired reset or invite token.
	ErrExpired = session.ErrExpired
)

var (
	// ErrTokenInvalid is returned by flows that consume a token that does not exist.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTicketsDisabled is returned by ticket operations when Ticket.Enabled is false.
	ErrTicketsDisabled = errors.New("session tickets disabled")
	// ErrInvalidTicket covers tickets that fail verification or name a dead session.
	ErrInvalidTicket = errors.New("invalid session ticket")
	// ErrEngineNotReady is returned by a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrBuilderUsed is returned by a second Build call.
	ErrBuilderUsed = errors.New("builder already used")
)

// BackendError is the concrete error storage failures are wrapped in.
type BackendError = store.BackendError

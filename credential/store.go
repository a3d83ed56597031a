package credential

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCredentials covers every failed password login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserBlocked is returned after a correct password for a blocked user.
	ErrUserBlocked = errors.New("user is blocked")
	// ErrInvalidInput wraps email and password policy violations.
	ErrInvalidInput = errors.New("invalid input")
)

// AuthMethodPassword is recorded in User.LastAuthMethod on password login.
const AuthMethodPassword = "password"

// Policy bounds passwords and failed logins.
type Policy struct {
	MinPasswordLength int
	MaxPasswordLength int
	// MaxFailedAttempts locks the account once reached. Zero disables lockout.
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	// UpgradeOnLogin re-hashes stale hashes after a successful login.
	UpgradeOnLogin bool
	DefaultRole    string
}

// DefaultPolicy returns the baseline policy.
func DefaultPolicy() Policy {
	return Policy{
		MinPasswordLength: 10,
		MaxPasswordLength: 1024,
		MaxFailedAttempts: 5,
		LockoutDuration:   15 * time.Minute,
		UpgradeOnLogin:    true,
		DefaultRole:       "user",
	}
}

// NewUser is the input to Create. An empty Password creates an account that
// cannot log in until a password is set.
type NewUser struct {
	Email       string
	Password    string
	Role        string
	Permissions []string
	Username    string
	FirstName   string
	LastName    string
	Locale      string
	Avatar      string
}

// Attributes is a partial update; nil fields are left unchanged.
type Attributes struct {
	Email            *string
	Password         *string
	Role             *string
	Permissions      *[]string
	Username         *string
	FirstName        *string
	LastName         *string
	Locale           *string
	Avatar           *string
	TwoFactorEnabled *bool
}

// Store manages users on top of a store.UserStore.
type Store struct {
	users  store.UserStore
	hasher *password.Hasher
	policy Policy
	log    *zap.Logger
	now    func() time.Time
}

// New returns a Store. A nil log discards output.
func New(users store.UserStore, hasher *password.Hasher, policy Policy, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		users:  users,
		hasher: hasher,
		policy: policy,
		log:    log.With(zap.String("component", "credential")),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Call it before the Store is shared.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Policy returns the active policy.
func (s *Store) Policy() Policy { return s.policy }

func validateEmail(email string) (string, error) {
	email = store.NormalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	return email, nil
}

// CheckPassword applies the length policy without hashing.
func (s *Store) CheckPassword(pw string) error {
	if len(pw) < s.policy.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d bytes", ErrInvalidInput, s.policy.MinPasswordLength)
	}
	if s.policy.MaxPasswordLength > 0 && len(pw) > s.policy.MaxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, s.policy.MaxPasswordLength)
	}
	return nil
}

// Create validates and hashes, then persists the user. An email collision
// returns store.ErrDuplicateEmail and leaves the existing record untouched.
func (s *Store) Create(ctx context.Context, in NewUser) (*store.User, error) {
	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, err
	}
	u := &store.User{
		Email:       email,
		Role:        in.Role,
		Permissions: store.DedupeIDs(in.Permissions),
		Username:    in.Username,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Locale:      in.Locale,
		Avatar:      in.Avatar,
	}
	if u.Role == "" {
		u.Role = s.policy.DefaultRole
	}
	if len(u.Permissions) == 0 {
		u.Permissions = nil
	}
	if in.Password != "" {
		if err := s.CheckPassword(in.Password); err != nil {
			return nil, err
		}
		if u.PasswordHash, err = s.hasher.Hash(ctx, in.Password); err != nil {
			return nil, err
		}
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Verify checks a password login and returns the refreshed user.
func (s *Store) Verify(ctx context.Context, email, plain string) (*store.User, error) {
	now := s.now()
	u, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, s.reject(ctx, plain)
	case err != nil:
		return nil, err
	}
	if u.PasswordHash == "" || u.LockedAt(now) {
		return nil, s.reject(ctx, plain)
	}

	ok, err := s.hasher.Verify(ctx, plain, u.PasswordHash)
	if errors.Is(err, password.ErrMalformedHash) || errors.Is(err, password.ErrIncompatibleVersion) {
		s.log.Warn("stored password hash unreadable", zap.String("user_id", u.ID), zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		locked, err := s.users.RecordFailedLogin(ctx, u.ID, s.policy.MaxFailedAttempts, now.Add(s.policy.LockoutDuration))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if locked != nil && locked.LockedAt(now) {
			s.log.Info("account locked after failed logins", zap.String("user_id", u.ID))
		}
		return nil, ErrInvalidCredentials
	}
	if u.Blocked {
		return nil, ErrUserBlocked
	}

	zero := 0
	never := time.Time{}
	method := AuthMethodPassword
	upd := store.UserUpdate{
		FailedAttempts: &zero,
		LockoutUntil:   &never,
		LastActiveAt:   &now,
		LastAuthMethod: &method,
	}
	if s.policy.UpgradeOnLogin && s.hasher.NeedsRehash(u.PasswordHash) {
		if fresh, err := s.hasher.Hash(ctx, plain); err == nil {
			upd.PasswordHash = &fresh
		} else {
			s.log.Warn("password rehash failed", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return s.users.UpdateUser(ctx, u.ID, upd)
}

// reject spends one verification so every failure path costs the same.
func (s *Store) reject(ctx context.Context, plain string) error {
	if err := s.hasher.DummyVerify(ctx, plain); err != nil {
		return err
	}
	return ErrInvalidCredentials
}

// Update applies attrs. A present password is validated and re-hashed.
func (s *Store) Update(ctx context.Context, id string, attrs Attributes) (*store.User, error) {
	upd := store.UserUpdate{
		Role:             attrs.Role,
		Username:         attrs.Username,
		FirstName:        attrs.FirstName,
		LastName:         attrs.LastName,
		Locale:           attrs.Locale,
		Avatar:           attrs.Avatar,
		TwoFactorEnabled: attrs.TwoFactorEnabled,
	}
	if attrs.Email != nil {
		email, err := validateEmail(*attrs.Email)
		if err != nil {
			return nil, err
		}
		upd.Email = &email
	}
	if attrs.Permissions != nil {
		perms := store.DedupeIDs(*attrs.Permissions)
		upd.Permissions = &perms
	}
	if attrs.Password != nil {
		if err := s.CheckPassword(*attrs.Password); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(ctx, *attrs.Password)
		if err != nil {
			return nil, err
		}
		upd.PasswordHash = &hash
	}
	return s.users.UpdateUser(ctx, id, upd)
}

// SetBlocked blocks or unblocks a user. Unblocking also clears a lockout.
func (s *Store) SetBlocked(ctx context.Context, id string, blocked bool) (*store.User, error) {
	upd := store.UserUpdate{Blocked: &blocked}
	if !blocked {
		zero := 0
		never := time.Time{}
		upd.FailedAttempts = &zero
		upd.LockoutUntil = &never
	}
	return s.users.UpdateUser(ctx, id, upd)
}

// SetResetToken records an outstanding password reset on the user.
func (s *Store) SetResetToken(ctx context.Context, id, token string) error {
	now := s.now()
	_, err := s.users.UpdateUser(ctx, id, store.UserUpdate{ResetToken: &token, ResetRequestedAt: &now})
	return err
}

// ResetPassword sets a new password, clears reset fields and lifts any lockout.
func (s *Store) ResetPassword(ctx context.Context, id, plain string) (*store.User, error) {
	if err := s.CheckPassword(plain); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(ctx, plain)
	if err != nil {
		return nil, err
	}
	empty := ""
	never := time.Time{}
	zero := 0
	return s.users.UpdateUser(ctx, id, store.UserUpdate{
		PasswordHash:     &hash,
		ResetToken:       &empty,
		ResetRequestedAt: &never,
		FailedAttempts:   &zero,
		LockoutUntil:     &never,
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.users.DeleteUser(ctx, id)
}

func (s *Store) Get(ctx context.Context, id string) (*store.User, error) {
	return s.users.GetUserByID(ctx, id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.users.GetUserByEmail(ctx, email)
}

func (s *Store) List(ctx context.Context, filter store.UserFilter, opts store.ListOptions) ([]*store.User, error) {
	return s.users.ListUsers(ctx, filter, opts)
}

func (s *Store) Count(ctx context.Context, filter store.UserFilter) (int64, error) {
	return s.users.CountUsers(ctx, filter)
}

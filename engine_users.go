package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// CreateUser validates, hashes and persists a new user. A registered email
// returns ErrDuplicateEmail and leaves the existing record untouched.
//
// CreateUser is a trusted host operation: the caller decides the role. Role
// changes after creation go through AssignRoleToUser.
func (e *Engine) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	u, err := e.credentials.Create(ctx, in)
	rec := auditRecord{}
	if u != nil {
		rec.userID = u.ID
	}
	e.emitAudit(ctx, AuditUserCreated, rec, err, func() map[string]string {
		return map[string]string{"role": in.Role}
	})
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricUserCreated)
	return u.Sanitized(), nil
}

// VerifyLogin checks an email and password. Unknown email, wrong password
// and an active lockout all return ErrInvalidCredentials; a blocked user
// with the right password gets ErrUserBlocked.
func (e *Engine) VerifyLogin(ctx context.Context, email, password string) (*User, error) {
	u, err := e.credentials.Verify(ctx, email, password)
	switch {
	case err == nil:
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, AuditLoginSuccess, auditRecord{userID: u.ID}, nil, nil)
		return u.Sanitized(), nil
	case errors.Is(err, ErrUserBlocked):
		e.metricInc(MetricLoginBlocked)
	case errors.Is(err, ErrInvalidCredentials):
		e.metricInc(MetricLoginFailure)
	}
	e.emitAudit(ctx, AuditLoginFailure, auditRecord{}, err, nil)
	return nil, err
}

// Login verifies credentials and opens a session of ttl (the configured
// default when ttl <= 0). With tickets enabled the result carries a signed
// ticket for the session.
func (e *Engine) Login(ctx context.Context, email, password string, ttl time.Duration) (*LoginResult, error) {
	u, err := e.VerifyLogin(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s, err := e.openSession(ctx, u.ID, ttl)
	if err != nil {
		return nil, err
	}
	res := &LoginResult{User: u, Session: s}
	if e.tickets != nil && e.tickets.CanIssue() {
		if res.Ticket, err = e.tickets.Issue(s.ID, u.ID, s.Expires); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpdateUserAttributes applies a partial update. A present password is
// validated and re-hashed. Role and direct permissions are not accepted here;
// they change through the registry, which authorizes the actor.
func (e *Engine) UpdateUserAttributes(ctx context.Context, id string, attrs UserAttributes) (*User, error) {
	if attrs.Role != nil || attrs.Permissions != nil {
		return nil, fmt.Errorf("%w: role and permissions change through the registry", ErrInvalidInput)
	}
	u, err := e.credentials.Update(ctx, id, attrs)
	e.emitAudit(ctx, AuditUserUpdated, auditRecord{userID: id}, err, func() map[string]string {
		if attrs.Password != nil {
			return map[string]string{"password_changed": "true"}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u.Sanitized(), nil
}

// BlockUser blocks a user and ends every session and outstanding token it
// holds.
func (e *Engine) BlockUser(ctx context.Context, id string) (*User, error) {
	u, err := e.credentials.SetBlocked(ctx, id, true)
	if err == nil {
		err = e.revokeAccess(ctx, id)
	}
	e.emitAudit(ctx, AuditUserBlocked, auditRecord{userID: id}, err, nil)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricUserBlocked)
	return u.Sanitized(), nil
}

// UnblockUser lifts a block and any active lockout.
func (e *Engine) UnblockUser(ctx context.Context, id string) (*User, error) {
	u, err := e.credentials.SetBlocked(ctx, id, false)
	e.emitAudit(ctx, AuditUserUnblocked, auditRecord{userID: id}, err, nil)
	if err != nil {
		return nil, err
	}
	return u.Sanitized(), nil
}

// DeleteUser removes the user, then its sessions and tokens.
func (e *Engine) DeleteUser(ctx context.Context, id string) error {
	err := e.credentials.Delete(ctx, id)
	if err == nil {
		err = e.revokeAccess(ctx, id)
	}
	e.emitAudit(ctx, AuditUserDeleted, auditRecord{userID: id}, err, nil)
	if err != nil {
		return err
	}
	e.metricInc(MetricUserDeleted)
	return nil
}

// revokeAccess drops every session and token of userID.
func (e *Engine) revokeAccess(ctx context.Context, userID string) error {
	sessions, err := e.sessions.InvalidateUser(ctx, userID)
	if err != nil {
		return err
	}
	tokens, err := e.tokens.DeleteForUser(ctx, userID)
	if err != nil {
		return err
	}
	e.log.Debug("user access revoked",
		zap.String("user_id", userID),
		zap.Int64("sessions", sessions),
		zap.Int64("tokens", tokens),
	)
	return nil
}

// GetUserByID returns the user, or nil without error when it does not exist.
func (e *Engine) GetUserByID(ctx context.Context, id string) (*User, error) {
	return sanitizedOrNil(e.credentials.Get(ctx, id))
}

// GetUserByEmail returns the user, or nil without error when it does not exist.
func (e *Engine) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return sanitizedOrNil(e.credentials.GetByEmail(ctx, email))
}

// GetAllUsers lists users matching filter, ordered and paged by opts.
func (e *Engine) GetAllUsers(ctx context.Context, filter UserFilter, opts ListOptions) ([]*User, error) {
	users, err := e.credentials.List(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*User, len(users))
	for i, u := range users {
		out[i] = u.Sanitized()
	}
	return out, nil
}

// GetUserCount counts users matching filter.
func (e *Engine) GetUserCount(ctx context.Context, filter UserFilter) (int64, error) {
	return e.credentials.Count(ctx, filter)
}

func sanitizedOrNil(u *store.User, err error) (*User, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u.Sanitized(), nil
}

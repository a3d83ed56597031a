package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/permission"
	"go.uber.org/zap"
)

/*
====================================
PASSWORD RESET
====================================
*/

// RequestPasswordReset issues a password_reset token for email and records
// the request on the user. An unknown or blocked email returns an empty token
// and no error, so callers cannot learn which addresses are registered.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	u, err := e.credentials.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		e.emitAudit(ctx, AuditPasswordResetRequest, auditRecord{}, ErrNotFound, nil)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if u.Blocked {
		e.emitAudit(ctx, AuditPasswordResetRequest, auditRecord{userID: u.ID}, ErrUserBlocked, nil)
		return "", nil
	}

	value, err := e.tokens.Issue(ctx, TokenRequest{
		UserID: u.ID,
		Email:  u.Email,
		Type:   TokenTypePasswordReset,
		TTL:    e.config.Token.PasswordResetTTL,
	})
	if err == nil {
		err = e.credentials.SetResetToken(ctx, u.ID, value)
	}
	e.emitAudit(ctx, AuditPasswordResetRequest, auditRecord{userID: u.ID}, err, nil)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricPasswordResetRequest)
	return value, nil
}

// ResetPassword consumes a password_reset token and sets newPassword. The
// password is checked against policy before the token is touched, so a
// rejected password leaves the token usable. All of the user's sessions are
// ended on success.
func (e *Engine) ResetPassword(ctx context.Context, email, resetToken, newPassword string) error {
	if err := e.credentials.CheckPassword(newPassword); err != nil {
		return err
	}
	u, err := e.credentials.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return ErrTokenInvalid
	}
	if err != nil {
		return err
	}

	err = e.consumeFlowToken(ctx, resetToken, u.ID, TokenTypePasswordReset)
	if err == nil {
		_, err = e.credentials.ResetPassword(ctx, u.ID, newPassword)
	}
	if err == nil {
		_, err = e.sessions.InvalidateUser(ctx, u.ID)
	}
	e.emitAudit(ctx, AuditPasswordResetComplete, auditRecord{userID: u.ID}, err, nil)
	if err != nil {
		return err
	}
	e.metricInc(MetricPasswordResetComplete)
	return nil
}

// consumeFlowToken maps a consume result onto the flow errors: a missing
// token is ErrTokenInvalid and an expired one is ErrExpired.
func (e *Engine) consumeFlowToken(ctx context.Context, value, userID, tokenType string) error {
	res, err := e.tokens.Consume(ctx, value, userID, tokenType)
	if err != nil {
		return err
	}
	e.recordConsume(res)
	switch res.Status {
	case TokenValid:
		return nil
	case TokenExpired:
		return ErrExpired
	default:
		return ErrTokenInvalid
	}
}

/*
====================================
INVITES
====================================
*/

// Profile carries the optional display fields set when an invite is accepted.
type Profile struct {
	Username  string
	FirstName string
	LastName  string
	Locale    string
	Avatar    string
}

// InviteUser creates a pending account for email with the given role (the
// default role when empty) and returns an invite token for it. The pending
// account has no password and cannot log in until AcceptInvite.
//
// The actor needs manage_roles. Only super-role members may invite into the
// super role.
func (e *Engine) InviteUser(ctx context.Context, actor *User, email, role string) (string, error) {
	if role == "" {
		role = e.config.Permission.DefaultRole
	}
	rec := auditRecord{target: email}
	if actor != nil {
		rec.actorID = actor.ID
	}
	meta := func() map[string]string { return map[string]string{"role": role} }

	if err := e.authorizeInvite(ctx, actor, role); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			e.metricInc(MetricRegistryUnauthorized)
		}
		e.emitAudit(ctx, AuditInviteIssued, rec, err, meta)
		return "", err
	}

	u, err := e.credentials.Create(ctx, NewUser{Email: email, Role: role})
	if err != nil {
		e.emitAudit(ctx, AuditInviteIssued, rec, err, meta)
		return "", err
	}
	rec.userID = u.ID

	value, err := e.tokens.Issue(ctx, TokenRequest{
		UserID: u.ID,
		Email:  u.Email,
		Type:   TokenTypeInvite,
		TTL:    e.config.Token.InviteTTL,
	})
	if err != nil {
		if derr := e.credentials.Delete(ctx, u.ID); derr != nil {
			e.log.Error("pending invite user left behind", zap.String("user_id", u.ID), zap.Error(derr))
		}
		e.emitAudit(ctx, AuditInviteIssued, rec, err, meta)
		return "", err
	}
	e.emitAudit(ctx, AuditInviteIssued, rec, nil, meta)
	e.metricInc(MetricInviteIssued)
	return value, nil
}

func (e *Engine) authorizeInvite(ctx context.Context, actor *User, role string) error {
	if actor == nil || actor.ID == "" {
		return ErrUnauthorized
	}
	fresh, err := e.credentials.Get(ctx, actor.ID)
	if errors.Is(err, ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if fresh.Blocked {
		return ErrUnauthorized
	}
	d, err := e.resolver.Check(ctx, fresh, permission.ManageQuery(ManageRoles))
	if err != nil {
		return err
	}
	if !d.Permitted() {
		return ErrUnauthorized
	}
	if role == e.resolver.SuperRole() && !e.resolver.IsExempt(fresh) {
		return fmt.Errorf("%w: only %s members may invite into %s", ErrUnauthorized, role, role)
	}
	if _, err := e.registry.GetRoleByName(ctx, role); err != nil {
		return fmt.Errorf("role %q: %w", role, err)
	}
	return nil
}

// AcceptInvite consumes the invite token for email, sets the account's
// password and applies profile. A missing token returns ErrTokenInvalid and an
// expired one ErrExpired; the password is checked before the token is used.
func (e *Engine) AcceptInvite(ctx context.Context, email, inviteToken, newPassword string, profile Profile) (*User, error) {
	if err := e.credentials.CheckPassword(newPassword); err != nil {
		return nil, err
	}
	u, err := e.credentials.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}

	id := u.ID
	err = e.consumeFlowToken(ctx, inviteToken, id, TokenTypeInvite)
	if err == nil {
		_, err = e.credentials.ResetPassword(ctx, id, newPassword)
	}
	if err == nil {
		u, err = e.credentials.Update(ctx, id, profile.attributes())
	}
	e.emitAudit(ctx, AuditInviteAccepted, auditRecord{userID: id}, err, nil)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricInviteAccepted)
	return u.Sanitized(), nil
}

func (p Profile) attributes() UserAttributes {
	var attrs UserAttributes
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&attrs.Username, p.Username)
	set(&attrs.FirstName, p.FirstName)
	set(&attrs.LastName, p.LastName)
	set(&attrs.Locale, p.Locale)
	set(&attrs.Avatar, p.Avatar)
	return attrs
}

/*
====================================
EMAIL VERIFICATION
====================================
*/

// RequestEmailVerification issues an email_verification token for userID
// with the configured TTL.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) (string, error) {
	u, err := e.credentials.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return e.CreateToken(ctx, TokenRequest{
		UserID: u.ID,
		Email:  u.Email,
		Type:   TokenTypeEmailVerification,
		TTL:    e.config.Token.EmailVerificationTTL,
	})
}

// ConfirmEmailVerification consumes an email_verification token. It returns
// ErrTokenInvalid or ErrExpired when the token cannot be used.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, userID, value string) error {
	err := e.consumeFlowToken(ctx, value, userID, TokenTypeEmailVerification)
	e.emitAudit(ctx, AuditTokenConsumed, auditRecord{userID: userID}, err, func() map[string]string {
		return map[string]string{"type": TokenTypeEmailVerification}
	})
	return err
}

/*
====================================
MAINTENANCE
====================================
*/

// BootstrapOptions controls Bootstrap. An empty AdminEmail skips the admin
// account.
type BootstrapOptions struct {
	AdminEmail    string
	AdminPassword string
}

// Bootstrap seeds the management permissions, the super and default roles
// and optionally an admin account in the super role. Existing records are
// left alone, so Bootstrap is safe to run on every start. It returns the
// admin user when one was requested.
func (e *Engine) Bootstrap(ctx context.Context, opts BootstrapOptions) (*User, error) {
	err := e.registry.Bootstrap(ctx)
	var admin *User
	if err == nil && opts.AdminEmail != "" {
		admin, err = e.ensureAdmin(ctx, opts)
	}
	e.emitAudit(ctx, AuditBootstrap, auditRecord{}, err, func() map[string]string {
		return map[string]string{"admin": opts.AdminEmail}
	})
	if err != nil {
		return nil, err
	}
	return admin, nil
}

func (e *Engine) ensureAdmin(ctx context.Context, opts BootstrapOptions) (*User, error) {
	u, err := e.credentials.GetByEmail(ctx, opts.AdminEmail)
	if err == nil {
		return u.Sanitized(), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if opts.AdminPassword == "" {
		return nil, fmt.Errorf("%w: admin password required", ErrInvalidInput)
	}
	u, err = e.credentials.Create(ctx, NewUser{
		Email:    opts.AdminEmail,
		Password: opts.AdminPassword,
		Role:     e.config.Permission.SuperRole,
	})
	if errors.Is(err, ErrDuplicateEmail) {
		// Lost a race with a concurrent bootstrap.
		u, err = e.credentials.GetByEmail(ctx, opts.AdminEmail)
	}
	if err != nil {
		return nil, err
	}
	e.log.Info("admin user bootstrapped", zap.String("user_id", u.ID))
	return u.Sanitized(), nil
}

// Purge deletes every expired session and token. It is meant to be run
// periodically by the host or the authcore CLI.
func (e *Engine) Purge(ctx context.Context) (PurgeResult, error) {
	var res PurgeResult
	var err error
	res.Sessions, err = e.DeleteExpiredSessions(ctx)
	if err == nil {
		res.Tokens, err = e.DeleteExpiredTokens(ctx)
	}
	e.emitAudit(ctx, AuditPurge, auditRecord{}, err, func() map[string]string {
		return map[string]string{
			"sessions": fmt.Sprint(res.Sessions),
			"tokens":   fmt.Sprint(res.Tokens),
		}
	})
	if err != nil {
		return res, err
	}
	e.log.Info("expired records purged", zap.Int64("sessions", res.Sessions), zap.Int64("tokens", res.Tokens))
	return res, nil
}

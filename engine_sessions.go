package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// CreateSession opens a session for an existing user. ttl <= 0 uses
// Session.DefaultTTL. An unknown user returns ErrNotFound.
func (e *Engine) CreateSession(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	if _, err := e.credentials.Get(ctx, userID); err != nil {
		return nil, err
	}
	return e.openSession(ctx, userID, ttl)
}

func (e *Engine) openSession(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = e.config.Session.DefaultTTL
	}
	s, err := e.sessions.Create(ctx, userID, ttl)
	e.emitAudit(ctx, AuditSessionCreated, auditRecord{userID: userID}, err, nil)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionCreated)
	return s, nil
}

// ValidateSession resolves a session ID to its user. It returns nil without
// error when the session is absent, expired (and now deleted), orphaned, or
// owned by a blocked user. Only storage failures are errors.
func (e *Engine) ValidateSession(ctx context.Context, id string) (*User, error) {
	start := time.Now()
	defer e.observe(MetricValidateLatency, start)

	u, state, err := e.sessions.Validate(ctx, id)
	if err != nil {
		return nil, err
	}
	switch state {
	case session.Valid:
	case session.Expired:
		e.metricInc(MetricSessionExpired)
		return nil, nil
	default:
		e.metricInc(MetricSessionInvalid)
		return nil, nil
	}
	if u.Blocked {
		e.metricInc(MetricSessionInvalid)
		return nil, nil
	}
	e.metricInc(MetricSessionValidated)
	return u.Sanitized(), nil
}

// DestroySession deletes one session. Destroying an absent session is not
// an error.
func (e *Engine) DestroySession(ctx context.Context, id string) error {
	err := e.sessions.Destroy(ctx, id)
	e.emitAudit(ctx, AuditSessionDestroyed, auditRecord{}, err, nil)
	if err != nil {
		return err
	}
	e.metricInc(MetricSessionDestroyed)
	return nil
}

// InvalidateAllUserSessions deletes every session of userID and reports how
// many there were.
func (e *Engine) InvalidateAllUserSessions(ctx context.Context, userID string) (int64, error) {
	n, err := e.sessions.InvalidateUser(ctx, userID)
	e.emitAudit(ctx, AuditSessionsInvalidated, auditRecord{userID: userID}, err, nil)
	if err != nil {
		return 0, err
	}
	e.metricAdd(MetricSessionDestroyed, n)
	return n, nil
}

// UpdateSessionExpiry moves the expiry of a live session, extending or
// shortening it. An expired session returns ErrExpired and is deleted; an
// absent one returns ErrNotFound.
func (e *Engine) UpdateSessionExpiry(ctx context.Context, id string, expires time.Time) (*Session, error) {
	return e.sessions.UpdateExpiry(ctx, id, expires)
}

// GetActiveSessions lists the live sessions of userID.
func (e *Engine) GetActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	return e.sessions.Active(ctx, userID)
}

// DeleteExpiredSessions removes every expired session.
func (e *Engine) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	n, err := e.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	e.metricAdd(MetricSessionsPurged, n)
	return n, nil
}

/*
====================================
SESSION TICKETS
====================================
*/

// IssueSessionTicket signs a ticket for a live session. A missing or
// expired session returns ErrNotFound.
func (e *Engine) IssueSessionTicket(ctx context.Context, sessionID string) (string, error) {
	if e.tickets == nil {
		return "", ErrTicketsDisabled
	}
	u, state, err := e.sessions.Validate(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if state != session.Valid {
		return "", ErrNotFound
	}
	s, err := e.adapter.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return e.tickets.Issue(s.ID, u.ID, s.Expires)
}

// ValidateSessionTicket verifies a ticket's signature and then validates the
// session it names. A ticket that fails verification returns
// ErrInvalidTicket; a well-formed ticket for a dead session returns nil
// without error, like ValidateSession.
func (e *Engine) ValidateSessionTicket(ctx context.Context, ticket string) (*User, error) {
	if e.tickets == nil {
		return nil, ErrTicketsDisabled
	}
	claims, err := e.tickets.Parse(ticket)
	if err != nil {
		return nil, ErrInvalidTicket
	}
	u, err := e.ValidateSession(ctx, claims.SID)
	if err != nil || u == nil {
		return nil, err
	}
	if u.ID != claims.UID {
		e.log.Warn("session ticket names a different user", zap.String("user_id", u.ID))
		return nil, nil
	}
	return u, nil
}

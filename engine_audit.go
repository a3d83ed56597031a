package authcore

import (
	"context"
	"errors"
)

// AuditErrorCode is the coarse error class recorded on failed audit events.
// Raw error strings never reach sinks.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUserBlocked        AuditErrorCode = "user_blocked"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrSelfLockout        AuditErrorCode = "self_lockout"
	auditErrReservedRole       AuditErrorCode = "reserved_role"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrExpired            AuditErrorCode = "expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// auditRecord names the principals of one event.
type auditRecord struct {
	actorID string
	userID  string
	target  string
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, rec auditRecord, err error, metadataBuilder func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		Type:      eventType,
		ActorID:   rec.actorID,
		UserID:    rec.userID,
		Target:    rec.target,
		Success:   err == nil,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUserBlocked):
		return auditErrUserBlocked
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidArgument):
		return auditErrInvalidInput
	case errors.Is(err, ErrSelfLockout):
		return auditErrSelfLockout
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrReservedRole):
		return auditErrReservedRole
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrDuplicateEmail),
		errors.Is(err, ErrDuplicate):
		return auditErrDuplicate
	case errors.Is(err, ErrExpired):
		return auditErrExpired
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrInvalidTicket):
		return auditErrInvalidToken
	case errors.Is(err, ErrBackend),
		errors.Is(err, ErrConnect):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

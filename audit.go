package authcore

import (
	"io"

	"github.com/MrEthical07/authcore/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant occurrence emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// AuditFallibleSink is an AuditSink that reports delivery errors. Failed
// deliveries are logged and counted by Engine.AuditFailed.
type AuditFallibleSink = audit.FallibleSink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events on a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// ZapSink logs events through zap.
type ZapSink = audit.ZapSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewZapSink returns a sink logging to log.
func NewZapSink(log *zap.Logger) *ZapSink { return audit.NewZapSink(log) }

// Audit event types.
const (
	AuditUserCreated           = "user_created"
	AuditUserUpdated           = "user_updated"
	AuditUserDeleted           = "user_deleted"
	AuditUserBlocked           = "user_blocked"
	AuditUserUnblocked         = "user_unblocked"
	AuditLoginSuccess          = "login_success"
	AuditLoginFailure          = "login_failure"
	AuditSessionCreated        = "session_created"
	AuditSessionDestroyed      = "session_destroyed"
	AuditSessionsInvalidated   = "sessions_invalidated"
	AuditTokenIssued           = "token_issued"
	AuditTokenConsumed         = "token_consumed"
	AuditPasswordResetRequest  = "password_reset_request"
	AuditPasswordResetComplete = "password_reset_complete"
	AuditInviteIssued          = "invite_issued"
	AuditInviteAccepted        = "invite_accepted"
	AuditRegistryMutation      = "registry_mutation"
	AuditPermissionDenied      = "permission_denied"
	AuditSelfLockoutBlocked    = "self_lockout_blocked"
	AuditBootstrap             = "bootstrap"
	AuditPurge                 = "purge"
)

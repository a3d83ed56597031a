package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed password logins, lockouts included."},
	{ID: authcore.MetricLoginBlocked, Name: "authcore_login_blocked_total", Help: "Correct-password logins refused for blocked users."},
	{ID: authcore.MetricUserCreated, Name: "authcore_user_created_total", Help: "Created users."},
	{ID: authcore.MetricUserDeleted, Name: "authcore_user_deleted_total", Help: "Deleted users."},
	{ID: authcore.MetricUserBlocked, Name: "authcore_user_blocked_total", Help: "Block operations."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionValidated, Name: "authcore_session_validated_total", Help: "Session validations that resolved a user."},
	{ID: authcore.MetricSessionInvalid, Name: "authcore_session_invalid_total", Help: "Session validations for absent, orphaned or blocked sessions."},
	{ID: authcore.MetricSessionExpired, Name: "authcore_session_expired_total", Help: "Session validations that found and removed an expired session."},
	{ID: authcore.MetricSessionDestroyed, Name: "authcore_session_destroyed_total", Help: "Sessions destroyed or invalidated."},
	{ID: authcore.MetricSessionsPurged, Name: "authcore_sessions_purged_total", Help: "Expired sessions removed by purge."},
	{ID: authcore.MetricTokenIssued, Name: "authcore_token_issued_total", Help: "Issued single-use tokens."},
	{ID: authcore.MetricTokenConsumed, Name: "authcore_token_consumed_total", Help: "Tokens consumed while valid."},
	{ID: authcore.MetricTokenMiss, Name: "authcore_token_miss_total", Help: "Consume attempts for tokens that did not exist."},
	{ID: authcore.MetricTokenExpired, Name: "authcore_token_expired_total", Help: "Tokens consumed after expiry."},
	{ID: authcore.MetricTokensPurged, Name: "authcore_tokens_purged_total", Help: "Expired tokens removed by purge."},
	{ID: authcore.MetricPermissionAllowed, Name: "authcore_permission_allowed_total", Help: "Permission checks that allowed."},
	{ID: authcore.MetricPermissionDenied, Name: "authcore_permission_denied_total", Help: "Permission checks that denied."},
	{ID: authcore.MetricSelfLockoutBlocked, Name: "authcore_self_lockout_blocked_total", Help: "Denials flagged as self-lockout."},
	{ID: authcore.MetricRegistryMutation, Name: "authcore_registry_mutation_total", Help: "Successful role and permission mutations."},
	{ID: authcore.MetricRegistryUnauthorized, Name: "authcore_registry_unauthorized_total", Help: "Mutations refused for a missing management capability."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset tokens issued."},
	{ID: authcore.MetricPasswordResetComplete, Name: "authcore_password_reset_complete_total", Help: "Completed password resets."},
	{ID: authcore.MetricInviteIssued, Name: "authcore_invite_issued_total", Help: "Issued invites."},
	{ID: authcore.MetricInviteAccepted, Name: "authcore_invite_accepted_total", Help: "Accepted invites."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_session_latency_seconds", Help: "ValidateSession latency."},
	{ID: authcore.MetricCheckLatency, Name: "authcore_check_permission_latency_seconds", Help: "CheckPermission latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// BucketCount is the number of engine histogram buckets, the last unbounded.
const BucketCount = 8

// HistogramBounds are the finite upper bounds in seconds, one per bucket
// except the last.
var HistogramBounds = [BucketCount - 1]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names every bucket for exporters without native
// histograms.
var HistogramBoundSuffix = [BucketCount]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}

package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func auditConfig() Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	return cfg
}

// nextEvent waits for the next event of eventType, skipping others.
func nextEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event received", eventType)
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false

	sink := &countingSink{}
	te := buildTestEngine(t, cfg, sink)
	ctx := context.Background()

	_, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	_, _ = te.VerifyLogin(ctx, "a@x.com", "wrong-password-123")
	require.NoError(t, te.Close())

	if n := sink.count.Load(); n != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", n)
	}
}

func TestAuditLoginFailureCarriesCodeNotSecret(t *testing.T) {
	sink := NewChannelSink(64)
	te := buildTestEngine(t, auditConfig(), sink)
	ctx := context.Background()

	_, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	_, _ = te.VerifyLogin(ctx, "a@x.com", "super-secret-password")

	ev := nextEvent(t, sink, AuditLoginFailure)
	require.False(t, ev.Success)
	require.Equal(t, string(auditErrInvalidCredentials), ev.Error)
	for _, v := range ev.Metadata {
		if strings.Contains(v, "super-secret-password") {
			t.Fatal("password leaked into audit metadata")
		}
	}
}

func TestAuditRegistryEvents(t *testing.T) {
	sink := NewChannelSink(64)
	te := buildTestEngine(t, auditConfig(), sink)
	admin := te.bootstrapAdmin(t)
	ctx := context.Background()

	role, err := te.CreateRole(ctx, admin, &Role{Name: "ops", Permissions: []string{ManageRoles}})
	require.NoError(t, err)

	ev := nextEvent(t, sink, AuditRegistryMutation)
	require.True(t, ev.Success)
	require.Equal(t, admin.ID, ev.ActorID)
	require.Equal(t, "create_role", ev.Metadata["op"])

	ops, err := te.CreateUser(ctx, NewUser{Email: "ops@x.com", Password: testPassword, Role: "ops"})
	require.NoError(t, err)
	_, err = te.RemovePermissionFromRole(ctx, ops, role.ID, ManageRoles)
	require.ErrorIs(t, err, ErrSelfLockout)

	ev = nextEvent(t, sink, AuditSelfLockoutBlocked)
	require.False(t, ev.Success)
	require.Equal(t, ops.ID, ev.ActorID)
	require.Equal(t, string(auditErrSelfLockout), ev.Error)
}

func TestAuditCloseDrainsQueuedEvents(t *testing.T) {
	sink := &countingSink{}
	te := buildTestEngine(t, auditConfig(), sink)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := te.CreateToken(ctx, TokenRequest{UserID: "u1", Type: TokenTypeInvite, TTL: time.Hour})
		require.NoError(t, err)
	}
	require.NoError(t, te.Close())
	require.EqualValues(t, 5, sink.count.Load())
	require.Zero(t, te.AuditDropped())
}

func TestAuditErrorCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{fmt.Errorf("%w: too short", ErrInvalidInput), auditErrInvalidInput},
		{ErrSelfLockout, auditErrSelfLockout},
		{fmt.Errorf("%w: manage_roles required", ErrUnauthorized), auditErrUnauthorized},
		{ErrDuplicateEmail, auditErrDuplicate},
		{ErrExpired, auditErrExpired},
		{ErrTokenInvalid, auditErrInvalidToken},
		{&BackendError{Op: "get user", Err: errors.New("dial tcp")}, auditErrUnavailable},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tc := range tests {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type testEngine struct {
	*Engine
	mr    *miniredis.Miniredis
	clock *testClock
}

func newTestEngine(t *testing.T, configure ...func(*Config)) *testEngine {
	t.Helper()

	cfg := testConfig()
	for _, fn := range configure {
		fn(&cfg)
	}
	return buildTestEngine(t, cfg, nil)
}

func buildTestEngine(t *testing.T, cfg Config, sink AuditSink) *testEngine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newTestClock()
	b := New().
		WithConfig(cfg).
		WithAdapter(redisstore.New(rdb, redisstore.Options{Prefix: "test"})).
		WithLogger(zaptest.NewLogger(t)).
		WithClock(clock.Now)
	if sink != nil {
		b = b.WithAuditSink(sink)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return &testEngine{Engine: engine, mr: mr, clock: clock}
}

// bootstrapAdmin seeds the registry and returns an admin account.
func (te *testEngine) bootstrapAdmin(t *testing.T) *User {
	t.Helper()
	admin, err := te.Bootstrap(context.Background(), BootstrapOptions{
		AdminEmail:    "root@example.com",
		AdminPassword: testPassword,
	})
	require.NoError(t, err)
	require.NotNil(t, admin)
	return admin
}

func TestBuilderRejectsSecondBuild(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := New().WithConfig(testConfig()).WithAdapter(redisstore.New(rdb, redisstore.Options{}))
	e, err := b.Build()
	require.NoError(t, err)
	defer e.Close()

	_, err = b.Build()
	require.ErrorIs(t, err, ErrBuilderUsed)
}

func TestBuilderRequiresAdapter(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without adapter")
	}
}

func TestLoginScenario(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	created, err := te.CreateUser(ctx, NewUser{Email: "A@X.com", Password: testPassword, Role: "user"})
	require.NoError(t, err)
	require.Equal(t, "a@x.com", created.Email)
	require.Empty(t, created.PasswordHash)

	ttl := 2 * time.Hour
	res, err := te.Login(ctx, "a@x.com", testPassword, ttl)
	require.NoError(t, err)
	require.Empty(t, res.Ticket)
	require.WithinDuration(t, te.clock.Now().Add(ttl), res.Session.Expires, time.Second)

	u, err := te.ValidateSession(ctx, res.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, created.ID, u.ID)
	require.Empty(t, u.PasswordHash)
	require.Equal(t, "password", u.LastAuthMethod)

	snap := te.MetricsSnapshot()
	require.Equal(t, uint64(1), snap.Counters[MetricLoginSuccess])
	require.Equal(t, uint64(1), snap.Counters[MetricSessionValidated])
}

func TestLoginFailuresShareOneError(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)

	_, unknownErr := te.VerifyLogin(ctx, "nobody@x.com", testPassword)
	_, wrongErr := te.VerifyLogin(ctx, "a@x.com", "wrong-password-123")
	require.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, ErrInvalidCredentials)
	require.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLockoutAfterFailedAttempts(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Lockout.MaxFailedAttempts = 2
		c.Lockout.Duration = time.Minute
	})
	ctx := context.Background()

	_, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = te.VerifyLogin(ctx, "a@x.com", "wrong-password-123")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = te.VerifyLogin(ctx, "a@x.com", testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials, "locked account must reject the right password")

	te.clock.Advance(2 * time.Minute)
	_, err = te.VerifyLogin(ctx, "a@x.com", testPassword)
	require.NoError(t, err)
}

func TestDuplicateEmailLeavesExistingRecord(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	first, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword, FirstName: "Ada"})
	require.NoError(t, err)

	_, err = te.CreateUser(ctx, NewUser{Email: "A@x.com", Password: "another-password-1", FirstName: "Eve"})
	require.ErrorIs(t, err, ErrDuplicateEmail)

	got, err := te.GetUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)
	require.Equal(t, "Ada", got.FirstName)

	_, err = te.VerifyLogin(ctx, "a@x.com", testPassword)
	require.NoError(t, err)

	n, err := te.GetUserCount(ctx, UserFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestGetUserMissIsNil(t *testing.T) {
	te := newTestEngine(t)

	u, err := te.GetUserByID(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, u)
}

func TestUpdateUserAttributesRejectsRoleChange(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	u, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)

	role := "admin"
	_, err = te.UpdateUserAttributes(ctx, u.ID, UserAttributes{Role: &role})
	require.ErrorIs(t, err, ErrInvalidInput)

	name := "ada"
	updated, err := te.UpdateUserAttributes(ctx, u.ID, UserAttributes{Username: &name})
	require.NoError(t, err)
	require.Equal(t, "ada", updated.Username)
	require.Equal(t, "user", updated.Role)
}

func TestSessionExpiryRemovesRecord(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	u, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	s, err := te.CreateSession(ctx, u.ID, time.Minute)
	require.NoError(t, err)

	te.clock.Advance(time.Minute + time.Second)

	got, err := te.ValidateSession(ctx, s.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	active, err := te.GetActiveSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, active)

	_, err = te.Adapter().GetSession(ctx, s.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricSessionExpired])
}

func TestCreateSessionUnknownUser(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.CreateSession(context.Background(), "missing", time.Minute)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSessionExpiry(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	u, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	s, err := te.CreateSession(ctx, u.ID, time.Minute)
	require.NoError(t, err)

	extended, err := te.UpdateSessionExpiry(ctx, s.ID, te.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, extended.Expires.After(s.Expires))

	te.clock.Advance(2 * time.Hour)
	_, err = te.UpdateSessionExpiry(ctx, s.ID, te.clock.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrExpired)

	_, err = te.UpdateSessionExpiry(ctx, s.ID, te.clock.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBlockUserEndsSessionsAndTokens(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	u, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	s, err := te.CreateSession(ctx, u.ID, time.Hour)
	require.NoError(t, err)
	tok, err := te.CreateToken(ctx, TokenRequest{UserID: u.ID, Type: TokenTypeEmailVerification, TTL: time.Hour})
	require.NoError(t, err)

	_, err = te.BlockUser(ctx, u.ID)
	require.NoError(t, err)

	got, err := te.ValidateSession(ctx, s.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	res, err := te.ValidateToken(ctx, tok, u.ID, TokenTypeEmailVerification)
	require.NoError(t, err)
	require.Equal(t, TokenNotFound, res.Status)

	_, err = te.VerifyLogin(ctx, "a@x.com", testPassword)
	require.ErrorIs(t, err, ErrUserBlocked)

	_, err = te.UnblockUser(ctx, u.ID)
	require.NoError(t, err)
	_, err = te.VerifyLogin(ctx, "a@x.com", testPassword)
	require.NoError(t, err)
}

func TestDeleteUserOrphansNothing(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	u, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	s, err := te.CreateSession(ctx, u.ID, time.Hour)
	require.NoError(t, err)

	require.NoError(t, te.DeleteUser(ctx, u.ID))

	_, err = te.Adapter().GetSession(ctx, s.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, te.DeleteUser(ctx, u.ID), ErrNotFound)
}

func TestZeroTTLTokenIsExpiredButConsumable(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	tok, err := te.CreateToken(ctx, TokenRequest{UserID: "u1", Type: TokenTypePasswordReset, TTL: 0})
	require.NoError(t, err)

	res, err := te.ValidateToken(ctx, tok, "u1", TokenTypePasswordReset)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, TokenExpired, res.Status)

	res, err = te.ConsumeToken(ctx, tok, "u1", TokenTypePasswordReset)
	require.NoError(t, err)
	require.Equal(t, TokenExpired, res.Status)

	res, err = te.ConsumeToken(ctx, tok, "u1", TokenTypePasswordReset)
	require.NoError(t, err)
	require.Equal(t, TokenNotFound, res.Status)
}

func TestConcurrentConsumeExactlyOnce(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	tok, err := te.CreateToken(ctx, TokenRequest{UserID: "u1", Type: TokenTypeInvite, TTL: time.Hour})
	require.NoError(t, err)

	const workers = 16
	var valid, missing atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := te.ConsumeToken(ctx, tok, "u1", TokenTypeInvite)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			switch res.Status {
			case TokenValid:
				valid.Add(1)
			case TokenNotFound:
				missing.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if valid.Load() != 1 || missing.Load() != workers-1 {
		t.Fatalf("expected 1 valid and %d missing, got %d and %d", workers-1, valid.Load(), missing.Load())
	}
}

func TestTokenMismatchedUserOrType(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	tok, err := te.CreateToken(ctx, TokenRequest{UserID: "u1", Type: TokenTypeInvite, TTL: time.Hour})
	require.NoError(t, err)

	res, err := te.ConsumeToken(ctx, tok, "u2", TokenTypeInvite)
	require.NoError(t, err)
	require.Equal(t, TokenNotFound, res.Status)

	res, err = te.ConsumeToken(ctx, tok, "u1", TokenTypePasswordReset)
	require.NoError(t, err)
	require.Equal(t, TokenNotFound, res.Status)

	res, err = te.ValidateToken(ctx, tok, "u1", TokenTypeInvite)
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestPurge(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	u, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	_, err = te.CreateSession(ctx, u.ID, time.Minute)
	require.NoError(t, err)
	live, err := te.CreateSession(ctx, u.ID, time.Hour)
	require.NoError(t, err)
	_, err = te.CreateToken(ctx, TokenRequest{UserID: u.ID, Type: TokenTypeInvite, TTL: time.Minute})
	require.NoError(t, err)

	te.clock.Advance(10 * time.Minute)

	res, err := te.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, PurgeResult{Sessions: 1, Tokens: 1}, res)

	active, err := te.GetActiveSessions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, live.ID, active[0].ID)
}

func TestSessionTickets(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Ticket.Enabled = true
		c.Ticket.SigningMethod = "hs256"
		c.Ticket.PrivateKey = strings.Repeat("s", 32)
	})
	ctx := context.Background()

	_, err := te.CreateUser(ctx, NewUser{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	res, err := te.Login(ctx, "a@x.com", testPassword, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, res.Ticket)

	u, err := te.ValidateSessionTicket(ctx, res.Ticket)
	require.NoError(t, err)
	require.Equal(t, res.User.ID, u.ID)

	_, err = te.ValidateSessionTicket(ctx, res.Ticket+"x")
	require.ErrorIs(t, err, ErrInvalidTicket)

	require.NoError(t, te.DestroySession(ctx, res.Session.ID))
	u, err = te.ValidateSessionTicket(ctx, res.Ticket)
	require.NoError(t, err)
	require.Nil(t, u)

	_, err = te.IssueSessionTicket(ctx, res.Session.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTicketsDisabled(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.IssueSessionTicket(context.Background(), "sid")
	require.ErrorIs(t, err, ErrTicketsDisabled)
}

func TestOperationsAfterCloseFailPing(t *testing.T) {
	te := newTestEngine(t)
	require.NoError(t, te.Ping(context.Background()))
	require.NoError(t, te.Close())
	require.NoError(t, te.Close())
	if err := te.Ping(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

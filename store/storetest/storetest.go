// Package storetest is a conformance suite every store.Adapter must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty adapter. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Adapter

// Run executes the whole suite against adapters produced by newAdapter.
func Run(t *testing.T, newAdapter Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newAdapter(t)) })
	t.Run("UserListing", func(t *testing.T) { testUserListing(t, newAdapter(t)) })
	t.Run("FailedLogins", func(t *testing.T) { testFailedLogins(t, newAdapter(t)) })
	t.Run("UserPermissions", func(t *testing.T) { testUserPermissions(t, newAdapter(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newAdapter(t)) })
	t.Run("SessionPurge", func(t *testing.T) { testSessionPurge(t, newAdapter(t)) })
	t.Run("Tokens", func(t *testing.T) { testTokens(t, newAdapter(t)) })
	t.Run("TokenConsumeRace", func(t *testing.T) { testTokenConsumeRace(t, newAdapter(t)) })
	t.Run("Roles", func(t *testing.T) { testRoles(t, newAdapter(t)) })
	t.Run("Permissions", func(t *testing.T) { testPermissions(t, newAdapter(t)) })
	t.Run("Documents", func(t *testing.T) { testDocuments(t, newAdapter(t)) })
}

func newUser(email string) *store.User {
	return &store.User{
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		Role:         "member",
		FirstName:    "Ada",
	}
}

func testUsers(t *testing.T, a store.Adapter) {
	ctx := context.Background()

	u := newUser("  Ada@Example.COM ")
	require.NoError(t, a.CreateUser(ctx, u))
	require.NotEmpty(t, u.ID)
	require.Equal(t, "ada@example.com", u.Email)

	got, err := a.GetUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, u.PasswordHash, got.PasswordHash)
	require.Equal(t, "Ada", got.FirstName)
	require.True(t, u.CreatedAt.Equal(got.CreatedAt))

	dup := newUser("ada@example.com")
	dup.FirstName = "Other"
	err = a.CreateUser(ctx, dup)
	require.ErrorIs(t, err, store.ErrDuplicateEmail)
	n, err := a.CountUsers(ctx, store.UserFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	got, err = a.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "Ada", got.FirstName)

	_, err = a.GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.False(t, errors.Is(err, store.ErrBackend))

	name := "Grace"
	perms := []string{"docs.read"}
	locked := time.Now().Add(time.Hour)
	updated, err := a.UpdateUser(ctx, u.ID, store.UserUpdate{FirstName: &name, Permissions: &perms, LockoutUntil: &locked})
	require.NoError(t, err)
	require.Equal(t, "Grace", updated.FirstName)
	require.Equal(t, []string{"docs.read"}, updated.Permissions)
	require.True(t, store.Timestamp(locked).Equal(updated.LockoutUntil))
	require.Equal(t, u.PasswordHash, updated.PasswordHash)

	other := newUser("grace@example.com")
	require.NoError(t, a.CreateUser(ctx, other))
	taken := "ada@example.com"
	_, err = a.UpdateUser(ctx, other.ID, store.UserUpdate{Email: &taken})
	require.ErrorIs(t, err, store.ErrDuplicateEmail)

	_, err = a.UpdateUser(ctx, "missing", store.UserUpdate{FirstName: &name})
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, a.DeleteUser(ctx, u.ID))
	require.ErrorIs(t, a.DeleteUser(ctx, u.ID), store.ErrNotFound)
	_, err = a.GetUserByEmail(ctx, "ada@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	// The email is free again once its owner is gone.
	require.NoError(t, a.CreateUser(ctx, newUser("ada@example.com")))
}

func testUserListing(t *testing.T, a store.Adapter) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		u := newUser(fmt.Sprintf("user%d@example.com", i))
		u.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			u.Role = "admin"
		}
		require.NoError(t, a.CreateUser(ctx, u))
	}

	all, err := a.ListUsers(ctx, store.UserFilter{}, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "user0@example.com", all[0].Email)

	page, err := a.ListUsers(ctx, store.UserFilter{}, store.ListOptions{SortBy: "email", Descending: true, Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "user3@example.com", page[0].Email)
	require.Equal(t, "user2@example.com", page[1].Email)

	admins, err := a.ListUsers(ctx, store.UserFilter{Role: "admin"}, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, admins, 3)
	n, err := a.CountUsers(ctx, store.UserFilter{Role: "admin"})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	blocked := true
	n, err = a.CountUsers(ctx, store.UserFilter{Blocked: &blocked})
	require.NoError(t, err)
	require.Zero(t, n)
}

func testFailedLogins(t *testing.T, a store.Adapter) {
	ctx := context.Background()
	u := newUser("lock@example.com")
	require.NoError(t, a.CreateUser(ctx, u))

	until := time.Now().Add(15 * time.Minute)
	got, err := a.RecordFailedLogin(ctx, u.ID, 3, until)
	require.NoError(t, err)
	require.Equal(t, 1, got.FailedAttempts)
	require.True(t, got.LockoutUntil.IsZero())

	_, err = a.RecordFailedLogin(ctx, u.ID, 3, until)
	require.NoError(t, err)
	got, err = a.RecordFailedLogin(ctx, u.ID, 3, until)
	require.NoError(t, err)
	require.Equal(t, 0, got.FailedAttempts)
	require.True(t, store.Timestamp(until).Equal(got.LockoutUntil))
	require.True(t, got.LockedAt(time.Now()))

	_, err = a.RecordFailedLogin(ctx, "missing", 3, until)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testUserPermissions(t *testing.T, a store.Adapter) {
	ctx := context.Background()
	u := newUser("perms@example.com")
	u.Permissions = []string{"docs.read"}
	require.NoError(t, a.CreateUser(ctx, u))

	got, err := a.AddUserPermission(ctx, u.ID, "docs.write")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"docs.read", "docs.write"}, got.Permissions)
	require.Equal(t, "Ada", got.FirstName)

	got, err = a.AddUserPermission(ctx, u.ID, "docs.write")
	require.NoError(t, err)
	require.Len(t, got.Permissions, 2)

	got, err = a.RemoveUserPermission(ctx, u.ID, "docs.read")
	require.NoError(t, err)
	require.Equal(t, []string{"docs.write"}, got.Permissions)

	got, err = a.RemoveUserPermission(ctx, u.ID, "never.granted")
	require.NoError(t, err)
	require.Equal(t, []string{"docs.write"}, got.Permissions)

	_, err = a.AddUserPermission(ctx, "missing", "docs.read")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = a.RemoveUserPermission(ctx, "missing", "docs.read")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Concurrent grants of distinct permissions must all land.
	const grants = 20
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < grants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if _, err := a.AddUserPermission(ctx, u.ID, fmt.Sprintf("p%d", i)); err != nil {
				t.Errorf("AddUserPermission p%d: %v", i, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	got, err = a.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	if len(got.Permissions) != grants+1 {
		t.Fatalf("expected %d permissions after concurrent grants, got %d: %v", grants+1, len(got.Permissions), got.Permissions)
	}
}

func testSessions(t *testing.T, a store.Adapter) {
	ctx := context.Background()
	now := store.Timestamp(time.Now())

	live := &store.Session{ID: "sess-live", UserID: "u1", Expires: now.Add(time.Hour), CreatedAt: now}
	dead := &store.Session{ID: "sess-dead", UserID: "u1", Expires: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)}
	other := &store.Session{ID: "sess-other", UserID: "u2", Expires: now.Add(time.Hour), CreatedAt: now}
	for _, s := range []*store.Session{live, dead, other} {
		require.NoError(t, a.CreateSession(ctx, s))
	}
	require.ErrorIs(t, a.CreateSession(ctx, live), store.ErrDuplicate)

	got, err := a.GetSession(ctx, live.ID)
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
	require.True(t, live.Expires.Equal(got.Expires))

	expired, err := a.GetSession(ctx, dead.ID)
	require.NoError(t, err)
	require.True(t, expired.ExpiredAt(now))

	_, err = a.GetSession(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	list, err := a.ListUserSessions(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, live.ID, list[0].ID)

	later := now.Add(2 * time.Hour)
	ext, err := a.UpdateSessionExpiry(ctx, live.ID, later, now)
	require.NoError(t, err)
	require.True(t, later.Equal(ext.Expires))

	_, err = a.UpdateSessionExpiry(ctx, dead.ID, later, now)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = a.UpdateSessionExpiry(ctx, "missing", later, now)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, a.DeleteSession(ctx, other.ID))
	require.ErrorIs(t, a.DeleteSession(ctx, other.ID), store.ErrNotFound)

	n, err := a.DeleteUserSessions(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	_, err = a.GetSession(ctx, live.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err = a.DeleteUserSessions(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, n)
}

func testSessionPurge(t *testing.T, a store.Adapter) {
	ctx := context.Background()
	now := store.Timestamp(time.Now())
	for i := 0; i < 4; i++ {
		exp := now.Add(time.Hour)
		if i < 3 {
			exp = now.Add(-time.Duration(i+1) * time.Minute)
		}
		require.NoError(t, a.CreateSession(ctx, &store.Session{
			ID: fmt.Sprintf("s%d", i), UserID: "u1", Expires: exp, CreatedAt: now.Add(-time.Hour),
		}))
	}
	n, err := a.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	_, err = a.GetSession(ctx, "s3")
	require.NoError(t, err)
	_, err = a.GetSession(ctx, "s0")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testTokens(t *testing.T, a store.Adapter) {
	ctx := context.Background()
	now := store.Timestamp(time.Now())

	tok := &store.Token{Token: "tok-1", UserID: "u1", Email: "ada@example.com", Type: "reset", Expires: now.Add(time.Hour), CreatedAt: now}
	old := &store.Token{Token: "tok-2", UserID: "u1", Email: "ada@example.com", Type: "reset", Expires: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)}
	inv := &store.Token{Token: "tok-3", UserID: "u2", Email: "bob@example.com", Type: "invite", Expires: now.Add(time.Hour), CreatedAt: now}
	for _, tk := range []*store.Token{tok, old, inv} {
		require.NoError(t, a.CreateToken(ctx, tk))
	}
	require.ErrorIs(t, a.CreateToken(ctx, tok), store.ErrDuplicate)

	got, err := a.GetToken(ctx, "tok-1", "u1", "reset")
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", got.Email)

	// Lookups are keyed by (token, user, type).
	_, err = a.GetToken(ctx, "tok-1", "u2", "reset")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = a.GetToken(ctx, "tok-1", "u1", "invite")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Reading leaves the token in place.
	_, err = a.GetToken(ctx, "tok-1", "u1", "reset")
	require.NoError(t, err)

	list, err := a.ListTokens(ctx, store.TokenFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	list, err = a.ListTokens(ctx, store.TokenFilter{Type: "invite"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	consumed, err := a.ConsumeToken(ctx, "tok-1", "u1", "reset")
	require.NoError(t, err)
	require.Equal(t, "tok-1", consumed.Token)
	_, err = a.ConsumeToken(ctx, "tok-1", "u1", "reset")
	require.ErrorIs(t, err, store.ErrNotFound)

	// An expired token is still returned once so callers can report it.
	expired, err := a.ConsumeToken(ctx, "tok-2", "u1", "reset")
	require.NoError(t, err)
	require.True(t, expired.ExpiredAt(now))
	_, err = a.GetToken(ctx, "tok-2", "u1", "reset")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, a.CreateToken(ctx, &store.Token{Token: "tok-4", UserID: "u2", Type: "reset", Expires: now.Add(-time.Second), CreatedAt: now}))
	n, err := a.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = a.DeleteUserTokens(ctx, "u2")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	list, err = a.ListTokens(ctx, store.TokenFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func testTokenConsumeRace(t *testing.T, a store.Adapter) {
	ctx := context.Background()
	now := store.Timestamp(time.Now())
	require.NoError(t, a.CreateToken(ctx, &store.Token{Token: "race", UserID: "u1", Type: "reset", Expires: now.Add(time.Hour), CreatedAt: now}))

	const workers = 8
	var wins, misses atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := a.ConsumeToken(ctx, "race", "u1", "reset")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, store.ErrNotFound):
				misses.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, workers-1, misses.Load())
}

func testRoles(t *testing.T, a store.Adapter) {
	ctx := context.Background()

	r := &store.Role{Name: "editor", Description: "edits", Permissions: []string{"p1", "p2", "p1"}}
	require.NoError(t, a.CreateRole(ctx, r))
	require.NotEmpty(t, r.ID)
	require.ErrorIs(t, a.CreateRole(ctx, &store.Role{Name: "editor"}), store.ErrDuplicate)

	got, err := a.GetRoleByName(ctx, "editor")
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)
	require.Equal(t, []string{"p1", "p2"}, got.Permissions)

	got, err = a.AddRolePermission(ctx, r.ID, "p3")
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2", "p3"}, got.Permissions)
	got, err = a.AddRolePermission(ctx, r.ID, "p3")
	require.NoError(t, err)
	require.Len(t, got.Permissions, 3)

	got, err = a.RemoveRolePermission(ctx, r.ID, "p1")
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p3"}, got.Permissions)

	_, err = a.AddRolePermission(ctx, "missing", "p1")
	require.ErrorIs(t, err, store.ErrNotFound)

	desc := "writes"
	perms := []string{"p9"}
	got, err = a.UpdateRole(ctx, r.ID, store.RoleUpdate{Description: &desc, Permissions: &perms})
	require.NoError(t, err)
	require.Equal(t, "writes", got.Description)
	require.Equal(t, []string{"p9"}, got.Permissions)

	require.NoError(t, a.CreateRole(ctx, &store.Role{Name: "admin"}))
	roles, err := a.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	require.Equal(t, "admin", roles[0].Name)
	require.Empty(t, roles[0].Permissions)

	require.NoError(t, a.DeleteRole(ctx, r.ID))
	require.ErrorIs(t, a.DeleteRole(ctx, r.ID), store.ErrNotFound)
	_, err = a.GetRoleByName(ctx, "editor")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testPermissions(t *testing.T, a store.Adapter) {
	ctx := context.Background()

	p := &store.Permission{ID: "docs.read", Name: "Read docs", Action: "read", ContextType: "document"}
	require.NoError(t, a.CreatePermission(ctx, p))
	require.Equal(t, "docs.read", p.ContextID)
	require.ErrorIs(t, a.CreatePermission(ctx, &store.Permission{ID: "docs.read"}), store.ErrDuplicate)
	require.NoError(t, a.CreatePermission(ctx, &store.Permission{ID: "docs.write", ContextID: "docs", Action: "write", ContextType: "document"}))

	got, err := a.GetPermission(ctx, "docs.read")
	require.NoError(t, err)
	require.Equal(t, "read", got.Action)

	action := "delete"
	got, err = a.UpdatePermission(ctx, "docs.write", store.PermissionUpdate{Action: &action})
	require.NoError(t, err)
	require.Equal(t, "delete", got.Action)
	require.Equal(t, "docs", got.ContextID)
	_, err = a.UpdatePermission(ctx, "missing", store.PermissionUpdate{Action: &action})
	require.ErrorIs(t, err, store.ErrNotFound)

	all, err := a.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	some, err := a.ListPermissions(ctx, "docs.write", "missing")
	require.NoError(t, err)
	require.Len(t, some, 1)
	require.Equal(t, "docs.write", some[0].ID)

	role := &store.Role{Name: "reader", Permissions: []string{"docs.read", "docs.write"}}
	require.NoError(t, a.CreateRole(ctx, role))
	require.NoError(t, a.DeletePermission(ctx, "docs.read"))
	require.ErrorIs(t, a.DeletePermission(ctx, "docs.read"), store.ErrNotFound)
	got2, err := a.GetRole(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"docs.write"}, got2.Permissions)
}

func testDocuments(t *testing.T, a store.Adapter) {
	ctx := context.Background()

	_, err := a.InsertDocument(ctx, "bad name!", store.Document{"a": 1})
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	doc, err := a.InsertDocument(ctx, "notes", store.Document{"title": "b", "rank": 2, "owner": "u1"})
	require.NoError(t, err)
	id := doc.ID()
	require.NotEmpty(t, id)
	_, err = a.InsertDocument(ctx, "notes", store.Document{store.IDField: "n-1", "title": "a", "rank": 1, "owner": "u1"})
	require.NoError(t, err)
	_, err = a.InsertDocument(ctx, "notes", store.Document{store.IDField: "n-1", "title": "dup"})
	require.ErrorIs(t, err, store.ErrDuplicate)
	_, err = a.InsertDocument(ctx, "notes", store.Document{"title": "c", "rank": 3, "owner": "u2"})
	require.NoError(t, err)

	got, err := a.FindDocument(ctx, "notes", "n-1")
	require.NoError(t, err)
	require.Equal(t, "a", got["title"])
	_, err = a.FindDocument(ctx, "notes", "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	mine, err := a.FindDocuments(ctx, "notes", store.Filter{"owner": "u1"}, store.ListOptions{SortBy: "rank"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, "a", mine[0]["title"])

	top, err := a.FindDocuments(ctx, "notes", nil, store.ListOptions{SortBy: "rank", Descending: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, "c", top[0]["title"])

	n, err := a.CountDocuments(ctx, "notes", store.Filter{"owner": "u1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	upd, err := a.UpdateDocument(ctx, "notes", id, store.Document{"title": "B", store.IDField: "ignored"})
	require.NoError(t, err)
	require.Equal(t, "B", upd["title"])
	require.Equal(t, id, upd.ID())
	_, err = a.UpdateDocument(ctx, "notes", "missing", store.Document{"title": "x"})
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, a.DeleteDocument(ctx, "notes", id))
	require.ErrorIs(t, a.DeleteDocument(ctx, "notes", id), store.ErrNotFound)

	empty, err := a.FindDocuments(ctx, "other", nil, store.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, empty)
}

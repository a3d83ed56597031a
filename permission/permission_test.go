package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/sqlstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var dbSeq atomic.Int64

type fixture struct {
	backend  *sqlstore.Store
	cache    *Cache
	resolver *Resolver
	registry *Registry
	admin    *store.User
	editor   *store.User
	plain    *store.User
	editors  *store.Role
}

func newFixture(t *testing.T, log *zap.Logger) *fixture {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:perm_%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	backend, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: dsn, MaxOpenConns: 1},
		store.RetryPolicy{Attempts: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	require.NoError(t, backend.Migrate(ctx))

	if log == nil {
		log = zaptest.NewLogger(t)
	}
	f := &fixture{backend: backend}
	f.cache = NewCache(backend, log)
	f.resolver = NewResolver(f.cache, backend, "admin", log)
	f.registry = NewRegistry(backend, f.resolver, f.cache, "user", log)
	require.NoError(t, f.registry.Bootstrap(ctx))

	f.editors = &store.Role{Name: "editor", Permissions: []string{ManageRoles}}
	require.NoError(t, backend.CreateRole(ctx, f.editors))

	f.admin = f.user(t, "root@x.com", "admin")
	f.editor = f.user(t, "ed@x.com", "editor")
	f.plain = f.user(t, "joe@x.com", "user")
	return f
}

func (f *fixture) user(t *testing.T, email, role string) *store.User {
	t.Helper()
	u := &store.User{Email: email, Role: role}
	require.NoError(t, f.backend.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) permission(t *testing.T, id, action, contextType string) *store.Permission {
	t.Helper()
	p := &store.Permission{ID: id, Name: id, Action: action, ContextType: contextType}
	_, err := f.registry.CreatePermission(context.Background(), f.admin, p)
	require.NoError(t, err)
	return p
}

func TestExemptRoleAllowsEverything(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, q := range []Query{
		{ContextID: "posts", Action: ActionDelete, ContextType: ContextCollection},
		{ContextID: "anything", Action: "made-up", ContextType: "nowhere"},
		ManageQuery(ManageRoles),
		{},
	} {
		d, err := f.resolver.Check(ctx, f.admin, q)
		require.NoError(t, err)
		require.True(t, d.Permitted(), "query %+v", q)
	}
	require.True(t, f.resolver.IsExempt(f.admin))
	require.False(t, f.resolver.IsExempt(f.editor))
	require.False(t, f.resolver.IsExempt(nil))
}

func TestMatches(t *testing.T) {
	p := &store.Permission{ContextID: "posts", Action: ActionRead, ContextType: ContextCollection}
	require.True(t, Matches(p, Query{ContextID: "posts", Action: ActionRead, ContextType: ContextCollection}))
	require.False(t, Matches(p, Query{ContextID: "posts", Action: ActionRead, ContextType: ContextUser}))
	require.False(t, Matches(p, Query{ContextID: "posts", Action: ActionUpdate, ContextType: ContextCollection}))
	require.False(t, Matches(p, Query{ContextID: "pages", Action: ActionRead, ContextType: ContextCollection}))

	sys := &store.Permission{ContextID: "posts", Action: ActionRead, ContextType: ContextSystem}
	for _, ct := range []string{ContextCollection, ContextUser, ContextConfiguration, ContextSystem} {
		require.True(t, Matches(sys, Query{ContextID: "posts", Action: ActionRead, ContextType: ct}))
	}
	require.False(t, Matches(sys, Query{ContextID: "pages", Action: ActionRead, ContextType: ContextUser}))
}

func TestCheckRoleAndDirectGrants(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	read := f.permission(t, "posts.read", ActionRead, ContextCollection)
	write := f.permission(t, "posts.update", ActionUpdate, ContextCollection)

	_, err := f.registry.AssignPermissionToRole(ctx, f.admin, f.editors.ID, read.ID)
	require.NoError(t, err)

	d, err := f.resolver.Check(ctx, f.editor, QueryFor(read))
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.False(t, d.RateLimited)

	d, err = f.resolver.Check(ctx, f.editor, QueryFor(write))
	require.NoError(t, err)
	require.False(t, d.Allowed)

	u, err := f.registry.GrantPermissionToUser(ctx, f.admin, f.plain.ID, write.ID)
	require.NoError(t, err)
	d, err = f.resolver.Check(ctx, u, QueryFor(write))
	require.NoError(t, err)
	require.True(t, d.Allowed)

	u, err = f.registry.RevokePermissionFromUser(ctx, f.admin, f.plain.ID, write.ID)
	require.NoError(t, err)
	d, err = f.resolver.Check(ctx, u, QueryFor(write))
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = f.resolver.Check(ctx, nil, QueryFor(read))
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestCheckFlagsSelfLockout(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, zap.New(core))
	q := Query{ContextID: "settings", Action: ActionManage, ContextType: ContextConfiguration, RequiredRole: "editor"}

	d, err := f.resolver.Check(context.Background(), f.editor, q)
	require.NoError(t, err)
	require.Equal(t, Decision{SelfLockout: true}, d)
	require.Equal(t, 1, logs.FilterMessage("blocked self-lockout").Len())

	d, err = f.resolver.Check(context.Background(), f.plain, q)
	require.NoError(t, err)
	require.Equal(t, Decision{}, d)
}

func TestRevokingOwnManagementIsSelfLockout(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, zap.New(core))
	ctx := context.Background()

	_, err := f.registry.RemovePermissionFromRole(ctx, f.editor, f.editors.ID, ManageRoles)
	require.ErrorIs(t, err, ErrSelfLockout)
	require.GreaterOrEqual(t, logs.FilterMessage("blocked self-lockout").Len(), 1)

	role, err := f.registry.GetRole(ctx, f.editors.ID)
	require.NoError(t, err)
	require.Equal(t, []string{ManageRoles}, role.Permissions)

	empty := []string{}
	_, err = f.registry.UpdateRole(ctx, f.editor, f.editors.ID, store.RoleUpdate{Permissions: &empty})
	require.ErrorIs(t, err, ErrSelfLockout)
	require.ErrorIs(t, f.registry.DeleteRole(ctx, f.editor, f.editors.ID), ErrSelfLockout)
	_, err = f.registry.RemoveRoleFromUser(ctx, f.editor, f.editor.ID)
	require.ErrorIs(t, err, ErrSelfLockout)

	// Someone else may still do it.
	_, err = f.registry.RemovePermissionFromRole(ctx, f.admin, f.editors.ID, ManageRoles)
	require.NoError(t, err)
}

func TestSelfLockoutThroughDirectGrant(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	holder, err := f.registry.GrantPermissionToUser(ctx, f.admin, f.plain.ID, ManagePermissions)
	require.NoError(t, err)
	_, err = f.registry.RevokePermissionFromUser(ctx, holder, holder.ID, ManagePermissions)
	require.ErrorIs(t, err, ErrSelfLockout)
	require.ErrorIs(t, f.registry.DeletePermission(ctx, holder, ManagePermissions), ErrSelfLockout)

	got, err := f.backend.GetUserByID(ctx, holder.ID)
	require.NoError(t, err)
	require.Equal(t, []string{ManagePermissions}, got.Permissions)
}

func TestAssignRemoveRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	perm := f.permission(t, "posts.share", ActionShare, ContextCollection)

	_, err := f.registry.AssignPermissionToRole(ctx, f.editor, f.editors.ID, perm.ID)
	require.NoError(t, err)
	perms, err := f.registry.PermissionsForRole(ctx, "editor")
	require.NoError(t, err)
	require.Contains(t, ids(perms), perm.ID)

	_, err = f.registry.RemovePermissionFromRole(ctx, f.editor, f.editors.ID, perm.ID)
	require.NoError(t, err)
	perms, err = f.registry.PermissionsForRole(ctx, "editor")
	require.NoError(t, err)
	require.NotContains(t, ids(perms), perm.ID)
}

func TestMutationsRequireManagement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.registry.CreateRole(ctx, f.plain, &store.Role{Name: "x"})
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.registry.CreatePermission(ctx, f.editor, &store.Permission{Action: ActionRead, ContextType: ContextUser})
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.registry.CreateRole(ctx, nil, &store.Role{Name: "x"})
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.registry.CreateRole(ctx, &store.User{ID: "ghost"}, &store.Role{Name: "x"})
	require.ErrorIs(t, err, ErrUnauthorized)

	// A stale actor copy claiming a better role is reloaded first.
	forged := *f.plain
	forged.Role = "admin"
	_, err = f.registry.CreateRole(ctx, &forged, &store.Role{Name: "x"})
	require.ErrorIs(t, err, ErrUnauthorized)

	blocked := true
	_, err = f.backend.UpdateUser(ctx, f.editor.ID, store.UserUpdate{Blocked: &blocked})
	require.NoError(t, err)
	_, err = f.registry.CreateRole(ctx, f.editor, &store.Role{Name: "x"})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestReservedRole(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	super, err := f.registry.GetRoleByName(ctx, "admin")
	require.NoError(t, err)

	require.ErrorIs(t, f.registry.DeleteRole(ctx, f.admin, super.ID), ErrReservedRole)

	_, err = f.registry.AssignRoleToUser(ctx, f.editor, f.plain.ID, "admin")
	require.ErrorIs(t, err, ErrUnauthorized)
	u, err := f.registry.AssignRoleToUser(ctx, f.admin, f.plain.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, "admin", u.Role)

	// An exempt actor demoting itself loses management.
	_, err = f.registry.RemoveRoleFromUser(ctx, f.admin, f.admin.ID)
	require.ErrorIs(t, err, ErrSelfLockout)
}

func TestRoleLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	perm := f.permission(t, "users.read", ActionRead, ContextUser)

	role, err := f.registry.CreateRole(ctx, f.editor, &store.Role{Name: "viewer", Permissions: []string{perm.ID, perm.ID}})
	require.NoError(t, err)
	require.Equal(t, []string{perm.ID}, role.Permissions)

	_, err = f.registry.CreateRole(ctx, f.editor, &store.Role{Name: "viewer"})
	require.ErrorIs(t, err, store.ErrDuplicate)
	_, err = f.registry.CreateRole(ctx, f.editor, &store.Role{Name: "bad", Permissions: []string{"missing"}})
	require.ErrorIs(t, err, store.ErrNotFound)

	u, err := f.registry.AssignRoleToUser(ctx, f.editor, f.plain.ID, "viewer")
	require.NoError(t, err)
	d, err := f.resolver.Check(ctx, u, QueryFor(perm))
	require.NoError(t, err)
	require.True(t, d.Allowed)

	desc := "read only"
	empty := []string{}
	role, err = f.registry.UpdateRole(ctx, f.editor, role.ID, store.RoleUpdate{Description: &desc, Permissions: &empty})
	require.NoError(t, err)
	require.Equal(t, "read only", role.Description)
	d, err = f.resolver.Check(ctx, u, QueryFor(perm))
	require.NoError(t, err)
	require.False(t, d.Allowed, "cache must not serve the old set")

	u, err = f.registry.RemoveRoleFromUser(ctx, f.editor, f.plain.ID)
	require.NoError(t, err)
	require.Equal(t, "user", u.Role)

	require.NoError(t, f.registry.DeleteRole(ctx, f.editor, role.ID))
	_, err = f.registry.GetRole(ctx, role.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPermissionLifecycleInvalidatesCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	perm := f.permission(t, "cfg", ActionRead, ContextConfiguration)
	_, err := f.registry.AssignPermissionToRole(ctx, f.admin, f.editors.ID, perm.ID)
	require.NoError(t, err)

	q := Query{ContextID: "cfg", Action: ActionRead, ContextType: ContextUser}
	d, err := f.resolver.Check(ctx, f.editor, q)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	sys := ContextSystem
	_, err = f.registry.UpdatePermission(ctx, f.admin, perm.ID, store.PermissionUpdate{ContextType: &sys})
	require.NoError(t, err)
	d, err = f.resolver.Check(ctx, f.editor, q)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.NoError(t, f.registry.DeletePermission(ctx, f.admin, perm.ID))
	d, err = f.resolver.Check(ctx, f.editor, q)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	all, err := f.registry.ListPermissions(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{ManageRoles, ManagePermissions}, ids(all))
}

func TestBootstrapIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.registry.Bootstrap(ctx))
	require.NoError(t, f.registry.Bootstrap(ctx))

	roles, err := f.registry.ListRoles(ctx)
	require.NoError(t, err)
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	require.ElementsMatch(t, []string{"admin", "editor", "user"}, names)
}

/* ==== CACHE ==== */

type stubSource struct {
	mu    sync.Mutex
	calls int
	err   error
	gate  chan struct{}
	perms map[string][]*store.Permission

	fillErr error
}

func (s *stubSource) GetRoleByName(ctx context.Context, name string) (*store.Role, error) {
	s.mu.Lock()
	s.calls++
	err, gate := s.err, s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	s.fillErr = ctx.Err()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	perms, ok := s.perms[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	r := &store.Role{Name: name}
	for _, p := range perms {
		r.Permissions = append(r.Permissions, p.ID)
	}
	return r, nil
}

func (s *stubSource) ListPermissions(_ context.Context, ids ...string) ([]*store.Permission, error) {
	var out []*store.Permission
	for _, perms := range s.perms {
		for _, p := range perms {
			for _, id := range ids {
				if p.ID == id {
					out = append(out, p)
				}
			}
		}
	}
	return out, nil
}

func TestCacheFillsOnce(t *testing.T) {
	src := &stubSource{perms: map[string][]*store.Permission{"r": {{ID: "p"}}}}
	c := NewCache(src, nil)
	for i := 0; i < 5; i++ {
		perms, err := c.RolePermissions(context.Background(), "r")
		require.NoError(t, err)
		require.Len(t, perms, 1)
	}
	require.Equal(t, 1, src.calls)

	c.Invalidate("r")
	_, err := c.RolePermissions(context.Background(), "r")
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)

	perms, err := c.RolePermissions(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, perms)
	require.Equal(t, 2, c.Len())
	c.Clear()
	require.Equal(t, 0, c.Len())
}

func TestCacheDropsFillRacingInvalidation(t *testing.T) {
	src := &stubSource{gate: make(chan struct{}), perms: map[string][]*store.Permission{"r": {{ID: "p"}}}}
	c := NewCache(src, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.RolePermissions(context.Background(), "r")
	}()
	for {
		src.mu.Lock()
		n := src.calls
		src.mu.Unlock()
		if n == 1 {
			break
		}
	}
	c.Invalidate("r")
	close(src.gate)
	<-done

	require.Equal(t, 0, c.Len(), "stale fill must not be stored")
}

func TestCacheFillSurvivesFirstCallerCancel(t *testing.T) {
	src := &stubSource{gate: make(chan struct{}), perms: map[string][]*store.Permission{"r": {{ID: "p"}}}}
	c := NewCache(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.RolePermissions(ctx, "r")
		first <- err
	}()
	for {
		src.mu.Lock()
		n := src.calls
		src.mu.Unlock()
		if n == 1 {
			break
		}
	}

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	second := make(chan []*store.Permission, 1)
	go func() {
		perms, err := c.RolePermissions(context.Background(), "r")
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		second <- perms
	}()
	close(src.gate)

	require.Equal(t, []string{"p"}, ids(<-second))
	src.mu.Lock()
	defer src.mu.Unlock()
	require.NoError(t, src.fillErr, "fill must not inherit the first caller's cancellation")
}

func TestCacheErrorsPropagate(t *testing.T) {
	boom := store.Backend("get role", errors.New("down"))
	src := &stubSource{err: boom}
	c := NewCache(src, nil)
	r := NewResolver(c, src, "admin", nil)

	_, err := r.Check(context.Background(), &store.User{ID: "u", Role: "r"}, Query{ContextID: "x", Action: ActionRead, ContextType: ContextUser})
	require.ErrorIs(t, err, store.ErrBackend)
	require.Equal(t, 0, c.Len())
}

func ids(perms []*store.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.ID
	}
	return out
}

package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks the
	// management capability a mutation needs, or cannot be loaded.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSelfLockout is returned for a mutation that would strip the acting
	// principal of the capability it used to make it.
	ErrSelfLockout = errors.New("mutation would lock out the acting principal")
	// ErrReservedRole protects the super-authority role from deletion.
	ErrReservedRole = errors.New("reserved role")
)

// Backend is the storage a Registry mutates.
type Backend interface {
	store.UserStore
	store.RoleStore
	store.PermissionStore
}

// Registry manages role and permission definitions and their assignments.
//
// Every mutation reloads the actor, authorizes it through the Resolver,
// rejects changes that would remove the actor's own management capability,
// performs a single backend write and invalidates the Cache before returning.
type Registry struct {
	backend     Backend
	resolver    *Resolver
	cache       *Cache
	defaultRole string
	log         *zap.Logger
}

// NewRegistry builds a Registry. defaultRole is what RemoveRoleFromUser
// resets users to.
func NewRegistry(backend Backend, resolver *Resolver, cache *Cache, defaultRole string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		backend:     backend,
		resolver:    resolver,
		cache:       cache,
		defaultRole: defaultRole,
		log:         log.Named("permission.registry"),
	}
}

/* ==== AUTHORIZATION ==== */

// authorize reloads actor and requires every capability in needs.
func (r *Registry) authorize(ctx context.Context, actor *store.User, needs ...string) (*store.User, error) {
	if actor == nil || actor.ID == "" {
		return nil, ErrUnauthorized
	}
	cur, err := r.backend.GetUserByID(ctx, actor.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if cur.Blocked {
		return nil, ErrUnauthorized
	}
	for _, capability := range needs {
		d, err := r.resolver.Check(ctx, cur, ManageQuery(capability))
		if err != nil {
			return nil, err
		}
		if !d.Permitted() {
			return nil, fmt.Errorf("%w: %s required", ErrUnauthorized, capability)
		}
	}
	return cur, nil
}

// outlook is the actor's standing after a proposed mutation.
type outlook struct {
	role string
	// rolePerms overrides the stored permission IDs of role when non-nil.
	rolePerms []string
	direct    []string
	// patch rewrites resolved grants; returning nil drops the grant.
	patch func(*store.Permission) *store.Permission
}

func (r *Registry) standing(actor *store.User) outlook {
	return outlook{role: actor.Role, direct: actor.Permissions}
}

// guard simulates the mutation described by o and fails with ErrSelfLockout
// if the actor would lose a management capability it holds now.
func (r *Registry) guard(ctx context.Context, actor *store.User, o outlook) error {
	var needs []string
	for _, capability := range []string{ManageRoles, ManagePermissions} {
		d, err := r.resolver.Check(ctx, actor, ManageQuery(capability))
		if err != nil {
			return err
		}
		if d.Allowed {
			needs = append(needs, capability)
		}
	}
	if len(needs) == 0 {
		return nil
	}

	sim := *actor
	sim.Role = o.role
	sim.Permissions = o.direct
	if r.resolver.IsExempt(&sim) {
		return nil
	}

	ids := o.rolePerms
	if ids == nil {
		role, err := r.backend.GetRoleByName(ctx, o.role)
		switch {
		case errors.Is(err, store.ErrNotFound):
			ids = []string{}
		case err != nil:
			return err
		default:
			ids = role.Permissions
		}
	}
	perms, err := lookup(ctx, r.backend, append(append([]string{}, ids...), o.direct...))
	if err != nil {
		return err
	}
	if o.patch != nil {
		kept := perms[:0:0]
		for _, p := range perms {
			if np := o.patch(p); np != nil {
				kept = append(kept, np)
			}
		}
		perms = kept
	}

	for _, capability := range needs {
		q := ManageQuery(capability)
		q.RequiredRole = actor.Role
		if !r.resolver.Evaluate(&sim, perms, q).Allowed {
			if sim.Role != actor.Role {
				r.log.Warn("blocked self-lockout",
					zap.String("user_id", actor.ID),
					zap.String("role", actor.Role),
					zap.String("capability", capability),
				)
			}
			return ErrSelfLockout
		}
	}
	return nil
}

/* ==== ROLES ==== */

// CreateRole defines a new role. Referenced permissions must exist.
func (r *Registry) CreateRole(ctx context.Context, actor *store.User, role *store.Role) (*store.Role, error) {
	if role == nil || role.Name == "" {
		return nil, fmt.Errorf("%w: role name is required", store.ErrInvalidArgument)
	}
	if _, err := r.authorize(ctx, actor, ManageRoles); err != nil {
		return nil, err
	}
	if err := r.requirePermissions(ctx, role.Permissions); err != nil {
		return nil, err
	}
	if err := r.backend.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	r.cache.Invalidate(role.Name)
	return role, nil
}

// UpdateRole changes a role's description or replaces its permission set.
func (r *Registry) UpdateRole(ctx context.Context, actor *store.User, id string, upd store.RoleUpdate) (*store.Role, error) {
	cur, err := r.authorize(ctx, actor, ManageRoles)
	if err != nil {
		return nil, err
	}
	role, err := r.backend.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Permissions != nil {
		if err := r.requirePermissions(ctx, *upd.Permissions); err != nil {
			return nil, err
		}
		if role.Name == cur.Role {
			o := r.standing(cur)
			o.rolePerms = append([]string{}, (*upd.Permissions)...)
			if err := r.guard(ctx, cur, o); err != nil {
				return nil, err
			}
		}
	}
	out, err := r.backend.UpdateRole(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(role.Name)
	return out, nil
}

// DeleteRole removes a role. The super-authority role cannot be deleted.
func (r *Registry) DeleteRole(ctx context.Context, actor *store.User, id string) error {
	cur, err := r.authorize(ctx, actor, ManageRoles)
	if err != nil {
		return err
	}
	role, err := r.backend.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.Name == r.resolver.SuperRole() {
		return fmt.Errorf("%w: %s", ErrReservedRole, role.Name)
	}
	if role.Name == cur.Role {
		o := r.standing(cur)
		o.rolePerms = []string{}
		if err := r.guard(ctx, cur, o); err != nil {
			return err
		}
	}
	if err := r.backend.DeleteRole(ctx, id); err != nil {
		return err
	}
	r.cache.Invalidate(role.Name)
	return nil
}

// AssignPermissionToRole adds a permission to a role.
func (r *Registry) AssignPermissionToRole(ctx context.Context, actor *store.User, roleID, permID string) (*store.Role, error) {
	if _, err := r.authorize(ctx, actor, ManageRoles); err != nil {
		return nil, err
	}
	if _, err := r.backend.GetPermission(ctx, permID); err != nil {
		return nil, err
	}
	role, err := r.backend.AddRolePermission(ctx, roleID, permID)
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(role.Name)
	return role, nil
}

// RemovePermissionFromRole removes a permission from a role.
func (r *Registry) RemovePermissionFromRole(ctx context.Context, actor *store.User, roleID, permID string) (*store.Role, error) {
	cur, err := r.authorize(ctx, actor, ManageRoles)
	if err != nil {
		return nil, err
	}
	role, err := r.backend.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.Name == cur.Role && role.HasPermission(permID) {
		o := r.standing(cur)
		o.rolePerms = without(role.Permissions, permID)
		if err := r.guard(ctx, cur, o); err != nil {
			return nil, err
		}
	}
	out, err := r.backend.RemoveRolePermission(ctx, roleID, permID)
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(role.Name)
	return out, nil
}

/* ==== PERMISSIONS ==== */

// CreatePermission defines a permission. ContextID defaults to the ID.
func (r *Registry) CreatePermission(ctx context.Context, actor *store.User, p *store.Permission) (*store.Permission, error) {
	if p == nil || p.Action == "" || p.ContextType == "" {
		return nil, fmt.Errorf("%w: permission action and context type are required", store.ErrInvalidArgument)
	}
	if _, err := r.authorize(ctx, actor, ManagePermissions); err != nil {
		return nil, err
	}
	if err := r.backend.CreatePermission(ctx, p); err != nil {
		return nil, err
	}
	r.cache.Clear()
	return p, nil
}

// UpdatePermission changes a permission definition.
func (r *Registry) UpdatePermission(ctx context.Context, actor *store.User, id string, upd store.PermissionUpdate) (*store.Permission, error) {
	cur, err := r.authorize(ctx, actor, ManagePermissions)
	if err != nil {
		return nil, err
	}
	o := r.standing(cur)
	o.patch = func(p *store.Permission) *store.Permission {
		if p.ID != id {
			return p
		}
		np := *p
		upd.Apply(&np)
		return &np
	}
	if err := r.guard(ctx, cur, o); err != nil {
		return nil, err
	}
	out, err := r.backend.UpdatePermission(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	r.cache.Clear()
	return out, nil
}

// DeletePermission removes a permission and its role assignments.
func (r *Registry) DeletePermission(ctx context.Context, actor *store.User, id string) error {
	cur, err := r.authorize(ctx, actor, ManagePermissions)
	if err != nil {
		return err
	}
	o := r.standing(cur)
	o.patch = func(p *store.Permission) *store.Permission {
		if p.ID == id {
			return nil
		}
		return p
	}
	if err := r.guard(ctx, cur, o); err != nil {
		return err
	}
	if err := r.backend.DeletePermission(ctx, id); err != nil {
		return err
	}
	r.cache.Clear()
	return nil
}

/* ==== USER ASSIGNMENTS ==== */

// AssignRoleToUser sets a user's primary role. Only exempt principals may
// hand out the super-authority role.
func (r *Registry) AssignRoleToUser(ctx context.Context, actor *store.User, userID, roleName string) (*store.User, error) {
	cur, err := r.authorize(ctx, actor, ManageRoles)
	if err != nil {
		return nil, err
	}
	if _, err := r.backend.GetRoleByName(ctx, roleName); err != nil {
		return nil, err
	}
	if roleName == r.resolver.SuperRole() && !r.resolver.IsExempt(cur) {
		return nil, fmt.Errorf("%w: cannot grant %s", ErrUnauthorized, roleName)
	}
	return r.setUserRole(ctx, cur, userID, roleName)
}

// RemoveRoleFromUser resets a user to the default role.
func (r *Registry) RemoveRoleFromUser(ctx context.Context, actor *store.User, userID string) (*store.User, error) {
	cur, err := r.authorize(ctx, actor, ManageRoles)
	if err != nil {
		return nil, err
	}
	return r.setUserRole(ctx, cur, userID, r.defaultRole)
}

func (r *Registry) setUserRole(ctx context.Context, cur *store.User, userID, roleName string) (*store.User, error) {
	if userID == cur.ID {
		o := r.standing(cur)
		o.role = roleName
		if err := r.guard(ctx, cur, o); err != nil {
			return nil, err
		}
	}
	u, err := r.backend.UpdateUser(ctx, userID, store.UserUpdate{Role: &roleName})
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(roleName)
	return u, nil
}

// GrantPermissionToUser adds a direct grant to a user.
func (r *Registry) GrantPermissionToUser(ctx context.Context, actor *store.User, userID, permID string) (*store.User, error) {
	if _, err := r.authorize(ctx, actor, ManagePermissions); err != nil {
		return nil, err
	}
	if _, err := r.backend.GetPermission(ctx, permID); err != nil {
		return nil, err
	}
	return r.backend.AddUserPermission(ctx, userID, permID)
}

// RevokePermissionFromUser removes a direct grant from a user.
func (r *Registry) RevokePermissionFromUser(ctx context.Context, actor *store.User, userID, permID string) (*store.User, error) {
	cur, err := r.authorize(ctx, actor, ManagePermissions)
	if err != nil {
		return nil, err
	}
	if userID == cur.ID {
		o := r.standing(cur)
		o.direct = without(cur.Permissions, permID)
		if err := r.guard(ctx, cur, o); err != nil {
			return nil, err
		}
	}
	return r.backend.RemoveUserPermission(ctx, userID, permID)
}

/* ==== QUERIES ==== */

func (r *Registry) GetRole(ctx context.Context, id string) (*store.Role, error) {
	return r.backend.GetRole(ctx, id)
}

func (r *Registry) GetRoleByName(ctx context.Context, name string) (*store.Role, error) {
	return r.backend.GetRoleByName(ctx, name)
}

func (r *Registry) ListRoles(ctx context.Context) ([]*store.Role, error) {
	return r.backend.ListRoles(ctx)
}

func (r *Registry) GetPermission(ctx context.Context, id string) (*store.Permission, error) {
	return r.backend.GetPermission(ctx, id)
}

func (r *Registry) ListPermissions(ctx context.Context) ([]*store.Permission, error) {
	return r.backend.ListPermissions(ctx)
}

// PermissionsForRole returns the role's permissions through the cache.
func (r *Registry) PermissionsForRole(ctx context.Context, roleName string) ([]*store.Permission, error) {
	perms, err := r.cache.RolePermissions(ctx, roleName)
	if err != nil {
		return nil, err
	}
	return store.ClonePermissions(perms), nil
}

/* ==== BOOTSTRAP ==== */

// Seeds returns the management permissions every deployment needs.
func Seeds() []*store.Permission {
	return []*store.Permission{
		{ID: ManageRoles, Name: "Manage roles", ContextID: ManageRoles, Action: ActionManage, ContextType: ContextSystem},
		{ID: ManagePermissions, Name: "Manage permissions", ContextID: ManagePermissions, Action: ActionManage, ContextType: ContextSystem},
	}
}

// Bootstrap creates the management permissions, the super-authority role and
// the default role when they are missing. It needs no actor and is safe to
// run repeatedly.
func (r *Registry) Bootstrap(ctx context.Context) error {
	for _, p := range Seeds() {
		_, err := r.backend.GetPermission(ctx, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			err = r.backend.CreatePermission(ctx, p)
			if errors.Is(err, store.ErrDuplicate) {
				err = nil
			}
		}
		if err != nil {
			return err
		}
	}
	for _, name := range []string{r.resolver.SuperRole(), r.defaultRole} {
		if name == "" {
			continue
		}
		_, err := r.backend.GetRoleByName(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			err = r.backend.CreateRole(ctx, &store.Role{Name: name, Permissions: []string{}})
			if errors.Is(err, store.ErrDuplicate) {
				err = nil
			}
		}
		if err != nil {
			return err
		}
	}
	r.cache.Clear()
	r.log.Info("permission registry bootstrapped",
		zap.String("super_role", r.resolver.SuperRole()),
		zap.String("default_role", r.defaultRole),
	)
	return nil
}

/* ==== HELPERS ==== */

func (r *Registry) requirePermissions(ctx context.Context, ids []string) error {
	ids = store.DedupeIDs(ids)
	found, err := lookup(ctx, r.backend, ids)
	if err != nil {
		return err
	}
	if len(found) != len(ids) {
		return fmt.Errorf("%w: unknown permission", store.ErrNotFound)
	}
	return nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

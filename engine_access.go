package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/store"
)

/*
====================================
AUTHORIZATION QUERIES
====================================
*/

// CheckPermission decides whether user may perform q. A member of the super
// role is always allowed. A nil user is denied.
//
// The Decision's RateLimited flag is part of the contract and callers must
// deny when it is set, although the engine never sets it today.
func (e *Engine) CheckPermission(ctx context.Context, user *User, q PermissionQuery) (Decision, error) {
	start := time.Now()
	defer e.observe(MetricCheckLatency, start)

	d, err := e.resolver.Check(ctx, user, q)
	if err != nil {
		return Decision{}, err
	}
	if d.Allowed {
		e.metricInc(MetricPermissionAllowed)
	} else {
		e.metricInc(MetricPermissionDenied)
	}
	if d.SelfLockout {
		e.metricInc(MetricSelfLockoutBlocked)
		e.emitAudit(ctx, AuditSelfLockoutBlocked, auditRecord{userID: user.ID}, ErrSelfLockout, func() map[string]string {
			return map[string]string{"action": q.Action, "context_id": q.ContextID, "context_type": q.ContextType}
		})
	}
	return d, nil
}

// IsExempt reports whether user holds the super-authority role.
func (e *Engine) IsExempt(user *User) bool {
	return e.resolver.IsExempt(user)
}

// GetUserPermissions returns the union of user's role and direct grants.
func (e *Engine) GetUserPermissions(ctx context.Context, user *User) ([]*Permission, error) {
	return e.resolver.Permissions(ctx, user)
}

/*
====================================
ROLES
====================================
*/

// CreateRole defines a role. The actor needs manage_roles.
func (e *Engine) CreateRole(ctx context.Context, actor *User, role *Role) (*Role, error) {
	r, err := e.registry.CreateRole(ctx, actor, role)
	e.recordMutation(ctx, "create_role", actor, roleTarget(role), err)
	return r, err
}

// UpdateRole changes a role's description or permission set. Role names are
// immutable.
func (e *Engine) UpdateRole(ctx context.Context, actor *User, id string, upd RoleUpdate) (*Role, error) {
	r, err := e.registry.UpdateRole(ctx, actor, id, upd)
	e.recordMutation(ctx, "update_role", actor, id, err)
	return r, err
}

// DeleteRole removes a role. The super role cannot be deleted.
func (e *Engine) DeleteRole(ctx context.Context, actor *User, id string) error {
	err := e.registry.DeleteRole(ctx, actor, id)
	e.recordMutation(ctx, "delete_role", actor, id, err)
	return err
}

// GetRoleByID returns the role, or nil without error when it does not exist.
func (e *Engine) GetRoleByID(ctx context.Context, id string) (*Role, error) {
	return orNil(e.registry.GetRole(ctx, id))
}

// GetRoleByName returns the role, or nil without error when it does not exist.
func (e *Engine) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return orNil(e.registry.GetRoleByName(ctx, name))
}

// GetAllRoles lists every role.
func (e *Engine) GetAllRoles(ctx context.Context) ([]*Role, error) {
	return e.registry.ListRoles(ctx)
}

// AssignPermissionToRole adds a permission to a role.
func (e *Engine) AssignPermissionToRole(ctx context.Context, actor *User, roleID, permID string) (*Role, error) {
	r, err := e.registry.AssignPermissionToRole(ctx, actor, roleID, permID)
	e.recordMutation(ctx, "assign_permission_to_role", actor, roleID, err)
	return r, err
}

// RemovePermissionFromRole takes a permission away from a role. Removing the
// actor's own last management path returns ErrSelfLockout and changes nothing.
func (e *Engine) RemovePermissionFromRole(ctx context.Context, actor *User, roleID, permID string) (*Role, error) {
	r, err := e.registry.RemovePermissionFromRole(ctx, actor, roleID, permID)
	e.recordMutation(ctx, "remove_permission_from_role", actor, roleID, err)
	return r, err
}

// GetPermissionsForRole resolves a role name to its permissions through the
// cache. An unknown role has no permissions.
func (e *Engine) GetPermissionsForRole(ctx context.Context, roleName string) ([]*Permission, error) {
	return e.registry.PermissionsForRole(ctx, roleName)
}

/*
====================================
PERMISSIONS
====================================
*/

// CreatePermission defines a permission. The actor needs manage_permissions.
func (e *Engine) CreatePermission(ctx context.Context, actor *User, p *Permission) (*Permission, error) {
	out, err := e.registry.CreatePermission(ctx, actor, p)
	e.recordMutation(ctx, "create_permission", actor, permissionTarget(p), err)
	return out, err
}

// UpdatePermission changes a permission definition.
func (e *Engine) UpdatePermission(ctx context.Context, actor *User, id string, upd PermissionUpdate) (*Permission, error) {
	out, err := e.registry.UpdatePermission(ctx, actor, id, upd)
	e.recordMutation(ctx, "update_permission", actor, id, err)
	return out, err
}

// DeletePermission removes a permission and its role assignments.
func (e *Engine) DeletePermission(ctx context.Context, actor *User, id string) error {
	err := e.registry.DeletePermission(ctx, actor, id)
	e.recordMutation(ctx, "delete_permission", actor, id, err)
	return err
}

// GetPermission returns the permission, or nil without error when it does
// not exist.
func (e *Engine) GetPermission(ctx context.Context, id string) (*Permission, error) {
	return orNil(e.registry.GetPermission(ctx, id))
}

// GetAllPermissions lists every permission.
func (e *Engine) GetAllPermissions(ctx context.Context) ([]*Permission, error) {
	return e.registry.ListPermissions(ctx)
}

/*
====================================
USER ASSIGNMENTS
====================================
*/

// AssignRoleToUser sets a user's primary role. Only super-role members may
// hand out the super role.
func (e *Engine) AssignRoleToUser(ctx context.Context, actor *User, userID, roleName string) (*User, error) {
	u, err := e.registry.AssignRoleToUser(ctx, actor, userID, roleName)
	e.recordMutation(ctx, "assign_role_to_user", actor, userID, err)
	return u.Sanitized(), err
}

// RemoveRoleFromUser resets a user to the default role.
func (e *Engine) RemoveRoleFromUser(ctx context.Context, actor *User, userID string) (*User, error) {
	u, err := e.registry.RemoveRoleFromUser(ctx, actor, userID)
	e.recordMutation(ctx, "remove_role_from_user", actor, userID, err)
	return u.Sanitized(), err
}

// GrantPermissionToUser adds a direct grant. The actor needs
// manage_permissions.
func (e *Engine) GrantPermissionToUser(ctx context.Context, actor *User, userID, permID string) (*User, error) {
	u, err := e.registry.GrantPermissionToUser(ctx, actor, userID, permID)
	e.recordMutation(ctx, "grant_permission_to_user", actor, userID, err)
	return u.Sanitized(), err
}

// RevokePermissionFromUser removes a direct grant.
func (e *Engine) RevokePermissionFromUser(ctx context.Context, actor *User, userID, permID string) (*User, error) {
	u, err := e.registry.RevokePermissionFromUser(ctx, actor, userID, permID)
	e.recordMutation(ctx, "revoke_permission_from_user", actor, userID, err)
	return u.Sanitized(), err
}

// recordMutation counts and audits one registry call.
func (e *Engine) recordMutation(ctx context.Context, op string, actor *User, target string, err error) {
	rec := auditRecord{target: target}
	if actor != nil {
		rec.actorID = actor.ID
	}
	meta := func() map[string]string { return map[string]string{"op": op} }

	switch {
	case err == nil:
		e.metricInc(MetricRegistryMutation)
		e.emitAudit(ctx, AuditRegistryMutation, rec, nil, meta)
	case errors.Is(err, ErrSelfLockout):
		e.metricInc(MetricSelfLockoutBlocked)
		e.emitAudit(ctx, AuditSelfLockoutBlocked, rec, err, meta)
	case errors.Is(err, ErrUnauthorized):
		e.metricInc(MetricRegistryUnauthorized)
		e.emitAudit(ctx, AuditPermissionDenied, rec, err, meta)
	default:
		e.emitAudit(ctx, AuditRegistryMutation, rec, err, meta)
	}
}

func roleTarget(r *Role) string {
	if r == nil {
		return ""
	}
	return r.Name
}

func permissionTarget(p *Permission) string {
	if p == nil {
		return ""
	}
	if p.ID != "" {
		return p.ID
	}
	return p.Name
}

func orNil[T any](v *T, err error) (*T, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

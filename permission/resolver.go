package permission

import (
	"context"

	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// Actions.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManage = "manage"
	ActionShare  = "share"
	ActionAccess = "access"
)

// Context types. ContextSystem grants match every context type.
const (
	ContextCollection    = "collection"
	ContextUser          = "user"
	ContextConfiguration = "configuration"
	ContextSystem        = "system"
)

// Management capabilities required by Registry mutations.
const (
	ManageRoles       = "manage_roles"
	ManagePermissions = "manage_permissions"
)

// Query asks whether a principal may perform Action on ContextID.
//
// RequiredRole is the self-lockout hint: when the principal's own role equals
// it and no grant matches, the denial is flagged as a self-lockout.
type Query struct {
	ContextID    string `json:"context_id"`
	Action       string `json:"action"`
	ContextType  string `json:"context_type"`
	RequiredRole string `json:"required_role,omitempty"`
}

// QueryFor builds the query a permission record answers.
func QueryFor(p *store.Permission) Query {
	return Query{
		ContextID:    p.ContextID,
		Action:       p.Action,
		ContextType:  p.ContextType,
		RequiredRole: p.RequiredRole,
	}
}

// ManageQuery is the query for a management capability.
func ManageQuery(capability string) Query {
	return Query{ContextID: capability, Action: ActionManage, ContextType: ContextSystem}
}

// Decision is the outcome of Check.
//
// RateLimited is reserved for throttling and is currently always false;
// callers must still deny when it is set.
type Decision struct {
	Allowed     bool `json:"allowed"`
	RateLimited bool `json:"rate_limited"`
	SelfLockout bool `json:"self_lockout,omitempty"`
}

// Permitted reports whether access should be granted.
func (d Decision) Permitted() bool {
	return d.Allowed && !d.RateLimited
}

// Matches reports whether grant p satisfies q.
func Matches(p *store.Permission, q Query) bool {
	if p.ContextID != q.ContextID || p.Action != q.Action {
		return false
	}
	return p.ContextType == q.ContextType || p.ContextType == ContextSystem
}

// Resolver answers authorization queries.
type Resolver struct {
	cache     *Cache
	perms     Source
	superRole string
	log       *zap.Logger
}

// NewResolver builds a Resolver. Principals whose role is superRole bypass
// every check; an empty superRole disables the bypass.
func NewResolver(cache *Cache, perms Source, superRole string, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{cache: cache, perms: perms, superRole: superRole, log: log.Named("permission")}
}

// SuperRole returns the exempt role name.
func (r *Resolver) SuperRole() string { return r.superRole }

// IsExempt reports whether u bypasses permission checks.
func (r *Resolver) IsExempt(u *store.User) bool {
	return u != nil && r.superRole != "" && u.Role == r.superRole
}

// Permissions returns the union of u's role-derived and direct grants. The
// result is a copy; changing it does not affect later checks.
func (r *Resolver) Permissions(ctx context.Context, u *store.User) ([]*store.Permission, error) {
	if u == nil {
		return nil, nil
	}
	perms, err := r.resolve(ctx, u)
	if err != nil {
		return nil, err
	}
	return store.ClonePermissions(perms), nil
}

// resolve returns cache-owned values and must not leak past this package.
func (r *Resolver) resolve(ctx context.Context, u *store.User) ([]*store.Permission, error) {
	fromRole, err := r.cache.RolePermissions(ctx, u.Role)
	if err != nil {
		return nil, err
	}
	direct, err := lookup(ctx, r.perms, u.Permissions)
	if err != nil {
		return nil, err
	}
	return union(fromRole, direct), nil
}

// Check decides q for u. A nil user is denied. Errors resolving permissions
// are returned with a zero Decision.
func (r *Resolver) Check(ctx context.Context, u *store.User, q Query) (Decision, error) {
	if u == nil {
		return Decision{}, nil
	}
	if r.IsExempt(u) {
		return Decision{Allowed: true}, nil
	}
	perms, err := r.resolve(ctx, u)
	if err != nil {
		return Decision{}, err
	}
	return r.Evaluate(u, perms, q), nil
}

// Evaluate decides q for u against an already resolved permission set. It
// does not apply the exemption; Check does.
func (r *Resolver) Evaluate(u *store.User, perms []*store.Permission, q Query) Decision {
	for _, p := range perms {
		if Matches(p, q) {
			return Decision{Allowed: true}
		}
	}
	if q.RequiredRole != "" && u.Role == q.RequiredRole {
		r.log.Warn("blocked self-lockout",
			zap.String("user_id", u.ID),
			zap.String("role", u.Role),
			zap.String("context_id", q.ContextID),
			zap.String("action", q.Action),
			zap.String("context_type", q.ContextType),
		)
		return Decision{SelfLockout: true}
	}
	return Decision{}
}

func union(a, b []*store.Permission) []*store.Permission {
	out := make([]*store.Permission, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, set := range [][]*store.Permission{a, b} {
		for _, p := range set {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Package permission resolves role and direct permission grants into
// authorization decisions and manages the role and permission definitions
// behind them.
//
// # Components
//
// [Cache] holds each role's flattened permission set, filled lazily from
// storage. [Resolver] answers queries and is the single place that decides
// whether a principal is exempt from checks. [Registry] mutates roles,
// permissions and assignments, authorizing each call through the Resolver and
// invalidating the Cache before it returns.
//
// # Matching
//
// A grant satisfies a query when its context ID and action equal the query's
// and its context type either equals the query's or is "system". System-scoped
// grants are a deliberate wildcard over every context type.
//
// # What this package must NOT do
//
//   - Import authcore, session, or token.
//   - Test for the super-authority role anywhere but [Resolver.IsExempt].
package permission

// Package authcore provides an embeddable authentication and authorization
// engine: password credentials, server-side sessions, single-use tokens and a
// role/permission registry, persisted through one pluggable storage adapter.
//
// Engine methods are safe to call from multiple goroutines once the Engine is
// built through [Builder.Build] or [Open].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the record types and the error taxonomy. Storage lives behind
// store.Adapter with Redis, SQL (PostgreSQL, MySQL, SQLite) and MongoDB
// implementations; the credential, session, token and permission packages
// hold the domain rules and know nothing about each other.
//
// # What this package must NOT do
//
//   - Return a password hash from any Engine method.
//   - Tell an unknown email apart from a wrong password.
//   - Let a registry mutation remove the acting user's own management access.
//   - Run background goroutines other than the optional audit dispatcher;
//     expired records are removed by [Engine.Purge] or the authcore CLI.
//
// # Performance contract
//
// ValidateSession and CheckPermission are the hot paths. ValidateSession
// costs one session read and one user read; CheckPermission is served from
// the role permission cache after the first lookup of a role.
package authcore

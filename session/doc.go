// Package session manages the lifecycle of opaque login sessions on top of a
// store.SessionStore.
//
// # Lifecycle
//
// A session is created Valid with an absolute expiry. Validate resolves it to
// its owning user. Once the expiry has passed the session is Expired and the
// Validate call that observes this deletes the record before returning, so an
// expired identifier never validates twice. Destroy and InvalidateUser end
// sessions explicitly and are idempotent.
//
// # Architecture boundaries
//
// This package owns session identifiers and expiry decisions. It does NOT
// verify passwords, evaluate permissions or sign tickets; those belong to the
// credential, permission and jwt packages and to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or permission (no upward imports).
//   - Log session identifiers.
package session

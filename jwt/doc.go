// Package jwt signs and verifies session tickets: self-describing JWTs that
// wrap a session ID so a host can reject forged or stale values before
// touching storage. A ticket never replaces session validation; it only
// carries the session ID to it.
package jwt

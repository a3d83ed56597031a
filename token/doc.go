// Package token issues and consumes single-use, typed, expiring tokens for
// out-of-band flows such as invitations and password resets.
//
// Validate is read-only and may be called any number of times. Consume is an
// atomic find-and-delete delegated to the storage backend: among concurrent
// consumers of the same token exactly one observes it, and the record is gone
// afterwards whether or not it had already expired.
package token

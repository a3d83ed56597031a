// Package credential owns user records and password verification.
//
// Passwords are hashed with a fixed [password.Params] before they reach
// storage. Login failures have one shape: an unknown email, a missing
// password, an active lockout and a wrong password all cost one Argon2id
// verification and return [ErrInvalidCredentials].
//
// Session and token cleanup after Delete or SetBlocked belongs to the
// caller; this package touches only the user record.
package credential

// Package password hashes and verifies passwords with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash use unpadded standard base64, as in the reference encoder.
//
// # Concurrency
//
// Argon2id is deliberately expensive. A [Hasher] runs at most
// Params.Concurrency derivations at a time; further callers wait on a
// weighted semaphore and give up when their context ends.
//
// # Upgrades
//
// [Hasher.NeedsRehash] reports whether a stored hash was produced with weaker
// parameters than the current ones, so callers can re-hash after the next
// successful verification.
//
// This package never logs, stores or returns plaintext.
package password

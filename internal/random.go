package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// SecretSize is the entropy, in bytes, of session IDs and one-time tokens.
const SecretSize = 32

// ErrMalformedSecret is returned by ParseSecret for values that cannot have
// been produced by NewSecret.
var ErrMalformedSecret = errors.New("malformed secret")

// NewSecret returns SecretSize random bytes, base64url encoded without
// padding. The result is safe in cookies, URLs and Redis keys.
func NewSecret() (string, error) {
	var raw [SecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ParseSecret checks the shape of a value returned by NewSecret.
func ParseSecret(s string) ([]byte, error) {
	if len(s) != base64.RawURLEncoding.EncodedLen(SecretSize) {
		return nil, ErrMalformedSecret
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrMalformedSecret
	}
	return raw, nil
}

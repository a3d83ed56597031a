package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrMalformedHash is returned for strings that are not Argon2id PHC.
	ErrMalformedHash = errors.New("password: malformed argon2id hash")
	// ErrIncompatibleVersion is returned for PHC strings of another Argon2 version.
	ErrIncompatibleVersion = errors.New("password: incompatible argon2 version")
)

var b64 = base64.RawStdEncoding

// encoded is the parsed form of a PHC string.
type encoded struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (e *encoded) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, e.memory, e.time, e.threads,
		b64.EncodeToString(e.salt), b64.EncodeToString(e.key))
}

func decode(s string) (*encoded, error) {
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return nil, ErrIncompatibleVersion
	}

	e := &encoded{}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &e.memory, &e.time, &e.threads); err != nil {
		return nil, ErrMalformedHash
	}
	if e.memory < minMemory || e.time < 1 || e.threads < 1 {
		return nil, ErrMalformedHash
	}

	var err error
	// Accept padded encodings written by other tools.
	if e.salt, err = b64.DecodeString(strings.TrimRight(fields[4], "=")); err != nil || len(e.salt) < minSalt {
		return nil, ErrMalformedHash
	}
	if e.key, err = b64.DecodeString(strings.TrimRight(fields[5], "=")); err != nil || len(e.key) < minKey {
		return nil, ErrMalformedHash
	}
	return e, nil
}

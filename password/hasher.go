package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const (
	minMemory = 8 * 1024
	minSalt   = 16
	minKey    = 16
)

// Params fixes the Argon2id cost. Callers never choose parameters per call,
// so a request cannot downgrade the work factor.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// Concurrency caps simultaneous derivations. Zero means GOMAXPROCS.
	Concurrency int
}

// DefaultParams follows the OWASP Argon2id baseline.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate rejects parameters below the safe floor.
func (p Params) Validate() error {
	switch {
	case p.Memory < minMemory:
		return fmt.Errorf("password: memory must be >= %d KiB", minMemory)
	case p.Time < 1:
		return errors.New("password: time must be >= 1")
	case p.Parallelism < 1:
		return errors.New("password: parallelism must be >= 1")
	case p.SaltLength < minSalt:
		return fmt.Errorf("password: salt length must be >= %d", minSalt)
	case p.KeyLength < minKey:
		return fmt.Errorf("password: key length must be >= %d", minKey)
	case p.Concurrency < 0:
		return errors.New("password: concurrency must be >= 0")
	}
	return nil
}

// Hasher derives and checks Argon2id hashes on a bounded pool.
type Hasher struct {
	params Params
	pool   *semaphore.Weighted
	dummy  *encoded
}

// NewHasher validates p and prepares the pool.
func NewHasher(p Params) (*Hasher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Concurrency == 0 {
		p.Concurrency = runtime.GOMAXPROCS(0)
	}
	h := &Hasher{
		params: p,
		pool:   semaphore.NewWeighted(int64(p.Concurrency)),
	}

	// The dummy target has the live parameters, so a miss costs as much as
	// a real verification.
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	h.dummy = &encoded{
		memory:  p.Memory,
		time:    p.Time,
		threads: p.Parallelism,
		salt:    salt,
		key:     make([]byte, p.KeyLength),
	}
	return h, nil
}

// Params returns the configured parameters.
func (h *Hasher) Params() Params { return h.params }

func (h *Hasher) derive(ctx context.Context, plain string, e *encoded, keyLen uint32) ([]byte, error) {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.pool.Release(1)
	return argon2.IDKey([]byte(plain), e.salt, e.time, e.memory, e.threads, keyLen), nil
}

// Hash returns a PHC string for plain. Plain bytes are used as given, with
// no Unicode normalization.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	e := &encoded{
		memory:  h.params.Memory,
		time:    h.params.Time,
		threads: h.params.Parallelism,
		salt:    salt,
	}
	key, err := h.derive(ctx, plain, e, h.params.KeyLength)
	if err != nil {
		return "", err
	}
	e.key = key
	return e.String(), nil
}

// Verify reports whether plain matches hash. The stored hash's own
// parameters are used, so older hashes keep verifying after an upgrade.
func (h *Hasher) Verify(ctx context.Context, plain, hash string) (bool, error) {
	e, err := decode(hash)
	if err != nil {
		return false, err
	}
	key, err := h.derive(ctx, plain, e, uint32(len(e.key)))
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(key, e.key) == 1, nil
}

// DummyVerify burns one verification's worth of work and always fails. It
// keeps the cost of an unknown-account login equal to a wrong password.
func (h *Hasher) DummyVerify(ctx context.Context, plain string) error {
	key, err := h.derive(ctx, plain, h.dummy, uint32(len(h.dummy.key)))
	if err != nil {
		return err
	}
	subtle.ConstantTimeCompare(key, h.dummy.key)
	return nil
}

// NeedsRehash reports whether hash was produced with weaker parameters than
// the current ones. Unparseable hashes always need a rehash.
func (h *Hasher) NeedsRehash(hash string) bool {
	e, err := decode(hash)
	if err != nil {
		return true
	}
	return e.memory < h.params.Memory ||
		e.time < h.params.Time ||
		e.threads < h.params.Parallelism ||
		uint32(len(e.key)) != h.params.KeyLength ||
		uint32(len(e.salt)) < h.params.SaltLength
}

package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the ticket signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrInvalidConfig reports unusable key or lifetime settings.
	ErrInvalidConfig = errors.New("invalid ticket configuration")
	// ErrInvalidTicket covers every ticket that fails parsing or verification.
	ErrInvalidTicket = errors.New("invalid session ticket")
)

// Config controls ticket signing.
//
// For Ed25519, PrivateKey and PublicKey accept raw keys or PEM. For HS256,
// PrivateKey is the shared secret and PublicKey is ignored.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	// MaxTTL caps ticket lifetime below the session's own expiry. Zero means
	// tickets live as long as their session.
	MaxTTL time.Duration
	Leeway time.Duration
	KeyID  string
}

// Claims is the signed ticket payload.
type Claims struct {
	SID string `json:"sid"`
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// Manager issues and parses tickets.
type Manager struct {
	cfg    Config
	method jwt.SigningMethod
	sign   any
	verify any
	now    func() time.Time
}

// NewManager validates cfg and prepares the keys.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway must be within [0, 2m]", ErrInvalidConfig)
	}
	if cfg.MaxTTL < 0 {
		return nil, fmt.Errorf("%w: negative max ttl", ErrInvalidConfig)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{cfg: cfg, now: time.Now}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, fmt.Errorf("%w: hs256 secret must be at least 32 bytes", ErrInvalidConfig)
		}
		m.method = jwt.SigningMethodHS256
		m.sign, m.verify = cfg.PrivateKey, cfg.PrivateKey
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.sign = priv
			m.verify = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.verify = pub
		}
		if m.verify == nil {
			return nil, fmt.Errorf("%w: ed25519 requires a key", ErrInvalidConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}
	return m, nil
}

// SetClock replaces the time source used for issuing and validation.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// CanIssue reports whether the manager holds a signing key.
func (m *Manager) CanIssue() bool { return m.sign != nil }

// Issue signs a ticket for session sid of user uid. The ticket expires with
// the session, or earlier when MaxTTL is set.
func (m *Manager) Issue(sid, uid string, sessionExpires time.Time) (string, error) {
	if m.sign == nil {
		return "", fmt.Errorf("%w: verify-only manager", ErrInvalidConfig)
	}
	now := m.now()
	exp := sessionExpires
	if m.cfg.MaxTTL > 0 && now.Add(m.cfg.MaxTTL).Before(exp) {
		exp = now.Add(m.cfg.MaxTTL)
	}
	claims := Claims{
		SID: sid,
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}
	tok := jwt.NewWithClaims(m.method, claims)
	if m.cfg.KeyID != "" {
		tok.Header["kid"] = m.cfg.KeyID
	}
	return tok.SignedString(m.sign)
}

// Parse verifies a ticket and returns its claims.
func (m *Manager) Parse(ticket string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.cfg.Audience))
	}

	tok, err := jwt.NewParser(opts...).ParseWithClaims(ticket, &Claims{}, func(t *jwt.Token) (any, error) {
		if m.cfg.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != m.cfg.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.verify, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || claims.SID == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrInvalidConfig)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 public key type", ErrInvalidConfig)
	}
	return edKey, nil
}

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// Well-known token types. Any non-empty string is accepted.
const (
	TypeInvite            = "invite"
	TypePasswordReset     = "password_reset"
	TypeEmailVerification = "email_verification"
)

// ErrInvalidRequest rejects an Issue call missing its type or carrying a
// negative TTL.
var ErrInvalidRequest = errors.New("invalid token request")

// Status tells the three outcomes of a token lookup apart.
type Status int

const (
	NotFound Status = iota
	Expired
	Valid
)

func (s Status) String() string {
	switch s {
	case Expired:
		return "expired"
	case Valid:
		return "valid"
	default:
		return "not_found"
	}
}

// MarshalText renders the status in its string form.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of Validate or Consume. OK is true only for Valid.
type Result struct {
	OK     bool   `json:"ok"`
	Status Status `json:"status"`
}

func result(s Status) Result {
	return Result{OK: s == Valid, Status: s}
}

// IssueRequest describes a token to mint. A zero TTL yields a token that is
// already expired, which Consume still removes.
type IssueRequest struct {
	UserID string
	Email  string
	Type   string
	TTL    time.Duration
}

// Manager issues and consumes tokens.
type Manager struct {
	tokens store.TokenStore
	log    *zap.Logger
	now    func() time.Time
}

// NewManager builds a Manager. A nil logger discards output.
func NewManager(tokens store.TokenStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{tokens: tokens, log: log.Named("token"), now: time.Now}
}

// SetClock replaces the time source. It is meant for tests and must be called
// before the Manager is shared.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Issue persists a new token and returns its opaque value.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (string, error) {
	if req.Type == "" || req.TTL < 0 {
		return "", ErrInvalidRequest
	}
	value, err := internal.NewSecret()
	if err != nil {
		return "", fmt.Errorf("token value: %w", err)
	}
	now := store.Timestamp(m.now())
	t := &store.Token{
		Token:     value,
		UserID:    req.UserID,
		Email:     store.NormalizeEmail(req.Email),
		Type:      req.Type,
		Expires:   store.Timestamp(now.Add(req.TTL)),
		CreatedAt: now,
	}
	if err := m.tokens.CreateToken(ctx, t); err != nil {
		return "", err
	}
	m.log.Debug("token issued", zap.String("user_id", req.UserID), zap.String("type", req.Type))
	return value, nil
}

// Validate reports the token's status without changing it.
func (m *Manager) Validate(ctx context.Context, value, userID, tokenType string) (Result, error) {
	t, err := m.tokens.GetToken(ctx, value, userID, tokenType)
	return m.classify(t, err)
}

// Consume removes the token and reports the status it had at removal. Of
// concurrent callers for one token, all but one get NotFound.
func (m *Manager) Consume(ctx context.Context, value, userID, tokenType string) (Result, error) {
	t, err := m.tokens.ConsumeToken(ctx, value, userID, tokenType)
	res, err := m.classify(t, err)
	if err == nil && res.Status != NotFound {
		m.log.Debug("token consumed",
			zap.String("user_id", userID),
			zap.String("type", tokenType),
			zap.Stringer("status", res.Status),
		)
	}
	return res, err
}

func (m *Manager) classify(t *store.Token, err error) (Result, error) {
	if errors.Is(err, store.ErrNotFound) {
		return result(NotFound), nil
	}
	if err != nil {
		return result(NotFound), err
	}
	if t.ExpiredAt(m.now()) {
		return result(Expired), nil
	}
	return result(Valid), nil
}

// DeleteExpired removes every token past its expiry.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	return m.tokens.DeleteExpiredTokens(ctx, m.now())
}

// DeleteForUser removes every token issued to userID.
func (m *Manager) DeleteForUser(ctx context.Context, userID string) (int64, error) {
	return m.tokens.DeleteUserTokens(ctx, userID)
}

// List returns the tokens matching filter, expired ones included.
func (m *Manager) List(ctx context.Context, filter store.TokenFilter) ([]*store.Token, error) {
	return m.tokens.ListTokens(ctx, filter)
}

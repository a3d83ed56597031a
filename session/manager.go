package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

var (
	// ErrExpired is returned by UpdateExpiry for a session past its window.
	ErrExpired = errors.New("session expired")
	// ErrInvalidTTL rejects non-positive lifetimes.
	ErrInvalidTTL = errors.New("session ttl must be positive")
)

// State is the outcome of a session lookup.
type State int

const (
	// Missing means no record exists for the identifier.
	Missing State = iota
	// Valid means the session is live and its user exists.
	Valid
	// Expired means the session was past its window and has been deleted.
	Expired
	// Orphaned means the session is live but its user no longer exists.
	Orphaned
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case Orphaned:
		return "orphaned"
	default:
		return "missing"
	}
}

// Manager creates and validates sessions.
type Manager struct {
	sessions store.SessionStore
	users    store.UserStore
	log      *zap.Logger
	now      func() time.Time
}

// NewManager builds a Manager. A nil logger discards output.
func NewManager(sessions store.SessionStore, users store.UserStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		sessions: sessions,
		users:    users,
		log:      log.Named("session"),
		now:      time.Now,
	}
}

// SetClock replaces the time source. It is meant for tests and must be called
// before the Manager is shared.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create persists a new session for userID expiring ttl from now.
func (m *Manager) Create(ctx context.Context, userID string, ttl time.Duration) (*store.Session, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	now := store.Timestamp(m.now())
	for attempt := 0; ; attempt++ {
		id, err := internal.NewSecret()
		if err != nil {
			return nil, fmt.Errorf("session id: %w", err)
		}
		s := &store.Session{
			ID:        id,
			UserID:    userID,
			Expires:   store.Timestamp(now.Add(ttl)),
			CreatedAt: now,
		}
		err = m.sessions.CreateSession(ctx, s)
		// A collision on 256 random bits means the entropy source is broken;
		// one retry is enough to tell the two apart.
		if errors.Is(err, store.ErrDuplicate) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Validate resolves id to its user. Misses are reported through State with a
// nil error; only backend failures return an error. An expired session is
// deleted before Validate returns.
func (m *Manager) Validate(ctx context.Context, id string) (*store.User, State, error) {
	if id == "" {
		return nil, Missing, nil
	}
	s, err := m.sessions.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, Missing, nil
	}
	if err != nil {
		return nil, Missing, err
	}

	if s.ExpiredAt(m.now()) {
		if err := m.sessions.DeleteSession(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, Expired, err
		}
		return nil, Expired, nil
	}

	u, err := m.users.GetUserByID(ctx, s.UserID)
	if errors.Is(err, store.ErrNotFound) {
		m.log.Warn("session references missing user",
			zap.String("user_id", s.UserID),
			zap.Time("expires", s.Expires),
		)
		return nil, Orphaned, nil
	}
	if err != nil {
		return nil, Missing, err
	}
	return u, Valid, nil
}

// Destroy deletes one session. Destroying an absent session is not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	err := m.sessions.DeleteSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// InvalidateUser deletes every session owned by userID and reports how many
// were removed.
func (m *Manager) InvalidateUser(ctx context.Context, userID string) (int64, error) {
	return m.sessions.DeleteUserSessions(ctx, userID)
}

// UpdateExpiry moves the expiry of a live session. An expired session is
// deleted and reported as ErrExpired; an absent one as store.ErrNotFound.
func (m *Manager) UpdateExpiry(ctx context.Context, id string, expires time.Time) (*store.Session, error) {
	now := m.now()
	s, err := m.sessions.UpdateSessionExpiry(ctx, id, store.Timestamp(expires), now)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// The conditional update refused; tell expired apart from absent.
	cur, gerr := m.sessions.GetSession(ctx, id)
	if errors.Is(gerr, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if gerr != nil {
		return nil, gerr
	}
	if cur.ExpiredAt(now) {
		if derr := m.sessions.DeleteSession(ctx, id); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			return nil, derr
		}
		return nil, ErrExpired
	}
	// Live again means a concurrent writer won; report the current record.
	return cur, nil
}

// Active lists the live sessions of userID.
func (m *Manager) Active(ctx context.Context, userID string) ([]*store.Session, error) {
	return m.sessions.ListUserSessions(ctx, userID, m.now())
}

// DeleteExpired removes every session past its window.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	return m.sessions.DeleteExpiredSessions(ctx, m.now())
}

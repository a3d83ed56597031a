package sqlstore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/store"
	"gorm.io/gorm"
)

/* ==== SESSIONS ==== */

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	row := &sessionRow{
		ID:        sess.ID,
		UserID:    sess.UserID,
		Expires:   store.Timestamp(sess.Expires),
		CreatedAt: store.Timestamp(sess.CreatedAt),
	}
	err := s.db.WithContext(ctx).Create(row).Error
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("create session", err)
}

func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var row sessionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, wrap("get session", err)
	}
	return row.session(), nil
}

// UpdateSessionExpiry is a conditional UPDATE guarded by expires > now.
func (s *Store) UpdateSessionExpiry(ctx context.Context, id string, expires, now time.Time) (*store.Session, error) {
	expires = store.Timestamp(expires)
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND expires > ?", id, store.Timestamp(now)).
		Update("expires", expires)
	if res.Error != nil {
		return nil, wrap("update session expiry", res.Error)
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		// MySQL reports zero affected rows when the value is unchanged.
		if sess.ExpiredAt(now) || !sess.Expires.Equal(expires) {
			return nil, store.ErrNotFound
		}
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionRow{})
	if res.Error != nil {
		return wrap("delete session", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&sessionRow{})
	if res.Error != nil {
		return 0, wrap("delete user sessions", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) ListUserSessions(ctx context.Context, userID string, now time.Time) ([]*store.Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires > ?", userID, store.Timestamp(now)).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("list user sessions", err)
	}
	out := make([]*store.Session, len(rows))
	for i := range rows {
		out[i] = rows[i].session()
	}
	return out, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires <= ?", store.Timestamp(now)).Delete(&sessionRow{})
	if res.Error != nil {
		return 0, wrap("delete expired sessions", res.Error)
	}
	return res.RowsAffected, nil
}

/* ==== TOKENS ==== */

func (s *Store) CreateToken(ctx context.Context, t *store.Token) error {
	row := &tokenRow{
		Token:     t.Token,
		UserID:    t.UserID,
		Email:     t.Email,
		Type:      t.Type,
		Expires:   store.Timestamp(t.Expires),
		CreatedAt: store.Timestamp(t.CreatedAt),
	}
	err := s.db.WithContext(ctx).Create(row).Error
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("create token", err)
}

func (s *Store) GetToken(ctx context.Context, token, userID, tokenType string) (*store.Token, error) {
	var row tokenRow
	err := s.db.WithContext(ctx).
		Where("token = ? AND user_id = ? AND type = ?", token, userID, tokenType).
		Take(&row).Error
	if err != nil {
		return nil, wrap("get token", err)
	}
	return row.token(), nil
}

// ConsumeToken emulates find-and-delete: the row is read, then deleted with
// the same key predicate. Only the caller whose DELETE removes the row wins;
// a racing caller's DELETE affects zero rows and reports not found.
func (s *Store) ConsumeToken(ctx context.Context, token, userID, tokenType string) (*store.Token, error) {
	var consumed *store.Token
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row tokenRow
		where := []any{"token = ? AND user_id = ? AND type = ?", token, userID, tokenType}
		if err := tx.Where(where[0], where[1:]...).Take(&row).Error; err != nil {
			return err
		}
		res := tx.Where(where[0], where[1:]...).Delete(&tokenRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return gorm.ErrRecordNotFound
		}
		consumed = row.token()
		return nil
	})
	if err != nil {
		return nil, wrap("consume token", err)
	}
	return consumed, nil
}

func (s *Store) DeleteUserTokens(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&tokenRow{})
	if res.Error != nil {
		return 0, wrap("delete user tokens", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires <= ?", store.Timestamp(now)).Delete(&tokenRow{})
	if res.Error != nil {
		return 0, wrap("delete expired tokens", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) ListTokens(ctx context.Context, filter store.TokenFilter) ([]*store.Token, error) {
	q := s.db.WithContext(ctx).Model(&tokenRow{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Email != "" {
		q = q.Where("email = ?", store.NormalizeEmail(filter.Email))
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	var rows []tokenRow
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, wrap("list tokens", err)
	}
	out := make([]*store.Token, len(rows))
	for i := range rows {
		out[i] = rows[i].token()
	}
	return out, nil
}

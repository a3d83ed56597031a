package redisstore

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func fieldString(v any) string {
	s, _ := v.(string)
	return s
}

func (s *Store) createRecord(ctx context.Context, op, key, ownerKey, expiryKey, member string, expires time.Time, fields ...any) error {
	args := append([]any{member, millis(expires), millis(expires.Add(s.retention))}, fields...)
	res, err := createRecordLua.Run(ctx, s.rdb, []string{key, ownerKey, expiryKey}, args...).Int()
	if err != nil {
		return wrap(op, err)
	}
	if res == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) deleteRecord(ctx context.Context, op, key, expiryKey, member, ownerPrefix, expiredAt string) (bool, error) {
	res, err := deleteRecordLua.Run(ctx, s.rdb, []string{key, expiryKey}, member, ownerPrefix, expiredAt).Int()
	if err != nil {
		return false, wrap(op, err)
	}
	return res == 1, nil
}

// deleteIndexed deletes every record listed in an owner index. Members whose
// record is already gone are removed one by one; the index key itself is
// never dropped, so a record created during the call stays reachable.
func (s *Store) deleteIndexed(ctx context.Context, op, indexKey string, recordKey func(string) string, expiryKey, ownerPrefix string) (int64, error) {
	members, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, wrap(op, err)
	}
	var (
		n     int64
		stale []any
	)
	for _, m := range members {
		ok, err := s.deleteRecord(ctx, op, recordKey(m), expiryKey, m, ownerPrefix, "")
		if err != nil {
			return n, err
		}
		if ok {
			n++
		} else {
			stale = append(stale, m)
		}
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return n, wrap(op, err)
		}
	}
	return n, nil
}

/* ==== SESSIONS ==== */

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	return s.createRecord(ctx, "create session",
		s.sessionKey(sess.ID), s.userSessionsKey(sess.UserID), s.sessionExpiryKey(),
		sess.ID, sess.Expires,
		"user_id", sess.UserID,
		"expires", millis(sess.Expires),
		"created", millis(sess.CreatedAt),
	)
}

func sessionFromHash(id string, h map[string]string) *store.Session {
	return &store.Session{
		ID:        id,
		UserID:    h["user_id"],
		Expires:   parseMillis(h["expires"]),
		CreatedAt: parseMillis(h["created"]),
	}
}

func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	h, err := s.rdb.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, wrap("get session", err)
	}
	if len(h) == 0 {
		return nil, store.ErrNotFound
	}
	return sessionFromHash(id, h), nil
}

func (s *Store) UpdateSessionExpiry(ctx context.Context, id string, expires, now time.Time) (*store.Session, error) {
	res, err := updateSessionExpiryLua.Run(ctx, s.rdb,
		[]string{s.sessionKey(id), s.sessionExpiryKey()},
		id, millis(expires), millis(now), millis(expires.Add(s.retention)),
	).Slice()
	if err != nil {
		return nil, wrap("update session expiry", err)
	}
	if len(res) != 2 {
		return nil, store.ErrNotFound
	}
	return &store.Session{
		ID:        id,
		UserID:    fieldString(res[0]),
		Expires:   store.Timestamp(expires),
		CreatedAt: parseMillis(fieldString(res[1])),
	}, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	ok, err := s.deleteRecord(ctx, "delete session", s.sessionKey(id), s.sessionExpiryKey(), id, s.userSessionsPrefix(), "")
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// DeleteUserSessions removes each indexed session with its own atomic script
// call. A session created concurrently with this call may survive it, but it
// keeps its index entry.
func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	return s.deleteIndexed(ctx, "delete user sessions", s.userSessionsKey(userID), s.sessionKey, s.sessionExpiryKey(), s.userSessionsPrefix())
}

func (s *Store) ListUserSessions(ctx context.Context, userID string, now time.Time) ([]*store.Session, error) {
	indexKey := s.userSessionsKey(userID)
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, wrap("list user sessions", err)
	}
	if len(ids) == 0 {
		return []*store.Session{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("list user sessions", err)
	}

	out := make([]*store.Session, 0, len(ids))
	var stale []any
	for i, cmd := range cmds {
		h, err := cmd.Result()
		if err != nil {
			return nil, wrap("list user sessions", err)
		}
		if len(h) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		sess := sessionFromHash(ids[i], h)
		if sess.ExpiredAt(now) {
			continue
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, indexKey, stale...).Err(); err != nil {
			s.log.Debug("prune session index", zap.String("user_id", userID), zap.Int("stale", len(stale)), zap.Error(err))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.purgeExpired(ctx, "delete expired sessions", s.sessionExpiryKey(), s.sessionKey, s.userSessionsPrefix(), now)
}

/* ==== TOKENS ==== */

func (s *Store) CreateToken(ctx context.Context, t *store.Token) error {
	return s.createRecord(ctx, "create token",
		s.tokenKey(t.Token), s.userTokensKey(t.UserID), s.tokenExpiryKey(),
		t.Token, t.Expires,
		"user_id", t.UserID,
		"email", t.Email,
		"type", t.Type,
		"expires", millis(t.Expires),
		"created", millis(t.CreatedAt),
	)
}

func tokenFromHash(tok string, h map[string]string) *store.Token {
	return &store.Token{
		Token:     tok,
		UserID:    h["user_id"],
		Email:     h["email"],
		Type:      h["type"],
		Expires:   parseMillis(h["expires"]),
		CreatedAt: parseMillis(h["created"]),
	}
}

func (s *Store) GetToken(ctx context.Context, token, userID, tokenType string) (*store.Token, error) {
	h, err := s.rdb.HGetAll(ctx, s.tokenKey(token)).Result()
	if err != nil {
		return nil, wrap("get token", err)
	}
	if len(h) == 0 || h["user_id"] != userID || h["type"] != tokenType {
		return nil, store.ErrNotFound
	}
	return tokenFromHash(token, h), nil
}

func (s *Store) ConsumeToken(ctx context.Context, token, userID, tokenType string) (*store.Token, error) {
	res, err := consumeTokenLua.Run(ctx, s.rdb,
		[]string{s.tokenKey(token), s.tokenExpiryKey()},
		token, userID, tokenType, s.userTokensPrefix(),
	).Slice()
	if err != nil {
		return nil, wrap("consume token", err)
	}
	if len(res) != 5 {
		return nil, store.ErrNotFound
	}
	return &store.Token{
		Token:     token,
		UserID:    fieldString(res[0]),
		Email:     fieldString(res[1]),
		Type:      fieldString(res[2]),
		Expires:   parseMillis(fieldString(res[3])),
		CreatedAt: parseMillis(fieldString(res[4])),
	}, nil
}

func (s *Store) DeleteUserTokens(ctx context.Context, userID string) (int64, error) {
	return s.deleteIndexed(ctx, "delete user tokens", s.userTokensKey(userID), s.tokenKey, s.tokenExpiryKey(), s.userTokensPrefix())
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	return s.purgeExpired(ctx, "delete expired tokens", s.tokenExpiryKey(), s.tokenKey, s.userTokensPrefix(), now)
}

func (s *Store) ListTokens(ctx context.Context, filter store.TokenFilter) ([]*store.Token, error) {
	var (
		toks []string
		err  error
	)
	if filter.UserID != "" {
		toks, err = s.rdb.SMembers(ctx, s.userTokensKey(filter.UserID)).Result()
	} else {
		toks, err = s.rdb.ZRange(ctx, s.tokenExpiryKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, wrap("list tokens", err)
	}
	if len(toks) == 0 {
		return []*store.Token{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(toks))
	for i, tok := range toks {
		cmds[i] = pipe.HGetAll(ctx, s.tokenKey(tok))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("list tokens", err)
	}

	out := make([]*store.Token, 0, len(toks))
	for i, cmd := range cmds {
		h, err := cmd.Result()
		if err != nil {
			return nil, wrap("list tokens", err)
		}
		if len(h) == 0 {
			continue
		}
		t := tokenFromHash(toks[i], h)
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// purgeExpired walks the expiry index up to now and deletes each record that
// is still expired when its script runs.
func (s *Store) purgeExpired(ctx context.Context, op, expiryKey string, recordKey func(string) string, ownerPrefix string, now time.Time) (int64, error) {
	members, err := s.rdb.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, wrap(op, err)
	}
	cutoff := millis(now)
	var n int64
	for _, m := range members {
		ok, err := s.deleteRecord(ctx, op, recordKey(m), expiryKey, m, ownerPrefix, cutoff)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

package mongostore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type sessionDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Expires   time.Time `bson:"expires"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d *sessionDoc) session() *store.Session {
	return &store.Session{ID: d.ID, UserID: d.UserID, Expires: utc(d.Expires), CreatedAt: utc(d.CreatedAt)}
}

type tokenDoc struct {
	Token     string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Email     string    `bson:"email"`
	Type      string    `bson:"type"`
	Expires   time.Time `bson:"expires"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d *tokenDoc) token() *store.Token {
	t := store.Token(*d)
	t.Expires = utc(t.Expires)
	t.CreatedAt = utc(t.CreatedAt)
	return &t
}

/* ==== SESSIONS ==== */

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	doc := &sessionDoc{
		ID:        sess.ID,
		UserID:    sess.UserID,
		Expires:   store.Timestamp(sess.Expires),
		CreatedAt: store.Timestamp(sess.CreatedAt),
	}
	_, err := s.coll(sessionsColl).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return wrap("create session", err)
}

func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var doc sessionDoc
	if err := s.coll(sessionsColl).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrap("get session", err)
	}
	return doc.session(), nil
}

func (s *Store) UpdateSessionExpiry(ctx context.Context, id string, expires, now time.Time) (*store.Session, error) {
	var doc sessionDoc
	err := s.coll(sessionsColl).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "expires": bson.M{"$gt": store.Timestamp(now)}},
		bson.M{"$set": bson.M{"expires": store.Timestamp(expires)}},
		afterUpdate(),
	).Decode(&doc)
	if err != nil {
		return nil, wrap("update session expiry", err)
	}
	return doc.session(), nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.coll(sessionsColl).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap("delete session", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	res, err := s.coll(sessionsColl).DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, wrap("delete user sessions", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) ListUserSessions(ctx context.Context, userID string, now time.Time) ([]*store.Session, error) {
	cur, err := s.coll(sessionsColl).Find(ctx,
		bson.M{"user_id": userID, "expires": bson.M{"$gt": store.Timestamp(now)}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, wrap("list user sessions", err)
	}
	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap("list user sessions", err)
	}
	out := make([]*store.Session, len(docs))
	for i := range docs {
		out[i] = docs[i].session()
	}
	return out, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.coll(sessionsColl).DeleteMany(ctx, bson.M{"expires": bson.M{"$lte": store.Timestamp(now)}})
	if err != nil {
		return 0, wrap("delete expired sessions", err)
	}
	return res.DeletedCount, nil
}

/* ==== TOKENS ==== */

func (s *Store) CreateToken(ctx context.Context, t *store.Token) error {
	doc := &tokenDoc{
		Token:     t.Token,
		UserID:    t.UserID,
		Email:     t.Email,
		Type:      t.Type,
		Expires:   store.Timestamp(t.Expires),
		CreatedAt: store.Timestamp(t.CreatedAt),
	}
	_, err := s.coll(tokensColl).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return wrap("create token", err)
}

func tokenKey(token, userID, tokenType string) bson.M {
	return bson.M{"_id": token, "user_id": userID, "type": tokenType}
}

func (s *Store) GetToken(ctx context.Context, token, userID, tokenType string) (*store.Token, error) {
	var doc tokenDoc
	if err := s.coll(tokensColl).FindOne(ctx, tokenKey(token, userID, tokenType)).Decode(&doc); err != nil {
		return nil, wrap("get token", err)
	}
	return doc.token(), nil
}

// ConsumeToken is a server-side find-and-delete; exactly one caller receives
// the document.
func (s *Store) ConsumeToken(ctx context.Context, token, userID, tokenType string) (*store.Token, error) {
	var doc tokenDoc
	if err := s.coll(tokensColl).FindOneAndDelete(ctx, tokenKey(token, userID, tokenType)).Decode(&doc); err != nil {
		return nil, wrap("consume token", err)
	}
	return doc.token(), nil
}

func (s *Store) DeleteUserTokens(ctx context.Context, userID string) (int64, error) {
	res, err := s.coll(tokensColl).DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, wrap("delete user tokens", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.coll(tokensColl).DeleteMany(ctx, bson.M{"expires": bson.M{"$lte": store.Timestamp(now)}})
	if err != nil {
		return 0, wrap("delete expired tokens", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) ListTokens(ctx context.Context, filter store.TokenFilter) ([]*store.Token, error) {
	q := bson.M{}
	if filter.UserID != "" {
		q["user_id"] = filter.UserID
	}
	if filter.Email != "" {
		q["email"] = store.NormalizeEmail(filter.Email)
	}
	if filter.Type != "" {
		q["type"] = filter.Type
	}
	cur, err := s.coll(tokensColl).Find(ctx, q, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, wrap("list tokens", err)
	}
	var docs []tokenDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap("list tokens", err)
	}
	out := make([]*store.Token, len(docs))
	for i := range docs {
		out[i] = docs[i].token()
	}
	return out, nil
}

package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type userDoc struct {
	ID               string    `bson:"_id"`
	Email            string    `bson:"email"`
	PasswordHash     string    `bson:"password_hash"`
	Role             string    `bson:"role"`
	Permissions      []string  `bson:"permissions"`
	Username         string    `bson:"username"`
	FirstName        string    `bson:"first_name"`
	LastName         string    `bson:"last_name"`
	Locale           string    `bson:"locale"`
	Avatar           string    `bson:"avatar"`
	LastActiveAt     time.Time `bson:"last_active_at"`
	LastAuthMethod   string    `bson:"last_auth_method"`
	FailedAttempts   int       `bson:"failed_attempts"`
	Blocked          bool      `bson:"blocked"`
	LockoutUntil     time.Time `bson:"lockout_until"`
	ResetToken       string    `bson:"reset_token"`
	ResetRequestedAt time.Time `bson:"reset_requested_at"`
	TwoFactorEnabled bool      `bson:"two_factor_enabled"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func (d *userDoc) user() *store.User {
	u := store.User(*d)
	u.LastActiveAt = utc(u.LastActiveAt)
	u.LockoutUntil = utc(u.LockoutUntil)
	u.ResetRequestedAt = utc(u.ResetRequestedAt)
	u.CreatedAt = utc(u.CreatedAt)
	u.UpdatedAt = utc(u.UpdatedAt)
	if len(u.Permissions) == 0 {
		u.Permissions = nil
	}
	return &u
}

// userFields maps a partial update onto a $set document.
func userFields(upd store.UserUpdate) bson.M {
	set := bson.M{}
	put := func(key string, ok bool, v any) {
		if ok {
			set[key] = v
		}
	}
	if upd.Email != nil {
		set["email"] = store.NormalizeEmail(*upd.Email)
	}
	if upd.Permissions != nil {
		set["permissions"] = append([]string{}, (*upd.Permissions)...)
	}
	put("password_hash", upd.PasswordHash != nil, deref(upd.PasswordHash))
	put("role", upd.Role != nil, deref(upd.Role))
	put("username", upd.Username != nil, deref(upd.Username))
	put("first_name", upd.FirstName != nil, deref(upd.FirstName))
	put("last_name", upd.LastName != nil, deref(upd.LastName))
	put("locale", upd.Locale != nil, deref(upd.Locale))
	put("avatar", upd.Avatar != nil, deref(upd.Avatar))
	put("last_auth_method", upd.LastAuthMethod != nil, deref(upd.LastAuthMethod))
	put("reset_token", upd.ResetToken != nil, deref(upd.ResetToken))
	put("failed_attempts", upd.FailedAttempts != nil, deref(upd.FailedAttempts))
	put("blocked", upd.Blocked != nil, deref(upd.Blocked))
	put("two_factor_enabled", upd.TwoFactorEnabled != nil, deref(upd.TwoFactorEnabled))
	put("last_active_at", upd.LastActiveAt != nil, store.Timestamp(deref(upd.LastActiveAt)))
	put("lockout_until", upd.LockoutUntil != nil, store.Timestamp(deref(upd.LockoutUntil)))
	put("reset_requested_at", upd.ResetRequestedAt != nil, store.Timestamp(deref(upd.ResetRequestedAt)))
	return set
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = store.NormalizeEmail(u.Email)
	now := store.Timestamp(time.Now())
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	doc := userDoc(*u)
	if doc.Permissions == nil {
		doc.Permissions = []string{}
	}
	_, err := s.coll(usersColl).InsertOne(ctx, &doc)
	if mongo.IsDuplicateKeyError(err) {
		// Either the unique email index or _id collided.
		if n, cerr := s.coll(usersColl).CountDocuments(ctx, bson.M{"email": u.Email}); cerr == nil && n > 0 {
			return store.ErrDuplicateEmail
		}
		return store.ErrDuplicate
	}
	return wrap("create user", err)
}

func (s *Store) findUser(ctx context.Context, op string, filter bson.M) (*store.User, error) {
	var doc userDoc
	if err := s.coll(usersColl).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, wrap(op, err)
	}
	return doc.user(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.findUser(ctx, "get user", bson.M{"_id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.findUser(ctx, "get user by email", bson.M{"email": store.NormalizeEmail(email)})
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) (*store.User, error) {
	set := userFields(upd)
	set["updated_at"] = store.Timestamp(time.Now())

	var doc userDoc
	err := s.coll(usersColl).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, afterUpdate()).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil, store.ErrDuplicateEmail
	}
	if err != nil {
		return nil, wrap("update user", err)
	}
	return doc.user(), nil
}

func (s *Store) AddUserPermission(ctx context.Context, id, permID string) (*store.User, error) {
	return s.updateUser(ctx, "add user permission", id, bson.M{
		"$addToSet": bson.M{"permissions": permID},
		"$set":      bson.M{"updated_at": store.Timestamp(time.Now())},
	})
}

func (s *Store) RemoveUserPermission(ctx context.Context, id, permID string) (*store.User, error) {
	return s.updateUser(ctx, "remove user permission", id, bson.M{
		"$pull": bson.M{"permissions": permID},
		"$set":  bson.M{"updated_at": store.Timestamp(time.Now())},
	})
}

func (s *Store) updateUser(ctx context.Context, op, id string, update bson.M) (*store.User, error) {
	var doc userDoc
	if err := s.coll(usersColl).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, afterUpdate()).Decode(&doc); err != nil {
		return nil, wrap(op, err)
	}
	return doc.user(), nil
}

// RecordFailedLogin increments the counter and, once it reaches maxAttempts,
// resets it and sets the lockout in a second conditional update.
func (s *Store) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (*store.User, error) {
	var doc userDoc
	err := s.coll(usersColl).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"failed_attempts": 1},
			"$set": bson.M{"updated_at": store.Timestamp(time.Now())},
		},
		afterUpdate(),
	).Decode(&doc)
	if err != nil {
		return nil, wrap("record failed login", err)
	}
	if maxAttempts <= 0 || doc.FailedAttempts < maxAttempts {
		return doc.user(), nil
	}

	err = s.coll(usersColl).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "failed_attempts": bson.M{"$gte": maxAttempts}},
		bson.M{"$set": bson.M{"failed_attempts": 0, "lockout_until": store.Timestamp(lockUntil)}},
		afterUpdate(),
	).Decode(&doc)
	if err != nil {
		// Lost to a concurrent reset; report current state.
		if errors.Is(err, mongo.ErrNoDocuments) {
			return s.GetUserByID(ctx, id)
		}
		return nil, wrap("record failed login", err)
	}
	return doc.user(), nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.coll(usersColl).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap("delete user", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func userFilter(f store.UserFilter) bson.M {
	q := bson.M{}
	if f.Role != "" {
		q["role"] = f.Role
	}
	if f.Email != "" {
		q["email"] = store.NormalizeEmail(f.Email)
	}
	if f.Blocked != nil {
		q["blocked"] = *f.Blocked
	}
	return q
}

func (s *Store) ListUsers(ctx context.Context, filter store.UserFilter, opts store.ListOptions) ([]*store.User, error) {
	field, ok := store.UserSortFields[opts.SortBy]
	if !ok {
		field = "created_at"
	}
	dir := 1
	if opts.Descending {
		dir = -1
	}
	find := options.Find().SetSort(bson.D{{Key: field, Value: dir}, {Key: "_id", Value: dir}})
	if opts.Skip > 0 {
		find.SetSkip(int64(opts.Skip))
	}
	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}

	cur, err := s.coll(usersColl).Find(ctx, userFilter(filter), find)
	if err != nil {
		return nil, wrap("list users", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap("list users", err)
	}
	out := make([]*store.User, len(docs))
	for i := range docs {
		out[i] = docs[i].user()
	}
	return out, nil
}

func (s *Store) CountUsers(ctx context.Context, filter store.UserFilter) (int64, error) {
	n, err := s.coll(usersColl).CountDocuments(ctx, userFilter(filter))
	return n, wrap("count users", err)
}

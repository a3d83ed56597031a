package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const (
	usersColl       = "users"
	sessionsColl    = "sessions"
	tokensColl      = "tokens"
	rolesColl       = "roles"
	permissionsColl = "permissions"
	documentPrefix  = "doc_"
)

// Store implements store.Adapter on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	owned  bool
}

var _ store.Adapter = (*Store)(nil)
var _ store.Migrator = (*Store)(nil)

// New wraps a connected client. Close leaves the client open.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Open connects to uri under policy and selects database.
func Open(ctx context.Context, uri, database string, policy store.RetryPolicy, log *zap.Logger) (*Store, error) {
	if database == "" {
		return nil, fmt.Errorf("%w: mongo database name is required", store.ErrInvalidArgument)
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(5 * time.Second))
	if err != nil {
		return nil, store.Backend("connect mongo", err)
	}
	err = store.Connect(ctx, policy, log, "mongo", func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s := New(client, database)
	s.owned = true
	return s, nil
}

// Migrate creates the indexes the adapter relies on for uniqueness and
// purge scans.
func (s *Store) Migrate(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		usersColl: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "role", Value: 1}}},
		},
		sessionsColl: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "expires", Value: 1}}},
		},
		tokensColl: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "type", Value: 1}}},
			{Keys: bson.D{{Key: "expires", Value: 1}}},
		},
		rolesColl: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return store.Backend("migrate "+coll, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx, nil))
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return store.Backend(op, err)
}

func afterUpdate() *options.FindOneAndUpdateOptionsBuilder {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

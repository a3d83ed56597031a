package mongostore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type roleDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Permissions []string  `bson:"permissions"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d *roleDoc) role() *store.Role {
	r := store.Role(*d)
	if r.Permissions == nil {
		r.Permissions = []string{}
	}
	r.CreatedAt = utc(r.CreatedAt)
	r.UpdatedAt = utc(r.UpdatedAt)
	return &r
}

type permissionDoc struct {
	ID           string `bson:"_id"`
	Name         string `bson:"name"`
	ContextID    string `bson:"context_id"`
	Action       string `bson:"action"`
	ContextType  string `bson:"context_type"`
	RequiredRole string `bson:"required_role"`
	Description  string `bson:"description"`
}

/* ==== ROLES ==== */

func (s *Store) CreateRole(ctx context.Context, r *store.Role) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := store.Timestamp(time.Now())
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Permissions = store.DedupeIDs(r.Permissions)

	doc := roleDoc(*r)
	_, err := s.coll(rolesColl).InsertOne(ctx, &doc)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return wrap("create role", err)
}

func (s *Store) findRole(ctx context.Context, op string, filter bson.M) (*store.Role, error) {
	var doc roleDoc
	if err := s.coll(rolesColl).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, wrap(op, err)
	}
	return doc.role(), nil
}

func (s *Store) GetRole(ctx context.Context, id string) (*store.Role, error) {
	return s.findRole(ctx, "get role", bson.M{"_id": id})
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*store.Role, error) {
	return s.findRole(ctx, "get role by name", bson.M{"name": name})
}

func (s *Store) updateRole(ctx context.Context, op, id string, update bson.M) (*store.Role, error) {
	var doc roleDoc
	if err := s.coll(rolesColl).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, afterUpdate()).Decode(&doc); err != nil {
		return nil, wrap(op, err)
	}
	return doc.role(), nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd store.RoleUpdate) (*store.Role, error) {
	set := bson.M{"updated_at": store.Timestamp(time.Now())}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.Permissions != nil {
		set["permissions"] = store.DedupeIDs(*upd.Permissions)
	}
	return s.updateRole(ctx, "update role", id, bson.M{"$set": set})
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.coll(rolesColl).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap("delete role", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*store.Role, error) {
	cur, err := s.coll(rolesColl).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, wrap("list roles", err)
	}
	var docs []roleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap("list roles", err)
	}
	out := make([]*store.Role, len(docs))
	for i := range docs {
		out[i] = docs[i].role()
	}
	return out, nil
}

func (s *Store) AddRolePermission(ctx context.Context, roleID, permID string) (*store.Role, error) {
	return s.updateRole(ctx, "add role permission", roleID, bson.M{
		"$addToSet": bson.M{"permissions": permID},
		"$set":      bson.M{"updated_at": store.Timestamp(time.Now())},
	})
}

func (s *Store) RemoveRolePermission(ctx context.Context, roleID, permID string) (*store.Role, error) {
	return s.updateRole(ctx, "remove role permission", roleID, bson.M{
		"$pull": bson.M{"permissions": permID},
		"$set":  bson.M{"updated_at": store.Timestamp(time.Now())},
	})
}

/* ==== PERMISSIONS ==== */

func (s *Store) CreatePermission(ctx context.Context, p *store.Permission) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ContextID == "" {
		p.ContextID = p.ID
	}
	doc := permissionDoc(*p)
	_, err := s.coll(permissionsColl).InsertOne(ctx, &doc)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return wrap("create permission", err)
}

func (s *Store) GetPermission(ctx context.Context, id string) (*store.Permission, error) {
	var doc permissionDoc
	if err := s.coll(permissionsColl).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrap("get permission", err)
	}
	p := store.Permission(doc)
	return &p, nil
}

func (s *Store) UpdatePermission(ctx context.Context, id string, upd store.PermissionUpdate) (*store.Permission, error) {
	set := bson.M{}
	for key, v := range map[string]*string{
		"name":          upd.Name,
		"context_id":    upd.ContextID,
		"action":        upd.Action,
		"context_type":  upd.ContextType,
		"required_role": upd.RequiredRole,
		"description":   upd.Description,
	} {
		if v != nil {
			set[key] = *v
		}
	}
	if len(set) == 0 {
		return s.GetPermission(ctx, id)
	}
	var doc permissionDoc
	err := s.coll(permissionsColl).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, afterUpdate()).Decode(&doc)
	if err != nil {
		return nil, wrap("update permission", err)
	}
	p := store.Permission(doc)
	return &p, nil
}

// DeletePermission also pulls the permission from every role.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	res, err := s.coll(permissionsColl).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrap("delete permission", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	_, err = s.coll(rolesColl).UpdateMany(ctx,
		bson.M{"permissions": id},
		bson.M{"$pull": bson.M{"permissions": id}},
	)
	return wrap("delete permission", err)
}

func (s *Store) ListPermissions(ctx context.Context, ids ...string) ([]*store.Permission, error) {
	filter := bson.M{}
	if len(ids) > 0 {
		filter["_id"] = bson.M{"$in": ids}
	}
	cur, err := s.coll(permissionsColl).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrap("list permissions", err)
	}
	var docs []permissionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap("list permissions", err)
	}
	out := make([]*store.Permission, len(docs))
	for i := range docs {
		p := store.Permission(docs[i])
		out[i] = &p
	}
	return out, nil
}

/* ==== DOCUMENTS ==== */

func (s *Store) docColl(name string) (*mongo.Collection, error) {
	if !store.ValidCollection(name) {
		return nil, fmt.Errorf("%w: collection %q", store.ErrInvalidArgument, name)
	}
	return s.coll(documentPrefix + name), nil
}

func docFilter(f store.Filter) bson.M {
	if f == nil {
		return bson.M{}
	}
	return bson.M(f)
}

// fromRaw converts BSON into a plain document through relaxed extended JSON
// so numbers and nested values look the same as on other backends.
func fromRaw(raw bson.Raw) (store.Document, error) {
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, err
	}
	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) InsertDocument(ctx context.Context, collection string, doc store.Document) (store.Document, error) {
	c, err := s.docColl(collection)
	if err != nil {
		return nil, err
	}
	doc = store.PrepareInsert(doc)
	if _, err := c.InsertOne(ctx, bson.M(doc)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicate
		}
		return nil, wrap("insert document", err)
	}
	return s.FindDocument(ctx, collection, doc.ID())
}

func (s *Store) FindDocument(ctx context.Context, collection, id string) (store.Document, error) {
	c, err := s.docColl(collection)
	if err != nil {
		return nil, err
	}
	raw, err := c.FindOne(ctx, bson.M{store.IDField: id}).Raw()
	if err != nil {
		return nil, wrap("find document", err)
	}
	doc, err := fromRaw(raw)
	if err != nil {
		return nil, store.Backend("find document", err)
	}
	return doc, nil
}

func (s *Store) FindDocuments(ctx context.Context, collection string, filter store.Filter, opts store.ListOptions) ([]store.Document, error) {
	c, err := s.docColl(collection)
	if err != nil {
		return nil, err
	}
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = store.IDField
	}
	dir := 1
	if opts.Descending {
		dir = -1
	}
	find := options.Find().SetSort(bson.D{{Key: sortBy, Value: dir}})
	if opts.Skip > 0 {
		find.SetSkip(int64(opts.Skip))
	}
	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}
	cur, err := c.Find(ctx, docFilter(filter), find)
	if err != nil {
		return nil, wrap("find documents", err)
	}
	defer cur.Close(ctx)

	out := []store.Document{}
	for cur.Next(ctx) {
		doc, err := fromRaw(cur.Current)
		if err != nil {
			return nil, store.Backend("find documents", err)
		}
		out = append(out, doc)
	}
	return out, wrap("find documents", cur.Err())
}

func (s *Store) UpdateDocument(ctx context.Context, collection, id string, set store.Document) (store.Document, error) {
	c, err := s.docColl(collection)
	if err != nil {
		return nil, err
	}
	fields := bson.M{}
	for k, v := range set {
		if k != store.IDField {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return s.FindDocument(ctx, collection, id)
	}
	raw, err := c.FindOneAndUpdate(ctx, bson.M{store.IDField: id}, bson.M{"$set": fields}, afterUpdate()).Raw()
	if err != nil {
		return nil, wrap("update document", err)
	}
	doc, err := fromRaw(raw)
	if err != nil {
		return nil, store.Backend("update document", err)
	}
	return doc, nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	c, err := s.docColl(collection)
	if err != nil {
		return err
	}
	res, err := c.DeleteOne(ctx, bson.M{store.IDField: id})
	if err != nil {
		return wrap("delete document", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountDocuments(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	c, err := s.docColl(collection)
	if err != nil {
		return 0, err
	}
	n, err := c.CountDocuments(ctx, docFilter(filter))
	return n, wrap("count documents", err)
}

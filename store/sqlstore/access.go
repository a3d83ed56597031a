package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

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

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&roleRow{}).Where("id = ? OR name = ?", r.ID, r.Name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return store.ErrDuplicate
		}
		row := &roleRow{ID: r.ID, Name: r.Name, Description: r.Description, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return insertRolePermissions(tx, r.ID, r.Permissions, now)
	})
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("create role", err)
}

func insertRolePermissions(tx *gorm.DB, roleID string, perms []string, now time.Time) error {
	if len(perms) == 0 {
		return nil
	}
	rows := make([]rolePermissionRow, len(perms))
	for i, p := range perms {
		// Preserve insertion order through created_at.
		rows[i] = rolePermissionRow{RoleID: roleID, PermissionID: p, CreatedAt: now.Add(time.Duration(i) * time.Millisecond)}
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *Store) loadRole(tx *gorm.DB, op, column, value string) (*store.Role, error) {
	var row roleRow
	if err := tx.Where(column+" = ?", value).Take(&row).Error; err != nil {
		return nil, wrap(op, err)
	}
	var perms []string
	err := tx.Model(&rolePermissionRow{}).
		Where("role_id = ?", row.ID).
		Order("created_at").Order("permission_id").
		Pluck("permission_id", &perms).Error
	if err != nil {
		return nil, wrap(op, err)
	}
	if perms == nil {
		perms = []string{}
	}
	return &store.Role{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Permissions: perms,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (*store.Role, error) {
	return s.loadRole(s.db.WithContext(ctx), "get role", "id", id)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*store.Role, error) {
	return s.loadRole(s.db.WithContext(ctx), "get role by name", "name", name)
}

// UpdateRole replaces the description and, when given, the whole permission
// set inside one transaction.
func (s *Store) UpdateRole(ctx context.Context, id string, upd store.RoleUpdate) (*store.Role, error) {
	now := store.Timestamp(time.Now())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cols := map[string]any{"updated_at": now}
		if upd.Description != nil {
			cols["description"] = *upd.Description
		}
		res := tx.Model(&roleRow{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if upd.Permissions == nil {
			return nil
		}
		if err := tx.Where("role_id = ?", id).Delete(&rolePermissionRow{}).Error; err != nil {
			return err
		}
		return insertRolePermissions(tx, id, store.DedupeIDs(*upd.Permissions), now)
	})
	if err != nil {
		return nil, wrap("update role", err)
	}
	return s.GetRole(ctx, id)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", id).Delete(&rolePermissionRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&roleRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return wrap("delete role", err)
}

func (s *Store) ListRoles(ctx context.Context) ([]*store.Role, error) {
	db := s.db.WithContext(ctx)
	var rows []roleRow
	if err := db.Order("name").Find(&rows).Error; err != nil {
		return nil, wrap("list roles", err)
	}
	var links []rolePermissionRow
	if err := db.Order("created_at").Order("permission_id").Find(&links).Error; err != nil {
		return nil, wrap("list roles", err)
	}
	byRole := make(map[string][]string, len(rows))
	for _, l := range links {
		byRole[l.RoleID] = append(byRole[l.RoleID], l.PermissionID)
	}
	out := make([]*store.Role, len(rows))
	for i, row := range rows {
		perms := byRole[row.ID]
		if perms == nil {
			perms = []string{}
		}
		out[i] = &store.Role{
			ID:          row.ID,
			Name:        row.Name,
			Description: row.Description,
			Permissions: perms,
			CreatedAt:   row.CreatedAt.UTC(),
			UpdatedAt:   row.UpdatedAt.UTC(),
		}
	}
	return out, nil
}

func (s *Store) AddRolePermission(ctx context.Context, roleID, permID string) (*store.Role, error) {
	now := store.Timestamp(time.Now())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&roleRow{}).Where("id = ?", roleID).Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		link := &rolePermissionRow{RoleID: roleID, PermissionID: permID, CreatedAt: now}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(link).Error
	})
	if err != nil {
		return nil, wrap("add role permission", err)
	}
	return s.GetRole(ctx, roleID)
}

func (s *Store) RemoveRolePermission(ctx context.Context, roleID, permID string) (*store.Role, error) {
	now := store.Timestamp(time.Now())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&roleRow{}).Where("id = ?", roleID).Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("role_id = ? AND permission_id = ?", roleID, permID).Delete(&rolePermissionRow{}).Error
	})
	if err != nil {
		return nil, wrap("remove role permission", err)
	}
	return s.GetRole(ctx, roleID)
}

/* ==== PERMISSIONS ==== */

func (s *Store) CreatePermission(ctx context.Context, p *store.Permission) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ContextID == "" {
		p.ContextID = p.ID
	}
	row := &permissionRow{
		ID:           p.ID,
		Name:         p.Name,
		ContextID:    p.ContextID,
		Action:       p.Action,
		ContextType:  p.ContextType,
		RequiredRole: p.RequiredRole,
		Description:  p.Description,
	}
	err := s.db.WithContext(ctx).Create(row).Error
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("create permission", err)
}

func (s *Store) GetPermission(ctx context.Context, id string) (*store.Permission, error) {
	var row permissionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, wrap("get permission", err)
	}
	return row.permission(), nil
}

func (s *Store) UpdatePermission(ctx context.Context, id string, upd store.PermissionUpdate) (*store.Permission, error) {
	cols := permissionColumns(upd)
	if len(cols) > 0 {
		if err := s.db.WithContext(ctx).Model(&permissionRow{}).Where("id = ?", id).Updates(cols).Error; err != nil {
			return nil, wrap("update permission", err)
		}
	}
	return s.GetPermission(ctx, id)
}

// DeletePermission also drops the permission from every role.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&permissionRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("permission_id = ?", id).Delete(&rolePermissionRow{}).Error
	})
	return wrap("delete permission", err)
}

func (s *Store) ListPermissions(ctx context.Context, ids ...string) ([]*store.Permission, error) {
	q := s.db.WithContext(ctx).Model(&permissionRow{})
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	var rows []permissionRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, wrap("list permissions", err)
	}
	out := make([]*store.Permission, len(rows))
	for i := range rows {
		out[i] = rows[i].permission()
	}
	return out, nil
}

/* ==== DOCUMENTS ==== */

func checkCollection(name string) error {
	if !store.ValidCollection(name) {
		return fmt.Errorf("%w: collection %q", store.ErrInvalidArgument, name)
	}
	return nil
}

func decodeDocument(row *documentRow) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal(row.Data, &doc); err != nil {
		return nil, err
	}
	doc[store.IDField] = row.ID
	return doc, nil
}

func (s *Store) InsertDocument(ctx context.Context, collection string, doc store.Document) (store.Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	doc = store.PrepareInsert(doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	now := store.Timestamp(time.Now())
	row := &documentRow{Collection: collection, ID: doc.ID(), Data: datatypes.JSON(data), CreatedAt: now, UpdatedAt: now}
	err = s.db.WithContext(ctx).Create(row).Error
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicate
	}
	if err != nil {
		return nil, wrap("insert document", err)
	}
	return decodeDocument(row)
}

func (s *Store) FindDocument(ctx context.Context, collection, id string) (store.Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	var row documentRow
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Take(&row).Error
	if err != nil {
		return nil, wrap("find document", err)
	}
	doc, err := decodeDocument(&row)
	if err != nil {
		return nil, store.Backend("find document", err)
	}
	return doc, nil
}

// scanCollection loads every document of a collection. Filters are matched
// in Go so that semantics agree across backends regardless of JSON operator
// support in the SQL dialect.
func (s *Store) scanCollection(ctx context.Context, op, collection string, filter store.Filter) ([]store.Document, error) {
	var rows []documentRow
	if err := s.db.WithContext(ctx).Where("collection = ?", collection).Order("id").Find(&rows).Error; err != nil {
		return nil, wrap(op, err)
	}
	out := make([]store.Document, 0, len(rows))
	for i := range rows {
		doc, err := decodeDocument(&rows[i])
		if err != nil {
			return nil, store.Backend(op, err)
		}
		if store.MatchDocument(doc, filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *Store) FindDocuments(ctx context.Context, collection string, filter store.Filter, opts store.ListOptions) ([]store.Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	docs, err := s.scanCollection(ctx, "find documents", collection, filter)
	if err != nil {
		return nil, err
	}
	if opts.SortBy == "" {
		opts.SortBy = store.IDField
	}
	store.SortDocuments(docs, opts)
	return store.Page(docs, opts), nil
}

func (s *Store) UpdateDocument(ctx context.Context, collection, id string, set store.Document) (store.Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	var out store.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentRow
		q := tx
		if tx.Dialector.Name() != DriverSQLite {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.Where("collection = ? AND id = ?", collection, id).Take(&row).Error
		if err != nil {
			return err
		}
		doc, err := decodeDocument(&row)
		if err != nil {
			return err
		}
		for k, v := range set {
			if k == store.IDField {
				continue
			}
			doc[k] = v
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		err = tx.Model(&documentRow{}).
			Where("collection = ? AND id = ?", collection, id).
			Updates(map[string]any{"data": datatypes.JSON(data), "updated_at": store.Timestamp(time.Now())}).Error
		if err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, wrap("update document", err)
	}
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Delete(&documentRow{})
	if res.Error != nil {
		return wrap("delete document", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountDocuments(ctx context.Context, collection string, filter store.Filter) (int64, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		var n int64
		err := s.db.WithContext(ctx).Model(&documentRow{}).Where("collection = ?", collection).Count(&n).Error
		return n, wrap("count documents", err)
	}
	docs, err := s.scanCollection(ctx, "count documents", collection, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

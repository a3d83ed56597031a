package sqlstore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

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

	row := toUserRow(u)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userRow{}).Where("email = ?", row.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return store.ErrDuplicateEmail
		}
		return tx.Create(row).Error
	})
	if isUniqueViolation(err) {
		return store.ErrDuplicateEmail
	}
	return wrap("create user", err)
}

func (s *Store) getUser(ctx context.Context, op, column, value string) (*store.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where(column+" = ?", value).Take(&row).Error; err != nil {
		return nil, wrap(op, err)
	}
	return row.user(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, "get user", "id", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, "get user by email", "email", store.NormalizeEmail(email))
}

// UpdateUser issues a single UPDATE so the row is never half-written.
func (s *Store) UpdateUser(ctx context.Context, id string, upd store.UserUpdate) (*store.User, error) {
	cols := userColumns(upd)
	cols["updated_at"] = store.Timestamp(time.Now())

	err := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Updates(cols).Error
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicateEmail
	}
	if err != nil {
		return nil, wrap("update user", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (*store.User, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&userRow{}).Where("id = ?", id).Updates(map[string]any{
			"failed_attempts": gorm.Expr("failed_attempts + ?", 1),
			"updated_at":      store.Timestamp(time.Now()),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if maxAttempts <= 0 {
			return nil
		}
		return tx.Model(&userRow{}).
			Where("id = ? AND failed_attempts >= ?", id, maxAttempts).
			Updates(map[string]any{
				"failed_attempts": 0,
				"lockout_until":   optTime(lockUntil),
			}).Error
	})
	if err != nil {
		return nil, wrap("record failed login", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) AddUserPermission(ctx context.Context, id, permID string) (*store.User, error) {
	return s.editUserPermissions(ctx, "add user permission", id, func(perms []string) []string {
		return store.DedupeIDs(append(perms, permID))
	})
}

func (s *Store) RemoveUserPermission(ctx context.Context, id, permID string) (*store.User, error) {
	return s.editUserPermissions(ctx, "remove user permission", id, func(perms []string) []string {
		kept := make([]string, 0, len(perms))
		for _, p := range perms {
			if p != permID {
				kept = append(kept, p)
			}
		}
		return kept
	})
}

// editUserPermissions rewrites the JSON grant column under the row's write
// lock. The leading UPDATE takes the lock before the read, which also
// serializes writers on SQLite where FOR UPDATE is unavailable.
func (s *Store) editUserPermissions(ctx context.Context, op, id string, edit func([]string) []string) (*store.User, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&userRow{}).Where("id = ?", id).Update("updated_at", store.Timestamp(time.Now()))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		q := tx
		if tx.Dialector.Name() != DriverSQLite {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row userRow
		if err := q.Select("permissions").Where("id = ?", id).Take(&row).Error; err != nil {
			return err
		}
		perms := edit(append([]string{}, row.Permissions...))
		return tx.Model(&userRow{}).Where("id = ?", id).
			Update("permissions", datatypes.JSONSlice[string](perms)).Error
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&userRow{})
	if res.Error != nil {
		return wrap("delete user", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) userQuery(ctx context.Context, filter store.UserFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&userRow{})
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.Email != "" {
		q = q.Where("email = ?", store.NormalizeEmail(filter.Email))
	}
	if filter.Blocked != nil {
		q = q.Where("blocked = ?", *filter.Blocked)
	}
	return q
}

func (s *Store) ListUsers(ctx context.Context, filter store.UserFilter, opts store.ListOptions) ([]*store.User, error) {
	column, ok := store.UserSortFields[opts.SortBy]
	if !ok {
		column = "created_at"
	}
	q := s.userQuery(ctx, filter).
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: opts.Descending}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: opts.Descending})
	if opts.Skip > 0 {
		q = q.Offset(opts.Skip)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var rows []userRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("list users", err)
	}
	out := make([]*store.User, len(rows))
	for i := range rows {
		out[i] = rows[i].user()
	}
	return out, nil
}

func (s *Store) CountUsers(ctx context.Context, filter store.UserFilter) (int64, error) {
	var n int64
	if err := s.userQuery(ctx, filter).Count(&n).Error; err != nil {
		return 0, wrap("count users", err)
	}
	return n, nil
}

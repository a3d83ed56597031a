// Package sqlstore implements store.Adapter on PostgreSQL, MySQL or SQLite
// through gorm.
//
// Role permissions live in a join table ordered by insertion. Token
// consumption reads and deletes the row inside one transaction and only
// succeeds when the DELETE removes exactly one row, so concurrent consumers
// cannot both win. Generic documents are stored as JSON in a single table
// keyed by (collection, id).
package sqlstore

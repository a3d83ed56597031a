// Package store defines the storage contract shared by every authcore backend.
//
// Backends live in sub-packages: redisstore (Redis documents and hashes),
// sqlstore (relational tables through gorm) and mongostore (MongoDB
// collections). Components above this package only see [Adapter].
//
// Every operation is atomic at the single-record level. Absent records are
// reported as [ErrNotFound]; storage failures as [*BackendError], which
// matches [ErrBackend].
package store

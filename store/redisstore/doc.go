// Package redisstore implements store.Adapter on Redis.
//
// Users, roles and permissions are JSON documents behind unique index keys.
// Sessions and tokens are hashes indexed by owner (set) and by expiry (sorted
// set) so purges never scan the keyspace. Multi-key invariants are kept with
// Lua scripts or WATCH/MULTI transactions; token consumption is a single Lua
// find-and-delete.
//
// Expired sessions and tokens stay readable for Options.ExpiredRetention so a
// lookup can tell "expired" apart from "never existed". Redis evicts them
// after that window.
package redisstore

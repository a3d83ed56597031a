// Package internal holds helpers private to authcore.
//
// NewSecret generates session IDs and one-time token values; ParseSecret
// rejects values of the wrong shape before they reach storage.
//
// # Sub-packages
//
//   - audit: asynchronous event dispatch to an AuditSink
//   - logging: zap logger construction from LogConfig
package internal

// Package mongostore implements store.Adapter on MongoDB.
//
// Each record kind has its own collection; generic document collections are
// prefixed with "doc_". Token consumption uses FindOneAndDelete and session
// extension a conditional FindOneAndUpdate, so both are single server-side
// operations. Run Migrate once to create the unique indexes.
package mongostore

// Package localdb defines the narrow contract the coordinator needs
// from the local document store. The store itself — SQL expressions,
// document mutation, authentication — is an external collaborator;
// this package only states the shape the inbound executor and
// recovery coordinator call through, plus two reference adapters
// (memdb, sqlitedb) so the rest of the repo is exercisable end to end.
package localdb

import "context"

// DB is the local database handle a Task.Execute call and the
// recovery coordinator both operate on.
type DB interface {
	// Execute applies a pre-decoded operation to the store on behalf
	// of sender and returns an opaque, serializable result. What
	// "operation" means is entirely up to the caller; DB does not
	// interpret it.
	Execute(ctx context.Context, op interface{}, sender string) (interface{}, error)
	// ClearLevel1Cache drops any request-scoped object cache. The
	// inbound executor calls this after every Execute, success or
	// failure.
	ClearLevel1Cache()
	// Digest returns a cheap content fingerprint used by resync tasks
	// to short-circuit anti-entropy rounds when nothing has changed.
	Digest() string
	Close() error
}

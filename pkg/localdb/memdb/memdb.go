// Package memdb is an in-memory localdb.DB reference adapter backed by
// a github.com/google/btree ordered index, grounded on gyuho-db's
// (etcd) mvcc tree index. It exists for tests and single-process
// demos where a durable store would be overkill.
package memdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/kurahashiryo/orientdb/pkg/localdb"
)

// Operation is the only op type memdb.Store knows how to Execute. A
// Task that wants to run against memdb builds one of these inside its
// own Execute method; memdb never inspects task internals.
type Operation func(s *Store) (interface{}, error)

type item struct {
	key   string
	value []byte
}

func (i item) Less(than btree.Item) bool {
	return i.key < than.(item).key
}

// Store is a sorted in-memory key/value document store.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

var _ localdb.DB = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{tree: btree.New(32)}
}

func (s *Store) Execute(ctx context.Context, op interface{}, sender string) (interface{}, error) {
	fn, ok := op.(Operation)
	if !ok {
		return nil, fmt.Errorf("memdb: unsupported operation type %T", op)
	}
	return fn(s)
}

// Put inserts or overwrites key. Intended for use from inside an
// Operation.
func (s *Store) Put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(item{key: key, value: value})
}

// Get looks up key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := s.tree.Get(item{key: key})
	if found == nil {
		return nil, false
	}
	return found.(item).value, true
}

// Delete removes key, a no-op if absent.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(item{key: key})
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, s.tree.Len())
	s.tree.Ascend(func(it btree.Item) bool {
		keys = append(keys, it.(item).key)
		return true
	})
	return keys
}

func (s *Store) ClearLevel1Cache() {}

// Digest hashes the sorted key/value pairs, giving resync tasks a
// cheap way to tell "nothing changed" from "something changed" (see
// SPEC_FULL.md's supplemented resync-digest feature).
func (s *Store) Digest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, s.tree.Len())
	s.tree.Ascend(func(it btree.Item) bool {
		keys = append(keys, it.(item).key)
		return true
	})
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		v, _ := s.Get(k)
		h.Write([]byte(k))
		h.Write(v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) Close() error { return nil }

// Package boltmap backs clusterprim.Map and clusterprim.Mutex with a
// single embedded github.com/boltdb/bolt database, grounded on
// gyuho-db's (etcd) use of the same library as its MVCC storage
// backend. The undo record is the one entry in this repo that must
// survive a process crash, so it is the one cluster-map entry that
// gets a disk-backed store instead of an in-memory one.
package boltmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boltdb/bolt"

	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
)

// Store owns one bolt.DB file and vends Maps (one bucket per name) and
// Mutexes (exclusion enforced in-process; while a lock is held its
// acquisition time is recorded in the same file, and nothing in this
// module reads that record).
type Store struct {
	db *bolt.DB

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

// Open opens (creating if necessary) the bolt file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltmap: open %s: %w", path, err)
	}
	return &Store{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Map returns a clusterprim.Map backed by the bolt bucket named name,
// creating the bucket on first use.
func (s *Store) Map(name string) (clusterprim.Map, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltmap: create bucket %s: %w", name, err)
	}
	return &boltMap{db: s.db, bucket: name}, nil
}

// Lock returns a clusterprim.Mutex identified by name. Exclusion is
// enforced in-process (one bolt.DB file is opened per node, so the
// lock only needs to serialize goroutines within that node's own
// process); while the lock is held, a lease record holding the
// acquisition time (not the holder's identity) is kept in bolt under
// the lock's name, and Unlock deletes it. The lock is not reentrant: a
// second Lock by the same holder waits until Unlock or the timeout.
func (s *Store) Lock(name string) (clusterprim.Mutex, error) {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()
	return &boltMutex{db: s.db, name: name, guard: l}, nil
}

type boltMap struct {
	db     *bolt.DB
	bucket string
}

func (m *boltMap) Put(ctx context.Context, key string, value []byte) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.bucket))
		if b == nil {
			return fmt.Errorf("boltmap: bucket %s missing", m.bucket)
		}
		return b.Put([]byte(key), value)
	})
}

func (m *boltMap) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.bucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			value = append([]byte(nil), v...)
			found = true
		}
		return nil
	})
	return value, found, err
}

func (m *boltMap) Remove(ctx context.Context, key string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

const leaseBucket = "orientdb.locks"

type boltMutex struct {
	db    *bolt.DB
	name  string
	guard *sync.Mutex

	locked bool
}

func (l *boltMutex) Lock(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.guard.Lock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("boltmap: lock %s timed out after %s", l.name, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	l.locked = true
	_ = l.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(leaseBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(l.name), []byte(time.Now().Format(time.RFC3339Nano)))
	})
	return nil
}

func (l *boltMutex) Unlock() error {
	if !l.locked {
		return errors.New("boltmap: unlock of unlocked mutex")
	}
	l.locked = false
	l.guard.Unlock()
	_ = l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(leaseBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(l.name))
	})
	return nil
}

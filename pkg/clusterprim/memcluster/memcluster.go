// Package memcluster is an in-process reference implementation of
// clusterprim.Primitives, grounded on the replication package's
// StatusStore (a mutex-guarded map) and ClientManager (a mutex-guarded
// registry of per-name handles) from the file-storage codebase this
// module's transport layer was adapted from. It has no cluster
// durability at all — a crash loses everything — which makes it
// exactly right for unit tests that want to exercise the coordinator's
// protocol without a real broker.
package memcluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
)

// Cluster is a single-process clusterprim.Primitives backed by plain
// Go maps and channels, guarded by one mutex per resource kind.
type Cluster struct {
	localNode string

	mu      sync.RWMutex
	queues  map[string]*queue
	maps    map[string]*clusterMap
	locks   map[string]*mutex
	alive   map[string]bool
}

var _ clusterprim.Primitives = (*Cluster)(nil)
var _ clusterprim.Membership = (*Cluster)(nil)

// New creates a Cluster whose local node identity is localNode. All
// nodes are considered alive until SetAlive says otherwise.
func New(localNode string) *Cluster {
	return &Cluster{
		localNode: localNode,
		queues:    make(map[string]*queue),
		maps:      make(map[string]*clusterMap),
		locks:     make(map[string]*mutex),
		alive:     make(map[string]bool),
	}
}

func (c *Cluster) Queue(name string) (clusterprim.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[name]
	if !ok {
		q = newQueue()
		c.queues[name] = q
	}
	return q, nil
}

func (c *Cluster) Map(name string) (clusterprim.Map, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.maps[name]
	if !ok {
		m = &clusterMap{data: make(map[string][]byte)}
		c.maps[name] = m
	}
	return m, nil
}

func (c *Cluster) Lock(name string) (clusterprim.Mutex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	if !ok {
		l = &mutex{ch: make(chan struct{}, 1)}
		c.locks[name] = l
	}
	return l, nil
}

func (c *Cluster) Membership() clusterprim.Membership { return c }

func (c *Cluster) LocalNode() string { return c.localNode }

// SetAlive marks node as alive or dead for subsequent IsAlive calls.
// Unknown nodes default to alive, matching a cluster that hasn't yet
// observed a departure.
func (c *Cluster) SetAlive(node string, alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive[node] = alive
}

func (c *Cluster) IsAlive(node string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	alive, known := c.alive[node]
	if !known {
		return true
	}
	return alive
}

// queue is an unbounded, ordered, in-process FIFO.
type queue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) Offer(ctx context.Context, payload []byte, timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("memcluster: queue closed")
	}
	q.items = append(q.items, payload)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) Take(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, errors.New("memcluster: queue closed")
		}

		select {
		case <-q.notify:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// clusterMap is a mutex-guarded map, the in-process analogue of a
// StatusStore.
type clusterMap struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func (m *clusterMap) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *clusterMap) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *clusterMap) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// mutex is a process-local lock that does not track ownership, so it
// is not reentrant: a second Lock by the same holder waits until
// Unlock or the timeout, and any caller may Unlock it.
type mutex struct {
	ch chan struct{}
}

func (l *mutex) Lock(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("memcluster: lock timeout after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *mutex) Unlock() error {
	select {
	case <-l.ch:
		return nil
	default:
		return errors.New("memcluster: unlock of unlocked mutex")
	}
}

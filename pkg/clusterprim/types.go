// Package clusterprim defines the narrow contracts the coordinator
// needs from the underlying cluster-membership service: durable FIFO
// queues, a cluster-visible map, a cluster-wide mutex, and node-alive
// probing. The coordinator never assumes anything about how these are
// implemented; natscluster and boltmap provide the production adapters
// this repo wires in, memcluster provides an in-process reference used
// by tests.
package clusterprim

import (
	"context"
	"time"
)

// Queue is a cluster-durable FIFO. Offer is bounded by timeout; Take
// blocks until a message is available or ctx is canceled.
type Queue interface {
	Offer(ctx context.Context, payload []byte, timeout time.Duration) error
	Take(ctx context.Context) ([]byte, error)
	Close() error
}

// Map is a cluster-visible keyed store with atomic single-key
// operations. Values are opaque bytes; callers own serialization.
type Map interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Remove(ctx context.Context, key string) error
}

// Mutex is a reentrant, cluster-wide lock identified by name.
type Mutex interface {
	Lock(ctx context.Context, timeout time.Duration) error
	Unlock() error
}

// Membership answers node-alive probes and exposes the local node's
// identity.
type Membership interface {
	IsAlive(node string) bool
	LocalNode() string
}

// Primitives bundles the factories a coordinator needs to name and
// vend cluster resources.
type Primitives interface {
	Queue(name string) (Queue, error)
	Map(name string) (Map, error)
	Lock(name string) (Mutex, error)
	Membership() Membership
}

// RequestQueueName is the node request queue naming scheme.
func RequestQueueName(node, database string) string {
	return "orientdb.node." + node + "." + database + ".request"
}

// ResponseQueueName is the per-node (not per-database) response queue.
func ResponseQueueName(node string) string {
	return "orientdb.node." + node + ".response"
}

// UndoMapName is the cluster-visible undo-record map key namespace.
func UndoMapName(node, database string) string {
	return "orientdb.node." + node + "." + database + ".undo"
}

// BroadcastLockName is the per-database cluster-wide mutex name.
func BroadcastLockName(database string) string {
	return "orientdb.reqlock." + database
}

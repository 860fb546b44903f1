package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kurahashiryo/orientdb/internal/wire"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/localdb"
	"github.com/kurahashiryo/orientdb/pkg/logging"
)

// Registry holds one Worker per database this node replicates —
// bootstrapped and torn down independently, matching the per-database
// executor state the component design calls for rather than a single
// global worker.
type Registry struct {
	node         string
	prims        clusterprim.Primitives
	codec        *wire.Codec
	logger       *logging.Logger
	offerTimeout time.Duration

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewRegistry creates an empty Registry for localNode.
func NewRegistry(localNode string, prims clusterprim.Primitives, codec *wire.Codec, logger *logging.Logger, offerTimeout time.Duration) *Registry {
	return &Registry{
		node:         localNode,
		prims:        prims,
		codec:        codec,
		logger:       logger,
		offerTimeout: offerTimeout,
		workers:      make(map[string]*Worker),
	}
}

// Open creates and starts a Worker for database against db, unless
// one is already running for it.
func (r *Registry) Open(ctx context.Context, database string, db localdb.DB) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[database]; ok {
		return w, nil
	}

	w, err := New(r.node, database, r.prims, db, r.codec, r.logger, r.offerTimeout)
	if err != nil {
		return nil, fmt.Errorf("executor: open worker for %s: %w", database, err)
	}
	w.Start(ctx)
	r.workers[database] = w
	return w, nil
}

// Worker returns the worker for database, if one is running.
func (r *Registry) Worker(database string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[database]
	return w, ok
}

// Close stops and drops the worker for database, if any.
func (r *Registry) Close(database string) {
	r.mu.Lock()
	w, ok := r.workers[database]
	delete(r.workers, database)
	r.mu.Unlock()
	if ok {
		w.Stop()
	}
}

// CloseAll stops every running worker.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	workers := make([]*Worker, 0, len(r.workers))
	for k, w := range r.workers {
		workers = append(workers, w)
		delete(r.workers, k)
	}
	r.mu.Unlock()
	for _, w := range workers {
		w.Stop()
	}
}

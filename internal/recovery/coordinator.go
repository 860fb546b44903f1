// Package recovery implements the Recovery Coordinator: startup undo
// replay, the periodic anti-entropy resync timer, and the membership-
// churn operations that keep a database's partition config in sync
// with who is actually in the cluster.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kurahashiryo/orientdb/internal/dispatch"
	"github.com/kurahashiryo/orientdb/internal/executor"
	"github.com/kurahashiryo/orientdb/internal/wire"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/localdb"
	"github.com/kurahashiryo/orientdb/pkg/logging"
	"github.com/kurahashiryo/orientdb/pkg/metrics"
	"github.com/kurahashiryo/orientdb/pkg/partition"
	"github.com/kurahashiryo/orientdb/pkg/request"
	"github.com/kurahashiryo/orientdb/pkg/task"
)

const undoRecordKey = "current"

// PrimeTaskTag is the type tag Coordinator installs as a worker's
// wait_for_task_type filter during bootstrap, cleared the moment the
// worker dequeues a matching priming task (before it executes).
const PrimeTaskTag = task.ConfigureDatabaseTypeTag

// Coordinator runs configure_database at startup, the periodic resync
// timer, and membership-churn handling for one database.
type Coordinator struct {
	localNode string
	database  string

	registry   *executor.Registry
	dispatcher *dispatch.Dispatcher
	resolver   *partition.StaticResolver
	prims      clusterprim.Primitives
	codec      *wire.Codec
	logger     *logging.Logger

	resyncEvery time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator for database.
func New(localNode, database string, registry *executor.Registry, dispatcher *dispatch.Dispatcher, resolver *partition.StaticResolver, prims clusterprim.Primitives, codec *wire.Codec, logger *logging.Logger, resyncEvery time.Duration) *Coordinator {
	return &Coordinator{
		localNode:   localNode,
		database:    database,
		registry:    registry,
		dispatcher:  dispatcher,
		resolver:    resolver,
		prims:       prims,
		codec:       codec,
		logger:      logger,
		resyncEvery: resyncEvery,
	}
}

// ConfigureDatabase runs the startup sequence: replay the undo record
// if present, optionally drain pending queue entries, then start the
// inbound-executor worker. Unless unqueuePending is set, it installs
// PrimeTaskTag as the worker's priming filter; the filter clears the
// moment a matching priming task is dequeued, and every non-matching
// task dequeued before that is dropped.
// set_online is a separate, independently callable operation — see
// Worker.SetOnline.
func (c *Coordinator) ConfigureDatabase(ctx context.Context, db localdb.DB, restoreMessages, unqueuePending bool) error {
	undoMap, err := c.prims.Map(clusterprim.UndoMapName(c.localNode, c.database))
	if err != nil {
		return fmt.Errorf("recovery: open undo map: %w", err)
	}

	if raw, found, err := undoMap.Get(ctx, undoRecordKey); err != nil {
		return fmt.Errorf("recovery: read undo record: %w", err)
	} else if found {
		if restoreMessages {
			if err := c.replay(ctx, db, raw); err != nil && c.logger != nil {
				c.logger.Warn("undo record replay failed", zap.Error(err))
			}
		}
		if err := undoMap.Remove(ctx, undoRecordKey); err != nil && c.logger != nil {
			c.logger.Warn("failed to clear undo record after replay", zap.Error(err))
		}
		metrics.UndoReplaysTotal.WithLabelValues(c.database).Inc()
	}

	w, err := c.registry.Open(ctx, c.database, db)
	if err != nil {
		return fmt.Errorf("recovery: start worker: %w", err)
	}

	if !unqueuePending {
		// Skip (drop) arbitrary tasks until a priming task is dequeued
		// and clears the filter; unqueuePending skips this and drains
		// whatever is already queued immediately.
		w.SetWaitForTaskType(PrimeTaskTag)
	}

	return nil
}

// replay re-executes the persisted undo record exactly once, directly
// against db, bypassing the queue (the original sender's
// ResponseManager has long since timed out, so no response is sent).
func (c *Coordinator) replay(ctx context.Context, db localdb.DB, raw []byte) error {
	req, err := c.codec.DecodeRequest(raw)
	if err != nil {
		return fmt.Errorf("decode undo record: %w", err)
	}
	_, err = req.Task.Execute(ctx, db, req.Sender)
	db.ClearLevel1Cache()
	return err
}

// StartResync launches the periodic anti-entropy timer. Quorum
// failures during resync are swallowed (best-effort), matching the
// component design's treatment of resync as lossy-tolerant.
func (c *Coordinator) StartResync(ctx context.Context) {
	if c.resyncEvery <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.resyncEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.runResyncRound(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Coordinator) runResyncRound(ctx context.Context) {
	req := &request.Request{
		ID:   fmt.Sprintf("resync-%s-%d", c.database, time.Now().UnixNano()),
		Mode: request.ModeResponse,
		Task: task.NewResyncTask(),
	}
	_, err := c.dispatcher.Send(ctx, req, c.database, "")
	metrics.ResyncRoundsTotal.WithLabelValues(c.database).Inc()
	if err != nil && c.logger != nil {
		c.logger.Warn("resync round failed, swallowing", zap.String("database", c.database), zap.Error(err))
	}
}

// Stop cancels the resync timer and waits for it to exit.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// CheckLocalInConfiguration adds the local node to any partition
// missing it, applies the result to this node's resolver, and
// publishes it serialized via broadcastConfig.
func (c *Coordinator) CheckLocalInConfiguration(ctx context.Context, dbConfig partition.Database) (partition.Database, error) {
	updated, changed := dbConfig.CheckLocalInConfiguration(c.localNode)
	if !changed {
		return dbConfig, nil
	}
	c.resolver.Update(c.database, updated)
	if err := c.broadcastConfig(ctx, updated); err != nil {
		return updated, fmt.Errorf("recovery: broadcast updated configuration: %w", err)
	}
	return updated, nil
}

// RemoveNode removes node from every shard of this database's
// partition config and broadcasts the result. force is accepted for
// symmetry with the component design's signature; this implementation
// always removes regardless of in-flight work, since the inbound
// executor's own ordering guarantees already make a stale member
// harmless once queues stop being addressed to it.
func (c *Coordinator) RemoveNode(ctx context.Context, dbConfig partition.Database, node string, force bool) (partition.Database, error) {
	updated := dbConfig.RemoveNode(node)
	c.resolver.Update(c.database, updated)
	if err := c.broadcastConfig(ctx, updated); err != nil {
		return updated, fmt.Errorf("recovery: broadcast configuration after removing %s: %w", node, err)
	}
	return updated, nil
}

func (c *Coordinator) broadcastConfig(ctx context.Context, dbConfig partition.Database) error {
	bytes, err := dbConfig.Serialize()
	if err != nil {
		return err
	}
	// Config propagation rides the same cluster map primitive the undo
	// record uses, under a map named after this node and database,
	// instead of a dedicated broadcast task type. Nothing in this module
	// reads the entry back or applies it to another node's resolver.
	configMap, err := c.prims.Map(clusterprim.UndoMapName(c.localNode, c.database) + ".config")
	if err != nil {
		return err
	}
	return configMap.Put(ctx, "current", bytes)
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kurahashiryo/orientdb/internal/respmgr"
	"github.com/kurahashiryo/orientdb/internal/wire"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/logging"
	"github.com/kurahashiryo/orientdb/pkg/metrics"
	"github.com/kurahashiryo/orientdb/pkg/partition"
	"github.com/kurahashiryo/orientdb/pkg/request"
)

// Sentinel errors matching the dispatcher's error catalogue.
var (
	ErrNoTargets         = errors.New("dispatch: no targets")
	ErrQuorumUnreachable = errors.New("dispatch: quorum unreachable")
	ErrDispatchFailed    = errors.New("dispatch: broadcast failed")
)

// Dispatcher implements send and send_to_nodes.
type Dispatcher struct {
	localNode     string
	resolver      partition.Resolver
	membership    clusterprim.Membership
	prims         clusterprim.Primitives
	codec         *wire.Codec
	svc           *Service
	logger        *logging.Logger
	offerTimeout  time.Duration
	lockTimeout   time.Duration
}

// New creates a Dispatcher. offerTimeout and lockTimeout are the
// distributed_queue_timeout tunable applied to every queue offer and
// mutex acquisition respectively.
func New(localNode string, resolver partition.Resolver, membership clusterprim.Membership, prims clusterprim.Primitives, codec *wire.Codec, svc *Service, logger *logging.Logger, offerTimeout, lockTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		localNode:    localNode,
		resolver:     resolver,
		membership:   membership,
		prims:        prims,
		codec:        codec,
		svc:          svc,
		logger:       logger,
		offerTimeout: offerTimeout,
		lockTimeout:  lockTimeout,
	}
}

// Send resolves the target node-set for (database, shard) and
// delegates to SendToNodes.
func (d *Dispatcher) Send(ctx context.Context, req *request.Request, database, shard string) (interface{}, error) {
	nodes, err := d.resolver.Nodes(database, shard)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve nodes for %s/%s: %w", database, shard, err)
	}
	return d.SendToNodes(ctx, req, database, shard, nodes)
}

// SendToNodes broadcasts req to nodes and collects the aggregated
// response, per the outbound dispatcher's component design.
func (d *Dispatcher) SendToNodes(ctx context.Context, req *request.Request, database, shard string, nodes []string) (interface{}, error) {
	if len(nodes) == 0 {
		return nil, ErrNoTargets
	}

	cfg, err := d.resolver.Config(database, shard)
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve config for %s/%s: %w", database, shard, err)
	}

	task := req.Task
	kind := quorumKindFor(task.QuorumType())
	rawQuorum := cfg.Quorum(kind)
	quorum, err := downgradeQuorum(rawQuorum, len(nodes), cfg.FailWhenAvailableLessQuorum)
	if err != nil {
		metrics.QuorumShortfallsTotal.WithLabelValues(database, task.QuorumType().String()).Inc()
		return nil, err
	}

	req.Sender = d.localNode
	req.Database = database
	req.Cluster = shard

	lockName := clusterprim.BroadcastLockName(database)
	mutex, err := d.prims.Lock(lockName)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock factory for %s: %v", ErrDispatchFailed, database, err)
	}
	if err := mutex.Lock(ctx, d.lockTimeout); err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", ErrDispatchFailed, database, err)
	}
	// The lock is released as soon as the fan-out loop below finishes
	// offering to every queue, never held across response collection:
	// distributed_queue_timeout bounds the broadcast, not the round trip.

	available := 0
	for _, n := range nodes {
		if d.membership.IsAlive(n) {
			available++
		}
	}
	expectedSync := max(1, min(quorum, available))
	if task.ResultStrategy() == request.ResultUnion {
		expectedSync = available
	}
	waitLocal := contains(nodes, d.localNode) && cfg.ReadYourWrites

	syncTimeout := task.SynchronousTimeout(expectedSync)
	totalTimeout := task.TotalTimeout(len(nodes))

	mgr := respmgr.New(req.ID, expectedSync, quorum, waitLocal, d.localNode, syncTimeout, totalTimeout)
	d.svc.Register(req.ID, mgr)
	req.Stamp()

	metrics.RequestsDispatchedTotal.WithLabelValues(req.Mode.String(), database, d.localNode).Inc()

	envelope, err := d.codec.EncodeRequest(req)
	if err != nil {
		mutex.Unlock()
		d.svc.Unregister(req.ID)
		mgr.Close()
		return nil, fmt.Errorf("%w: encode request %s: %v", ErrDispatchFailed, req.ID, err)
	}

	for _, node := range nodes {
		queue, err := d.prims.Queue(clusterprim.RequestQueueName(node, database))
		if err != nil {
			mutex.Unlock()
			d.svc.Unregister(req.ID)
			mgr.Close()
			return nil, fmt.Errorf("%w: open queue for %s: %v", ErrDispatchFailed, node, err)
		}
		if err := queue.Offer(ctx, envelope, d.offerTimeout); err != nil {
			mutex.Unlock()
			d.svc.Unregister(req.ID)
			mgr.Close()
			return nil, fmt.Errorf("%w: offer to %s: %v", ErrDispatchFailed, node, err)
		}
	}

	mutex.Unlock()

	if req.Mode == request.ModeNoResponse {
		d.svc.Unregister(req.ID)
		mgr.Close()
		return nil, nil
	}

	return d.collect(req, mgr, database, task)
}

func (d *Dispatcher) collect(req *request.Request, mgr *respmgr.Manager, database string, task request.Task) (interface{}, error) {
	defer func() {
		d.svc.Unregister(req.ID)
		mgr.Close()
	}()

	start := time.Now()
	outcome, err := mgr.Wait()
	if err != nil {
		metrics.DispatchErrorsTotal.WithLabelValues(database, "total_timeout").Inc()
		metrics.DispatchDuration.WithLabelValues(database, "total_timeout").Observe(time.Since(start).Seconds())
		return nil, err
	}

	if outcome == respmgr.SyncTimedOut {
		if d.logger != nil {
			d.logger.Warn("synchronous timeout elapsed, returning best-effort aggregation",
				zap.String("requestId", req.ID), zap.String("database", database))
		}
		metrics.DispatchErrorsTotal.WithLabelValues(database, "synchronous_timeout").Inc()
	}

	merger, _ := task.(respmgr.Merger)
	resp, err := mgr.GetResponse(task.ResultStrategy(), merger)
	metrics.DispatchDuration.WithLabelValues(database, "ok").Observe(time.Since(start).Seconds())
	return resp, err
}

func quorumKindFor(qt request.QuorumType) partition.QuorumKind {
	switch qt {
	case request.QuorumRead:
		return partition.KindRead
	case request.QuorumWrite:
		return partition.KindWrite
	case request.QuorumAll:
		return partition.KindAll
	default:
		return partition.KindNone
	}
}

func downgradeQuorum(raw, queueSize int, failWhenShort bool) (int, error) {
	if raw <= queueSize {
		return raw, nil
	}
	if failWhenShort {
		return 0, ErrQuorumUnreachable
	}
	return queueSize, nil
}

func contains(nodes []string, node string) bool {
	for _, n := range nodes {
		if n == node {
			return true
		}
	}
	return false
}

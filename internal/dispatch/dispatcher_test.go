package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurahashiryo/orientdb/internal/wire"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim/memcluster"
	"github.com/kurahashiryo/orientdb/pkg/partition"
	"github.com/kurahashiryo/orientdb/pkg/request"
	"github.com/kurahashiryo/orientdb/pkg/task"
)

func TestQuorumKindFor(t *testing.T) {
	assert.Equal(t, partition.KindRead, quorumKindFor(request.QuorumRead))
	assert.Equal(t, partition.KindWrite, quorumKindFor(request.QuorumWrite))
	assert.Equal(t, partition.KindAll, quorumKindFor(request.QuorumAll))
	assert.Equal(t, partition.KindNone, quorumKindFor(request.QuorumNone))
}

func TestDowngradeQuorum(t *testing.T) {
	q, err := downgradeQuorum(2, 5, false)
	require.NoError(t, err)
	assert.Equal(t, 2, q)

	q, err = downgradeQuorum(5, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 3, q, "quorum larger than the node-set downgrades to queue size when not strict")

	_, err = downgradeQuorum(5, 3, true)
	assert.ErrorIs(t, err, ErrQuorumUnreachable, "strict mode fails instead of downgrading")
}

func newTestDispatcher(t *testing.T, localNode string, cluster *memcluster.Cluster, resolver *partition.StaticResolver) (*Dispatcher, *Service) {
	registry := wire.NewRegistry()
	registry.Register(task.ConfigureDatabaseTypeTag, func() request.Task { return task.NewConfigureDatabaseTask() })
	registry.Register("resync", func() request.Task { return task.NewResyncTask() })
	codec := wire.NewCodec(registry)

	svc, err := NewService(localNode, cluster, codec, nil)
	require.NoError(t, err)

	d := New(localNode, resolver, cluster.Membership(), cluster, codec, svc, nil, time.Second, time.Second)
	return d, svc
}

func singleNodeResolver(database string, node string, readQuorum, writeQuorum int, failWhenShort bool) *partition.StaticResolver {
	return partition.NewStaticResolver(map[string]partition.Database{
		database: {Shards: map[string]partition.Config{
			"": {Nodes: []string{node}, ReadQuorum: readQuorum, WriteQuorum: writeQuorum, FailWhenAvailableLessQuorum: failWhenShort},
		}},
	})
}

func TestSendToNodesNoTargets(t *testing.T) {
	cluster := memcluster.New("node-1")
	resolver := partition.NewStaticResolver(map[string]partition.Database{
		"db": {Shards: map[string]partition.Config{"": {Nodes: []string{}, WriteQuorum: 1}}},
	})
	d, svc := newTestDispatcher(t, "node-1", cluster, resolver)
	defer svc.Close()

	req := &request.Request{ID: "req-1", Mode: request.ModeResponse, Task: task.NewResyncTask()}
	_, err := d.Send(context.Background(), req, "db", "")
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestSendToNodesQuorumUnreachableStrict(t *testing.T) {
	cluster := memcluster.New("node-1")
	resolver := singleNodeResolver("db", "node-1", 1, 5, true)
	d, svc := newTestDispatcher(t, "node-1", cluster, resolver)
	defer svc.Close()

	req := &request.Request{ID: "req-1", Mode: request.ModeResponse, Task: task.NewResyncTask()}
	_, err := d.Send(context.Background(), req, "db", "")
	assert.ErrorIs(t, err, ErrQuorumUnreachable)
}

func TestSendToNodesNoResponseModeReturnsImmediately(t *testing.T) {
	cluster := memcluster.New("node-1")
	resolver := singleNodeResolver("db", "node-1", 1, 1, false)
	d, svc := newTestDispatcher(t, "node-1", cluster, resolver)
	defer svc.Close()

	req := &request.Request{ID: "req-1", Mode: request.ModeNoResponse, Task: task.NewResyncTask()}
	out, err := d.Send(context.Background(), req, "db", "")
	require.NoError(t, err)
	assert.Nil(t, out)
}

// unionTask is a minimal request.Task with ResultStrategy ResultUnion,
// used to exercise the dispatcher's P5 fan-in override: expectedSync
// must become len(available nodes), ignoring the configured quorum.
type unionTask struct {
	task.Base
}

func newUnionTask() *unionTask {
	return &unionTask{Base: task.Base{
		Tag:                 "union-probe",
		Quorum:              request.QuorumWrite,
		Strategy:            request.ResultUnion,
		SyncTimeoutPerNode:  50 * time.Millisecond,
		TotalTimeoutPerNode: 100 * time.Millisecond,
	}}
}

func (t *unionTask) Execute(ctx context.Context, db interface{}, sender string) (interface{}, error) {
	return "union-probe", nil
}

// TestSendToNodesUnionStrategy exercises P5 at the SendToNodes level,
// not just respmgr in isolation: even though write quorum is 1, a
// UNION task must wait for every available node, not just one.
func TestSendToNodesUnionStrategy(t *testing.T) {
	cluster := memcluster.New("node-1")
	nodes := []string{"node-1", "node-2", "node-3"}
	resolver := partition.NewStaticResolver(map[string]partition.Database{
		"db": {Shards: map[string]partition.Config{
			"": {Nodes: nodes, WriteQuorum: 1},
		}},
	})

	registry := wire.NewRegistry()
	registry.Register("union-probe", func() request.Task { return newUnionTask() })
	codec := wire.NewCodec(registry)

	svc, err := NewService("node-1", cluster, codec, nil)
	require.NoError(t, err)
	defer svc.Close()

	d := New("node-1", resolver, cluster.Membership(), cluster, codec, svc, nil, time.Second, time.Second)

	// Every target node answers its own request with a distinct
	// response, simulating each peer's inbound executor.
	for _, node := range nodes {
		node := node
		q, err := cluster.Queue(clusterprim.RequestQueueName(node, "db"))
		require.NoError(t, err)
		go func() {
			raw, err := q.Take(context.Background())
			if err != nil {
				return
			}
			req, err := codec.DecodeRequest(raw)
			if err != nil {
				return
			}
			resp := request.Response{RequestID: req.ID, From: node, To: req.Sender, Payload: node}
			envelope, err := codec.EncodeResponse(resp)
			if err != nil {
				return
			}
			respQueue, err := cluster.Queue(clusterprim.ResponseQueueName(req.Sender))
			if err != nil {
				return
			}
			_ = respQueue.Offer(context.Background(), envelope, time.Second)
		}()
	}

	req := &request.Request{ID: "union-1", Mode: request.ModeResponse, Task: newUnionTask()}
	out, err := d.Send(context.Background(), req, "db", "")
	require.NoError(t, err)

	payloads, ok := out.([]interface{})
	require.True(t, ok, "UNION without a Merger returns the raw payload slice")
	assert.Len(t, payloads, len(nodes), "expected_sync must cover every available node, not just the configured quorum")
}

func TestSendToNodesTotalTimeoutWhenNobodyResponds(t *testing.T) {
	cluster := memcluster.New("node-1")
	resolver := singleNodeResolver("db", "node-1", 1, 1, false)
	registry := wire.NewRegistry()
	registry.Register("resync", func() request.Task { return task.NewResyncTask() })
	codec := wire.NewCodec(registry)
	svc, err := NewService("node-1", cluster, codec, nil)
	require.NoError(t, err)
	defer svc.Close()

	d := New("node-1", resolver, cluster.Membership(), cluster, codec, svc, nil, time.Second, time.Second)

	rt := task.NewResyncTask()
	rt.SyncTimeoutPerNode = 10 * time.Millisecond
	rt.TotalTimeoutPerNode = 20 * time.Millisecond
	req := &request.Request{ID: "req-1", Mode: request.ModeResponse, Task: rt}

	// Drain the request off node-1's own queue without answering, so
	// the response manager never sees a reply and both timeouts run
	// their full course.
	q, err := cluster.Queue(clusterprim.RequestQueueName("node-1", "db"))
	require.NoError(t, err)
	go func() {
		_, _ = q.Take(context.Background())
	}()

	_, err = d.Send(context.Background(), req, "db", "")
	assert.Error(t, err)
}

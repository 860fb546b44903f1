package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurahashiryo/orientdb/internal/wire"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim/memcluster"
	"github.com/kurahashiryo/orientdb/pkg/localdb/memdb"
	"github.com/kurahashiryo/orientdb/pkg/request"
	"github.com/kurahashiryo/orientdb/pkg/task"
)

func newTestCodec() *wire.Codec {
	registry := wire.NewRegistry()
	registry.Register(task.ConfigureDatabaseTypeTag, func() request.Task { return task.NewConfigureDatabaseTask() })
	registry.Register("resync", func() request.Task { return task.NewResyncTask() })
	return wire.NewCodec(registry)
}

func drainOneResponse(t *testing.T, cluster *memcluster.Cluster, node string) request.Response {
	t.Helper()
	codec := newTestCodec()
	q, err := cluster.Queue(clusterprim.ResponseQueueName(node))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	raw, err := q.Take(ctx)
	require.NoError(t, err)
	resp, err := codec.DecodeResponse(raw)
	require.NoError(t, err)
	return resp
}

func TestWorkerProcessesResyncTaskAndDeliversResponse(t *testing.T) {
	cluster := memcluster.New("node-1")
	db := memdb.New()
	codec := newTestCodec()

	w, err := New("node-1", "db", cluster, db, codec, nil, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	req := &request.Request{ID: "r1", Sender: "node-2", Database: "db", Mode: request.ModeResponse, Task: task.NewResyncTask()}
	envelope, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	q, err := cluster.Queue(clusterprim.RequestQueueName("node-1", "db"))
	require.NoError(t, err)
	require.NoError(t, q.Offer(context.Background(), envelope, time.Second))

	resp := drainOneResponse(t, cluster, "node-2")
	assert.False(t, resp.IsError())
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "node-1", resp.From)
}

func TestWorkerWaitForTaskTypeFiltersUntilPrimed(t *testing.T) {
	cluster := memcluster.New("node-1")
	db := memdb.New()
	codec := newTestCodec()

	w, err := New("node-1", "db", cluster, db, codec, nil, time.Second)
	require.NoError(t, err)
	w.SetWaitForTaskType(task.ConfigureDatabaseTypeTag)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	q, err := cluster.Queue(clusterprim.RequestQueueName("node-1", "db"))
	require.NoError(t, err)

	// A non-matching task is skipped silently: no response, no panic.
	skipped := &request.Request{ID: "skip", Sender: "node-2", Mode: request.ModeResponse, Task: task.NewResyncTask()}
	envelope, err := codec.EncodeRequest(skipped)
	require.NoError(t, err)
	require.NoError(t, q.Offer(context.Background(), envelope, time.Second))

	// The priming task clears the filter and gets a response.
	prime := &request.Request{ID: "prime", Sender: "node-2", Mode: request.ModeResponse, Task: task.NewConfigureDatabaseTask()}
	envelope, err = codec.EncodeRequest(prime)
	require.NoError(t, err)
	require.NoError(t, q.Offer(context.Background(), envelope, time.Second))

	resp := drainOneResponse(t, cluster, "node-2")
	assert.Equal(t, "prime", resp.RequestID)

	// Once primed, a normal task now flows through too.
	resync := &request.Request{ID: "after-prime", Sender: "node-2", Mode: request.ModeResponse, Task: task.NewResyncTask()}
	envelope, err = codec.EncodeRequest(resync)
	require.NoError(t, err)
	require.NoError(t, q.Offer(context.Background(), envelope, time.Second))

	resp = drainOneResponse(t, cluster, "node-2")
	assert.Equal(t, "after-prime", resp.RequestID)
}

// onlineGatedTask requires the node to be online before it executes.
type onlineGatedTask struct {
	task.Base
}

func (onlineGatedTask) Execute(ctx context.Context, db interface{}, sender string) (interface{}, error) {
	return "ran", nil
}

func TestWorkerHoldsRequestUntilOnline(t *testing.T) {
	cluster := memcluster.New("node-1")
	db := memdb.New()

	registry := wire.NewRegistry()
	registry.Register("gated", func() request.Task { return &onlineGatedTask{} })
	codec := wire.NewCodec(registry)

	w, err := New("node-1", "db", cluster, db, codec, nil, time.Second)
	require.NoError(t, err)
	assert.False(t, w.IsOnline())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	gated := &onlineGatedTask{Base: task.Base{Tag: "gated", OnlineRequired: true}}
	req := &request.Request{ID: "gated-1", Sender: "node-2", Mode: request.ModeResponse, Task: gated}
	envelope, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	q, err := cluster.Queue(clusterprim.RequestQueueName("node-1", "db"))
	require.NoError(t, err)
	require.NoError(t, q.Offer(context.Background(), envelope, time.Second))

	respQueue, err := cluster.Queue(clusterprim.ResponseQueueName("node-2"))
	require.NoError(t, err)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	_, err = respQueue.Take(shortCtx)
	assert.Error(t, err, "worker must not execute a node-online-required task while offline")

	w.SetOnline(true)

	longCtx, longCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer longCancel()
	raw, err := respQueue.Take(longCtx)
	require.NoError(t, err, "worker must deliver the held response once the node goes online")

	resp, err := codec.DecodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "gated-1", resp.RequestID)
}

package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurahashiryo/orientdb/internal/dispatch"
	"github.com/kurahashiryo/orientdb/internal/executor"
	"github.com/kurahashiryo/orientdb/internal/wire"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim/memcluster"
	"github.com/kurahashiryo/orientdb/pkg/localdb/memdb"
	"github.com/kurahashiryo/orientdb/pkg/partition"
	"github.com/kurahashiryo/orientdb/pkg/request"
	"github.com/kurahashiryo/orientdb/pkg/task"
)

func newTestRig(t *testing.T, node string) (*memcluster.Cluster, *wire.Codec, *dispatch.Service, *dispatch.Dispatcher, *executor.Registry, *partition.StaticResolver) {
	cluster := memcluster.New(node)
	registry := wire.NewRegistry()
	registry.Register(task.ConfigureDatabaseTypeTag, func() request.Task { return task.NewConfigureDatabaseTask() })
	registry.Register("resync", func() request.Task { return task.NewResyncTask() })
	codec := wire.NewCodec(registry)

	svc, err := dispatch.NewService(node, cluster, codec, nil)
	require.NoError(t, err)

	resolver := partition.NewStaticResolver(map[string]partition.Database{
		"db": {Shards: map[string]partition.Config{"": {Nodes: []string{node}, ReadQuorum: 1, WriteQuorum: 1}}},
	})
	disp := dispatch.New(node, resolver, cluster.Membership(), cluster, codec, svc, nil, time.Second, time.Second)
	execRegistry := executor.NewRegistry(node, cluster, codec, nil, time.Second)

	return cluster, codec, svc, disp, execRegistry, resolver
}

func TestConfigureDatabaseReplaysUndoRecordOnStartup(t *testing.T) {
	cluster, codec, svc, disp, execRegistry, resolver := newTestRig(t, "node-1")
	defer svc.Close()
	defer execRegistry.CloseAll()

	undoMap, err := cluster.Map(clusterprim.UndoMapName("node-1", "db"))
	require.NoError(t, err)

	staleReq := &request.Request{ID: "stale-1", Sender: "node-2", Database: "db", Mode: request.ModeResponse, Task: task.NewResyncTask()}
	envelope, err := codec.EncodeRequest(staleReq)
	require.NoError(t, err)
	require.NoError(t, undoMap.Put(context.Background(), "current", envelope))

	coord := New("node-1", "db", execRegistry, disp, resolver, cluster, codec, nil, 0)

	db := memdb.New()
	err = coord.ConfigureDatabase(context.Background(), db, true, true)
	require.NoError(t, err)

	_, found, err := undoMap.Get(context.Background(), "current")
	require.NoError(t, err)
	assert.False(t, found, "the undo record must be cleared once replayed")
}

func TestConfigureDatabaseInstallsPrimingFilterUnlessUnqueued(t *testing.T) {
	cluster, codec, svc, disp, execRegistry, resolver := newTestRig(t, "node-2")
	defer svc.Close()
	defer execRegistry.CloseAll()

	coord := New("node-2", "db", execRegistry, disp, resolver, cluster, codec, nil, 0)
	db := memdb.New()
	require.NoError(t, coord.ConfigureDatabase(context.Background(), db, false, false))

	w, ok := execRegistry.Worker("db")
	require.True(t, ok)
	assert.False(t, w.IsOnline(), "ConfigureDatabase does not implicitly flip a worker online")

	// The priming filter skips a non-matching task: offer one and
	// confirm no response is produced for it.
	q, err := cluster.Queue(clusterprim.RequestQueueName("node-2", "db"))
	require.NoError(t, err)
	resyncReq := &request.Request{ID: "r1", Sender: "node-3", Mode: request.ModeResponse, Task: task.NewResyncTask()}
	envelope, err := codec.EncodeRequest(resyncReq)
	require.NoError(t, err)
	require.NoError(t, q.Offer(context.Background(), envelope, time.Second))

	respQueue, err := cluster.Queue(clusterprim.ResponseQueueName("node-3"))
	require.NoError(t, err)
	shortCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = respQueue.Take(shortCtx)
	assert.Error(t, err, "a non-priming task must not be processed before the filter clears")
}

func TestCheckLocalInConfigurationBroadcastsUpdatedConfig(t *testing.T) {
	cluster, codec, svc, disp, execRegistry, resolver := newTestRig(t, "node-1")
	defer svc.Close()
	defer execRegistry.CloseAll()

	coord := New("node-1", "db", execRegistry, disp, resolver, cluster, codec, nil, 0)

	dbConfig := partition.Database{Shards: map[string]partition.Config{
		"": {Nodes: []string{"node-2"}},
	}}

	updated, err := coord.CheckLocalInConfiguration(context.Background(), dbConfig)
	require.NoError(t, err)
	assert.True(t, updated.Shards[""].HasNode("node-1"))

	configMap, err := cluster.Map(clusterprim.UndoMapName("node-1", "db") + ".config")
	require.NoError(t, err)
	raw, found, err := configMap.Get(context.Background(), "current")
	require.NoError(t, err)
	require.True(t, found)

	broadcasted, err := partition.Deserialize(raw)
	require.NoError(t, err)
	assert.True(t, broadcasted.Shards[""].HasNode("node-1"))
}

func TestRemoveNodeBroadcastsUpdatedConfig(t *testing.T) {
	cluster, codec, svc, disp, execRegistry, resolver := newTestRig(t, "node-1")
	defer svc.Close()
	defer execRegistry.CloseAll()

	coord := New("node-1", "db", execRegistry, disp, resolver, cluster, codec, nil, 0)

	dbConfig := partition.Database{Shards: map[string]partition.Config{
		"": {Nodes: []string{"node-1", "node-2"}},
	}}

	updated, err := coord.RemoveNode(context.Background(), dbConfig, "node-2", false)
	require.NoError(t, err)
	assert.False(t, updated.Shards[""].HasNode("node-2"))
}

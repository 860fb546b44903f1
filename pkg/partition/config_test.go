package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigQuorum(t *testing.T) {
	cfg := Config{Nodes: []string{"a", "b", "c"}, ReadQuorum: 1, WriteQuorum: 2}

	assert.Equal(t, 0, cfg.Quorum(KindNone))
	assert.Equal(t, 1, cfg.Quorum(KindRead))
	assert.Equal(t, 2, cfg.Quorum(KindWrite))
	assert.Equal(t, 3, cfg.Quorum(KindAll))
}

func TestWithNodeIsIdempotentAndSorted(t *testing.T) {
	cfg := Config{Nodes: []string{"b", "a"}}
	cfg = cfg.WithNode("c")
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Nodes)

	cfg = cfg.WithNode("a")
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Nodes, "adding an existing node is a no-op")
}

func TestWithoutNode(t *testing.T) {
	cfg := Config{Nodes: []string{"a", "b", "c"}}
	cfg = cfg.WithoutNode("b")
	assert.Equal(t, []string{"a", "c"}, cfg.Nodes)
}

func TestDatabaseSerializeRoundTrip(t *testing.T) {
	db := Database{Shards: map[string]Config{
		"": {Nodes: []string{"node-1", "node-2"}, ReadQuorum: 1, WriteQuorum: 2, Strategy: "hash"},
	}}
	data, err := db.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, db, restored)
}

func TestCheckLocalInConfigurationAddsMissingNode(t *testing.T) {
	db := Database{Shards: map[string]Config{
		"shard0": {Nodes: []string{"node-2"}},
		"shard1": {Nodes: []string{"node-1", "node-2"}},
	}}

	updated, changed := db.CheckLocalInConfiguration("node-1")
	assert.True(t, changed)
	assert.True(t, updated.Shards["shard0"].HasNode("node-1"))
	assert.Equal(t, []string{"node-1", "node-2"}, updated.Shards["shard1"].Nodes, "shard already containing the node is untouched")

	_, changedAgain := updated.CheckLocalInConfiguration("node-1")
	assert.False(t, changedAgain)
}

func TestRemoveNode(t *testing.T) {
	db := Database{Shards: map[string]Config{
		"": {Nodes: []string{"node-1", "node-2", "node-3"}},
	}}
	updated := db.RemoveNode("node-2")
	assert.Equal(t, []string{"node-1", "node-3"}, updated.Shards[""].Nodes)
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver(map[string]Database{
		"db1": {Shards: map[string]Config{"": {Nodes: []string{"node-1"}}}},
	})

	nodes, err := r.Nodes("db1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"node-1"}, nodes)

	_, err = r.Nodes("unknown", "")
	assert.Error(t, err)

	r.Update("db1", Database{Shards: map[string]Config{"": {Nodes: []string{"node-1", "node-2"}}}})
	nodes, err = r.Nodes("db1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"node-1", "node-2"}, nodes)
}

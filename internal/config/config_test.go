package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.Node)
	assert.Equal(t, "mem", cfg.Cluster.Backend)
	assert.Equal(t, 5*time.Minute, cfg.ResyncEvery)
	assert.False(t, cfg.Chaos.Enabled)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("node: node-7\ncluster:\n  backend: bolt\n  bolt_path: /tmp/cluster.db\nresync_every: 30s\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "node-7", cfg.Node)
	assert.Equal(t, "bolt", cfg.Cluster.Backend)
	assert.Equal(t, "/tmp/cluster.db", cfg.Cluster.BoltPath)
	assert.Equal(t, 30*time.Second, cfg.ResyncEvery)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node: from-file\n"), 0o644))

	t.Setenv("ORIENTDB_NODE", "from-env")
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Node)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml", nil)
	assert.Error(t, err)
}

// Package partition tracks, per database and per shard, the node-set
// that owns it and the quorum policy knobs the outbound dispatcher
// needs.
package partition

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Strategy identifies the partitioning strategy used to assign
// documents to shards. The coordinator treats it as an opaque label —
// the actual hashing/routing lives in the SQL/query layer.
type Strategy string

// Config is an immutable per-shard snapshot. Callers must replace, not
// mutate, a published Config — WithNode/WithoutNode, and Database's
// CheckLocalInConfiguration/RemoveNode, return a new value.
type Config struct {
	Nodes                        []string `yaml:"nodes"`
	ReadQuorum                   int      `yaml:"readQuorum"`
	WriteQuorum                  int      `yaml:"writeQuorum"`
	ReadYourWrites               bool     `yaml:"readYourWrites"`
	FailWhenAvailableLessQuorum  bool     `yaml:"failWhenAvailableLessThanQuorum"`
	Strategy                     Strategy `yaml:"strategy"`
	ResyncEverySeconds           int      `yaml:"resyncEverySeconds"`
}

// Quorum returns the raw (pre-downgrade) quorum for the given type.
func (c Config) Quorum(qt QuorumKind) int {
	switch qt {
	case KindNone:
		return 0
	case KindRead:
		return c.ReadQuorum
	case KindWrite:
		return c.WriteQuorum
	case KindAll:
		return len(c.Nodes)
	default:
		return 0
	}
}

// QuorumKind mirrors request.QuorumType without importing pkg/request,
// keeping this package dependency-free of the request/task model.
type QuorumKind int

const (
	KindNone QuorumKind = iota
	KindRead
	KindWrite
	KindAll
)

// HasNode reports whether node is a member of this shard.
func (c Config) HasNode(node string) bool {
	for _, n := range c.Nodes {
		if n == node {
			return true
		}
	}
	return false
}

// WithNode returns a copy of c with node added, if absent, keeping the
// node list sorted for deterministic serialization.
func (c Config) WithNode(node string) Config {
	if c.HasNode(node) {
		return c
	}
	nodes := append(append([]string{}, c.Nodes...), node)
	sort.Strings(nodes)
	c.Nodes = nodes
	return c
}

// WithoutNode returns a copy of c with node removed.
func (c Config) WithoutNode(node string) Config {
	nodes := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if n != node {
			nodes = append(nodes, n)
		}
	}
	c.Nodes = nodes
	return c
}

// Database is the full per-database partition map: shard name to
// Config. A shard name of "" denotes the database-wide default shard.
type Database struct {
	Shards map[string]Config `yaml:"shards"`
}

// Shard returns the Config for name, or an error if no such shard is
// configured.
func (d Database) Shard(name string) (Config, error) {
	cfg, ok := d.Shards[name]
	if !ok {
		return Config{}, fmt.Errorf("partition: unknown shard %q", name)
	}
	return cfg, nil
}

// Serialize marshals the database's partition map to YAML.
func (d Database) Serialize() ([]byte, error) {
	return yaml.Marshal(d)
}

// Deserialize parses bytes produced by Serialize.
func Deserialize(data []byte) (Database, error) {
	var d Database
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Database{}, fmt.Errorf("partition: deserialize: %w", err)
	}
	return d, nil
}

// CheckLocalInConfiguration adds localNode to any shard missing it,
// returning the updated Database and whether anything changed.
func (d Database) CheckLocalInConfiguration(localNode string) (Database, bool) {
	changed := false
	updated := Database{Shards: make(map[string]Config, len(d.Shards))}
	for name, cfg := range d.Shards {
		if !cfg.HasNode(localNode) {
			cfg = cfg.WithNode(localNode)
			changed = true
		}
		updated.Shards[name] = cfg
	}
	return updated, changed
}

// RemoveNode removes node from every shard.
func (d Database) RemoveNode(node string) Database {
	updated := Database{Shards: make(map[string]Config, len(d.Shards))}
	for name, cfg := range d.Shards {
		updated.Shards[name] = cfg.WithoutNode(node)
	}
	return updated
}

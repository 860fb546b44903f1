package partition

import (
	"fmt"
	"sync"
)

// Resolver answers "which nodes own this database's shard".
type Resolver interface {
	Nodes(database, shard string) ([]string, error)
	Config(database, shard string) (Config, error)
}

// StaticResolver resolves against an in-memory map of per-database
// partition maps, refreshed wholesale via Update — the shape a
// membership-churn broadcast replaces on every node. Update runs
// concurrently with Nodes/Config (a recovery coordinator's
// membership-churn handling against an in-flight dispatcher), so
// access to databases is guarded by mu.
type StaticResolver struct {
	mu        sync.RWMutex
	databases map[string]Database
}

// NewStaticResolver creates a resolver seeded with databases.
func NewStaticResolver(databases map[string]Database) *StaticResolver {
	if databases == nil {
		databases = make(map[string]Database)
	}
	return &StaticResolver{databases: databases}
}

// Update replaces the partition map for one database wholesale,
// matching how a broadcast new-config message is applied on receipt
// rather than merged field by field.
func (r *StaticResolver) Update(database string, db Database) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.databases[database] = db
}

func (r *StaticResolver) Nodes(database, shard string) ([]string, error) {
	cfg, err := r.Config(database, shard)
	if err != nil {
		return nil, err
	}
	return cfg.Nodes, nil
}

func (r *StaticResolver) Config(database, shard string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.databases[database]
	if !ok {
		return Config{}, fmt.Errorf("partition: unknown database %q", database)
	}
	return db.Shard(shard)
}

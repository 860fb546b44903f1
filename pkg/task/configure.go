package task

import (
	"context"
	"time"

	"github.com/kurahashiryo/orientdb/pkg/localdb"
	"github.com/kurahashiryo/orientdb/pkg/request"
)

// ConfigureDatabaseTypeTag identifies ConfigureDatabaseTask. A
// recovery.Coordinator installs this tag as a freshly-started worker's
// wait_for_task_type filter, so the worker skips (drops) everything
// else it dequeues until one of these is dequeued and clears it.
const ConfigureDatabaseTypeTag = "configure-database"

// ConfigureDatabaseTask carries no payload beyond its tag; Execute
// only clears the store's level-1 cache and returns "primed" — the
// worker's filter is released by dequeuing the task, not by anything
// the task does to the store.
type ConfigureDatabaseTask struct {
	Base
}

// NewConfigureDatabaseTask builds the priming task a node sends to
// itself (or that a bootstrapping peer sends it) to release a
// worker's wait_for_task_type gate.
func NewConfigureDatabaseTask() *ConfigureDatabaseTask {
	return &ConfigureDatabaseTask{Base: Base{
		Tag:                 ConfigureDatabaseTypeTag,
		Quorum:              request.QuorumNone,
		Strategy:            request.ResultAny,
		SyncTimeoutPerNode:  1 * time.Second,
		TotalTimeoutPerNode: 2 * time.Second,
	}}
}

func (t *ConfigureDatabaseTask) Execute(ctx context.Context, db interface{}, sender string) (interface{}, error) {
	if store, ok := db.(localdb.DB); ok {
		store.ClearLevel1Cache()
	}
	return "primed", nil
}

var _ request.Task = (*ConfigureDatabaseTask)(nil)

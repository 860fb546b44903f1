package task

import (
	"context"
	"time"

	"github.com/kurahashiryo/orientdb/pkg/localdb"
	"github.com/kurahashiryo/orientdb/pkg/request"
)

// ResyncTagTypeTag identifies ResyncTask for wait_for_task_type
// comparisons.
const ResyncTagTypeTag = "resync"

// ResyncTask is the anti-entropy task the recovery coordinator's
// periodic timer dispatches to its own partition. It carries no
// payload beyond its Base settings; executing it returns the
// executing node's local database digest, so a responder can prove
// liveness cheaply; ANY result strategy means the first non-error digest
// satisfies the dispatch — resync is best-effort liveness checking,
// not conflict detection.
type ResyncTask struct {
	Base
}

// NewResyncTask builds a ResyncTask with a WRITE quorum (the
// dispatcher waits for the configured write quorum, clamped to the
// replicas it sees alive) and short per-node timeouts, since a resync round
// that blocks as long as a real write would defeat its own purpose.
func NewResyncTask() *ResyncTask {
	return &ResyncTask{Base: Base{
		Tag:                 ResyncTagTypeTag,
		Quorum:              request.QuorumWrite,
		Strategy:            request.ResultAny,
		SyncTimeoutPerNode:  1 * time.Second,
		TotalTimeoutPerNode: 2 * time.Second,
	}}
}

// Execute returns the local database's digest, ignoring sender (the
// digest doesn't depend on who asked).
func (t *ResyncTask) Execute(ctx context.Context, db interface{}, sender string) (interface{}, error) {
	store, ok := db.(localdb.DB)
	if !ok {
		return nil, nil
	}
	return store.Digest(), nil
}

var _ request.Task = (*ResyncTask)(nil)

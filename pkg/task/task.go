// Package task provides a base implementation of request.Task and a
// handful of concrete tasks the coordinator itself issues (resync,
// priming). Application-specific tasks embed Base and override
// Execute plus whichever timeout/quorum knobs differ from the
// defaults.
package task

import (
	"context"
	"time"

	"github.com/kurahashiryo/orientdb/pkg/request"
)

// Base supplies sensible defaults for every request.Task method
// except Execute, which has no sensible default and is left for the
// embedding type to implement.
type Base struct {
	Tag                string
	Quorum             request.QuorumType
	Strategy           request.ResultStrategy
	SyncTimeoutPerNode time.Duration
	TotalTimeoutPerNode time.Duration
	OnlineRequired     bool
}

func (b Base) TypeTag() string                    { return b.Tag }
func (b Base) QuorumType() request.QuorumType      { return b.Quorum }
func (b Base) ResultStrategy() request.ResultStrategy { return b.Strategy }
func (b Base) RequiresNodeOnline() bool             { return b.OnlineRequired }

// SynchronousTimeout scales linearly with the number of responses
// still expected, the same shape the original OrientDB task base
// class uses: a handful of slow nodes shouldn't make every dispatch
// wait as long as if all of them were slow.
func (b Base) SynchronousTimeout(expectedSync int) time.Duration {
	if expectedSync <= 0 {
		expectedSync = 1
	}
	d := b.SyncTimeoutPerNode
	if d <= 0 {
		d = 5 * time.Second
	}
	return d * time.Duration(expectedSync)
}

// TotalTimeout scales with the full target node-set size, not just
// the expected-synchronous subset, since stragglers outside the
// synchronous threshold can still deliver before the total deadline.
func (b Base) TotalTimeout(queueSize int) time.Duration {
	if queueSize <= 0 {
		queueSize = 1
	}
	d := b.TotalTimeoutPerNode
	if d <= 0 {
		d = 10 * time.Second
	}
	return d * time.Duration(queueSize)
}

var _ request.Task = baseWithExecute{}

// baseWithExecute exists only to prove Base plus a trivial Execute
// satisfies request.Task; it is not exported for use.
type baseWithExecute struct {
	Base
}

func (baseWithExecute) Execute(ctx context.Context, db interface{}, sender string) (interface{}, error) {
	return nil, nil
}

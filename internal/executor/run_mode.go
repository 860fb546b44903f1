package executor

import "context"

// RunMode marks whether code executing on the local database is doing
// so on behalf of a replicated (inbound) request, as opposed to a
// client-originated write that still has to go through the outbound
// dispatcher.
type RunMode int

const (
	// RunModeDefault is the zero value: no distributed scenario is
	// active, so a write should still be broadcast.
	RunModeDefault RunMode = iota
	// RunModeDistributed marks a call stack as already replication-
	// driven. A task's Execute should check this (via RunModeFrom)
	// before issuing any nested write, to avoid re-dispatching
	// something the sender already broadcast to every replica.
	RunModeDistributed
)

type runModeKey struct{}

// WithRunMode attaches mode to ctx, replacing this call-scoped context
// (not a goroutine-local) in place of the original's thread-local
// "distributed scenario" marker.
func WithRunMode(ctx context.Context, mode RunMode) context.Context {
	return context.WithValue(ctx, runModeKey{}, mode)
}

// RunModeFrom reports the RunMode attached to ctx, or RunModeDefault
// if none was set.
func RunModeFrom(ctx context.Context) RunMode {
	if mode, ok := ctx.Value(runModeKey{}).(RunMode); ok {
		return mode
	}
	return RunModeDefault
}

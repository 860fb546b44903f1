// Package executor implements the inbound executor: one long-lived
// worker per (local node, database) that drains a request queue and
// applies messages serially against the local replica, participating
// in the undo/redo crash-recovery protocol as it goes.
package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kurahashiryo/orientdb/internal/wire"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/localdb"
	"github.com/kurahashiryo/orientdb/pkg/logging"
	"github.com/kurahashiryo/orientdb/pkg/metrics"
	"github.com/kurahashiryo/orientdb/pkg/request"
)

const onlinePollInterval = 5 * time.Second

const undoRecordKey = "current"

// Worker drains one (node, database) request queue and applies each
// request to db in strict queue-delivery order.
type Worker struct {
	node     string
	database string

	queue   clusterprim.Queue
	prims   clusterprim.Primitives
	undoMap clusterprim.Map
	db      localdb.DB
	codec   *wire.Codec
	logger  *logging.Logger

	offerTimeout time.Duration

	mu              sync.Mutex
	online          bool
	onlineSignal    chan struct{}
	waitForTaskType string

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Worker for (node, database). The worker does not
// start draining its queue until Start is called.
func New(node, database string, prims clusterprim.Primitives, db localdb.DB, codec *wire.Codec, logger *logging.Logger, offerTimeout time.Duration) (*Worker, error) {
	queue, err := prims.Queue(clusterprim.RequestQueueName(node, database))
	if err != nil {
		return nil, err
	}
	undoMap, err := prims.Map(clusterprim.UndoMapName(node, database))
	if err != nil {
		return nil, err
	}
	return &Worker{
		node:         node,
		database:     database,
		queue:        queue,
		prims:        prims,
		undoMap:      undoMap,
		db:           db,
		codec:        codec,
		logger:       logger,
		offerTimeout: offerTimeout,
		onlineSignal: make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// SetWaitForTaskType installs a priming filter: only a request whose
// task tag equals typeTag will be processed; everything else is
// skipped and returned to READING without mutating local state. An
// empty tag clears the filter.
func (w *Worker) SetWaitForTaskType(typeTag string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waitForTaskType = typeTag
}

// SetOnline flips the online flag and wakes any request blocked in
// WAITING_FOR_ONLINE.
func (w *Worker) SetOnline(online bool) {
	w.mu.Lock()
	w.online = online
	if online {
		close(w.onlineSignal)
		w.onlineSignal = make(chan struct{})
	}
	w.mu.Unlock()
}

// IsOnline reports the current online flag.
func (w *Worker) IsOnline() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Start runs the worker's state machine loop in a new goroutine.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go func() {
		defer close(w.done)
		w.loop(ctx)
	}()
}

// Stop signals SHUTDOWN and waits for the loop to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Worker) loop(ctx context.Context) {
	for {
		raw, err := w.queue.Take(ctx) // IDLE -> READING
		if err != nil {
			if ctx.Err() != nil {
				return // SHUTDOWN
			}
			if w.logger != nil {
				w.logger.Warn("request queue take failed", zap.String("database", w.database), zap.Error(err))
			}
			continue
		}

		req, err := w.codec.DecodeRequest(raw)
		if err != nil {
			if w.logger != nil {
				w.logger.Warn("failed to decode inbound request, skipping", zap.Error(err))
			}
			continue
		}

		// READING -> WAITING_FOR_TASK_TYPE
		w.mu.Lock()
		filter := w.waitForTaskType
		w.mu.Unlock()
		if filter != "" {
			if req.Task.TypeTag() != filter {
				if w.logger != nil {
					w.logger.Debug("skipping request, task type does not match priming filter",
						zap.String("want", filter), zap.String("got", req.Task.TypeTag()))
				}
				continue // back to READING
			}
			w.mu.Lock()
			w.waitForTaskType = ""
			w.mu.Unlock()
		}

		// READING -> WAITING_FOR_ONLINE
		if req.Task.RequiresNodeOnline() {
			if !w.awaitOnline(ctx) {
				return // SHUTDOWN while waiting
			}
		}

		// READING -> PROCESSING -> IDLE
		w.process(ctx, req)
	}
}

func (w *Worker) awaitOnline(ctx context.Context) bool {
	for {
		w.mu.Lock()
		online := w.online
		signal := w.onlineSignal
		w.mu.Unlock()
		if online {
			return true
		}
		select {
		case <-signal:
		case <-time.After(onlinePollInterval):
		case <-ctx.Done():
			return false
		}
	}
}

func (w *Worker) process(ctx context.Context, req *request.Request) {
	start := time.Now()

	if envelope, err := w.codec.EncodeRequest(req); err == nil {
		_ = w.undoMap.Put(ctx, undoRecordKey, envelope) // I3: undo write happens-before execute
	} else if w.logger != nil {
		w.logger.Warn("failed to persist undo record", zap.Error(err))
	}

	result, execErr := req.Task.Execute(WithRunMode(ctx, RunModeDistributed), w.db, req.Sender)
	w.db.ClearLevel1Cache()

	metrics.TaskExecutionDuration.WithLabelValues(w.database, req.Task.TypeTag()).Observe(time.Since(start).Seconds())
	metrics.TasksExecutedTotal.WithLabelValues(w.database, req.Task.TypeTag()).Inc()

	resp := request.Response{
		RequestID: req.ID,
		From:      w.node,
		To:        req.Sender,
	}
	if execErr != nil {
		resp.Err = execErr.Error()
		metrics.ExecutorErrorsTotal.WithLabelValues(w.database, req.Task.TypeTag()).Inc()
	} else {
		resp.Payload = result
	}

	if req.Mode != request.ModeNoResponse {
		w.deliverResponse(ctx, req.Sender, resp)
	}

	_ = w.undoMap.Remove(ctx, undoRecordKey) // I3: undo delete happens-after response offer
}

// deliverResponse offers resp onto sender's response queue, with one
// retry before giving up — the original's own best-effort policy for
// this path. A failure here is logged and swallowed: the request is
// still considered applied locally.
func (w *Worker) deliverResponse(ctx context.Context, sender string, resp request.Response) {
	queue, err := w.prims.Queue(clusterprim.ResponseQueueName(sender))
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("response dispatch failed: could not open response queue",
				zap.String("sender", sender), zap.Error(err))
		}
		return
	}

	envelope, err := w.codec.EncodeResponse(resp)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("response dispatch failed: could not encode response", zap.Error(err))
		}
		return
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr = queue.Offer(ctx, envelope, w.offerTimeout); lastErr == nil {
			return
		}
	}
	if w.logger != nil {
		w.logger.Warn("response dispatch failed after retry",
			zap.String("sender", sender), zap.String("requestId", resp.RequestID), zap.Error(lastErr))
	}
}

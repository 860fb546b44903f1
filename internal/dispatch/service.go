// Package dispatch implements the outbound dispatcher: send and
// send_to_nodes, quorum computation, the locked broadcast, and
// response collection. Service is the pending-request registry the
// component design calls the "Message Service" — it demultiplexes
// this node's response queue into the right ResponseManager by
// request id.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kurahashiryo/orientdb/internal/respmgr"
	"github.com/kurahashiryo/orientdb/internal/wire"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/logging"
)

// Service owns this node's response queue and the registry of
// in-flight ResponseManagers, keyed by request id. All insertions
// precede the first possible response arrival for that id, since
// Register always runs before the request is offered onto any peer's
// queue.
type Service struct {
	localNode string
	prims     clusterprim.Primitives
	codec     *wire.Codec
	logger    *logging.Logger

	responseQueue clusterprim.Queue

	mu      sync.Mutex
	pending map[string]*respmgr.Manager

	cancel context.CancelFunc
}

// NewService opens localNode's response queue and starts the
// background demultiplexing loop.
func NewService(localNode string, prims clusterprim.Primitives, codec *wire.Codec, logger *logging.Logger) (*Service, error) {
	queue, err := prims.Queue(clusterprim.ResponseQueueName(localNode))
	if err != nil {
		return nil, fmt.Errorf("dispatch: open response queue for %s: %w", localNode, err)
	}

	s := &Service{
		localNode:     localNode,
		prims:         prims,
		codec:         codec,
		logger:        logger,
		responseQueue: queue,
		pending:       make(map[string]*respmgr.Manager),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.demux(ctx)
	return s, nil
}

func (s *Service) demux(ctx context.Context) {
	for {
		raw, err := s.responseQueue.Take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.logger != nil {
				s.logger.Warn("response queue take failed", zap.Error(err))
			}
			continue
		}

		resp, err := s.codec.DecodeResponse(raw)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("failed to decode response envelope", zap.Error(err))
			}
			continue
		}

		s.mu.Lock()
		mgr, ok := s.pending[resp.RequestID]
		s.mu.Unlock()
		if !ok {
			continue
		}
		mgr.OnResponse(resp)
	}
}

// Register publishes mgr under requestID so arriving responses reach
// it. Must be called before the request is offered onto any target
// node's queue.
func (s *Service) Register(requestID string, mgr *respmgr.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[requestID] = mgr
}

// Unregister removes requestID from the registry. Safe to call more
// than once.
func (s *Service) Unregister(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, requestID)
}

// Close stops the demultiplexing loop and closes the response queue.
func (s *Service) Close() error {
	s.cancel()
	return s.responseQueue.Close()
}

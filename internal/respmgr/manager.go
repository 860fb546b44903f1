// Package respmgr implements the per-request response aggregator.
// One Manager exists per in-flight outbound request; it is registered
// under the request id by the dispatcher's message service and
// unregistered once it closes.
//
// Arriving responses are buffered on a github.com/eapache/channels
// InfiniteChannel (the same fan-in buffering primitive
// alpacahq-marketstore's streaming code uses) so that whatever
// goroutine is delivering a response — dispatch.Service's response-queue
// demultiplexing loop, in this module's wiring — never blocks on this
// Manager's internal lock.
package respmgr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eapache/channels"

	"github.com/kurahashiryo/orientdb/pkg/request"
)

// ErrTotalTimeout is returned by Wait when the total timeout elapses
// before the synchronous threshold is met and without the synchronous
// timeout having ended the wait (it ends the wait only once at least
// one response has arrived).
var ErrTotalTimeout = errors.New("respmgr: total timeout elapsed")

// Outcome is the result of Wait.
type Outcome int

const (
	// ThresholdMet means expected_sync non-error responses arrived
	// (and, if WaitLocal, the local node's non-error response was among
	// them). Error replies are recorded but do not count toward it.
	ThresholdMet Outcome = iota
	// SyncTimedOut means the synchronous timeout elapsed first with at
	// least one response received; the caller should still aggregate
	// whatever arrived (best-effort).
	SyncTimedOut
)

// Merger is an optional capability a request.Task can implement to
// control how Manager.GetResponse reduces a ResultUnion response set.
// Tasks that don't implement it get the default fallback: the
// multiset of every non-error payload.
type Merger interface {
	MergeResponses(payloads []interface{}) interface{}
}

// Manager aggregates per-node responses to one outbound request.
type Manager struct {
	requestID    string
	expectedSync int
	quorum       int
	waitLocal    bool
	localNode    string
	syncTimeout  time.Duration
	totalTimeout time.Duration

	incoming *channels.InfiniteChannel

	mu                sync.Mutex
	responses         map[string]request.Response
	order             []string
	receivedCount     int
	receivedFromLocal bool
	thresholdMet      bool
	thresholdCh       chan struct{}
}

// New creates a Manager for requestID. expectedSync, quorum, waitLocal
// and the two timeouts are computed by the outbound dispatcher before
// it broadcasts the request.
func New(requestID string, expectedSync, quorum int, waitLocal bool, localNode string, syncTimeout, totalTimeout time.Duration) *Manager {
	m := &Manager{
		requestID:    requestID,
		expectedSync: expectedSync,
		quorum:       quorum,
		waitLocal:    waitLocal,
		localNode:    localNode,
		syncTimeout:  syncTimeout,
		totalTimeout: totalTimeout,
		incoming:     channels.NewInfiniteChannel(),
		responses:    make(map[string]request.Response),
		thresholdCh:  make(chan struct{}),
	}
	go m.drain()
	return m
}

func (m *Manager) drain() {
	for v := range m.incoming.Out() {
		resp, ok := v.(request.Response)
		if !ok {
			continue
		}
		m.apply(resp)
	}
}

// OnResponse records a response. Safe to call from any goroutine,
// including a message-transport callback.
func (m *Manager) OnResponse(resp request.Response) {
	m.incoming.In() <- resp
}

func (m *Manager) apply(resp request.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.responses[resp.From]; !seen {
		m.receivedCount++
		m.order = append(m.order, resp.From)
	}
	m.responses[resp.From] = resp
	if resp.From == m.localNode && !resp.IsError() {
		m.receivedFromLocal = true
	}

	okCount := 0
	for _, r := range m.responses {
		if !r.IsError() {
			okCount++
		}
	}
	if !m.thresholdMet && okCount >= m.expectedSync && (!m.waitLocal || m.receivedFromLocal) {
		m.thresholdMet = true
		close(m.thresholdCh)
	}
}

// Wait blocks until the synchronous threshold is met or one of the
// two timeouts elapses. When the synchronous timeout elapses with at
// least one response received, it returns SyncTimedOut; with none
// received, it keeps waiting for the threshold until the total timeout.
func (m *Manager) Wait() (Outcome, error) {
	syncTimer := time.NewTimer(m.syncTimeout)
	defer syncTimer.Stop()
	totalTimer := time.NewTimer(m.totalTimeout)
	defer totalTimer.Stop()

	select {
	case <-m.thresholdCh:
		return ThresholdMet, nil
	case <-syncTimer.C:
		if m.ReceivedCount() > 0 {
			return SyncTimedOut, nil
		}
	case <-totalTimer.C:
		return 0, ErrTotalTimeout
	}

	select {
	case <-m.thresholdCh:
		return ThresholdMet, nil
	case <-totalTimer.C:
		return 0, ErrTotalTimeout
	}
}

// Close stops the internal drain goroutine. The dispatcher calls this
// once the manager is unregistered from the message service.
func (m *Manager) Close() {
	m.incoming.Close()
}

// ReceivedCount returns the number of distinct nodes heard from so
// far.
func (m *Manager) ReceivedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivedCount
}

// GetResponse reduces the responses received so far per strategy.
func (m *Manager) GetResponse(strategy request.ResultStrategy, task Merger) (interface{}, error) {
	m.mu.Lock()
	order := append([]string{}, m.order...)
	responses := make(map[string]request.Response, len(m.responses))
	for k, v := range m.responses {
		responses[k] = v
	}
	m.mu.Unlock()

	switch strategy {
	case request.ResultFirst:
		for _, node := range order {
			if r := responses[node]; !r.IsError() {
				return r.Payload, nil
			}
		}
		return nil, fmt.Errorf("respmgr: no non-error response for %s", m.requestID)

	case request.ResultAny:
		for _, node := range order {
			if r := responses[node]; !r.IsError() {
				return r.Payload, nil
			}
		}
		return nil, fmt.Errorf("respmgr: no non-error response for %s", m.requestID)

	case request.ResultMajority:
		return majority(order, responses)

	case request.ResultUnion:
		payloads := make([]interface{}, 0, len(order))
		for _, node := range order {
			if r := responses[node]; !r.IsError() {
				payloads = append(payloads, r.Payload)
			}
		}
		if task != nil {
			return task.MergeResponses(payloads), nil
		}
		return payloads, nil

	default:
		return nil, fmt.Errorf("respmgr: unknown result strategy %v", strategy)
	}
}

// majority picks the modal payload among non-error responses,
// breaking ties deterministically by payload hash then responder
// name.
func majority(order []string, responses map[string]request.Response) (interface{}, error) {
	type group struct {
		payload   interface{}
		key       string
		count     int
		responder string
	}
	groups := make(map[string]*group)

	for _, node := range order {
		r := responses[node]
		if r.IsError() {
			continue
		}
		key := canonicalKey(r.Payload)
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{payload: r.Payload, key: key, count: 1, responder: node}
			continue
		}
		g.count++
		if node < g.responder {
			g.responder = node
		}
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("respmgr: no non-error response to take a majority of")
	}

	var winners []*group
	best := -1
	for _, g := range groups {
		if g.count > best {
			best = g.count
		}
	}
	for _, g := range groups {
		if g.count == best {
			winners = append(winners, g)
		}
	}
	sort.Slice(winners, func(i, j int) bool {
		if winners[i].key != winners[j].key {
			return winners[i].key < winners[j].key
		}
		return winners[i].responder < winners[j].responder
	})
	return winners[0].payload, nil
}

func canonicalKey(payload interface{}) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%#v", payload)))
	return hex.EncodeToString(sum[:])
}

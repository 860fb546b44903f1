// Package membership probes peer nodes for liveness and exposes the
// result as a clusterprim.Membership. Each peer gets its own circuit
// breaker and retry policy, adapted from the per-node HTTP client
// pattern used to talk to storage nodes in the file-storage codebase
// this module grew out of; the periodic ticker-driven check loop with
// a consecutive-failure counter before flipping state is adapted from
// a cluster coordinator's health monitor in the same retrieval pack.
package membership

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/logging"
)

// PeerHealth is a snapshot of one peer's probed state, returned by
// Snapshot for the admin HTTP server's /nodes endpoint.
type PeerHealth struct {
	NodeID           string    `json:"nodeId"`
	BaseURL          string    `json:"baseUrl"`
	Alive            bool      `json:"alive"`
	CircuitState     string    `json:"circuitState"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastCheck        time.Time `json:"lastCheck"`
}

type peer struct {
	nodeID  string
	baseURL string
	cb      *gobreaker.CircuitBreaker

	mu               sync.Mutex
	alive            bool
	consecutiveFails int
	lastCheck        time.Time
}

// Prober periodically checks every registered peer's /health endpoint
// and satisfies clusterprim.Membership with the result.
type Prober struct {
	localNode   string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	httpClient  *http.Client
	logger      *logging.Logger

	mu    sync.RWMutex
	peers map[string]*peer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ clusterprim.Membership = (*Prober)(nil)

// New creates a Prober for localNode. Peers default to unknown (not
// alive) until the first successful check.
func New(localNode string, interval time.Duration, logger *logging.Logger) *Prober {
	return &Prober{
		localNode:   localNode,
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		logger:      logger,
		peers:       make(map[string]*peer),
	}
}

// AddPeer registers (or re-registers) a peer at baseURL, e.g.
// "http://node-2:9090".
func (p *Prober) AddPeer(nodeID, baseURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.peers[nodeID]; exists {
		return
	}
	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("membership-%s", nodeID),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	}
	p.peers[nodeID] = &peer{
		nodeID:  nodeID,
		baseURL: baseURL,
		cb:      gobreaker.NewCircuitBreaker(settings),
	}
}

// RemovePeer drops a peer from monitoring, e.g. after membership
// churn removes it from every partition config.
func (p *Prober) RemovePeer(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, nodeID)
}

// Start runs the check loop until ctx is canceled or Stop is called.
func (p *Prober) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.checkAll()
		for {
			select {
			case <-ticker.C:
				p.checkAll()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the check loop and waits for it to exit.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Prober) checkAll() {
	p.mu.RLock()
	targets := make([]*peer, 0, len(p.peers))
	for _, pr := range p.peers {
		targets = append(targets, pr)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, pr := range targets {
		wg.Add(1)
		go func(pr *peer) {
			defer wg.Done()
			p.checkOne(pr)
		}(pr)
	}
	wg.Wait()
}

func (p *Prober) checkOne(pr *peer) {
	_, err := pr.cb.Execute(func() (interface{}, error) {
		return nil, p.probe(pr.baseURL)
	})

	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.lastCheck = time.Now()

	if err != nil {
		pr.consecutiveFails++
		if pr.consecutiveFails >= p.maxFailures && pr.alive {
			pr.alive = false
			if p.logger != nil {
				p.logger.Warn("peer marked unreachable", zap.String("node", pr.nodeID), zap.Error(err))
			}
		}
		return
	}

	pr.consecutiveFails = 0
	if !pr.alive && p.logger != nil {
		p.logger.Info("peer recovered", zap.String("node", pr.nodeID))
	}
	pr.alive = true
}

func (p *Prober) probe(baseURL string) error {
	operation := func() error {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("membership: %s returned status %d", baseURL, resp.StatusCode)
		}
		return nil
	}

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = p.timeout
	return backoff.Retry(operation, retry)
}

// IsAlive reports whether node's last check succeeded. The local node
// is always considered alive; unregistered nodes are considered dead
// rather than optimistically alive, since an unregistered peer has
// never answered a probe.
func (p *Prober) IsAlive(node string) bool {
	if node == p.localNode {
		return true
	}
	p.mu.RLock()
	pr, ok := p.peers[node]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.alive
}

func (p *Prober) LocalNode() string { return p.localNode }

// Snapshot returns the current health of every registered peer.
func (p *Prober) Snapshot() []PeerHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]PeerHealth, 0, len(p.peers))
	for _, pr := range p.peers {
		pr.mu.Lock()
		result = append(result, PeerHealth{
			NodeID:           pr.nodeID,
			BaseURL:          pr.baseURL,
			Alive:            pr.alive,
			CircuitState:     pr.cb.State().String(),
			ConsecutiveFails: pr.consecutiveFails,
			LastCheck:        pr.lastCheck,
		})
		pr.mu.Unlock()
	}
	return result
}

// Package natscluster backs clusterprim.Queue with NATS subjects,
// grounded on alpacahq-marketstore's use of github.com/nats-io/go-nats
// for its market-data feed handlers. A queue-group subscription gives
// the "exactly one consumer drains this message" semantics a cluster
// FIFO needs — core NATS has no at-rest persistence, so Offer's
// durability guarantee is only as strong as the broker's uptime; undo
// records (pkg/clusterprim/boltmap) are what actually survives a node
// crash, not this transport.
package natscluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	nats "github.com/nats-io/go-nats"

	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
)

// Transport owns one NATS connection and vends named queues over it.
type Transport struct {
	conn *nats.Conn

	mu     sync.Mutex
	queues map[string]*subjectQueue
}

// Connect dials url (e.g. "nats://127.0.0.1:4222") and returns a
// Transport ready to vend queues.
func Connect(url string, opts ...nats.Option) (*Transport, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natscluster: connect %s: %w", url, err)
	}
	return &Transport{conn: conn, queues: make(map[string]*subjectQueue)}, nil
}

// Queue returns (creating if necessary) the subjectQueue bound to
// name. Every subscription uses the fixed queue group "coordinator",
// so all processes that call Queue with the same name share delivery:
// each message goes to one of them (request queues are per-node by
// naming convention already).
func (t *Transport) Queue(name string) (clusterprim.Queue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.queues[name]; ok {
		return q, nil
	}

	q := &subjectQueue{
		conn:    t.conn,
		subject: name,
		inbox:   make(chan []byte, 256),
	}
	sub, err := t.conn.QueueSubscribe(name, "coordinator", func(msg *nats.Msg) {
		q.inbox <- msg.Data
	})
	if err != nil {
		return nil, fmt.Errorf("natscluster: subscribe %s: %w", name, err)
	}
	q.sub = sub
	t.queues[name] = q
	return q, nil
}

// Close drains the connection. In-flight Take calls observe a closed
// inbox and return an error.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range t.queues {
		_ = q.sub.Unsubscribe()
		close(q.inbox)
	}
	t.conn.Close()
	return nil
}

// subjectQueue adapts a NATS queue-group subscription to
// clusterprim.Queue.
type subjectQueue struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	inbox   chan []byte
}

// Offer publishes payload and flushes the connection within timeout,
// which is the closest core-NATS analogue of a bounded durable offer:
// it bounds how long we wait for the message to leave this process,
// not for a remote subscriber to have received it.
func (q *subjectQueue) Offer(ctx context.Context, payload []byte, timeout time.Duration) error {
	if err := q.conn.Publish(q.subject, payload); err != nil {
		return fmt.Errorf("natscluster: publish %s: %w", q.subject, err)
	}
	if err := q.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("natscluster: flush %s: %w", q.subject, err)
	}
	return nil
}

func (q *subjectQueue) Take(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-q.inbox:
		if !ok {
			return nil, errors.New("natscluster: queue closed")
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *subjectQueue) Close() error {
	return q.sub.Unsubscribe()
}

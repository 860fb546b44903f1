// Package chaos wraps a clusterprim.Queue with injected latency and
// failures, for exercising the dispatcher/executor's error handling
// (SynchronousTimeout, TotalTimeout, ResponseDispatchFailed) without a
// real flaky network. Adapted from the teacher's error-rate simulator
// and throttling proxy, retargeted from an HTTP reverse proxy onto the
// cluster queue boundary those two components actually travel over.
package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
)

// Profile configures the fault rates a Queue wrapped in this package
// will inject. Zero-value Profile is transparent passthrough.
type Profile struct {
	Latency     time.Duration // added before every Offer/Take completes
	OfferDrop   float64       // probability Offer silently times out
	TakeDrop    float64       // probability Take returns a transient error
	Corruption  float64       // probability Take flips a byte in the payload
}

// DefaultProfile mirrors the teacher's default error-simulator rates,
// scaled down since these faults land on a queue instead of a socket.
func DefaultProfile() Profile {
	return Profile{
		Latency:    20 * time.Millisecond,
		OfferDrop:  0.02,
		TakeDrop:   0.02,
		Corruption: 0.01,
	}
}

// Queue wraps a clusterprim.Queue, injecting faults from profile on
// every call. Safe for concurrent use iff the wrapped queue is.
type Queue struct {
	inner   clusterprim.Queue
	profile Profile
	rand    *rand.Rand
}

// Wrap returns a Queue that injects profile's faults around inner.
func Wrap(inner clusterprim.Queue, profile Profile) *Queue {
	return &Queue{
		inner:   inner,
		profile: profile,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (q *Queue) Offer(ctx context.Context, payload []byte, timeout time.Duration) error {
	if q.profile.Latency > 0 {
		select {
		case <-time.After(q.profile.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if q.profile.OfferDrop > 0 && q.rand.Float64() < q.profile.OfferDrop {
		return fmt.Errorf("chaos: simulated offer timeout")
	}
	return q.inner.Offer(ctx, payload, timeout)
}

func (q *Queue) Take(ctx context.Context) ([]byte, error) {
	payload, err := q.inner.Take(ctx)
	if err != nil {
		return nil, err
	}
	if q.profile.Latency > 0 {
		select {
		case <-time.After(q.profile.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if q.profile.TakeDrop > 0 && q.rand.Float64() < q.profile.TakeDrop {
		return nil, fmt.Errorf("chaos: simulated take failure")
	}
	if q.profile.Corruption > 0 && len(payload) > 0 && q.rand.Float64() < q.profile.Corruption {
		corrupted := make([]byte, len(payload))
		copy(corrupted, payload)
		corrupted[q.rand.Intn(len(corrupted))] ^= 0xFF
		return corrupted, nil
	}
	return payload, nil
}

func (q *Queue) Close() error {
	return q.inner.Close()
}

// Primitives wraps a clusterprim.Primitives so every Queue it vends is
// wrapped with profile; Map, Lock, and Membership pass through
// untouched since spec-level fault injection only targets message
// delivery, not cluster bookkeeping.
type Primitives struct {
	inner   clusterprim.Primitives
	profile Profile
}

// WrapPrimitives returns a Primitives that chaos-wraps every Queue
// vended by inner.
func WrapPrimitives(inner clusterprim.Primitives, profile Profile) *Primitives {
	return &Primitives{inner: inner, profile: profile}
}

func (p *Primitives) Queue(name string) (clusterprim.Queue, error) {
	q, err := p.inner.Queue(name)
	if err != nil {
		return nil, err
	}
	return Wrap(q, p.profile), nil
}

func (p *Primitives) Map(name string) (clusterprim.Map, error) {
	return p.inner.Map(name)
}

func (p *Primitives) Lock(name string) (clusterprim.Mutex, error) {
	return p.inner.Lock(name)
}

func (p *Primitives) Membership() clusterprim.Membership {
	return p.inner.Membership()
}

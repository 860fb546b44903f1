// Command chaosqueue drains a named queue through a chaos.Queue
// wrapper and re-offers every message onto a second queue, injecting
// latency/drops/corruption between the two — adapted from the
// teacher's standalone throttling proxy, retargeted from HTTP request
// forwarding onto cluster queue forwarding. Both queues come from an
// in-process memcluster.Cluster that this command creates, so only
// messages offered within this process are forwarded; it does not
// connect to any other node's queues.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/kurahashiryo/orientdb/internal/chaos"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim"
	"github.com/kurahashiryo/orientdb/pkg/clusterprim/memcluster"
)

func main() {
	sourceQueue := flag.String("source-queue", "", "name of the queue to drain")
	destQueue := flag.String("dest-queue", "", "name of the queue to re-offer onto")
	offerTimeout := flag.Duration("offer-timeout", 5*time.Second, "timeout for each re-offer")
	latency := flag.Duration("latency", 20*time.Millisecond, "added latency per message")
	offerDrop := flag.Float64("offer-drop", 0.0, "probability a re-offer fails and the message is dropped")
	takeDrop := flag.Float64("take-drop", 0.0, "probability a drained message is discarded")
	corruption := flag.Float64("corruption", 0.0, "probability a drained message is corrupted before re-offer")
	flag.Parse()

	if *sourceQueue == "" || *destQueue == "" {
		log.Fatal("chaosqueue: -source-queue and -dest-queue are required")
	}

	cluster := memcluster.New("chaosqueue")

	src, err := cluster.Queue(*sourceQueue)
	if err != nil {
		log.Fatalf("chaosqueue: open source queue: %v", err)
	}
	dst, err := cluster.Queue(*destQueue)
	if err != nil {
		log.Fatalf("chaosqueue: open dest queue: %v", err)
	}

	chaosSrc := chaos.Wrap(src, chaos.Profile{
		Latency:    *latency,
		OfferDrop:  *offerDrop,
		TakeDrop:   *takeDrop,
		Corruption: *corruption,
	})
	// Re-offers go to the destination, so that is where OfferDrop applies.
	chaosDst := chaos.Wrap(dst, chaos.Profile{OfferDrop: *offerDrop})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("chaosqueue: forwarding %s -> %s (latency=%v offerDrop=%.2f takeDrop=%.2f corruption=%.2f)",
		*sourceQueue, *destQueue, *latency, *offerDrop, *takeDrop, *corruption)

	forward(ctx, chaosSrc, chaosDst, *offerTimeout)
}

func forward(ctx context.Context, src clusterprim.Queue, dst clusterprim.Queue, offerTimeout time.Duration) {
	for {
		payload, err := src.Take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("chaosqueue: shutting down")
				return
			}
			log.Printf("chaosqueue: take failed, continuing: %v", err)
			continue
		}
		if err := dst.Offer(ctx, payload, offerTimeout); err != nil {
			log.Printf("chaosqueue: offer failed, dropping message: %v", err)
		}
	}
}

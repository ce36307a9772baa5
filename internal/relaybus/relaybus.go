// Package relaybus narrows the relay-pool surface the signing engine needs:
// publishing events and subscribing to a filtered live stream. Production
// uses the go-nostr SimplePool; tests substitute an in-memory bus.
package relaybus

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Subscription is one live filtered stream. Events is closed when the
// subscription ends; Unsub tears it down and must always be called.
type Subscription interface {
	Events() <-chan *nostr.Event
	Unsub()
}

type Bus interface {
	// Publish sends the event to every relay in the list, succeeding if at
	// least one relay accepted it.
	Publish(ctx context.Context, relays []string, evt nostr.Event) error

	// Subscribe opens a live subscription on the given relays.
	Subscribe(ctx context.Context, relays []string, filters nostr.Filters) (Subscription, error)
}

// Pool is the production Bus backed by a shared go-nostr SimplePool.
type Pool struct {
	pool *nostr.SimplePool
}

func NewPool(ctx context.Context) *Pool {
	return &Pool{pool: nostr.NewSimplePool(ctx)}
}

func (p *Pool) Publish(ctx context.Context, relays []string, evt nostr.Event) error {
	var lastErr error
	published := false
	for _, url := range relays {
		relay, err := p.pool.EnsureRelay(url)
		if err != nil {
			lastErr = err
			continue
		}
		if err := relay.Publish(ctx, evt); err != nil {
			lastErr = err
			continue
		}
		published = true
	}
	if !published {
		if lastErr != nil {
			return fmt.Errorf("couldn't publish to any relay: %w", lastErr)
		}
		return fmt.Errorf("couldn't publish to any relay")
	}
	return nil
}

func (p *Pool) Subscribe(ctx context.Context, relays []string, filters nostr.Filters) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	incoming := p.pool.SubMany(ctx, relays, filters)

	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ie, ok := <-incoming:
				if !ok {
					return
				}
				select {
				case out <- ie.Event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &poolSubscription{events: out, cancel: cancel}, nil
}

type poolSubscription struct {
	events chan *nostr.Event
	cancel context.CancelFunc
}

func (s *poolSubscription) Events() <-chan *nostr.Event { return s.events }
func (s *poolSubscription) Unsub()                      { s.cancel() }

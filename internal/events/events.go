// Package events fans out change notifications from the replica to
// subscribers (UI layers, the sync server, tests).
//
// Each subscriber gets its own unbounded FIFO queue, so a slow consumer
// never blocks ingest. Waiting is context-aware through a size-1 signal
// channel that coalesces wakeups.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/materializer"
	"github.com/wlococode/openprod-sub001/internal/oplog"
)

// ErrClosed is returned by Next once the subscription is closed and drained.
var ErrClosed = errors.New("events: subscription closed")

// Event describes one accepted bundle.
type Event struct {
	BundleID oplog.BundleID
	Actor    identity.ActorID
	Local    bool
	Change   materializer.Change
}

// Bus broadcasts events to every live subscription.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscription. Subscribing to a closed bus
// returns an already closed subscription.
func (b *Bus) Subscribe() *Subscription {
	s := newSubscription(b)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers e to every subscription. Thread-safe.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.enqueue(e)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Queued events can still be drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.close()
	}
	b.subs = nil
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Subscription is one consumer's queue.
type Subscription struct {
	bus    *Bus
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newSubscription(b *Bus) *Subscription {
	return &Subscription{
		bus:    b,
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events = append(s.events, e)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// TryNext pops the oldest queued event without blocking.
func (s *Subscription) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return Event{}, false
	}
	e := s.events[0]
	s.events[0] = Event{}
	if len(s.events) == 1 {
		s.events = s.events[:0]
	} else {
		s.events = s.events[1:]
	}
	return e, true
}

// Next blocks until an event is available, ctx is done, or the
// subscription is closed and empty.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if e, ok := s.TryNext(); ok {
			return e, nil
		}
		s.mu.Lock()
		done := s.closed
		s.mu.Unlock()
		if done {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Len returns the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Close unsubscribes. Already queued events stay readable.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.signal)
}

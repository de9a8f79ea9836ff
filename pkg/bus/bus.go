// Package bus provides the in-process broadcast channel that decouples
// network I/O from application logic. Every subscriber sees every event, in
// post order, plus a short replay window of events posted just before it
// subscribed.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tinyland-inc/meshchat/pkg/event"
)

// ErrBusClosed is returned when posting to a closed Bus.
var ErrBusClosed = errors.New("event bus closed")

// DefaultReplay is the number of recent events delivered to late
// subscribers.
const DefaultReplay = 32

// Bus is a multi-subscriber broadcast of events. Post never blocks on slow
// consumers: each subscription buffers independently, so one stalled or
// failing pipeline cannot hold up the others.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	replay []event.Event
	window int
	nextID uint64
	closed atomic.Bool
}

// New creates a Bus with a replay window of window events. window <= 0 uses
// DefaultReplay.
func New(window int) *Bus {
	if window <= 0 {
		window = DefaultReplay
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		window: window,
	}
}

// Post enqueues an event for all current subscribers and appends it to the
// replay window. It returns ErrBusClosed after Close, nil otherwise.
func (b *Bus) Post(e event.Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	b.mu.Lock()
	b.replay = append(b.replay, e)
	if len(b.replay) > b.window {
		b.replay = append([]event.Event(nil), b.replay[len(b.replay)-b.window:]...)
	}
	for _, sub := range b.subs {
		sub.enqueue(e)
	}
	b.mu.Unlock()
	return nil
}

// Subscribe registers a new subscriber. It immediately receives the replay
// window, then every event posted afterwards, in order. Cancel the
// subscription when done or its buffer grows without bound.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		out:  make(chan event.Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub.cancel = func() { b.drop(id) }
	sub.queue = append(sub.queue, b.replay...)
	if b.closed.Load() {
		b.mu.Unlock()
		sub.stop()
		close(sub.out)
		return sub
	}
	b.subs[id] = sub
	b.mu.Unlock()
	go sub.pump()
	return sub
}

// WaitFor subscribes, waits for the first event matching pred and returns
// it. The replay window counts, so an event posted shortly before the call
// is still observed.
func (b *Bus) WaitFor(ctx context.Context, pred func(event.Event) bool) (event.Event, error) {
	sub := b.Subscribe()
	defer sub.Cancel()
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return nil, ErrBusClosed
			}
			if pred(e) {
				return e, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close terminates every subscription. Further posts fail with
// ErrBusClosed.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

func (b *Bus) drop(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		sub.stop()
	}
}

// Subscription is one subscriber's private, order-preserving event pipeline.
type Subscription struct {
	cancel func()

	mu    sync.Mutex
	queue []event.Event

	out  chan event.Event
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Events returns the subscriber's channel. It is closed when the
// subscription is cancelled or the bus closes.
func (s *Subscription) Events() <-chan event.Event {
	return s.out
}

// Cancel detaches the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) enqueue(e event.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events to the out channel one at a time. The queue is
// unbounded, so Post never waits on this subscriber.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, e := range pending {
			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

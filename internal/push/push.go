// Package push delivers unsolicited envelopes from services to every
// connected client.
//
// Any goroutine may publish at any time. Each subscriber (one per client
// connection) owns a bounded queue; when a slow subscriber's queue is full
// its oldest push is dropped without affecting other subscribers. Pushes
// published from one goroutine reach a subscriber in publication order.
package push

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pearjo/knut-server/internal/ring"
)

// DefaultQueueSize is the per-subscriber capacity used when Subscribe is
// called with a non-positive size.
const DefaultQueueSize = 256

// Event is a push ready for delivery.
type Event struct {
	APIID   uint16
	MsgID   uint16
	Payload json.RawMessage
}

// Publisher is the handle APIs use to emit pushes.
type Publisher interface {
	Push(apiID, msgID uint16, payload any) error
}

// Bus fans published events out to all subscriptions.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *zap.SugaredLogger

	published atomic.Uint64
	dropped   atomic.Uint64
	onDrop    func(Event)
}

// NewBus returns a bus without subscribers.
func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// OnDrop registers f to be called for every push evicted from a full
// subscriber queue. Must be called before the first Subscribe.
func (b *Bus) OnDrop(f func(Event)) {
	b.onDrop = f
}

// Push marshals payload and publishes it.
func (b *Bus) Push(apiID, msgID uint16, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}
	b.Publish(Event{APIID: apiID, MsgID: msgID, Payload: raw})
	return nil
}

// Publish enqueues ev on every subscription.
func (b *Bus) Publish(ev Event) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.logger.Debugf("Push api %d msg 0x%04x to %d subscribers", ev.APIID, ev.MsgID, len(b.subs))
	for s := range b.subs {
		s.offer(ev)
	}
}

// Subscribe returns a new subscription holding at most size pending
// pushes.
func (b *Bus) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = DefaultQueueSize
	}
	s := &Subscription{
		bus:   b,
		queue: ring.New[Event](size),
		ready: make(chan struct{}, 1),
	}
	s.queue.OnDrop(func(ev Event) {
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop(ev)
		}
	})

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns how many events were published.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Dropped returns how many pushes were evicted from full queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	bus    *Bus
	queue  *ring.Ring[Event]
	ready  chan struct{}
	closed atomic.Bool
}

func (s *Subscription) offer(ev Event) {
	if s.closed.Load() {
		return
	}
	s.queue.Push(ev)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready signals that at least one push may be pending. Drain with Next
// until it reports false.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Next removes and returns the oldest pending push.
func (s *Subscription) Next() (Event, bool) {
	return s.queue.Pop()
}

// Pending returns the number of queued pushes.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

// Dropped returns how many pushes this subscription lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.queue.Dropped()
}

// Close detaches the subscription from the bus. Pending pushes are
// discarded. Close is idempotent.
func (s *Subscription) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.bus.remove(s)
	s.queue.Clear()
}

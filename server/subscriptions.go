package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/shredctl/bridge"
)

// DefaultSubscriptionBuffer is how many undelivered event messages a
// subscription holds before it starts dropping.
const DefaultSubscriptionBuffer = 64

// EventMessage is one firing of a global event, sent on a Subscribe
// stream. The first message of every stream has Seq 0 and only confirms
// that the listener is registered.
type EventMessage struct {
	Event        string    `cbor:"event" json:"event"`
	Subscription string    `cbor:"subscription" json:"subscription"`
	Seq          uint64    `cbor:"seq" json:"seq"`
	Fired        time.Time `cbor:"fired" json:"fired"`

	// Dropped counts firings discarded so far because the client fell
	// behind.
	Dropped uint64 `cbor:"dropped,omitempty" json:"dropped,omitempty"`
}

// Subscription is a persistent host listener on one event whose firings
// are queued for a stream.
type Subscription struct {
	ID      string
	Event   string
	Created time.Time

	handle  bridge.Handle
	events  chan EventMessage
	done    chan struct{}
	once    sync.Once
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// fire runs on the VM processing context and must not block.
func (s *Subscription) fire() {
	msg := EventMessage{
		Event:        s.Event,
		Subscription: s.ID,
		Seq:          s.seq.Add(1),
		Fired:        time.Now(),
		Dropped:      s.dropped.Load(),
	}
	select {
	case s.events <- msg:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the queued firings.
func (s *Subscription) Events() <-chan EventMessage { return s.events }

// Done is closed when the subscription is destroyed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns the number of firings discarded for a full queue.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// SubscriptionStore tracks the event subscriptions of one server.
type SubscriptionStore struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	events *bridge.EventRegistry
	buffer int
	log    commonlog.Logger
}

// NewSubscriptionStore creates a store that registers listeners on events.
func NewSubscriptionStore(events *bridge.EventRegistry, buffer int, log commonlog.Logger) *SubscriptionStore {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &SubscriptionStore{
		subs:   make(map[string]*Subscription),
		events: events,
		buffer: buffer,
		log:    log,
	}
}

// Create registers a persistent listener on event.
func (s *SubscriptionStore) Create(event string) (*Subscription, error) {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Event:   event,
		Created: time.Now(),
		events:  make(chan EventMessage, s.buffer),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: server is shutting down", bridge.ErrNotReady)
	}
	h, err := s.events.Listen(event, true, sub.fire)
	if err != nil {
		return nil, err
	}
	sub.handle = h
	s.subs[sub.ID] = sub
	s.log.Debug("subscribed", "subscription", sub.ID, "event", event)
	return sub, nil
}

// Get retrieves a subscription by ID.
func (s *SubscriptionStore) Get(id string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	return sub, ok
}

// Len returns the number of live subscriptions.
func (s *SubscriptionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Destroy stops the subscription's listener and ends its stream. It
// reports whether the subscription existed.
func (s *SubscriptionStore) Destroy(id string) bool {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.release(sub)
	return true
}

// Close destroys every subscription and refuses new ones.
func (s *SubscriptionStore) Close() int {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]*Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		s.release(sub)
	}
	return len(subs)
}

func (s *SubscriptionStore) release(sub *Subscription) {
	sub.close()
	if err := s.events.Stop(sub.Event, sub.handle); err != nil {
		s.log.Debug("listener stop failed", "subscription", sub.ID, "error", err.Error())
	}
	s.log.Debug("unsubscribed", "subscription", sub.ID, "event", sub.Event, "dropped", sub.Dropped())
}

package bridge

import (
	"cmp"
	"slices"
	"sync"

	"github.com/chazu/shredctl/engine"
)

type listenerRef struct {
	event string
	vmID  engine.ListenerID
}

// EventRegistry maps global event names to host listeners. Listeners fire
// on the VM processing context, in registration order for one event.
type EventRegistry struct {
	c *Coordinator

	mu        sync.Mutex
	listeners map[Handle]listenerRef
}

func newEventRegistry(c *Coordinator) *EventRegistry {
	return &EventRegistry{c: c, listeners: make(map[Handle]listenerRef)}
}

// Listen registers fn on the named event. The event need not exist yet;
// signaling an undeclared event does nothing. A one-shot listener is
// removed after it first fires.
func (r *EventRegistry) Listen(name string, persistent bool, fn func()) (Handle, error) {
	if name == "" {
		return 0, invalidf("empty event name")
	}
	if fn == nil {
		return 0, invalidf("nil listener")
	}
	vm, release, err := r.c.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	cb := r.c.callbacks
	h := cb.Register(r.c.id, func(engine.Value) { fn() })
	fire := func() { cb.dispatch(h, engine.Value{}) }
	if !persistent {
		fire = func() {
			r.forget(h)
			cb.dispatchOnce(h, engine.Value{})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	vmID, err := vm.Listen(name, persistent, fire)
	if err != nil {
		cb.Release(h)
		return 0, vmError(err)
	}
	r.listeners[h] = listenerRef{event: name, vmID: vmID}
	return h, nil
}

// Stop removes a listener. Stopping a listener twice, after it fired as a
// one-shot, or after shutdown is a no-op, as is stopping it under an
// event name it was not registered on.
//
// A firing that the VM is already delivering on another goroutine may
// still run once after Stop returns; no firing starts after that.
func (r *EventRegistry) Stop(name string, h Handle) error {
	if name == "" {
		return invalidf("empty event name")
	}

	r.mu.Lock()
	ref, ok := r.listeners[h]
	if !ok || ref.event != name {
		r.mu.Unlock()
		return nil
	}
	delete(r.listeners, h)
	r.mu.Unlock()
	r.c.callbacks.Release(h)

	vm, release, err := r.c.acquire()
	if err != nil {
		return nil
	}
	defer release()
	return vmError(vm.StopListening(name, ref.vmID))
}

// Signal wakes the longest-waiting consumer of the named event.
func (r *EventRegistry) Signal(name string) error {
	if name == "" {
		return invalidf("empty event name")
	}
	vm, release, err := r.c.acquire()
	if err != nil {
		return err
	}
	defer release()
	return vmError(vm.Signal(name))
}

// Broadcast wakes every consumer of the named event.
func (r *EventRegistry) Broadcast(name string) error {
	if name == "" {
		return invalidf("empty event name")
	}
	vm, release, err := r.c.acquire()
	if err != nil {
		return err
	}
	defer release()
	return vmError(vm.Broadcast(name))
}

// Listeners returns the live listener handles on an event in
// registration order.
func (r *EventRegistry) Listeners(name string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Handle
	for h, ref := range r.listeners {
		if ref.event != name {
			continue
		}
		if _, ok := r.c.callbacks.Lookup(h); ok {
			out = append(out, h)
		}
	}
	slices.SortFunc(out, cmp.Compare[Handle])
	return out
}

func (r *EventRegistry) forget(h Handle) {
	r.mu.Lock()
	delete(r.listeners, h)
	r.mu.Unlock()
}

// reset drops all listener bookkeeping at teardown.
func (r *EventRegistry) reset() {
	r.mu.Lock()
	clear(r.listeners)
	r.mu.Unlock()
}

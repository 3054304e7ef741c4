package bridge

import (
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/shredctl/engine"
)

// Handle identifies a registered host callback. Handles increase
// monotonically and are never reused.
type Handle uint64

// Callback is host code invoked on the VM processing context. Event
// listeners receive the zero Value. A callback may call back into the
// coordinator but must not advance the VM (Advance, ReadNow and the typed
// read helpers): it runs inside a VM step, which is not reentrant, so the
// call deadlocks.
type Callback func(engine.Value)

type callbackEntry struct {
	owner string
	fn    Callback
}

// CallbackRegistry maps handles to host callbacks. The VM only ever holds
// thunks that dispatch through the registry by handle, so once a handle
// is released its callback can no longer be started.
//
// A single mutex guards lookup and removal. Callbacks are invoked after
// the lock is released, so they may re-enter the registry. As a result a
// dispatch that looked a handle up just before Release may still invoke
// it once after Release returns.
type CallbackRegistry struct {
	mu      sync.Mutex
	entries map[Handle]*callbackEntry
	nextID  Handle
	log     commonlog.Logger
}

// NewCallbackRegistry creates an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		entries: make(map[Handle]*callbackEntry),
		log:     commonlog.GetLogger("shredctl.bridge.callbacks"),
	}
}

var defaultCallbacks = NewCallbackRegistry()

// Callbacks returns the process-wide registry. RunExitHooks drains it.
func Callbacks() *CallbackRegistry {
	return defaultCallbacks
}

// Register stores fn under a new handle owned by owner.
func (r *CallbackRegistry) Register(owner string, fn Callback) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.entries[r.nextID] = &callbackEntry{owner: owner, fn: fn}
	return r.nextID
}

// Lookup returns the callback for h without removing it.
func (r *CallbackRegistry) Lookup(h Handle) (Callback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return nil, false
	}
	return e.fn, true
}

// Take removes h and returns its callback. Only one caller can take a
// given handle.
func (r *CallbackRegistry) Take(h Handle) (Callback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return nil, false
	}
	delete(r.entries, h)
	return e.fn, true
}

// Release removes h. Releasing an unknown or already released handle is
// a no-op. It reports whether an entry was removed. No dispatch starts
// after Release returns, but one already past lookup on another goroutine
// completes.
func (r *CallbackRegistry) Release(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[h]; !ok {
		return false
	}
	delete(r.entries, h)
	return true
}

// ReleaseOwner removes every entry owned by owner and returns the count.
func (r *CallbackRegistry) ReleaseOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for h, e := range r.entries {
		if e.owner == owner {
			delete(r.entries, h)
			n++
		}
	}
	return n
}

// DrainAll removes every entry and returns the count.
func (r *CallbackRegistry) DrainAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	clear(r.entries)
	return n
}

// Len returns the number of registered callbacks.
func (r *CallbackRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// LenOwner returns the number of callbacks registered by owner.
func (r *CallbackRegistry) LenOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.owner == owner {
			n++
		}
	}
	return n
}

// dispatch invokes the callback for h if it is still registered.
func (r *CallbackRegistry) dispatch(h Handle, v engine.Value) bool {
	fn, ok := r.Lookup(h)
	if !ok {
		return false
	}
	r.invoke(h, fn, v)
	return true
}

// dispatchOnce takes h and invokes its callback. A second dispatch of the
// same handle does nothing.
func (r *CallbackRegistry) dispatchOnce(h Handle, v engine.Value) bool {
	fn, ok := r.Take(h)
	if !ok {
		return false
	}
	r.invoke(h, fn, v)
	return true
}

func (r *CallbackRegistry) invoke(h Handle, fn Callback, v engine.Value) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("callback %d panicked: %v", h, p)
		}
	}()
	fn(v)
}

package bridge

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/chazu/shredctl/engine"
)

// ---------------------------------------------------------------------------
// Shared test helpers for bridge tests.
// ---------------------------------------------------------------------------

// testParams returns parameters with short shutdown timings.
func testParams() Params {
	p := DefaultParams()
	p.PollInterval = time.Millisecond
	p.GraceDelay = time.Millisecond
	p.QuiesceTimeout = 50 * time.Millisecond
	p.ReadTimeoutFrames = 1024
	return p
}

// newTestCoordinator returns an initialized coordinator with a private
// callback registry. It is stopped when the test finishes.
func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithCallbackRegistry(NewCallbackRegistry())}, opts...)
	c := New(opts...)
	if err := c.Configure(testParams()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	return c
}

func sporkCode(t *testing.T, c *Coordinator, code string, count int) []ShredHandle {
	t.Helper()
	handles, err := c.Shreds().Spork(code, "", count)
	if err != nil {
		t.Fatalf("Spork(%q): %v", code, err)
	}
	if len(handles) != count {
		t.Fatalf("Spork(%q) returned %d handles, want %d", code, len(handles), count)
	}
	return handles
}

func advance(t *testing.T, c *Coordinator, frames int) {
	t.Helper()
	if _, err := c.Advance(frames); err != nil {
		t.Fatalf("Advance(%d): %v", frames, err)
	}
}

func ids(handles []ShredHandle) []engine.ShredID {
	out := make([]engine.ShredID, len(handles))
	for i, h := range handles {
		out[i] = h.ID
	}
	return out
}

// recorder collects listener firings in order.
type recorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *recorder) listener(tag string) func() {
	return func() {
		r.mu.Lock()
		r.fired = append(r.fired, tag)
		r.mu.Unlock()
	}
}

func (r *recorder) Fired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.fired)
}

// ---------------------------------------------------------------------------
// Fake VMs
// ---------------------------------------------------------------------------

// stuckVM never reports its audio thread stopped.
type stuckVM struct {
	*engine.Engine
}

func (stuckVM) IsRunning() bool { return true }

// failingVM refuses to initialize.
type failingVM struct {
	*engine.Engine
}

var errNoDevice = errors.New("no audio device")

func (failingVM) Init(engine.Params) error { return errNoDevice }

// closeCounter counts Close calls on the wrapped engine.
type closeCounter struct {
	*engine.Engine
	mu     sync.Mutex
	closes int
}

func (v *closeCounter) Close() error {
	v.mu.Lock()
	v.closes++
	v.mu.Unlock()
	return v.Engine.Close()
}

func (v *closeCounter) Closes() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closes
}

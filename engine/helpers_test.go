package engine

import (
	"slices"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Shared test helpers for engine tests.
// ---------------------------------------------------------------------------

// newTestEngine returns an initialized engine that is closed when the
// test finishes.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New()
	if err := e.Init(DefaultParams()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func spork(t *testing.T, e *Engine, code string, count int) []ShredID {
	t.Helper()
	infos, err := e.Compile("compiled.code", code, "", count)
	if err != nil {
		t.Fatalf("Compile(%q): %v", code, err)
	}
	ids := make([]ShredID, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}
	return ids
}

func advance(t *testing.T, e *Engine, frames int) {
	t.Helper()
	if _, err := e.Advance(frames); err != nil {
		t.Fatalf("Advance(%d): %v", frames, err)
	}
}

// readNow queues a read and advances one frame to resolve it.
func readNow(t *testing.T, e *Engine, name string, kind Kind) (Value, bool) {
	t.Helper()
	var got Value
	fired := false
	if err := e.ReadGlobal(name, kind, func(v Value) {
		got = v
		fired = true
	}); err != nil {
		t.Fatalf("ReadGlobal(%q): %v", name, err)
	}
	advance(t, e, 1)
	return got, fired
}

// console captures a sink's output.
type console struct {
	mu    sync.Mutex
	lines []string
}

func (c *console) write(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *console) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

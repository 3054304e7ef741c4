package bridge

import (
	"slices"
	"sync"

	"github.com/tebeka/atexit"
	"github.com/tliron/commonlog"
)

// HookID identifies an exit hook. The zero HookID is never issued.
type HookID uint64

type exitHook struct {
	id HookID
	fn func()
}

var exitHooks struct {
	mu        sync.Mutex
	hooks     []exitHook
	next      HookID
	installed bool
}

// AtExit registers fn to run at process exit, before the process-wide
// callback registry is drained. Hooks run in reverse registration order.
// The process must exit through atexit.Exit (or call RunExitHooks) for
// hooks to run.
func AtExit(fn func()) HookID {
	exitHooks.mu.Lock()
	defer exitHooks.mu.Unlock()
	if !exitHooks.installed {
		atexit.Register(RunExitHooks)
		exitHooks.installed = true
	}
	exitHooks.next++
	exitHooks.hooks = append(exitHooks.hooks, exitHook{id: exitHooks.next, fn: fn})
	return exitHooks.next
}

// Cancel removes the hook. Cancelling an unknown or already run hook is a
// no-op.
func (id HookID) Cancel() {
	if id == 0 {
		return
	}
	exitHooks.mu.Lock()
	defer exitHooks.mu.Unlock()
	exitHooks.hooks = slices.DeleteFunc(exitHooks.hooks, func(h exitHook) bool { return h.id == id })
}

// RunExitHooks runs and clears every registered hook, then drains the
// process-wide callback registry. It is safe to call more than once.
func RunExitHooks() {
	exitHooks.mu.Lock()
	hooks := exitHooks.hooks
	exitHooks.hooks = nil
	exitHooks.mu.Unlock()

	log := commonlog.GetLogger("shredctl.bridge.exit")
	for i := len(hooks) - 1; i >= 0; i-- {
		runExitHook(log, hooks[i])
	}
	if n := Callbacks().DrainAll(); n > 0 {
		log.Warning("drained orphaned callbacks at exit", "count", n)
	}
}

func runExitHook(log commonlog.Logger, h exitHook) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("exit hook %d panicked: %v", h.id, r)
		}
	}()
	h.fn()
}

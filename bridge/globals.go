package bridge

import (
	"fmt"

	"github.com/chazu/shredctl/engine"
)

// GlobalChannel moves typed values between the host and globals declared
// in VM code. Writes are fire-and-forget; reads complete through a
// one-shot callback when the VM next processes its queue.
type GlobalChannel struct {
	c *Coordinator
}

func checkName(name string) error {
	if name == "" {
		return invalidf("empty global name")
	}
	return nil
}

func checkKind(kind engine.Kind) error {
	switch kind {
	case engine.KindInt, engine.KindFloat, engine.KindString,
		engine.KindIntArray, engine.KindFloatArray,
		engine.KindAssocIntArray, engine.KindAssocFloatArray:
		return nil
	}
	return invalidf("unsupported global type %s", kind)
}

// compatible reports whether v may be stored in a global of kind k.
// Ints widen to float.
func compatible(k engine.Kind, v engine.Value) bool {
	return v.Kind == k || (k == engine.KindFloat && v.Kind == engine.KindInt)
}

// Write sends v to the global name. It does not confirm that the global
// exists; the VM drops writes to undeclared globals.
func (g *GlobalChannel) Write(name string, kind engine.Kind, v engine.Value) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := checkKind(kind); err != nil {
		return err
	}
	if !compatible(kind, v) {
		return invalidf("value of type %s does not fit global %s '%s'", v.Kind, kind, name)
	}
	vm, release, err := g.c.acquire()
	if err != nil {
		return err
	}
	defer release()
	return vmError(vm.WriteGlobal(name, v))
}

// WriteIndex sets element i of an int or float array global.
func (g *GlobalChannel) WriteIndex(name string, kind engine.Kind, i int, v engine.Value) error {
	if err := checkName(name); err != nil {
		return err
	}
	if kind != engine.KindIntArray && kind != engine.KindFloatArray {
		return invalidf("%s does not support indexed access", kind)
	}
	if i < 0 {
		return invalidf("negative index %d", i)
	}
	if !compatible(kind.Element(), v) {
		return invalidf("value of type %s does not fit an element of %s '%s'", v.Kind, kind, name)
	}
	vm, release, err := g.c.acquire()
	if err != nil {
		return err
	}
	defer release()
	return vmError(vm.WriteIndex(name, kind, i, v))
}

// WriteKey sets one key of an associative array global.
func (g *GlobalChannel) WriteKey(name string, kind engine.Kind, key string, v engine.Value) error {
	if err := checkName(name); err != nil {
		return err
	}
	if kind != engine.KindAssocIntArray && kind != engine.KindAssocFloatArray {
		return invalidf("%s does not support keyed access", kind)
	}
	if key == "" {
		return invalidf("empty key")
	}
	if !compatible(kind.Element(), v) {
		return invalidf("value of type %s does not fit an entry of %s '%s'", v.Kind, kind, name)
	}
	vm, release, err := g.c.acquire()
	if err != nil {
		return err
	}
	defer release()
	return vmError(vm.WriteKey(name, kind, key, v))
}

// Read asks the VM for the value of name. onComplete runs at most once, on
// the context that next advances the VM. It never runs if the global is
// not declared with kind, or if the host never advances the VM again.
func (g *GlobalChannel) Read(name string, kind engine.Kind, onComplete Callback) (Handle, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	return g.read(onComplete, func(vm VM, deliver func(engine.Value)) error {
		return vm.ReadGlobal(name, kind, deliver)
	})
}

// ReadIndex reads element i of an array global.
func (g *GlobalChannel) ReadIndex(name string, kind engine.Kind, i int, onComplete Callback) (Handle, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	if kind != engine.KindIntArray && kind != engine.KindFloatArray {
		return 0, invalidf("%s does not support indexed access", kind)
	}
	if i < 0 {
		return 0, invalidf("negative index %d", i)
	}
	return g.read(onComplete, func(vm VM, deliver func(engine.Value)) error {
		return vm.ReadIndex(name, kind, i, deliver)
	})
}

// ReadKey reads one key of an associative array global.
func (g *GlobalChannel) ReadKey(name string, kind engine.Kind, key string, onComplete Callback) (Handle, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	if kind != engine.KindAssocIntArray && kind != engine.KindAssocFloatArray {
		return 0, invalidf("%s does not support keyed access", kind)
	}
	if key == "" {
		return 0, invalidf("empty key")
	}
	return g.read(onComplete, func(vm VM, deliver func(engine.Value)) error {
		return vm.ReadKey(name, kind, key, deliver)
	})
}

func (g *GlobalChannel) read(onComplete Callback, request func(VM, func(engine.Value)) error) (Handle, error) {
	if onComplete == nil {
		return 0, invalidf("nil completion callback")
	}
	vm, release, err := g.c.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return g.request(vm, onComplete, request)
}

// request registers onComplete and hands the VM a thunk that dispatches
// it by handle.
func (g *GlobalChannel) request(vm VM, onComplete Callback, request func(VM, func(engine.Value)) error) (Handle, error) {
	r := g.c.callbacks
	h := r.Register(g.c.id, onComplete)
	if err := request(vm, func(v engine.Value) { r.dispatchOnce(h, v) }); err != nil {
		r.Release(h)
		return 0, vmError(err)
	}
	return h, nil
}

// Cancel abandons a pending read. A late delivery is discarded.
func (g *GlobalChannel) Cancel(h Handle) bool {
	return g.c.callbacks.Release(h)
}

// ReadNow reads name synchronously by advancing the VM until the value
// arrives or timeoutFrames have been processed. A zero timeout uses the
// configured default.
//
// ReadNow advances the VM on the calling goroutine, so it must not be
// called from a Callback: callbacks run inside a VM step, which is not
// reentrant, and the call deadlocks. While the audio thread runs it
// competes with the thread for VM steps.
func (g *GlobalChannel) ReadNow(name string, kind engine.Kind, timeoutFrames int) (engine.Value, error) {
	if err := checkName(name); err != nil {
		return engine.Value{}, err
	}
	if err := checkKind(kind); err != nil {
		return engine.Value{}, err
	}
	return g.readNow(name, timeoutFrames, func(vm VM, deliver func(engine.Value)) error {
		return vm.ReadGlobal(name, kind, deliver)
	})
}

// ReadIndexNow is ReadNow for one array element.
func (g *GlobalChannel) ReadIndexNow(name string, kind engine.Kind, i int, timeoutFrames int) (engine.Value, error) {
	if err := checkName(name); err != nil {
		return engine.Value{}, err
	}
	if kind != engine.KindIntArray && kind != engine.KindFloatArray {
		return engine.Value{}, invalidf("%s does not support indexed access", kind)
	}
	if i < 0 {
		return engine.Value{}, invalidf("negative index %d", i)
	}
	return g.readNow(name, timeoutFrames, func(vm VM, deliver func(engine.Value)) error {
		return vm.ReadIndex(name, kind, i, deliver)
	})
}

// ReadKeyNow is ReadNow for one associative entry.
func (g *GlobalChannel) ReadKeyNow(name string, kind engine.Kind, key string, timeoutFrames int) (engine.Value, error) {
	if err := checkName(name); err != nil {
		return engine.Value{}, err
	}
	if kind != engine.KindAssocIntArray && kind != engine.KindAssocFloatArray {
		return engine.Value{}, invalidf("%s does not support keyed access", kind)
	}
	if key == "" {
		return engine.Value{}, invalidf("empty key")
	}
	return g.readNow(name, timeoutFrames, func(vm VM, deliver func(engine.Value)) error {
		return vm.ReadKey(name, kind, key, deliver)
	})
}

func (g *GlobalChannel) readNow(name string, timeoutFrames int, request func(VM, func(engine.Value)) error) (engine.Value, error) {
	if timeoutFrames < 0 {
		return engine.Value{}, invalidf("negative timeout %d", timeoutFrames)
	}
	p := g.c.Params()
	if timeoutFrames == 0 {
		timeoutFrames = p.ReadTimeoutFrames
	}

	vm, release, err := g.c.acquire()
	if err != nil {
		return engine.Value{}, err
	}
	defer release()

	result := make(chan engine.Value, 1)
	h, err := g.request(vm, func(v engine.Value) { result <- v }, request)
	if err != nil {
		return engine.Value{}, err
	}

	step := max(1, min(timeoutFrames, p.Engine.BufferFrames))
	for advanced := 0; ; {
		select {
		case v := <-result:
			return v, nil
		default:
		}
		if advanced >= timeoutFrames {
			g.c.callbacks.Release(h)
			return engine.Value{}, fmt.Errorf("%w: no value for '%s' after %d frames", ErrTimeout, name, advanced)
		}
		n := min(step, timeoutFrames-advanced)
		if _, err := vm.Advance(n); err != nil {
			g.c.callbacks.Release(h)
			return engine.Value{}, vmError(err)
		}
		advanced += n
	}
}

// Int reads an int global synchronously.
func (g *GlobalChannel) Int(name string) (int64, error) {
	v, err := g.ReadNow(name, engine.KindInt, 0)
	return v.Int, err
}

// Float reads a float global synchronously.
func (g *GlobalChannel) Float(name string) (float64, error) {
	v, err := g.ReadNow(name, engine.KindFloat, 0)
	return v.Float, err
}

// String reads a string global synchronously.
func (g *GlobalChannel) String(name string) (string, error) {
	v, err := g.ReadNow(name, engine.KindString, 0)
	return v.Str, err
}

// List returns the globals declared in the VM.
func (g *GlobalChannel) List() ([]engine.GlobalInfo, error) {
	vm, release, err := g.c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return vm.Globals(), nil
}

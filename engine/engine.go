package engine

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

// Default audio parameters.
const (
	DefaultSampleRate     = 44100
	DefaultInputChannels  = 2
	DefaultOutputChannels = 2
	DefaultBufferFrames   = 256
)

// instructionBudget bounds the work a shred may do in one activation
// without yielding. A shred that exceeds it is terminated.
const instructionBudget = 1 << 16

// DriverStopTimeout bounds how long Close waits for the audio thread.
var DriverStopTimeout = 2 * time.Second

// Params configures an engine instance.
type Params struct {
	SampleRate       int    `cbor:"sample_rate" json:"sample_rate"`
	InputChannels    int    `cbor:"input_channels" json:"input_channels"`
	OutputChannels   int    `cbor:"output_channels" json:"output_channels"`
	BufferFrames     int    `cbor:"buffer_frames" json:"buffer_frames"`
	WorkingDirectory string `cbor:"working_directory,omitempty" json:"working_directory,omitempty"`
}

// DefaultParams returns the stock stereo configuration.
func DefaultParams() Params {
	return Params{
		SampleRate:     DefaultSampleRate,
		InputChannels:  DefaultInputChannels,
		OutputChannels: DefaultOutputChannels,
		BufferFrames:   DefaultBufferFrames,
	}
}

// Validate checks that the parameters describe a usable device.
func (p Params) Validate() error {
	switch {
	case p.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidParams, p.SampleRate)
	case p.InputChannels < 0:
		return fmt.Errorf("%w: input channels must not be negative, got %d", ErrInvalidParams, p.InputChannels)
	case p.OutputChannels <= 0:
		return fmt.Errorf("%w: output channels must be positive, got %d", ErrInvalidParams, p.OutputChannels)
	case p.BufferFrames <= 0:
		return fmt.Errorf("%w: buffer frames must be positive, got %d", ErrInvalidParams, p.BufferFrames)
	}
	return nil
}

// Engine is an in-process audio VM. Host calls may come from any
// goroutine. Queued messages are applied and host callbacks are invoked
// on whichever goroutine calls Advance: the audio driver while it runs,
// or the host otherwise.
type Engine struct {
	// step serializes Advance so messages and deliveries keep their order.
	step sync.Mutex

	mu          sync.Mutex
	params      Params
	initialized bool
	closed      bool
	now         uint64
	sched       *shreduler
	vars        map[string]*global
	events      map[string]*event
	stdout      func(string)
	stderr      func(string)
	driver      *driver

	inbox        queue
	nextListener atomic.Uint64

	log commonlog.Logger
}

// New creates an engine. It must be initialized before use.
func New() *Engine {
	return &Engine{
		sched:  newShreduler(),
		vars:   make(map[string]*global),
		events: make(map[string]*event),
		log:    commonlog.GetLogger("shredctl.engine"),
	}
}

// Init validates p and brings the engine up.
func (e *Engine) Init(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return ErrClosed
	case e.initialized:
		return ErrAlreadyInitialized
	}
	e.params = p
	e.initialized = true
	e.log.Info("engine initialized", "sampleRate", p.SampleRate, "bufferFrames", p.BufferFrames)
	return nil
}

// check must be called with e.mu held.
func (e *Engine) check() error {
	if e.closed {
		return ErrClosed
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Params returns the parameters the engine was initialized with.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// SetStdout sets the sink for shred console output.
func (e *Engine) SetStdout(fn func(string)) {
	e.mu.Lock()
	e.stdout = fn
	e.mu.Unlock()
}

// SetStderr sets the sink for compiler diagnostics and shred faults.
func (e *Engine) SetStderr(fn func(string)) {
	e.mu.Lock()
	e.stderr = fn
	e.mu.Unlock()
}

// --- Shreds ---

// Compile compiles code and sporks count instances of it, returning
// each shred as it was when sporked. A compile failure returns a
// *CompileError and sporks nothing.
func (e *Engine) Compile(name, code, args string, count int) ([]ShredInfo, error) {
	if count < 1 {
		return nil, fmt.Errorf("engine: spork count must be at least 1, got %d", count)
	}
	prog, cerr := compile(name, code)

	e.mu.Lock()
	if err := e.check(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if cerr == nil {
		cerr = e.declare(prog)
	}
	if cerr != nil {
		sink := e.stderr
		e.mu.Unlock()
		if sink != nil {
			sink(cerr.Error())
		}
		return nil, cerr
	}
	infos := make([]ShredInfo, count)
	for i := range infos {
		infos[i] = e.sched.spork(prog, name, args, e.now).info()
	}
	e.mu.Unlock()
	return infos, nil
}

// CompileFile compiles the file at path. Relative paths resolve against
// the working directory.
func (e *Engine) CompileFile(path, args string, count int) ([]ShredInfo, error) {
	src, err := e.readSource(path)
	if err != nil {
		return nil, err
	}
	return e.Compile(path, src, args, count)
}

func (e *Engine) readSource(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(path) {
		e.mu.Lock()
		wd := e.params.WorkingDirectory
		e.mu.Unlock()
		if wd != "" {
			resolved = filepath.Join(wd, path)
		}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		cerr := &CompileError{Name: path, Message: "no such file or unreadable"}
		if errors.Is(err, os.ErrNotExist) {
			cerr.Message = "no such file"
		}
		e.mu.Lock()
		sink := e.stderr
		e.mu.Unlock()
		if sink != nil {
			sink(cerr.Error())
		}
		return "", cerr
	}
	return string(data), nil
}

// declare installs the globals prog declares. It changes nothing if any
// declaration conflicts with an existing global of another kind.
func (e *Engine) declare(prog *program) *CompileError {
	for _, d := range prog.decls {
		existing := KindInvalid
		if g, ok := e.vars[d.name]; ok {
			existing = g.kind
		} else if ev, ok := e.events[d.name]; ok && ev.declared {
			existing = KindEvent
		}
		if existing != KindInvalid && existing != d.kind {
			return &CompileError{
				Name:    prog.name,
				Line:    d.line,
				Column:  d.col,
				Message: fmt.Sprintf("global '%s' already declared as %s", d.name, existing),
			}
		}
	}
	for _, d := range prog.decls {
		if d.kind == KindEvent {
			e.event(d.name).declared = true
			continue
		}
		if _, ok := e.vars[d.name]; !ok {
			e.vars[d.name] = newGlobal(d)
		}
	}
	return nil
}

// event returns the named event, creating an undeclared placeholder so
// listeners can attach before any shred declares it.
func (e *Engine) event(name string) *event {
	ev, ok := e.events[name]
	if !ok {
		ev = &event{name: name}
		e.events[name] = ev
	}
	return ev
}

// Remove asks the shred to stop. It is reaped on the next Advance.
func (e *Engine) Remove(id ShredID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return err
	}
	s := e.sched.get(id)
	if s == nil || s.removing {
		return fmt.Errorf("%w: %d", ErrUnknownShred, id)
	}
	s.removing = true
	return nil
}

// RemoveAll asks every live shred to stop and returns how many were marked.
func (e *Engine) RemoveAll() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return 0, err
	}
	n := 0
	for _, s := range e.sched.order {
		if !s.removing {
			s.removing = true
			n++
		}
	}
	return n, nil
}

// ResetID makes the next shred ID follow the highest live one.
func (e *Engine) ResetID() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return err
	}
	e.sched.resetID()
	return nil
}

// Replace stops shred id and sporks code in its place, returning the new
// shred as it was when sporked. Both happen under the VM lock, so no
// query sees neither or both.
func (e *Engine) Replace(id ShredID, name, code, args string) (ShredInfo, error) {
	prog, cerr := compile(name, code)

	e.mu.Lock()
	if err := e.check(); err != nil {
		e.mu.Unlock()
		return ShredInfo{}, err
	}
	old := e.sched.get(id)
	if old == nil || old.removing {
		e.mu.Unlock()
		return ShredInfo{}, fmt.Errorf("%w: %d", ErrUnknownShred, id)
	}
	if cerr == nil {
		cerr = e.declare(prog)
	}
	if cerr != nil {
		sink := e.stderr
		e.mu.Unlock()
		if sink != nil {
			sink(cerr.Error())
		}
		return ShredInfo{}, cerr
	}
	e.reap(old)
	info := e.sched.spork(prog, name, args, e.now).info()
	e.mu.Unlock()
	return info, nil
}

// ReplaceFile is Replace with source read from path.
func (e *Engine) ReplaceFile(id ShredID, path, args string) (ShredInfo, error) {
	src, err := e.readSource(path)
	if err != nil {
		return ShredInfo{}, err
	}
	return e.Replace(id, path, src, args)
}

func (e *Engine) reap(s *shred) {
	if s.waitingOn != "" {
		if ev := e.events[s.waitingOn]; ev != nil {
			ev.dropWaiter(s)
		}
		s.waitingOn = ""
	}
	e.sched.delete(s)
}

// Shreds classifies the live shreds.
func (e *Engine) Shreds() ShredList {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.list()
}

// ShredInfo describes shred id, or reports false if the VM does not know it.
func (e *Engine) ShredInfo(id ShredID) (ShredInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sched.get(id)
	if s == nil {
		return ShredInfo{}, false
	}
	return s.info(), true
}

// ShredInfos describes every live shred in ID order.
func (e *Engine) ShredInfos() []ShredInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ShredInfo, len(e.sched.order))
	for i, s := range e.sched.order {
		out[i] = s.info()
	}
	return out
}

// Globals lists declared globals sorted by name.
func (e *Engine) Globals() []GlobalInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedGlobals(e.vars, e.events)
}

// Now returns the VM time in samples.
func (e *Engine) Now() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// Pending returns the number of queued host messages.
func (e *Engine) Pending() int {
	return e.inbox.len()
}

// --- Message queue ---

func (e *Engine) enqueue(m message) error {
	e.mu.Lock()
	err := e.check()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.inbox.push(m)
	return nil
}

// WriteGlobal queues an assignment to a global. Writes to undeclared or
// mismatched globals are dropped when the queue is processed.
func (e *Engine) WriteGlobal(name string, v Value) error {
	return e.enqueue(message{kind: msgWrite, name: name, value: v.Clone()})
}

// WriteIndex queues an assignment to one element of an array global.
func (e *Engine) WriteIndex(name string, kind Kind, i int, v Value) error {
	return e.enqueue(message{kind: msgWriteIndex, name: name, access: kind, index: i, value: v})
}

// WriteKey queues an assignment to one key of an array global.
func (e *Engine) WriteKey(name string, kind Kind, key string, v Value) error {
	return e.enqueue(message{kind: msgWriteKey, name: name, access: kind, key: key, value: v})
}

// ReadGlobal queues a read. deliver runs once on the processing context,
// or never if the global is undeclared or of another kind.
func (e *Engine) ReadGlobal(name string, kind Kind, deliver func(Value)) error {
	return e.enqueue(message{kind: msgRead, name: name, access: kind, deliver: deliver})
}

// ReadIndex queues a read of one array element.
func (e *Engine) ReadIndex(name string, kind Kind, i int, deliver func(Value)) error {
	return e.enqueue(message{kind: msgReadIndex, name: name, access: kind, index: i, deliver: deliver})
}

// ReadKey queues a read of one associative entry.
func (e *Engine) ReadKey(name string, kind Kind, key string, deliver func(Value)) error {
	return e.enqueue(message{kind: msgReadKey, name: name, access: kind, key: key, deliver: deliver})
}

// Signal queues a signal on a global event.
func (e *Engine) Signal(name string) error {
	return e.enqueue(message{kind: msgSignal, name: name})
}

// Broadcast queues a broadcast on a global event.
func (e *Engine) Broadcast(name string) error {
	return e.enqueue(message{kind: msgBroadcast, name: name})
}

// Listen queues a host listener on a global event and returns its ID.
// One-shot listeners are dropped after they fire once.
func (e *Engine) Listen(name string, forever bool, fire func()) (ListenerID, error) {
	id := ListenerID(e.nextListener.Add(1))
	l := &listener{id: id, forever: forever, fire: fire}
	if err := e.enqueue(message{kind: msgListen, name: name, listener: l}); err != nil {
		return 0, err
	}
	return id, nil
}

// StopListening queues removal of a listener. Removing a listener that
// already fired or was never registered is a no-op.
func (e *Engine) StopListening(name string, id ListenerID) error {
	return e.enqueue(message{kind: msgStopListening, name: name, id: id})
}

// process applies queued messages in issue order. Called with e.mu held.
func (e *Engine) process(msgs []message, out *[]func()) {
	for _, m := range msgs {
		switch m.kind {
		case msgWrite, msgWriteIndex, msgWriteKey:
			g := e.vars[m.name]
			if g == nil {
				e.log.Debug("dropped write to undeclared global", "name", m.name)
				continue
			}
			var err error
			switch m.kind {
			case msgWrite:
				err = g.set(m.value)
			case msgWriteIndex:
				err = g.setIndex(m.access, m.index, m.value)
			default:
				err = g.setKey(m.access, m.key, m.value)
			}
			if err != nil {
				e.log.Debug("dropped write", "name", m.name, "reason", err.Error())
			}

		case msgRead, msgReadIndex, msgReadKey:
			g := e.vars[m.name]
			if g == nil {
				e.log.Debug("dropped read of undeclared global", "name", m.name)
				continue
			}
			var v Value
			var err error
			switch m.kind {
			case msgRead:
				v, err = g.get(m.access)
			case msgReadIndex:
				v, err = g.getIndex(m.access, m.index)
			default:
				v, err = g.getKey(m.access, m.key)
			}
			if err != nil {
				e.log.Debug("dropped read", "name", m.name, "reason", err.Error())
				continue
			}
			deliver := m.deliver
			*out = append(*out, func() { deliver(v) })

		case msgSignal, msgBroadcast:
			ev := e.events[m.name]
			if ev == nil || !ev.declared {
				e.log.Debug("dropped signal on undeclared event", "name", m.name)
				continue
			}
			if m.kind == msgSignal {
				if s := ev.signal(out); s != nil {
					s.wakeAt = e.now
				}
			} else {
				for _, s := range ev.broadcast(out) {
					s.wakeAt = e.now
				}
			}

		case msgListen:
			e.event(m.name).addListener(m.listener)

		case msgStopListening:
			if ev := e.events[m.name]; ev != nil {
				ev.removeListener(m.id)
			}
		}
	}
}

// --- Time ---

// Advance processes queued messages, runs the VM for frames samples and
// then invokes host deliveries on the calling goroutine, outside the VM
// lock. Deliveries must not call Advance.
func (e *Engine) Advance(frames int) (int, error) {
	if frames < 0 {
		return 0, fmt.Errorf("engine: frame count must not be negative, got %d", frames)
	}
	e.step.Lock()
	defer e.step.Unlock()

	e.mu.Lock()
	if err := e.check(); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	var out []func()
	e.reapFinished()
	e.process(e.inbox.drain(), &out)
	end := e.now + uint64(frames)
	e.run(end, &out)
	e.now = end
	e.mu.Unlock()

	for _, fn := range out {
		e.invoke(fn)
	}
	return frames, nil
}

func (e *Engine) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("host callback panicked: %v", r)
		}
	}()
	fn()
}

// run executes shreds in wake-time order until end. Called with e.mu held.
func (e *Engine) run(end uint64, out *[]func()) {
	for {
		e.reapFinished()
		next, ok := e.sched.nextWake()
		if !ok || next >= end {
			break
		}
		e.now = max(e.now, next)
		for _, s := range e.sched.due(e.now) {
			e.exec(s, out)
		}
	}
	e.reapFinished()
}

func (e *Engine) reapFinished() {
	for _, s := range slices.Clone(e.sched.order) {
		if s.done || s.removing {
			e.reap(s)
		}
	}
}

func (e *Engine) emit(out *[]func(), sink func(string), line string) {
	if sink != nil {
		*out = append(*out, func() { sink(line) })
	}
}

// exec runs s until it yields, exits or exhausts its budget.
func (e *Engine) exec(s *shred, out *[]func()) {
	code := s.prog.code
	for steps := 0; ; steps++ {
		if steps >= instructionBudget {
			e.emit(out, e.stderr, fmt.Sprintf("[%s]: shred %d exceeded instruction budget, removing", s.name, s.id))
			s.done = true
			return
		}
		if s.pc >= len(code) {
			s.done = true
			return
		}
		in := &code[s.pc]
		s.pc++

		switch in.op {
		case opAssign:
			g := e.vars[in.name]
			if g == nil {
				continue
			}
			v, ok := e.resolve(in.src)
			if !ok {
				continue
			}
			if err := g.set(v); err != nil {
				e.emit(out, e.stderr, fmt.Sprintf("[%s]: %v", s.name, err))
			}

		case opWaitTime:
			n := uint64(math.Round(in.amount * samplesPer(in.unit, e.params.SampleRate)))
			if n == 0 {
				continue
			}
			s.wakeAt = e.now + n
			return

		case opWaitEvent:
			ev := e.events[in.name]
			if ev == nil || !ev.declared {
				e.emit(out, e.stderr, fmt.Sprintf("[%s]: '%s' is not a global Event", s.name, in.name))
				s.done = true
				return
			}
			ev.wait(s)
			return

		case opSignal, opBroadcast:
			ev := e.events[in.name]
			if ev == nil || !ev.declared {
				continue
			}
			if in.op == opSignal {
				if w := ev.signal(out); w != nil {
					w.wakeAt = e.now
				}
			} else {
				for _, w := range ev.broadcast(out) {
					w.wakeAt = e.now
				}
			}

		case opPrint:
			e.emit(out, e.stdout, e.format(in.args))

		case opJump:
			s.pc = in.target

		case opRepeatInit:
			s.counters[in.slot] = in.count

		case opRepeatNext:
			if s.counters[in.slot] <= 0 {
				s.pc = in.target
			} else {
				s.counters[in.slot]--
			}

		case opExit:
			s.done = true
			return
		}
	}
}

func (e *Engine) resolve(op operand) (Value, bool) {
	switch {
	case op.lit != nil:
		return *op.lit, true
	case op.global != "":
		if g := e.vars[op.global]; g != nil {
			return g.value.Clone(), true
		}
	}
	return Value{}, false
}

func display(v Value) string {
	if v.Kind == KindString {
		return v.Str
	}
	return fmt.Sprint(v.Any())
}

func (e *Engine) format(args []operand) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch {
		case a.lit != nil:
			parts[i] = display(*a.lit)
		case a.global != "":
			if g := e.vars[a.global]; g != nil {
				parts[i] = display(g.value)
			} else {
				parts[i] = a.global
			}
		default:
			parts[i] = a.raw
		}
	}
	return strings.Join(parts, " ")
}

// --- Audio thread ---

// StartAudio starts the audio driver goroutine.
func (e *Engine) StartAudio() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(); err != nil {
		return err
	}
	if e.driver != nil && e.driver.running.Load() {
		return ErrAudioRunning
	}
	e.driver = newDriver(e, e.params)
	e.driver.start()
	return nil
}

// StopAudio asks the audio driver to stop. It returns at once; poll
// IsRunning to learn when the driver has quiesced.
func (e *Engine) StopAudio() {
	e.mu.Lock()
	d := e.driver
	e.mu.Unlock()
	if d != nil {
		d.stop()
	}
}

// IsRunning reports whether the audio driver goroutine is still live.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	d := e.driver
	e.mu.Unlock()
	return d != nil && d.running.Load()
}

// Close releases all VM state. It always succeeds; later calls fail
// with ErrClosed. It waits at most DriverStopTimeout for the audio
// thread to exit; a thread stuck in a host callback is left to notice
// the closed engine on its next tick.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	d := e.driver
	e.driver = nil
	e.sched = newShreduler()
	e.vars = make(map[string]*global)
	e.events = make(map[string]*event)
	e.stdout, e.stderr = nil, nil
	e.mu.Unlock()

	e.inbox.drain()
	if d != nil {
		d.stop()
		select {
		case <-d.done:
		case <-time.After(DriverStopTimeout):
			e.log.Warning("audio thread did not exit, abandoning it", "timeout", DriverStopTimeout.String())
		}
	}
	e.log.Info("engine closed")
	return nil
}

package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/shredctl/engine"
)

// State is a coordinator lifecycle state.
type State int

const (
	Uninitialized State = iota
	Configured
	Initialized
	Running
	Stopping
	Stopped
)

var stateNames = [...]string{"uninitialized", "configured", "initialized", "running", "stopping", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Shutdown and read defaults.
const (
	DefaultPollInterval      = 5 * time.Millisecond
	DefaultGraceDelay        = 25 * time.Millisecond
	DefaultQuiesceTimeout    = 2 * time.Second
	DefaultReadTimeoutFrames = 4096
)

// Params configures a coordinator.
type Params struct {
	Engine engine.Params

	// PollInterval is how often Stop checks whether the audio thread has
	// quiesced. QuiesceTimeout bounds the whole wait.
	PollInterval   time.Duration
	QuiesceTimeout time.Duration

	// GraceDelay is slept after the audio thread reports stopped, before
	// callback state and the VM are released.
	GraceDelay time.Duration

	// ReadTimeoutFrames is the ReadNow budget when the caller passes 0.
	ReadTimeoutFrames int
}

// DefaultParams returns parameters for a stock stereo engine.
func DefaultParams() Params {
	return Params{
		Engine:            engine.DefaultParams(),
		PollInterval:      DefaultPollInterval,
		QuiesceTimeout:    DefaultQuiesceTimeout,
		GraceDelay:        DefaultGraceDelay,
		ReadTimeoutFrames: DefaultReadTimeoutFrames,
	}
}

// Validate checks p without touching any VM.
func (p Params) Validate() error {
	if err := p.Engine.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	switch {
	case p.PollInterval <= 0:
		return invalidf("poll interval must be positive, got %s", p.PollInterval)
	case p.QuiesceTimeout < 0:
		return invalidf("quiesce timeout must not be negative, got %s", p.QuiesceTimeout)
	case p.GraceDelay < 0:
		return invalidf("grace delay must not be negative, got %s", p.GraceDelay)
	case p.ReadTimeoutFrames <= 0:
		return invalidf("read timeout must be positive, got %d frames", p.ReadTimeoutFrames)
	}
	return nil
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithEngine sets the factory used by Init to create the VM.
func WithEngine(factory func() VM) Option {
	return func(c *Coordinator) { c.newVM = factory }
}

// WithLogger replaces the coordinator's logger.
func WithLogger(log commonlog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithCallbackRegistry makes the coordinator register its callbacks in r
// instead of the process-wide registry.
func WithCallbackRegistry(r *CallbackRegistry) Option {
	return func(c *Coordinator) { c.callbacks = r }
}

// Coordinator owns one VM instance and sequences its lifecycle:
//
//	Uninitialized → Configured → Initialized → Running → Stopping → Stopped
//
// Teardown stops the audio thread, waits for it to quiesce, releases every
// callback this instance registered and only then closes the VM.
type Coordinator struct {
	id string

	mu       sync.Mutex
	state    State
	params   Params
	vm       VM
	exitHook HookID
	stdout   func(string)
	stderr   func(string)

	// inflight counts host operations holding the VM. Teardown waits for
	// it to reach zero, bounded by QuiesceTimeout, before closing the VM.
	inflight int

	newVM     func() VM
	callbacks *CallbackRegistry
	log       commonlog.Logger

	shreds  *ShredRegistry
	globals *GlobalChannel
	events  *EventRegistry
}

// New creates an unconfigured coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		id:        uuid.NewString(),
		newVM:     func() VM { return engine.New() },
		callbacks: Callbacks(),
		log:       commonlog.GetLogger("shredctl.bridge"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.shreds = newShredRegistry(c)
	c.globals = &GlobalChannel{c: c}
	c.events = newEventRegistry(c)
	return c
}

// ID returns the instance ID that tags this coordinator's callbacks.
func (c *Coordinator) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Params returns the configured parameters.
func (c *Coordinator) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func (c *Coordinator) Shreds() *ShredRegistry  { return c.shreds }
func (c *Coordinator) Globals() *GlobalChannel { return c.globals }
func (c *Coordinator) Events() *EventRegistry  { return c.events }

// Callbacks returns the registry this coordinator registers into.
func (c *Coordinator) Callbacks() *CallbackRegistry { return c.callbacks }

// Configure validates p. It may be called again until Init succeeds.
func (c *Coordinator) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Uninitialized && c.state != Configured {
		return fmt.Errorf("%w: cannot configure while %s", ErrNotReady, c.state)
	}
	c.params = p
	c.state = Configured
	return nil
}

// Init creates and initializes the VM. On failure the coordinator stays
// Configured and Init may be retried.
func (c *Coordinator) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Configured {
		return fmt.Errorf("%w: cannot initialize while %s", ErrNotReady, c.state)
	}

	vm := c.newVM()
	vm.SetStdout(c.stdout)
	vm.SetStderr(c.stderr)
	if err := vm.Init(c.params.Engine); err != nil {
		vm.Close()
		c.log.Error("init failed", "instance", c.id, "error", err.Error())
		return fmt.Errorf("%w: %v", ErrInit, err)
	}
	c.vm = vm
	c.state = Initialized
	c.exitHook = AtExit(c.exitStop)
	c.log.Info("initialized", "instance", c.id, "sampleRate", c.params.Engine.SampleRate)
	return nil
}

// Start starts the audio thread. Starting a running coordinator is a no-op.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Running:
		return nil
	case Initialized:
	default:
		return fmt.Errorf("%w: cannot start while %s", ErrNotReady, c.state)
	}
	if err := c.vm.StartAudio(); err != nil {
		return fmt.Errorf("%w: %v", ErrInit, err)
	}
	c.state = Running
	c.log.Info("audio started", "instance", c.id)
	return nil
}

// StopAudio parks the audio thread and returns to Initialized. The VM can
// then only be advanced by the host.
func (c *Coordinator) StopAudio() error {
	c.mu.Lock()
	switch c.state {
	case Initialized:
		c.mu.Unlock()
		return nil
	case Running:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot stop audio while %s", ErrNotReady, state)
	}
	vm := c.vm
	c.mu.Unlock()

	// c.mu is not held while waiting: audio-thread callbacks may call
	// back into the coordinator.
	vm.StopAudio()
	if !c.quiesce(vm) {
		return fmt.Errorf("%w: audio thread still running after %s", ErrTimeout, c.params.QuiesceTimeout)
	}
	c.mu.Lock()
	if c.state == Running {
		c.state = Initialized
	}
	c.mu.Unlock()
	c.log.Info("audio stopped", "instance", c.id)
	return nil
}

// Stop tears the instance down. Calling Stop again, or on an instance that
// never initialized, is a no-op. If the audio thread does not quiesce in
// time the error wraps ErrShutdown, but teardown still completes.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	switch c.state {
	case Stopping, Stopped:
		c.mu.Unlock()
		return nil
	case Uninitialized, Configured:
		c.state = Stopped
		c.mu.Unlock()
		return nil
	}
	wasRunning := c.state == Running
	c.state = Stopping
	hook := c.exitHook
	c.mu.Unlock()

	hook.Cancel()
	return c.teardown(wasRunning)
}

func (c *Coordinator) exitStop() {
	if err := c.Stop(); err != nil {
		c.log.Error("exit-time shutdown", "instance", c.id, "error", err.Error())
	}
}

// teardown runs with the state at Stopping, so acquire refuses new host
// operations and callbacks that re-enter the coordinator fail fast with
// ErrNotReady instead of blocking the audio thread.
func (c *Coordinator) teardown(wasRunning bool) error {
	c.mu.Lock()
	vm := c.vm
	c.mu.Unlock()

	c.log.Info("stopping", "instance", c.id)
	var errs []error

	vm.StopAudio()
	if !c.quiesce(vm) {
		err := fmt.Errorf("%w: audio thread still running after %s", ErrShutdown, c.params.QuiesceTimeout)
		c.log.Error("forcing teardown", "instance", c.id, "error", err.Error())
		errs = append(errs, err)
	} else if wasRunning {
		time.Sleep(c.params.GraceDelay)
	}

	if n := c.drainOperations(); n > 0 {
		err := fmt.Errorf("%w: %d host operations still using the VM after %s", ErrShutdown, n, c.params.QuiesceTimeout)
		c.log.Error("forcing teardown", "instance", c.id, "error", err.Error())
		errs = append(errs, err)
	}

	released := c.callbacks.ReleaseOwner(c.id)
	c.events.reset()

	if err := vm.Close(); err != nil {
		c.log.Error("vm close failed", "instance", c.id, "error", err.Error())
		errs = append(errs, fmt.Errorf("%w: %v", ErrShutdown, err))
	}

	c.mu.Lock()
	c.vm = nil
	c.state = Stopped
	c.mu.Unlock()
	c.log.Info("stopped", "instance", c.id, "releasedCallbacks", released)
	return errors.Join(errs...)
}

// quiesce polls until the audio thread stops or the timeout passes.
func (c *Coordinator) quiesce(vm VM) bool {
	return c.poll(func() bool { return !vm.IsRunning() })
}

// drainOperations waits for in-flight host operations to release the VM
// and returns how many were still holding it at the deadline.
func (c *Coordinator) drainOperations() int {
	n := 0
	c.poll(func() bool {
		c.mu.Lock()
		n = c.inflight
		c.mu.Unlock()
		return n == 0
	})
	return n
}

func (c *Coordinator) poll(done func() bool) bool {
	deadline := time.Now().Add(c.params.QuiesceTimeout)
	for !done() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(c.params.PollInterval)
	}
	return true
}

// acquire returns the VM for a host operation. The caller must call
// release when done. Nested acquires are allowed.
func (c *Coordinator) acquire() (vm VM, release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Initialized && c.state != Running {
		return nil, nil, fmt.Errorf("%w: coordinator is %s", ErrNotReady, c.state)
	}
	c.inflight++
	return c.vm, c.release, nil
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
}

// Advance runs the VM forward by frames samples on the calling goroutine,
// delivering any pending callbacks. It must not be called from a
// Callback.
func (c *Coordinator) Advance(frames int) (int, error) {
	if frames < 0 {
		return 0, invalidf("frame count must not be negative, got %d", frames)
	}
	vm, release, err := c.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := vm.Advance(frames)
	return n, vmError(err)
}

// Now returns the VM time in samples.
func (c *Coordinator) Now() (uint64, error) {
	vm, release, err := c.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return vm.Now(), nil
}

// SetStdout routes shred console output to fn.
func (c *Coordinator) SetStdout(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdout = fn
	if c.vm != nil {
		c.vm.SetStdout(fn)
	}
}

// SetStderr routes compiler diagnostics and shred faults to fn.
func (c *Coordinator) SetStderr(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stderr = fn
	if c.vm != nil {
		c.vm.SetStderr(fn)
	}
}

// Status is a snapshot of a coordinator.
type Status struct {
	Instance  string        `cbor:"instance" json:"instance"`
	State     string        `cbor:"state" json:"state"`
	Audio     bool          `cbor:"audio" json:"audio"`
	Now       uint64        `cbor:"now" json:"now"`
	Shreds    int           `cbor:"shreds" json:"shreds"`
	Callbacks int           `cbor:"callbacks" json:"callbacks"`
	Params    engine.Params `cbor:"params" json:"params"`
}

// Status describes the coordinator. VM fields are zero unless the VM is up.
func (c *Coordinator) Status() Status {
	st := Status{
		Instance:  c.id,
		State:     c.State().String(),
		Params:    c.Params().Engine,
		Callbacks: c.callbacks.LenOwner(c.id),
	}
	vm, release, err := c.acquire()
	if err != nil {
		return st
	}
	defer release()
	st.Audio = vm.IsRunning()
	st.Now = vm.Now()
	st.Shreds = len(vm.Shreds().All)
	return st
}

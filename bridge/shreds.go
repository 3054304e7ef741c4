package bridge

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/chazu/shredctl/engine"
)

// CodeShredName names shreds sporked from inline code.
const CodeShredName = "compiled.code"

// ShredHandle describes a shred as last reported by the VM.
type ShredHandle struct {
	ID        engine.ShredID `cbor:"id" json:"id"`
	Name      string         `cbor:"name" json:"name"`
	Args      string         `cbor:"args,omitempty" json:"args,omitempty"`
	SporkTime uint64         `cbor:"spork_time" json:"spork_time"`
	Sporked   time.Time      `cbor:"sporked" json:"sporked"`
	Running   bool           `cbor:"running" json:"running"`
	Done      bool           `cbor:"done" json:"done"`
}

// ShredRegistry tracks the shreds sporked through a coordinator. The VM is
// the source of truth; the local cache is refreshed on every query.
type ShredRegistry struct {
	c *Coordinator

	mu    sync.Mutex
	cache map[engine.ShredID]ShredHandle
}

func newShredRegistry(c *Coordinator) *ShredRegistry {
	return &ShredRegistry{c: c, cache: make(map[engine.ShredID]ShredHandle)}
}

func (r *ShredRegistry) handle(info engine.ShredInfo) ShredHandle {
	h := ShredHandle{
		ID:        info.ID,
		Name:      info.Name,
		Args:      info.Args,
		SporkTime: info.SporkTime,
		Running:   info.Running,
		Done:      info.Done,
	}
	if prev, ok := r.cache[info.ID]; ok {
		h.Sporked = prev.Sporked
	} else {
		h.Sporked = time.Now()
	}
	return h
}

// record caches infos as reported by the VM at spork time. Called with
// r.mu held. A shred sporked here may already have finished, so the VM
// is not asked again.
func (r *ShredRegistry) record(infos []engine.ShredInfo) []ShredHandle {
	out := make([]ShredHandle, len(infos))
	for i, info := range infos {
		out[i] = r.handle(info)
		r.cache[info.ID] = out[i]
	}
	return out
}

// Spork compiles code and starts count instances of it. A compile failure
// is not an error: it returns an empty slice and the diagnostic goes to
// the coordinator's stderr sink.
func (r *ShredRegistry) Spork(code, args string, count int) ([]ShredHandle, error) {
	handles, _, err := r.spork(CodeShredName, code, "", args, count)
	return handles, err
}

// SporkFile is Spork with source read from path.
func (r *ShredRegistry) SporkFile(path, args string, count int) ([]ShredHandle, error) {
	if path == "" {
		return nil, invalidf("empty path")
	}
	handles, _, err := r.spork(path, "", path, args, count)
	return handles, err
}

// spork returns the compile diagnostic separately so the command channel
// can report it.
func (r *ShredRegistry) spork(name, code, path, args string, count int) ([]ShredHandle, string, error) {
	if count < 1 {
		return nil, "", invalidf("spork count must be at least 1, got %d", count)
	}
	vm, release, err := r.c.acquire()
	if err != nil {
		return nil, "", err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()
	var infos []engine.ShredInfo
	if path != "" {
		infos, err = vm.CompileFile(path, args, count)
	} else {
		infos, err = vm.Compile(name, code, args, count)
	}
	if diag, ok := compileDiagnostic(err); ok {
		r.c.log.Info("compile failed", "name", name, "diagnostic", diag)
		return []ShredHandle{}, diag, nil
	}
	if err != nil {
		return nil, "", vmError(err)
	}
	return r.record(infos), "", nil
}

func compileDiagnostic(err error) (string, bool) {
	var cerr *engine.CompileError
	if errors.As(err, &cerr) {
		return cerr.Error(), true
	}
	return "", false
}

// Remove asks the VM to stop shred id. The shred may run briefly before
// it actually stops.
func (r *ShredRegistry) Remove(id engine.ShredID) error {
	vm, release, err := r.c.acquire()
	if err != nil {
		return err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := vm.Remove(id); err != nil {
		delete(r.cache, id)
		return vmError(err)
	}
	return nil
}

// RemoveAll asks the VM to stop every shred and returns how many it marked.
func (r *ShredRegistry) RemoveAll() (int, error) {
	vm, release, err := r.c.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := vm.RemoveAll()
	return n, vmError(err)
}

// ResetID makes the next shred ID follow the highest live one.
func (r *ShredRegistry) ResetID() error {
	vm, release, err := r.c.acquire()
	if err != nil {
		return err
	}
	defer release()
	return vmError(vm.ResetID())
}

// Replace stops shred id and starts code in its place. The VM performs
// both under one lock, so no query observes neither shred. A compile
// failure keeps the old shred and returns a zero handle.
func (r *ShredRegistry) Replace(id engine.ShredID, code, args string) (ShredHandle, error) {
	h, _, err := r.replace(id, code, "", args)
	return h, err
}

// ReplaceFile is Replace with source read from path.
func (r *ShredRegistry) ReplaceFile(id engine.ShredID, path, args string) (ShredHandle, error) {
	if path == "" {
		return ShredHandle{}, invalidf("empty path")
	}
	h, _, err := r.replace(id, "", path, args)
	return h, err
}

func (r *ShredRegistry) replace(id engine.ShredID, code, path, args string) (ShredHandle, string, error) {
	vm, release, err := r.c.acquire()
	if err != nil {
		return ShredHandle{}, "", err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()
	var info engine.ShredInfo
	if path != "" {
		info, err = vm.ReplaceFile(id, path, args)
	} else {
		info, err = vm.Replace(id, CodeShredName, code, args)
	}
	if diag, ok := compileDiagnostic(err); ok {
		return ShredHandle{}, diag, nil
	}
	if err != nil {
		return ShredHandle{}, "", vmError(err)
	}
	delete(r.cache, id)
	return r.record([]engine.ShredInfo{info})[0], "", nil
}

// List returns the VM's classification of live shreds.
func (r *ShredRegistry) List() (engine.ShredList, error) {
	vm, release, err := r.c.acquire()
	if err != nil {
		return engine.ShredList{}, err
	}
	defer release()
	return vm.Shreds(), nil
}

// Info describes shred id. It fails with ErrNotFound once the VM has
// reaped the shred.
func (r *ShredRegistry) Info(id engine.ShredID) (ShredHandle, error) {
	vm, release, err := r.c.acquire()
	if err != nil {
		return ShredHandle{}, err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := vm.ShredInfo(id)
	if !ok {
		delete(r.cache, id)
		return ShredHandle{}, vmError(engine.ErrUnknownShred)
	}
	h := r.handle(info)
	r.cache[id] = h
	return h, nil
}

// Refresh replaces the cache with the VM's current shreds, in ID order.
func (r *ShredRegistry) Refresh() ([]ShredHandle, error) {
	vm, release, err := r.c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()
	infos := vm.ShredInfos()
	fresh := make(map[engine.ShredID]ShredHandle, len(infos))
	out := make([]ShredHandle, len(infos))
	for i, info := range infos {
		out[i] = r.handle(info)
		fresh[info.ID] = out[i]
	}
	r.cache = fresh
	return out, nil
}

// Cached returns the last known shreds without asking the VM. It may be
// stale.
func (r *ShredRegistry) Cached() []ShredHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ShredHandle, 0, len(r.cache))
	for _, h := range r.cache {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b ShredHandle) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

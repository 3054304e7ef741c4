package bridge

import (
	"errors"
	"fmt"

	"github.com/chazu/shredctl/engine"
)

// Op names a command on the command channel.
type Op string

const (
	OpSpork       Op = "spork"
	OpSporkFile   Op = "spork_file"
	OpRemove      Op = "remove"
	OpRemoveAll   Op = "remove_all"
	OpReplace     Op = "replace"
	OpReplaceFile Op = "replace_file"
	OpList        Op = "list"
	OpInfo        Op = "info"
	OpSetGlobal   Op = "set_global"
	OpGetGlobal   Op = "get_global"
	OpSignal      Op = "signal"
	OpBroadcast   Op = "broadcast"
	OpAdvance     Op = "advance"
	OpStart       Op = "start"
	OpStopAudio   Op = "stop_audio"
	OpShutdown    Op = "shutdown"
	OpClear       Op = "clear"
	OpResetID     Op = "reset_id"
	OpStatus      Op = "status"
	OpListGlobals Op = "list_globals"
	OpNow         Op = "now"
)

// Command is one host request. Only the fields used by Op are read.
type Command struct {
	Op   Op     `cbor:"op" json:"op"`
	Code string `cbor:"code,omitempty" json:"code,omitempty"`
	Path string `cbor:"path,omitempty" json:"path,omitempty"`
	Args string `cbor:"args,omitempty" json:"args,omitempty"`

	// Count is the number of instances to spork; zero means one.
	Count int `cbor:"count,omitempty" json:"count,omitempty"`

	ID engine.ShredID `cbor:"id,omitempty" json:"id,omitempty"`

	// Name is a global variable or event. Kind may be left unset, in
	// which case a write takes the value's kind and a read the declared
	// kind of the global.
	Name  string        `cbor:"name,omitempty" json:"name,omitempty"`
	Kind  engine.Kind   `cbor:"kind,omitempty" json:"kind,omitempty"`
	Value *engine.Value `cbor:"value,omitempty" json:"value,omitempty"`
	Index *int          `cbor:"index,omitempty" json:"index,omitempty"`
	Key   string        `cbor:"key,omitempty" json:"key,omitempty"`

	Frames  int `cbor:"frames,omitempty" json:"frames,omitempty"`
	Timeout int `cbor:"timeout,omitempty" json:"timeout,omitempty"`
}

// Result is the uniform answer to a Command. OK is false exactly when Err
// is set. A compile failure is OK with no shreds and a Diagnostic.
type Result struct {
	OK         bool                `cbor:"ok" json:"ok"`
	Shreds     []ShredHandle       `cbor:"shreds,omitempty" json:"shreds,omitempty"`
	Shred      *ShredHandle        `cbor:"shred,omitempty" json:"shred,omitempty"`
	List       *engine.ShredList   `cbor:"list,omitempty" json:"list,omitempty"`
	Value      *engine.Value       `cbor:"value,omitempty" json:"value,omitempty"`
	Globals    []engine.GlobalInfo `cbor:"globals,omitempty" json:"globals,omitempty"`
	Status     *Status             `cbor:"status,omitempty" json:"status,omitempty"`
	Now        uint64              `cbor:"now,omitempty" json:"now,omitempty"`
	Count      int                 `cbor:"count,omitempty" json:"count,omitempty"`
	Diagnostic string              `cbor:"diagnostic,omitempty" json:"diagnostic,omitempty"`
	Err        *Fault              `cbor:"error,omitempty" json:"error,omitempty"`
}

func fail(op Op, err error) Result {
	return Result{Err: newFault(op, err)}
}

// Exec validates cmd and runs it against the VM.
func (c *Coordinator) Exec(cmd Command) Result {
	res, err := c.exec(cmd)
	if err != nil {
		c.log.Debug("command failed", "op", string(cmd.Op), "error", err.Error())
		return fail(cmd.Op, err)
	}
	res.OK = true
	return res
}

func (c *Coordinator) exec(cmd Command) (Result, error) {
	count := cmd.Count
	if count == 0 {
		count = 1
	}

	switch cmd.Op {
	case OpSpork:
		handles, diag, err := c.shreds.spork(CodeShredName, cmd.Code, "", cmd.Args, count)
		return Result{Shreds: handles, Diagnostic: diag}, err

	case OpSporkFile:
		if cmd.Path == "" {
			return Result{}, invalidf("empty path")
		}
		handles, diag, err := c.shreds.spork(cmd.Path, "", cmd.Path, cmd.Args, count)
		return Result{Shreds: handles, Diagnostic: diag}, err

	case OpRemove:
		return Result{}, c.shreds.Remove(cmd.ID)

	case OpRemoveAll:
		n, err := c.shreds.RemoveAll()
		return Result{Count: n}, err

	case OpReplace, OpReplaceFile:
		path := ""
		if cmd.Op == OpReplaceFile {
			if cmd.Path == "" {
				return Result{}, invalidf("empty path")
			}
			path = cmd.Path
		}
		h, diag, err := c.shreds.replace(cmd.ID, cmd.Code, path, cmd.Args)
		if err != nil || diag != "" {
			return Result{Diagnostic: diag}, err
		}
		return Result{Shred: &h}, nil

	case OpList:
		list, err := c.shreds.List()
		if err != nil {
			return Result{}, err
		}
		handles, err := c.shreds.Refresh()
		return Result{List: &list, Shreds: handles}, err

	case OpInfo:
		h, err := c.shreds.Info(cmd.ID)
		if err != nil {
			return Result{}, err
		}
		return Result{Shred: &h}, nil

	case OpSetGlobal:
		return Result{}, c.setGlobal(cmd)

	case OpGetGlobal:
		v, err := c.getGlobal(cmd)
		if err != nil {
			return Result{}, err
		}
		return Result{Value: &v}, nil

	case OpSignal:
		return Result{}, c.events.Signal(cmd.Name)

	case OpBroadcast:
		return Result{}, c.events.Broadcast(cmd.Name)

	case OpAdvance:
		if _, err := c.Advance(cmd.Frames); err != nil {
			return Result{}, err
		}
		now, err := c.Now()
		return Result{Now: now}, err

	case OpStart:
		return Result{}, c.Start()

	case OpStopAudio:
		return Result{}, c.StopAudio()

	case OpShutdown:
		return Result{}, c.Stop()

	case OpClear:
		n, err := c.shreds.RemoveAll()
		if err != nil {
			return Result{}, err
		}
		// Reap the removed shreds so the ID counter can restart at 1.
		if _, err := c.Advance(0); err != nil {
			return Result{}, err
		}
		return Result{Count: n}, c.shreds.ResetID()

	case OpResetID:
		return Result{}, c.shreds.ResetID()

	case OpStatus:
		st := c.Status()
		return Result{Status: &st}, nil

	case OpListGlobals:
		globals, err := c.globals.List()
		return Result{Globals: globals}, err

	case OpNow:
		now, err := c.Now()
		return Result{Now: now}, err
	}
	return Result{}, invalidf("unknown op %q", string(cmd.Op))
}

func (c *Coordinator) setGlobal(cmd Command) error {
	if cmd.Value == nil {
		return invalidf("set_global without a value")
	}
	v := *cmd.Value
	kind := cmd.Kind
	if kind == engine.KindInvalid {
		declared, err := c.declaredKind(cmd.Name)
		switch {
		case err == nil:
			kind = declared
		case errors.Is(err, ErrNotFound):
			kind = v.Kind
			if cmd.Index != nil {
				kind = arrayOf(v.Kind)
			}
		default:
			return err
		}
	}
	switch {
	case cmd.Index != nil:
		return c.globals.WriteIndex(cmd.Name, kind, *cmd.Index, v)
	case cmd.Key != "":
		return c.globals.WriteKey(cmd.Name, assocOf(kind), cmd.Key, v)
	}
	return c.globals.Write(cmd.Name, kind, v)
}

func (c *Coordinator) getGlobal(cmd Command) (engine.Value, error) {
	kind := cmd.Kind
	if kind == engine.KindInvalid {
		declared, err := c.declaredKind(cmd.Name)
		if err != nil {
			return engine.Value{}, err
		}
		kind = declared
	}
	switch {
	case cmd.Index != nil:
		return c.globals.ReadIndexNow(cmd.Name, kind, *cmd.Index, cmd.Timeout)
	case cmd.Key != "":
		return c.globals.ReadKeyNow(cmd.Name, assocOf(kind), cmd.Key, cmd.Timeout)
	}
	return c.globals.ReadNow(cmd.Name, kind, cmd.Timeout)
}

// declaredKind looks name up among the VM's declared globals.
func (c *Coordinator) declaredKind(name string) (engine.Kind, error) {
	if err := checkName(name); err != nil {
		return engine.KindInvalid, err
	}
	globals, err := c.globals.List()
	if err != nil {
		return engine.KindInvalid, err
	}
	for _, g := range globals {
		if g.Name == name {
			if g.Kind == engine.KindEvent {
				return engine.KindInvalid, invalidf("'%s' is an event, not a variable", name)
			}
			return g.Kind, nil
		}
	}
	return engine.KindInvalid, fmt.Errorf("%w: no global named '%s'", ErrNotFound, name)
}

func arrayOf(k engine.Kind) engine.Kind {
	switch k {
	case engine.KindInt:
		return engine.KindIntArray
	case engine.KindFloat:
		return engine.KindFloatArray
	}
	return k
}

// assocOf maps a scalar or array kind to the associative kind sharing its
// storage.
func assocOf(k engine.Kind) engine.Kind {
	switch k {
	case engine.KindInt, engine.KindIntArray:
		return engine.KindAssocIntArray
	case engine.KindFloat, engine.KindFloatArray:
		return engine.KindAssocFloatArray
	}
	return k
}

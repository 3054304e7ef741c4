package bridge

import "github.com/chazu/shredctl/engine"

// VM is the command surface the bridge consumes from the audio VM.
// *engine.Engine implements it. Queued operations take effect only when
// the VM is advanced, and Advance delivers callbacks on its caller.
type VM interface {
	Init(engine.Params) error
	Params() engine.Params

	Compile(name, code, args string, count int) ([]engine.ShredInfo, error)
	CompileFile(path, args string, count int) ([]engine.ShredInfo, error)
	Remove(id engine.ShredID) error
	RemoveAll() (int, error)
	ResetID() error
	Replace(id engine.ShredID, name, code, args string) (engine.ShredInfo, error)
	ReplaceFile(id engine.ShredID, path, args string) (engine.ShredInfo, error)
	Shreds() engine.ShredList
	ShredInfo(id engine.ShredID) (engine.ShredInfo, bool)
	ShredInfos() []engine.ShredInfo

	Globals() []engine.GlobalInfo
	WriteGlobal(name string, v engine.Value) error
	WriteIndex(name string, kind engine.Kind, i int, v engine.Value) error
	WriteKey(name string, kind engine.Kind, key string, v engine.Value) error
	ReadGlobal(name string, kind engine.Kind, deliver func(engine.Value)) error
	ReadIndex(name string, kind engine.Kind, i int, deliver func(engine.Value)) error
	ReadKey(name string, kind engine.Kind, key string, deliver func(engine.Value)) error

	Signal(name string) error
	Broadcast(name string) error
	Listen(name string, forever bool, fire func()) (engine.ListenerID, error)
	StopListening(name string, id engine.ListenerID) error

	Now() uint64
	Advance(frames int) (int, error)
	StartAudio() error
	StopAudio()
	IsRunning() bool

	SetStdout(func(string))
	SetStderr(func(string))
	Close() error
}

var _ VM = (*engine.Engine)(nil)

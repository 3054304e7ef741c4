package bridge

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/shredctl/engine"
)

const declarations = `
global int tempo;
global float gain;
global string label;
global int steps[4];
global float levels[3];
`

func TestWriteThenReadTempo(t *testing.T) {
	c := newTestCoordinator(t)
	sporkCode(t, c, declarations, 1)

	if err := c.Globals().Write("tempo", engine.KindInt, engine.IntValue(120)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	advance(t, c, 5)

	var got []engine.Value
	if _, err := c.Globals().Read("tempo", engine.KindInt, func(v engine.Value) { got = append(got, v) }); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatal("read completed before the VM was advanced")
	}
	advance(t, c, 1)
	advance(t, c, 1)
	if len(got) != 1 || got[0].Int != 120 {
		t.Fatalf("read delivered %v, want exactly [120]", got)
	}
	if n := c.Callbacks().LenOwner(c.ID()); n != 0 {
		t.Errorf("%d callbacks still registered after completion", n)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	c := newTestCoordinator(t)
	sporkCode(t, c, declarations, 1)

	tests := []struct {
		name  string
		kind  engine.Kind
		write engine.Value
		want  engine.Value
	}{
		{"tempo", engine.KindInt, engine.IntValue(-7), engine.IntValue(-7)},
		{"gain", engine.KindFloat, engine.FloatValue(0.25), engine.FloatValue(0.25)},
		{"gain", engine.KindFloat, engine.IntValue(2), engine.FloatValue(2)},
		{"label", engine.KindString, engine.StringValue("verse"), engine.StringValue("verse")},
		{"steps", engine.KindIntArray, engine.IntArrayValue([]int64{1, 0, 1, 1}), engine.IntArrayValue([]int64{1, 0, 1, 1})},
		{"levels", engine.KindFloatArray, engine.FloatArrayValue([]float64{0.5, 1}), engine.FloatArrayValue([]float64{0.5, 1})},
		{"steps", engine.KindAssocIntArray, engine.AssocIntValue(map[string]int64{"kick": 1}), engine.AssocIntValue(map[string]int64{"kick": 1})},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.kind.String(), func(t *testing.T) {
			if err := c.Globals().Write(tt.name, tt.kind, tt.write); err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := c.Globals().ReadNow(tt.name, tt.kind, 0)
			if err != nil {
				t.Fatalf("ReadNow: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("read %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteValidation(t *testing.T) {
	c := newTestCoordinator(t)
	tests := []struct {
		name  string
		gname string
		kind  engine.Kind
		value engine.Value
	}{
		{"empty name", "", engine.KindInt, engine.IntValue(1)},
		{"string into int", "tempo", engine.KindInt, engine.StringValue("fast")},
		{"float into int", "tempo", engine.KindInt, engine.FloatValue(1.5)},
		{"event kind", "go", engine.KindEvent, engine.Value{Kind: engine.KindEvent}},
		{"invalid kind", "x", engine.KindInvalid, engine.Value{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Globals().Write(tt.gname, tt.kind, tt.value)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Write: got %v, want ErrInvalidArgument", err)
			}
		})
	}

	if _, err := c.Globals().Read("", engine.KindInt, func(engine.Value) {}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Read empty name: got %v", err)
	}
	if _, err := c.Globals().Read("tempo", engine.KindInt, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Read nil callback: got %v", err)
	}
	if err := c.Globals().WriteIndex("steps", engine.KindInt, 0, engine.IntValue(1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("WriteIndex on scalar kind: got %v", err)
	}
	if err := c.Globals().WriteIndex("steps", engine.KindIntArray, -1, engine.IntValue(1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("WriteIndex negative: got %v", err)
	}
	if err := c.Globals().WriteKey("steps", engine.KindAssocIntArray, "", engine.IntValue(1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("WriteKey empty key: got %v", err)
	}
}

func TestGlobalsNotReady(t *testing.T) {
	c := New(WithCallbackRegistry(NewCallbackRegistry()))
	if err := c.Globals().Write("tempo", engine.KindInt, engine.IntValue(1)); !errors.Is(err, ErrNotReady) {
		t.Errorf("Write: got %v, want ErrNotReady", err)
	}
	if _, err := c.Globals().Read("tempo", engine.KindInt, func(engine.Value) {}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Read: got %v, want ErrNotReady", err)
	}
	if c.Callbacks().Len() != 0 {
		t.Error("a failed Read left a callback registered")
	}
}

func TestWriteToUndeclaredIsDropped(t *testing.T) {
	c := newTestCoordinator(t)
	if err := c.Globals().Write("ghost", engine.KindInt, engine.IntValue(1)); err != nil {
		t.Fatalf("Write to undeclared global should succeed, got %v", err)
	}
	advance(t, c, 1)
	globals, err := c.Globals().List()
	if err != nil {
		t.Fatal(err)
	}
	if len(globals) != 0 {
		t.Errorf("globals = %v, want none", globals)
	}
}

func TestReadsAreNotCoalesced(t *testing.T) {
	c := newTestCoordinator(t)
	sporkCode(t, c, "global int tempo; 90 => tempo;", 1)
	advance(t, c, 1)

	first, second := 0, 0
	if _, err := c.Globals().Read("tempo", engine.KindInt, func(engine.Value) { first++ }); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Globals().Read("tempo", engine.KindInt, func(engine.Value) { second++ }); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	advance(t, c, 1)
	if first != 1 || second != 1 {
		t.Errorf("completions = %d, %d, want 1 and 1", first, second)
	}
}

func TestReadNowTimesOut(t *testing.T) {
	c := newTestCoordinator(t)
	before, _ := c.Now()

	_, err := c.Globals().ReadNow("ghost", engine.KindInt, 300)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadNow: got %v, want ErrTimeout", err)
	}
	after, _ := c.Now()
	if after-before != 300 {
		t.Errorf("ReadNow advanced %d frames, want 300", after-before)
	}
	if n := c.Callbacks().LenOwner(c.ID()); n != 0 {
		t.Errorf("timed out read left %d callbacks", n)
	}

	if _, err := c.Globals().ReadNow("ghost", engine.KindInt, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative timeout: got %v", err)
	}
}

func TestReadTypeMismatchNeverCompletes(t *testing.T) {
	c := newTestCoordinator(t)
	sporkCode(t, c, "global int tempo;", 1)
	if _, err := c.Globals().ReadNow("tempo", engine.KindFloat, 64); !errors.Is(err, ErrTimeout) {
		t.Errorf("ReadNow with wrong kind: got %v, want ErrTimeout", err)
	}
}

func TestCancelRead(t *testing.T) {
	c := newTestCoordinator(t)
	sporkCode(t, c, "global int tempo;", 1)
	fired := false
	h, err := c.Globals().Read("tempo", engine.KindInt, func(engine.Value) { fired = true })
	if err != nil {
		t.Fatal(err)
	}
	if !c.Globals().Cancel(h) {
		t.Error("Cancel reported nothing pending")
	}
	if c.Globals().Cancel(h) {
		t.Error("second Cancel reported a pending read")
	}
	advance(t, c, 1)
	if fired {
		t.Error("cancelled read completed")
	}
}

func TestIndexedAndKeyedAccess(t *testing.T) {
	c := newTestCoordinator(t)
	sporkCode(t, c, declarations, 1)
	g := c.Globals()

	if err := g.WriteIndex("steps", engine.KindIntArray, 2, engine.IntValue(9)); err != nil {
		t.Fatal(err)
	}
	if err := g.WriteIndex("levels", engine.KindFloatArray, 1, engine.IntValue(3)); err != nil {
		t.Fatal(err)
	}
	if err := g.WriteKey("levels", engine.KindAssocFloatArray, "hat", engine.FloatValue(0.75)); err != nil {
		t.Fatal(err)
	}

	v, err := g.ReadIndexNow("steps", engine.KindIntArray, 2, 0)
	if err != nil || v.Int != 9 {
		t.Errorf("steps[2] = %v, %v, want 9", v, err)
	}
	v, err = g.ReadIndexNow("levels", engine.KindFloatArray, 1, 0)
	if err != nil || v.Float != 3 {
		t.Errorf("levels[1] = %v, %v, want 3", v, err)
	}
	v, err = g.ReadKeyNow("levels", engine.KindAssocFloatArray, "hat", 0)
	if err != nil || v.Float != 0.75 {
		t.Errorf("levels[hat] = %v, %v, want 0.75", v, err)
	}
	if _, err := g.ReadIndexNow("steps", engine.KindIntArray, 10, 64); !errors.Is(err, ErrTimeout) {
		t.Errorf("out of bounds read: got %v, want ErrTimeout", err)
	}

	var got engine.Value
	if _, err := g.ReadKey("levels", engine.KindAssocFloatArray, "hat", func(v engine.Value) { got = v }); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if got.Float != 0.75 {
		t.Errorf("async keyed read = %v", got)
	}
}

func TestTypedHelpersAndList(t *testing.T) {
	c := newTestCoordinator(t)
	sporkCode(t, c, `global int tempo; global float gain; global string label; global Event go;
120 => tempo; 0.5 => gain; "intro" => label;`, 1)
	advance(t, c, 1)
	g := c.Globals()

	if n, err := g.Int("tempo"); err != nil || n != 120 {
		t.Errorf("Int = %d, %v", n, err)
	}
	if f, err := g.Float("gain"); err != nil || f != 0.5 {
		t.Errorf("Float = %g, %v", f, err)
	}
	if s, err := g.String("label"); err != nil || s != "intro" {
		t.Errorf("String = %q, %v", s, err)
	}

	list, err := g.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []engine.GlobalInfo{
		{Name: "gain", Kind: engine.KindFloat},
		{Name: "go", Kind: engine.KindEvent},
		{Name: "label", Kind: engine.KindString},
		{Name: "tempo", Kind: engine.KindInt},
	}
	if !reflect.DeepEqual(list, want) {
		t.Errorf("List = %v, want %v", list, want)
	}
}

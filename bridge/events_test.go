package bridge

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func declareEvent(t *testing.T, c *Coordinator, name string) {
	t.Helper()
	sporkCode(t, c, fmt.Sprintf("global Event %s;", name), 1)
}

func TestSignalFiresOneOfManyOneShots(t *testing.T) {
	c := newTestCoordinator(t)
	declareEvent(t, c, "beat")

	var rec recorder
	const n = 4
	for i := 0; i < n; i++ {
		if _, err := c.Events().Listen("beat", false, rec.listener(fmt.Sprint(i))); err != nil {
			t.Fatalf("Listen %d: %v", i, err)
		}
	}
	advance(t, c, 1)

	if err := c.Events().Signal("beat"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if got := rec.Fired(); !reflect.DeepEqual(got, []string{"0"}) {
		t.Fatalf("after signal fired %v, want [0]", got)
	}

	if err := c.Events().Broadcast("beat"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if got := rec.Fired(); !reflect.DeepEqual(got, []string{"0", "1", "2", "3"}) {
		t.Fatalf("after broadcast fired %v, want [0 1 2 3]", got)
	}

	// Every one-shot has now fired and removed itself.
	if err := c.Events().Broadcast("beat"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if got := len(rec.Fired()); got != n {
		t.Errorf("one-shots fired %d times in total, want %d", got, n)
	}
	if got := c.Events().Listeners("beat"); len(got) != 0 {
		t.Errorf("listeners left = %v", got)
	}
	if got := c.Callbacks().LenOwner(c.ID()); got != 0 {
		t.Errorf("%d callbacks left after all one-shots fired", got)
	}
}

func TestBroadcastFiresAllInRegistrationOrder(t *testing.T) {
	c := newTestCoordinator(t)
	declareEvent(t, c, "bar")

	var rec recorder
	for _, tag := range []string{"a", "b", "c"} {
		if _, err := c.Events().Listen("bar", false, rec.listener(tag)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Events().Broadcast("bar"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if got := rec.Fired(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("fired %v, want [a b c]", got)
	}
}

func TestPersistentListener(t *testing.T) {
	c := newTestCoordinator(t)
	declareEvent(t, c, "tick")

	var rec recorder
	h, err := c.Events().Listen("tick", true, rec.listener("tick"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := c.Events().Signal("tick"); err != nil {
			t.Fatal(err)
		}
		advance(t, c, 1)
	}
	if got := len(rec.Fired()); got != 3 {
		t.Fatalf("persistent listener fired %d times, want 3", got)
	}
	if got := c.Events().Listeners("tick"); !reflect.DeepEqual(got, []Handle{h}) {
		t.Errorf("Listeners = %v, want [%d]", got, h)
	}

	if err := c.Events().Stop("tick", h); err != nil {
		t.Fatal(err)
	}
	if err := c.Events().Signal("tick"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if got := len(rec.Fired()); got != 3 {
		t.Errorf("stopped listener fired again, total %d", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := newTestCoordinator(t)
	declareEvent(t, c, "hit")

	var rec recorder
	oneShot, err := c.Events().Listen("hit", false, rec.listener("once"))
	if err != nil {
		t.Fatal(err)
	}
	persistent, err := c.Events().Listen("hit", true, rec.listener("always"))
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Events().Broadcast("hit"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)

	// The one-shot already removed itself.
	if err := c.Events().Stop("hit", oneShot); err != nil {
		t.Errorf("Stop after one-shot fired: %v", err)
	}
	if err := c.Events().Stop("hit", oneShot); err != nil {
		t.Errorf("second Stop of one-shot: %v", err)
	}

	if err := c.Events().Stop("hit", persistent); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := c.Events().Stop("hit", persistent); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := c.Events().Stop("hit", 12345); err != nil {
		t.Errorf("Stop of unknown handle: %v", err)
	}

	if err := c.Events().Broadcast("hit"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if got := rec.Fired(); !reflect.DeepEqual(got, []string{"once", "always"}) {
		t.Errorf("fired %v, want [once always]", got)
	}
}

func TestStopBeforeVMProcessesListen(t *testing.T) {
	c := newTestCoordinator(t)
	declareEvent(t, c, "hit")

	fired := false
	h, err := c.Events().Listen("hit", true, func() { fired = true })
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Events().Stop("hit", h); err != nil {
		t.Fatal(err)
	}
	if err := c.Events().Signal("hit"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if fired {
		t.Error("listener fired after Stop")
	}
}

func TestListenValidation(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.Events().Listen("", true, func() {}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty name: got %v", err)
	}
	if _, err := c.Events().Listen("x", true, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil listener: got %v", err)
	}
	if err := c.Events().Signal(""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Signal empty name: got %v", err)
	}
	if err := c.Events().Broadcast(""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Broadcast empty name: got %v", err)
	}
	if err := c.Events().Stop("", 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Stop empty name: got %v", err)
	}
}

func TestSignalUnknownEventIsNoop(t *testing.T) {
	c := newTestCoordinator(t)
	fired := false
	if _, err := c.Events().Listen("later", true, func() { fired = true }); err != nil {
		t.Fatalf("Listen on undeclared event: %v", err)
	}
	if err := c.Events().Signal("later"); err != nil {
		t.Fatalf("Signal undeclared event: %v", err)
	}
	advance(t, c, 1)
	if fired {
		t.Fatal("listener fired on an undeclared event")
	}

	// Declaring the event later activates the listener.
	declareEvent(t, c, "later")
	if err := c.Events().Signal("later"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if !fired {
		t.Error("listener did not fire once the event was declared")
	}
}

func TestShredSignalsHostListener(t *testing.T) {
	c := newTestCoordinator(t)
	count := 0
	sporkCode(t, c, "global Event pulse;", 1)
	if _, err := c.Events().Listen("pulse", true, func() { count++ }); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	sporkCode(t, c, "repeat (3) { pulse.broadcast(); 10::samp => now; }", 1)
	advance(t, c, 100)
	if count != 3 {
		t.Errorf("listener fired %d times, want 3", count)
	}
}

func TestStopUnderOtherEventNameKeepsListener(t *testing.T) {
	c := newTestCoordinator(t)
	declareEvent(t, c, "beat")

	var rec recorder
	h, err := c.Events().Listen("beat", true, rec.listener("beat"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Events().Stop("other", h); err != nil {
		t.Fatalf("Stop under another name: %v", err)
	}
	if got := c.Events().Listeners("beat"); !reflect.DeepEqual(got, []Handle{h}) {
		t.Errorf("Listeners(beat) = %v, want [%d]", got, h)
	}

	if err := c.Events().Signal("beat"); err != nil {
		t.Fatal(err)
	}
	advance(t, c, 1)
	if got := rec.Fired(); !reflect.DeepEqual(got, []string{"beat"}) {
		t.Fatalf("fired %v, want [beat]", got)
	}

	if err := c.Events().Stop("beat", h); err != nil {
		t.Fatal(err)
	}
	if n := c.Callbacks().LenOwner(c.ID()); n != 0 {
		t.Errorf("%d callbacks left after Stop", n)
	}
}

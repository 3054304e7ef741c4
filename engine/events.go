package engine

import "slices"

// ListenerID identifies a host listener registered on a global event.
type ListenerID uint64

type listener struct {
	id      ListenerID
	forever bool
	fire    func()
	since   uint64
}

// event is the runtime state of a global Event. Shreds wait in FIFO order;
// host listeners are kept in registration order. Every waiter carries a
// sequence number so signal can pick the longest-waiting consumer.
type event struct {
	name      string
	declared  bool
	waiters   []*shred
	listeners []*listener
	seq       uint64
}

func (ev *event) tick() uint64 {
	ev.seq++
	return ev.seq
}

func (ev *event) wait(s *shred) {
	s.waitingOn = ev.name
	s.waitSince = ev.tick()
	ev.waiters = append(ev.waiters, s)
}

func (ev *event) addListener(l *listener) {
	l.since = ev.tick()
	ev.listeners = append(ev.listeners, l)
}

func (ev *event) removeListener(id ListenerID) bool {
	for i, l := range ev.listeners {
		if l.id == id {
			ev.listeners = slices.Delete(ev.listeners, i, i+1)
			return true
		}
	}
	return false
}

func (ev *event) dropWaiter(s *shred) {
	ev.waiters = slices.DeleteFunc(ev.waiters, func(w *shred) bool { return w == s })
}

// signal wakes the single longest-waiting consumer. Woken shreds are
// returned; fired listener callbacks are appended to out.
func (ev *event) signal(out *[]func()) *shred {
	var oldest *listener
	for _, l := range ev.listeners {
		if oldest == nil || l.since < oldest.since {
			oldest = l
		}
	}
	if len(ev.waiters) > 0 && (oldest == nil || ev.waiters[0].waitSince < oldest.since) {
		s := ev.waiters[0]
		ev.waiters = ev.waiters[1:]
		s.waitingOn = ""
		return s
	}
	if oldest == nil {
		return nil
	}
	*out = append(*out, oldest.fire)
	if oldest.forever {
		oldest.since = ev.tick()
	} else {
		ev.removeListener(oldest.id)
	}
	return nil
}

// broadcast wakes every waiting shred and fires every listener in
// registration order.
func (ev *event) broadcast(out *[]func()) []*shred {
	woken := ev.waiters
	ev.waiters = nil
	for _, s := range woken {
		s.waitingOn = ""
	}
	kept := ev.listeners[:0]
	for _, l := range ev.listeners {
		*out = append(*out, l.fire)
		if l.forever {
			l.since = ev.tick()
			kept = append(kept, l)
		}
	}
	clear(ev.listeners[len(kept):])
	ev.listeners = kept
	return woken
}

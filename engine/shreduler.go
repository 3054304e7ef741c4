package engine

import (
	"slices"
)

// ShredID identifies a shred. IDs start at 1 and increase monotonically
// until ResetID is called.
type ShredID uint64

// ShredInfo is a point-in-time description of a live shred.
type ShredInfo struct {
	ID        ShredID `cbor:"id" json:"id"`
	Name      string  `cbor:"name" json:"name"`
	Args      string  `cbor:"args,omitempty" json:"args,omitempty"`
	SporkTime uint64  `cbor:"spork_time" json:"spork_time"`
	Running   bool    `cbor:"running" json:"running"`
	Done      bool    `cbor:"done" json:"done"`
	Blocked   bool    `cbor:"blocked" json:"blocked"`
}

// ShredList classifies live shreds. Ready shreds wait on time; blocked
// shreds wait on a global event.
type ShredList struct {
	All     []ShredID `cbor:"all" json:"all"`
	Ready   []ShredID `cbor:"ready" json:"ready"`
	Blocked []ShredID `cbor:"blocked" json:"blocked"`
}

type shred struct {
	id        ShredID
	name      string
	args      string
	prog      *program
	pc        int
	counters  []int64
	sporkTime uint64
	wakeAt    uint64
	waitingOn string
	waitSince uint64
	removing  bool
	done      bool
}

func (s *shred) info() ShredInfo {
	return ShredInfo{
		ID:        s.id,
		Name:      s.name,
		Args:      s.args,
		SporkTime: s.sporkTime,
		Running:   !s.done && !s.removing,
		Done:      s.done,
		Blocked:   s.waitingOn != "",
	}
}

// shreduler owns the live shreds, ordered by ID.
type shreduler struct {
	byID   map[ShredID]*shred
	order  []*shred
	nextID ShredID
}

func newShreduler() *shreduler {
	return &shreduler{
		byID: make(map[ShredID]*shred),
		// Start IDs at 1 (0 is the "no shred" marker)
		nextID: 1,
	}
}

func (sh *shreduler) spork(prog *program, name, args string, now uint64) *shred {
	s := &shred{
		id:        sh.nextID,
		name:      name,
		args:      args,
		prog:      prog,
		counters:  make([]int64, prog.slots),
		sporkTime: now,
		wakeAt:    now,
	}
	sh.nextID++
	sh.byID[s.id] = s
	sh.order = append(sh.order, s)
	return s
}

func (sh *shreduler) get(id ShredID) *shred {
	return sh.byID[id]
}

func (sh *shreduler) delete(s *shred) {
	delete(sh.byID, s.id)
	sh.order = slices.DeleteFunc(sh.order, func(o *shred) bool { return o == s })
}

// resetID makes the next ID follow the highest live one.
func (sh *shreduler) resetID() {
	var highest ShredID
	for id := range sh.byID {
		highest = max(highest, id)
	}
	sh.nextID = highest + 1
}

// nextWake returns the earliest wake time among runnable shreds.
func (sh *shreduler) nextWake() (uint64, bool) {
	var next uint64
	found := false
	for _, s := range sh.order {
		if s.done || s.removing || s.waitingOn != "" {
			continue
		}
		if !found || s.wakeAt < next {
			next, found = s.wakeAt, true
		}
	}
	return next, found
}

// due returns the runnable shreds whose wake time has arrived.
func (sh *shreduler) due(now uint64) []*shred {
	var out []*shred
	for _, s := range sh.order {
		if !s.done && !s.removing && s.waitingOn == "" && s.wakeAt <= now {
			out = append(out, s)
		}
	}
	return out
}

func (sh *shreduler) list() ShredList {
	list := ShredList{All: []ShredID{}, Ready: []ShredID{}, Blocked: []ShredID{}}
	for _, s := range sh.order {
		list.All = append(list.All, s.id)
		if s.waitingOn != "" {
			list.Blocked = append(list.Blocked, s.id)
		} else {
			list.Ready = append(list.Ready, s.id)
		}
	}
	return list
}

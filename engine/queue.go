package engine

import "sync"

type msgKind uint8

const (
	msgWrite msgKind = iota
	msgWriteIndex
	msgWriteKey
	msgRead
	msgReadIndex
	msgReadKey
	msgSignal
	msgBroadcast
	msgListen
	msgStopListening
)

// message is a host request waiting for the VM to process it.
type message struct {
	kind     msgKind
	name     string
	access   Kind
	index    int
	key      string
	value    Value
	deliver  func(Value)
	listener *listener
	id       ListenerID
}

// queue is the VM's inbound message queue. Hosts push from any goroutine;
// the processing context drains it at the start of each Advance.
type queue struct {
	mu   sync.Mutex
	msgs []message
}

func (q *queue) push(m message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, m)
	q.mu.Unlock()
}

func (q *queue) drain() []message {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.msgs
	q.msgs = nil
	return msgs
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Package bus is a small in-process notification fan-out keyed by
// (topic, subtopic). Listeners are isolated from each other: a panicking
// listener is dropped and the rest still receive the event.
package bus

import "sync"

// Topics and subtopics published by the trade controller.
const (
	TopicState  = "state"
	TopicStatus = "status"
	TopicProfit = "profit"

	SubTransition = "transition"
	SubUpdate     = "update"
)

// Listener receives the published arguments. It runs on the publisher's
// goroutine and should return quickly.
type Listener func(args ...any)

// Token identifies a subscription for later removal.
type Token struct {
	topic    string
	subtopic string
	id       int
}

type key struct {
	topic    string
	subtopic string
}

type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[key]map[int]Listener
}

func New() *Bus {
	return &Bus{listeners: make(map[key]map[int]Listener)}
}

func (b *Bus) Subscribe(topic, subtopic string, fn Listener) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{topic, subtopic}
	if b.listeners[k] == nil {
		b.listeners[k] = make(map[int]Listener)
	}
	b.nextID++
	b.listeners[k][b.nextID] = fn
	return Token{topic: topic, subtopic: subtopic, id: b.nextID}
}

func (b *Bus) Unsubscribe(t Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{t.topic, t.subtopic}
	delete(b.listeners[k], t.id)
	if len(b.listeners[k]) == 0 {
		delete(b.listeners, k)
	}
}

// Publish delivers args to every listener of (topic, subtopic). Delivery is
// at-least-once per listener and synchronous; a listener that panics is
// removed so one bad callback cannot starve the rest.
func (b *Bus) Publish(topic, subtopic string, args ...any) {
	k := key{topic, subtopic}

	b.mu.Lock()
	snapshot := make(map[int]Listener, len(b.listeners[k]))
	for id, fn := range b.listeners[k] {
		snapshot[id] = fn
	}
	b.mu.Unlock()

	for id, fn := range snapshot {
		if !b.deliver(fn, args) {
			b.mu.Lock()
			delete(b.listeners[k], id)
			b.mu.Unlock()
		}
	}
}

func (b *Bus) deliver(fn Listener, args []any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	fn(args...)
	return true
}

package api

import (
	"sync"
)

// Event types published for a solution.
const (
	EventProgress  = "solve.progress"
	EventCompleted = "solve.completed"
	EventFailed    = "solve.failed"
)

type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// terminal reports whether no further events follow evt.
func (e SSEEvent) terminal() bool { return e.Type == EventCompleted || e.Type == EventFailed }

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // solution id -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(id string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[id] == nil {
		b.subs[id] = map[chan SSEEvent]struct{}{}
	}
	b.subs[id][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(id string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[id]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, id)
	}
	close(ch)
}

// Publish never blocks; slow subscribers miss events. Terminal events are
// delivered by evicting the oldest buffered event when a buffer is full.
func (b *Broker) Publish(id string, evt SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[id] {
		select {
		case ch <- evt:
			continue
		default:
		}
		if !evt.terminal() {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Broker) Close() error { return nil }

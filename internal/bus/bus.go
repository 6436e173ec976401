package bus

import "sync"

// Signal names a cross-screen notification. The only producer inside the core
// is a successful mutation; consumers are display surfaces outside this module.
type Signal string

const (
	// KidsUpdated tells listeners to refresh their view of the kid roster
	// and its presence records.
	KidsUpdated Signal = "kids.updated"
)

// Bus is a process-scoped publish/subscribe channel. It replaces the ambient
// device-wide event emitter the mobile client used: subscriptions are explicit
// and torn down with the owning process, not global.
type Bus struct {
	mu     sync.Mutex
	subs   map[Signal]map[int]chan Signal
	next   int
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Signal]map[int]chan Signal)}
}

// Publish notifies all subscribers of sig. Never blocks: a subscriber that has
// fallen behind misses the signal and catches up on its next refresh.
func (b *Bus) Publish(sig Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[sig] {
		select {
		case ch <- sig:
		default:
		}
	}
}

// Subscribe returns a channel receiving sig and a cancel func that must be
// called when the subscriber goes away.
func (b *Bus) Subscribe(sig Signal) (<-chan Signal, func()) {
	ch := make(chan Signal, 8)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs[sig] == nil {
		b.subs[sig] = make(map[int]chan Signal)
	}
	id := b.next
	b.next++
	b.subs[sig][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if m := b.subs[sig]; m != nil {
				delete(m, id)
			}
			closed := b.closed
			b.mu.Unlock()
			if !closed {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close tears the bus down; subsequent publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, m := range b.subs {
		for id, ch := range m {
			delete(m, id)
			close(ch)
		}
	}
}

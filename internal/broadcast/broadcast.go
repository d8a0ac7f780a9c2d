// Package broadcast fans values out to subscribers that only care about the
// most recent one.
package broadcast

import "sync"

// Latest delivers values to every subscriber. A slow subscriber never blocks
// the publisher; it sees the newest value once it reads again.
type Latest[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	closed bool
}

// New creates an empty broadcaster.
func New[T any]() *Latest[T] {
	return &Latest[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a subscriber primed with initial. The returned func
// unsubscribes and closes the channel.
func (b *Latest[T]) Subscribe(initial T) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- initial

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish replaces any unread value of every subscriber with v.
func (b *Latest[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Len returns the number of subscribers.
func (b *Latest[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscribers get a closed channel.
func (b *Latest[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.closed = true
}

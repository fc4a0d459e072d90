package audit

import (
	"context"
	"sync"
)

// Bus wraps a Store with in-process fan-out. Every entry that Record
// persists is offered to all subscribers.
type Bus struct {
	Store
	mu   sync.RWMutex
	subs map[chan *Entry]struct{}
}

// NewBus creates a Bus wrapping the given store.
func NewBus(store Store) *Bus {
	return &Bus{
		Store: store,
		subs:  make(map[chan *Entry]struct{}),
	}
}

// Record delegates to the underlying store, then fans out to all subscribers.
func (b *Bus) Record(ctx context.Context, e Entry) (*Entry, error) {
	saved, err := b.Store.Record(ctx, e)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- saved:
		default:
			// slow subscriber; drop rather than block the writer
		}
	}
	b.mu.RUnlock()

	return saved, nil
}

// Subscribe returns a buffered channel that receives new entries.
func (b *Bus) Subscribe() chan *Entry {
	ch := make(chan *Entry, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan *Entry) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers reports how many channels are attached.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

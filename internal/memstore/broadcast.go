package memstore

import (
	"context"
	"sync"
)

// broadcast fans snapshots out to subscribers.
// Every subscriber channel holds at most one snapshot, a newer snapshot replaces an unread one.
type broadcast[T any] struct {
	mu   sync.Mutex
	subs map[chan T]struct{}
}

func newBroadcast[T any]() *broadcast[T] {
	return &broadcast[T]{subs: make(map[chan T]struct{})}
}

// subscribe registers a channel primed with initial, it is closed once ctx is done
func (b *broadcast[T]) subscribe(ctx context.Context, initial T) <-chan T {
	ch := make(chan T, 1)
	ch <- initial

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

func (b *broadcast[T]) publish(snapshot T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

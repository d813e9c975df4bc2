package broadcast

import (
	"context"
	"sync"

	"sharecast/internal/core/domain"
)

// MemoryFeed keeps the broadcast in process. Used when redis is disabled and
// in tests.
type MemoryFeed struct {
	mu          sync.RWMutex
	current     *domain.Broadcast
	subscribers map[int]chan *domain.Broadcast
	nextID      int
	closed      bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subscribers: make(map[int]chan *domain.Broadcast)}
}

func (f *MemoryFeed) Current(ctx context.Context) (*domain.Broadcast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrFeedClosed
	}
	return clone(f.current), nil
}

func (f *MemoryFeed) Publish(ctx context.Context, b *domain.Broadcast) error {
	if b == nil {
		return ErrNilBroadcast
	}
	return f.update(ctx, func(*domain.Broadcast) (*domain.Broadcast, bool) {
		return clone(b), true
	})
}

func (f *MemoryFeed) Clear(ctx context.Context, publisher string) error {
	return f.update(ctx, func(current *domain.Broadcast) (*domain.Broadcast, bool) {
		return nil, current != nil && current.Publisher == publisher
	})
}

// update swaps the current broadcast under the lock when next reports a
// change, then notifies subscribers.
func (f *MemoryFeed) update(ctx context.Context, next func(*domain.Broadcast) (*domain.Broadcast, bool)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}
	b, changed := next(f.current)
	if !changed {
		return nil
	}
	f.current = b
	for _, ch := range f.subscribers {
		// keep only the latest value for slow subscribers
		select {
		case <-ch:
		default:
		}
		ch <- clone(b)
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, handler func(*domain.Broadcast)) error {
	ch := make(chan *domain.Broadcast, 1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeedClosed
	}
	id := f.nextID
	f.nextID++
	f.subscribers[id] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.subscribers, id)
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-ch:
			if !ok {
				return ErrFeedClosed
			}
			handler(b)
		}
	}
}

func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
	return nil
}

func clone(b *domain.Broadcast) *domain.Broadcast {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

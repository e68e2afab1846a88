// Package dedupe guards create endpoints against repeated submissions of the
// same Idempotency-Key.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Guard remembers submission keys for a bounded window.
type Guard interface {
	// Acquire records key and reports whether it was free. A false result
	// means the key was submitted before and is still remembered.
	Acquire(ctx context.Context, key string) bool

	// Release forgets key so the same submission can be retried, e.g. after
	// a failed create.
	Release(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key string
	at  time.Time
}

// inMemoryGuard keeps keys in insertion order; the oldest key is evicted
// when maxSize is reached and keys older than ttl are treated as free.
type inMemoryGuard struct {
	mu      sync.Mutex
	keys    map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryGuard creates a guard with the given options.
func NewInMemoryGuard(opts ...Option) Guard {
	g := &inMemoryGuard{
		maxSize: 10000,
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.keys = make(map[string]*list.Element)
	g.order = list.New()
	return g
}

func (g *inMemoryGuard) Acquire(_ context.Context, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.expire(now)

	if _, ok := g.keys[key]; ok {
		return false
	}
	if g.maxSize > 0 && g.order.Len() >= g.maxSize {
		g.remove(g.order.Front())
	}
	g.keys[key] = g.order.PushBack(&entry{key: key, at: now})
	return true
}

func (g *inMemoryGuard) Release(_ context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if el, ok := g.keys[key]; ok {
		g.remove(el)
	}
}

func (g *inMemoryGuard) Size() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(g.order.Len())
}

// expire drops keys older than ttl. Must be called with g.mu held.
func (g *inMemoryGuard) expire(now time.Time) {
	if g.ttl <= 0 {
		return
	}
	for el := g.order.Front(); el != nil; el = g.order.Front() {
		if now.Sub(el.Value.(*entry).at) < g.ttl {
			return
		}
		g.remove(el)
	}
}

func (g *inMemoryGuard) remove(el *list.Element) {
	e := g.order.Remove(el).(*entry)
	delete(g.keys, e.key)
}

package llm

import (
	"sync"
)

// RouteIndex maps a session to one of n regions. The same session always
// lands on the same index.
func RouteIndex(sessionID int64, n int) int {
	if n <= 0 {
		return 0
	}
	idx := sessionID % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return int(idx)
}

// ClientPool lazily creates and caches one client per key. Concurrent first
// use may build more than one client; only the first stored is kept.
type ClientPool[T any] struct {
	clients sync.Map
	create  func(key string) (T, error)
}

// NewClientPool returns a pool that builds clients with create.
func NewClientPool[T any](create func(key string) (T, error)) *ClientPool[T] {
	return &ClientPool[T]{create: create}
}

// Get returns the client for key, creating it on first use.
func (p *ClientPool[T]) Get(key string) (T, error) {
	if c, ok := p.clients.Load(key); ok {
		return c.(T), nil
	}
	c, err := p.create(key)
	if err != nil {
		var zero T
		return zero, err
	}
	actual, _ := p.clients.LoadOrStore(key, c)
	return actual.(T), nil
}

// Len returns the number of cached clients.
func (p *ClientPool[T]) Len() int {
	n := 0
	p.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

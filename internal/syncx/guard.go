// Package syncx holds small synchronization helpers shared across the
// capture pipeline.
package syncx

import "sync"

// RWGuard is a read/write-locked value for low-frequency state gates
// such as the recording flag. Hot paths poll it with Get under the
// shared lock, so concurrent readers never serialize against each
// other.
//
// T should be a value type; a returned pointer or slice would escape
// the lock.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard returns a guard seeded with the initial value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Get returns the current value.
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Swap replaces the value and returns the previous one.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// Update mutates the value in place under the write lock.
func (g *RWGuard[T]) Update(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

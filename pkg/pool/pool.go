// Package pool provides typed object pooling for Porter's hot paths.
//
// Pool[T] wraps sync.Pool with a reset hook and usage statistics. Maps is
// the shared pool of record-sized maps used while projecting records into
// staging.
//
// Example usage:
//
//	m := pool.Maps.Get()
//	defer pool.Maps.Put(m)
//
//	m["id"] = 1
//	encode(m)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed object pool. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a pool. newFn builds objects when the pool is empty and reset,
// if non-nil, runs on every object handed back through Put.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object from the pool, allocating one if needed.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool. obj must not be used after.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns how many objects were allocated, are checked out and how
// many Get calls were made.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets)
}

// Maps pools map[string]any values with room for a typical record.
var Maps = New(
	func() map[string]any { return make(map[string]any, 16) },
	func(m map[string]any) { clear(m) },
)

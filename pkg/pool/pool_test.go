package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolResetsOnPut(t *testing.T) {
	p := New(func() map[string]any { return map[string]any{} }, func(m map[string]any) { clear(m) })

	m := p.Get()
	m["a"] = 1
	p.Put(m)

	// sync.Pool may or may not hand the same map back; either way it is empty
	assert.Empty(t, p.Get())
}

func TestPoolStats(t *testing.T) {
	p := New(func() *int { return new(int) }, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := p.Get()
			*v++
			p.Put(v)
		}()
	}
	wg.Wait()

	allocated, inUse, gets := p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Equal(t, int64(8), gets)
	assert.GreaterOrEqual(t, allocated, int64(1))
	assert.LessOrEqual(t, allocated, int64(8))

	v := p.Get()
	_, inUse, _ = p.Stats()
	assert.Equal(t, int64(1), inUse)
	p.Put(v)
}

/*
Package pool provides reusable sample buffers.

Transfer buffers are float32 slices grouped by capacity class, a power of
two starting at 64 elements. A rented buffer must be released exactly once;
a second or stale release is ignored. Buffer contents are not zeroed on
rent.

Conversion signals are served by signal pools which are cached per
allocator, so components with the same allocators share them.
*/
package pool

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"pipelined.dev/signal"
)

const (
	minClassBits = 6
	numClasses   = 20
)

// Pool keeps buffers of power-of-two capacities. It is safe for
// concurrent use.
type Pool struct {
	classes     [numClasses]sync.Pool
	outstanding atomic.Int64
	allocated   atomic.Int64
}

type slot struct {
	pool  *Pool
	class int
	gen   atomic.Uint32
	data  []float32
}

// Buffer is a handle to a rented slice. Its zero value is an empty buffer
// which is safe to release.
type Buffer struct {
	slot *slot
	gen  uint32
	n    int
}

// New returns a new empty pool.
func New() *Pool {
	return &Pool{}
}

// Default is the pool used when components are not given one.
var Default = New()

var m = struct {
	sync.Mutex
	pools map[signal.Allocator]*signal.Pool
}{
	pools: map[signal.Allocator]*signal.Pool{},
}

// Get returns pool for provided allocator. Pools are cached internally, so
// multiple calls for same allocator will return the same pool instance.
func Get(allocator signal.Allocator) *signal.Pool {
	m.Lock()
	defer m.Unlock()
	if p, ok := m.pools[allocator]; ok {
		return p
	}

	p := allocator.Pool()
	m.pools[allocator] = p
	return p
}

// Wipe cleans up internal cache of pools.
func Wipe() {
	m.Lock()
	defer m.Unlock()
	m.pools = map[signal.Allocator]*signal.Pool{}
}

// Floating rents a float64 signal of length samples per channel. Signals
// are allocated with the capacity of the length class, so pools are shared
// by similar lengths. The returned func puts the signal back and must be
// called once.
func Floating(channels, length int) (signal.Floating, func()) {
	size := length
	if c := class(length); c < numClasses {
		size = 1 << (c + minClassBits)
	}
	p := Get(signal.Allocator{
		Channels: channels,
		Length:   size,
		Capacity: size,
	})
	s := p.GetFloat64()
	return s.Slice(0, length), func() {
		p.PutFloat64(s)
	}
}

func class(n int) int {
	if n <= 1<<minClassBits {
		return 0
	}
	return bits.Len(uint(n-1)) - minClassBits
}

// Rent returns a buffer of n elements. Requests larger than the biggest
// class are served by plain allocations which are not pooled.
func (p *Pool) Rent(n int) Buffer {
	if n < 0 {
		n = 0
	}
	c := class(n)
	p.outstanding.Add(1)
	if c >= numClasses {
		p.allocated.Add(1)
		s := &slot{pool: p, class: -1, data: make([]float32, n)}
		return Buffer{slot: s, gen: s.gen.Load(), n: n}
	}
	s, ok := p.classes[c].Get().(*slot)
	if !ok {
		p.allocated.Add(1)
		s = &slot{pool: p, class: c, data: make([]float32, 1<<(c+minClassBits))}
	}
	return Buffer{slot: s, gen: s.gen.Load(), n: n}
}

// With rents a buffer of n elements for the duration of fn.
func (p *Pool) With(n int, fn func([]float32) error) error {
	b := p.Rent(n)
	defer b.Release()
	return fn(b.Data())
}

// Outstanding returns number of rented buffers that were not released.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Allocated returns number of backing slices the pool has allocated.
func (p *Pool) Allocated() int64 {
	return p.allocated.Load()
}

// Data returns the rented slice. It must not be used after Release.
func (b Buffer) Data() []float32 {
	if b.slot == nil {
		return nil
	}
	return b.slot.data[:b.n]
}

// Len returns number of elements in the buffer.
func (b Buffer) Len() int {
	return b.n
}

// Cap returns capacity of the backing slice.
func (b Buffer) Cap() int {
	if b.slot == nil {
		return 0
	}
	return len(b.slot.data)
}

// Release returns the buffer to its pool. Only the first release of a
// rent has effect.
func (b Buffer) Release() {
	s := b.slot
	if s == nil || !s.gen.CompareAndSwap(b.gen, b.gen+1) {
		return
	}
	s.pool.outstanding.Add(-1)
	if s.class >= 0 {
		s.pool.classes[s.class].Put(s)
	}
}

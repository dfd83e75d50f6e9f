package pool_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/signal"

	"pipelined.dev/audiograph/pool"
)

func TestPool(t *testing.T) {
	tests := []struct {
		description string
		size        int
		capacity    int
		allocs      int
	}{
		{
			description: "empty",
			size:        0,
			capacity:    64,
			allocs:      10,
		},
		{
			description: "min class",
			size:        64,
			capacity:    64,
			allocs:      10,
		},
		{
			description: "round up",
			size:        1000,
			capacity:    1024,
			allocs:      1000,
		},
	}
	for _, test := range tests {
		p := pool.New()
		for i := 0; i < test.allocs; i++ {
			b := p.Rent(test.size)
			assert.Equal(t, test.size, b.Len(), test.description)
			assert.Equal(t, test.size, len(b.Data()), test.description)
			assert.Equal(t, test.capacity, b.Cap(), test.description)
			b.Release()
		}
		assert.Zero(t, p.Outstanding(), test.description)
	}
}

func TestDoubleRelease(t *testing.T) {
	p := pool.New()
	b := p.Rent(128)
	b.Release()
	b.Release()
	assert.Zero(t, p.Outstanding())

	// stale handle must not release the next rent of the same slot
	next := p.Rent(128)
	b.Release()
	assert.Equal(t, int64(1), p.Outstanding())
	next.Release()
	assert.Zero(t, p.Outstanding())

	var empty pool.Buffer
	empty.Release()
	assert.Nil(t, empty.Data())
}

func TestWith(t *testing.T) {
	p := pool.New()
	err := p.With(256, func(data []float32) error {
		assert.Equal(t, 256, len(data))
		assert.Equal(t, int64(1), p.Outstanding())
		return nil
	})
	assert.NoError(t, err)
	assert.Zero(t, p.Outstanding())
}

func TestConcurrentRent(t *testing.T) {
	p := pool.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := p.Rent(512)
				b.Data()[0] = 1
				b.Release()
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, p.Outstanding())
}

func TestGet(t *testing.T) {
	alloc := signal.Allocator{
		Channels: 2,
		Length:   16,
		Capacity: 16,
	}
	p := pool.Get(alloc)
	assert.Same(t, p, pool.Get(alloc))
	alloc.Length = 8
	assert.NotSame(t, p, pool.Get(alloc))

	pool.Wipe()
	alloc.Length = 16
	assert.NotSame(t, p, pool.Get(alloc))
}

func TestFloating(t *testing.T) {
	tests := []struct {
		description string
		channels    int
		length      int
	}{
		{
			description: "empty",
			channels:    1,
			length:      0,
		},
		{
			description: "mono",
			channels:    1,
			length:      100,
		},
		{
			description: "stereo",
			channels:    2,
			length:      512,
		},
	}
	for _, test := range tests {
		s, release := pool.Floating(test.channels, test.length)
		assert.Equal(t, test.channels, s.Channels(), test.description)
		assert.Equal(t, test.length, s.Length(), test.description)
		assert.Equal(t, test.channels*test.length, s.Len(), test.description)

		data := make([]float32, s.Len())
		for i := range data {
			data[i] = 0.25
		}
		signal.WriteFloat32(data, s)
		out := make([]float32, s.Len())
		signal.ReadFloat32(s, out)
		assert.Equal(t, data, out, test.description)
		release()
	}
}

// Package ring provides a bounded FIFO of interleaved float32 samples.
package ring

import "sync"

// Buffer is a fixed size FIFO that moves whole frames only. It is safe for
// concurrent use by one writer and one reader.
type Buffer struct {
	mu       sync.Mutex
	data     []float32
	channels int
	r        int
	size     int
}

// New returns a buffer that holds frames samples of channels channels.
func New(frames, channels int) *Buffer {
	if channels < 1 {
		channels = 1
	}
	if frames < 1 {
		frames = 1
	}
	return &Buffer{
		data:     make([]float32, frames*channels),
		channels: channels,
	}
}

// Write appends as many whole frames of p as fit and returns number of
// frames written. Frames that don't fit are not written.
func (b *Buffer) Write(p []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p) / b.channels * b.channels
	if free := len(b.data) - b.size; n > free {
		n = free
	}
	w := (b.r + b.size) % len(b.data)
	c := copy(b.data[w:], p[:n])
	copy(b.data, p[c:n])
	b.size += n
	return n / b.channels
}

// Read moves up to len(p) whole frames into p and returns number of frames
// read.
func (b *Buffer) Read(p []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p) / b.channels * b.channels
	if n > b.size {
		n = b.size
	}
	c := copy(p[:n], b.data[b.r:])
	copy(p[c:n], b.data)
	b.r = (b.r + n) % len(b.data)
	b.size -= n
	return n / b.channels
}

// Len returns number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size / b.channels
}

// Cap returns capacity in frames.
func (b *Buffer) Cap() int {
	return len(b.data) / b.channels
}

// Reset drops all buffered frames.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r, b.size = 0, 0
}

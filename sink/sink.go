// Package sink provides terminal nodes that collect or discard samples.
package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"pipelined.dev/audiograph"
)

// Bucket collects everything written into it. It is safe to inspect while
// samples are being written.
type Bucket struct {
	audiograph.SinkBase
	mu      sync.Mutex
	samples []float32
}

// NewBucket returns bucket bound to g.
func NewBucket(g *audiograph.Graph, f audiograph.Format) (*Bucket, error) {
	var b Bucket
	b.InitSink(f)
	if err := g.CreateNode(&b, "bucket"); err != nil {
		return nil, err
	}
	return &b, nil
}

// Write appends count samples.
func (b *Bucket) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := b.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, buf[offset:offset+b.InputFormat().Len(count)]...)
	return nil
}

// Samples returns a copy of collected interleaved samples.
func (b *Bucket) Samples() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float32(nil), b.samples...)
}

// Len returns number of collected samples per channel.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples) / b.InputFormat().NumChannels()
}

// Reset drops collected samples.
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
}

// Dispose disposes the node.
func (b *Bucket) Dispose() error {
	return b.DisposeOnce(nil)
}

// Null discards samples and counts them.
type Null struct {
	audiograph.SinkBase
	written atomic.Int64
}

// NewNull returns null sink bound to g.
func NewNull(g *audiograph.Graph, f audiograph.Format) (*Null, error) {
	var n Null
	n.InitSink(f)
	if err := g.CreateNode(&n, "null"); err != nil {
		return nil, err
	}
	return &n, nil
}

// Write discards count samples.
func (n *Null) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := n.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	n.written.Add(int64(count))
	return nil
}

// Written returns number of discarded samples per channel.
func (n *Null) Written() int64 {
	return n.written.Load()
}

// Dispose disposes the node.
func (n *Null) Dispose() error {
	return n.DisposeOnce(nil)
}

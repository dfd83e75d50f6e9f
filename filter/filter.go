// Package filter provides nodes that transform samples on their way through
// the graph.
package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/pool"
)

const (
	// MaxDecibels is the loudest gain Volume applies.
	MaxDecibels = 48
	// MinDecibels is the quietest gain Volume applies above mute.
	MinDecibels = -72

	scratchDuration = 10 * time.Millisecond
)

// Passthrough moves samples without changes. It's useful as a junction
// that can be reconnected while its peers stay connected.
type Passthrough struct {
	audiograph.FilterBase
}

// NewPassthrough returns passthrough filter bound to g.
func NewPassthrough(g *audiograph.Graph, f audiograph.Format) (*Passthrough, error) {
	var p Passthrough
	p.InitFilter(f, f)
	if err := g.CreateNode(&p, "passthrough"); err != nil {
		return nil, err
	}
	return &p, nil
}

// Read pulls samples from input.
func (p *Passthrough) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := p.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	n, err := p.ReadInput(ctx, buf, offset, count)
	if errors.Is(err, io.EOF) {
		p.SetFinished()
	}
	return n, err
}

// Write pushes samples to output.
func (p *Passthrough) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := p.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	return p.WriteOutput(ctx, buf, offset, count)
}

// Dispose disposes the node.
func (p *Passthrough) Dispose() error {
	return p.DisposeOnce(nil)
}

// Volume multiplies samples by a gain. Gain can be changed from any
// goroutine, optionally with a linear fade.
type Volume struct {
	audiograph.FilterBase
	pool    *pool.Pool
	scratch int

	target  atomic.Uint32
	fade    atomic.Int64
	pending atomic.Bool

	current float32
	slope   float32
	left    int64
}

// NewVolume returns volume filter with unity gain bound to g.
func NewVolume(g *audiograph.Graph, f audiograph.Format) (*Volume, error) {
	v := Volume{
		pool:    pool.Default,
		scratch: max(f.SamplesPerChannel(scratchDuration), 1),
		current: 1,
	}
	v.target.Store(math.Float32bits(1))
	v.InitFilter(f, f)
	if err := g.CreateNode(&v, "volume"); err != nil {
		return nil, err
	}
	return &v, nil
}

// Gain returns target linear gain.
func (v *Volume) Gain() float32 {
	return math.Float32frombits(v.target.Load())
}

// SetGain sets linear gain. Non-positive fade applies the gain instantly.
func (v *Volume) SetGain(gain float32, fade time.Duration) error {
	g := float64(gain)
	if gain < 0 || math.IsNaN(g) || math.IsInf(g, 0) {
		return fmt.Errorf("%w: invalid gain %v", audiograph.ErrInvalidOperation, gain)
	}
	v.fade.Store(int64(v.InputFormat().SamplesPerChannel(fade)))
	v.target.Store(math.Float32bits(gain))
	v.pending.Store(true)
	return nil
}

// SetDecibels sets gain in decibels, clamped to [MinDecibels, MaxDecibels].
func (v *Volume) SetDecibels(db float32, fade time.Duration) error {
	if math.IsNaN(float64(db)) {
		return fmt.Errorf("%w: invalid gain %v dB", audiograph.ErrInvalidOperation, db)
	}
	db = min(max(db, MinDecibels), MaxDecibels)
	return v.SetGain(float32(math.Pow(10, float64(db)/20)), fade)
}

// Read pulls samples from input and applies gain in place.
func (v *Volume) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := v.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	n, err := v.ReadInput(ctx, buf, offset, count)
	v.apply(buf[offset : offset+v.OutputFormat().Len(n)])
	if errors.Is(err, io.EOF) {
		v.SetFinished()
	}
	return n, err
}

// Write applies gain on a copy and pushes it to output. Caller buffer is
// not modified.
func (v *Volume) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := v.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	f := v.InputFormat()
	scratch := v.pool.Rent(f.Len(v.scratch))
	defer scratch.Release()
	for done := 0; done < count; {
		n := min(v.scratch, count-done)
		chunk := scratch.Data()[:f.Len(n)]
		copy(chunk, buf[offset+f.Len(done):])
		v.apply(chunk)
		if err := v.WriteOutput(ctx, chunk, 0, n); err != nil {
			return err
		}
		done += n
	}
	return nil
}

func (v *Volume) apply(samples []float32) {
	if v.pending.Swap(false) {
		target := v.Gain()
		if fade := v.fade.Load(); fade > 0 {
			v.left = fade
			v.slope = (target - v.current) / float32(fade)
		} else {
			v.current, v.left = target, 0
		}
	}
	channels := v.InputFormat().NumChannels()
	if v.left == 0 && v.current == 1 {
		return
	}
	for i := 0; i+channels <= len(samples); i += channels {
		if v.left > 0 {
			v.current += v.slope
			if v.left--; v.left == 0 {
				v.current = v.Gain()
			}
		}
		for c := i; c < i+channels; c++ {
			samples[c] *= v.current
		}
	}
}

// Dispose disposes the node.
func (v *Volume) Dispose() error {
	return v.DisposeOnce(nil)
}

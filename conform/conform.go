// Package conform provides a filter that converts samples between formats.
// Graph never converts formats implicitly, the conformer has to be put
// between nodes of different formats.
package conform

import (
	"context"
	"errors"
	"fmt"
	"io"

	resampling "github.com/tphakala/go-audio-resampling"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/pool"
)

// ErrUnsupportedConversion is returned when channels can not be mapped.
var ErrUnsupportedConversion = fmt.Errorf("%w: unsupported channel conversion", audiograph.ErrInvalidOperation)

type (
	// Resampler converts sample rate and maps mono to stereo and back. It
	// can be read or written, but not both.
	Resampler struct {
		audiograph.FilterBase
		resampler resampling.Resampler
		pool      *pool.Pool
		pending   []float32
		samples   []float64
		eof       bool
	}

	// Option configures the resampler.
	Option func(*Resampler)
)

// WithPool sets the pool for scratch buffers.
func WithPool(p *pool.Pool) Option {
	return func(r *Resampler) {
		r.pool = p
	}
}

// NewResampler returns a filter that accepts samples of in format and
// provides samples of out format.
func NewResampler(g *audiograph.Graph, in, out audiograph.Format, options ...Option) (*Resampler, error) {
	ic, oc := in.NumChannels(), out.NumChannels()
	if ic != oc && !(ic <= 2 && oc <= 2) {
		return nil, fmt.Errorf("%w: %d to %d channels", ErrUnsupportedConversion, ic, oc)
	}
	r := Resampler{
		pool: pool.Default,
	}
	for _, option := range options {
		option(&r)
	}
	if in.SampleRate != out.SampleRate && in.SampleRate > 0 && out.SampleRate > 0 {
		rs, err := resampling.New(&resampling.Config{
			InputRate:  float64(in.SampleRate),
			OutputRate: float64(out.SampleRate),
			Channels:   oc,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("resampler: %w", err)
		}
		r.resampler = rs
	}
	r.InitFilter(in, out)
	if err := g.CreateNode(&r, "conform.resampler"); err != nil {
		return nil, err
	}
	return &r, nil
}

// Read converts samples of input. It returns zero samples when input has
// nothing available or the resampler needs more input to produce output.
func (r *Resampler) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := r.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	in, out := r.InputFormat(), r.OutputFormat()
	oc := out.NumChannels()
	for len(r.pending) < out.Len(count) && !r.eof {
		want := count - len(r.pending)/oc
		size := max(1, int(int64(want)*int64(in.SampleRate)/int64(max(out.SampleRate, 1))))
		n, err := r.pull(ctx, size)
		if errors.Is(err, io.EOF) {
			r.eof = true
			break
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
	}
	frames := min(count, len(r.pending)/oc)
	if frames == 0 && r.eof {
		r.SetFinished()
		return 0, io.EOF
	}
	copy(buf[offset:], r.pending[:frames*oc])
	r.consume(frames * oc)
	return frames, nil
}

// pull reads count samples of input and converts them.
func (r *Resampler) pull(ctx context.Context, count int) (int, error) {
	scratch := r.pool.Rent(r.InputFormat().Len(count))
	defer scratch.Release()
	n, err := r.ReadInput(ctx, scratch.Data(), 0, count)
	if n > 0 {
		if cerr := r.convert(scratch.Data()[:r.InputFormat().Len(n)]); cerr != nil {
			return n, cerr
		}
	}
	return n, err
}

// Write converts samples and writes them to output. Samples the resampler
// holds back are written with the next call.
func (r *Resampler) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := r.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	if err := r.convert(buf[offset : offset+r.InputFormat().Len(count)]); err != nil {
		return err
	}
	oc := r.OutputFormat().NumChannels()
	frames := len(r.pending) / oc
	if frames == 0 {
		return nil
	}
	err := r.WriteOutput(ctx, r.pending, 0, frames)
	r.consume(frames * oc)
	return err
}

// convert maps channels, resamples and appends the result to pending.
func (r *Resampler) convert(in []float32) error {
	ic, oc := r.InputFormat().NumChannels(), r.OutputFormat().NumChannels()
	frames := len(in) / ic
	r.samples = r.samples[:0]
	for i := 0; i < frames; i++ {
		frame := in[i*ic : (i+1)*ic]
		switch {
		case ic == oc:
			for _, v := range frame {
				r.samples = append(r.samples, float64(v))
			}
		case ic == 1:
			for c := 0; c < oc; c++ {
				r.samples = append(r.samples, float64(frame[0]))
			}
		default:
			var sum float64
			for _, v := range frame {
				sum += float64(v)
			}
			r.samples = append(r.samples, sum/float64(ic))
		}
	}
	if r.resampler == nil {
		for _, v := range r.samples {
			r.pending = append(r.pending, float32(v))
		}
		return nil
	}
	out, err := r.resampler.Process(r.samples)
	if err != nil {
		return audiograph.Fault("resample: %v", err)
	}
	for _, v := range out {
		r.pending = append(r.pending, float32(v))
	}
	return nil
}

func (r *Resampler) consume(n int) {
	left := copy(r.pending, r.pending[n:])
	r.pending = r.pending[:left]
}

// Dispose implements audiograph.Node.
func (r *Resampler) Dispose() error {
	return r.DisposeOnce(func() error {
		r.resampler = nil
		r.pending = nil
		return nil
	})
}

// Package source provides generator nodes: silence, constants, fixed
// sample data and sine waves.
package source

import (
	"context"
	"io"
	"math"

	"pipelined.dev/audiograph"
)

// Infinite is a length of generators that never finish.
const Infinite = -1

// limit tracks how many samples per channel a generator has left.
type limit struct {
	left int
}

func newLimit(total int) limit {
	if total < 0 {
		return limit{left: Infinite}
	}
	return limit{left: total}
}

// take returns how many of count samples can be produced and consumes
// them.
func (l *limit) take(count int) int {
	if l.left == Infinite {
		return count
	}
	n := min(count, l.left)
	l.left -= n
	return n
}

func (l *limit) done() bool {
	return l.left == 0
}

// Silence produces zeros forever.
type Silence struct {
	audiograph.SourceBase
}

// NewSilence returns silence source bound to g.
func NewSilence(g *audiograph.Graph, f audiograph.Format) (*Silence, error) {
	var s Silence
	s.InitSource(f)
	if err := g.CreateNode(&s, "silence"); err != nil {
		return nil, err
	}
	return &s, nil
}

// Read zeroes count samples.
func (s *Silence) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := s.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	clear(buf[offset : offset+s.OutputFormat().Len(count)])
	return count, nil
}

// Dispose disposes the node.
func (s *Silence) Dispose() error {
	return s.DisposeOnce(nil)
}

// Constant produces the same value on every channel.
type Constant struct {
	audiograph.SourceBase
	Value float32
	limit
}

// NewConstant returns source that produces total samples per channel of
// value. Use Infinite for endless output.
func NewConstant(g *audiograph.Graph, f audiograph.Format, value float32, total int) (*Constant, error) {
	c := Constant{Value: value, limit: newLimit(total)}
	c.InitSource(f)
	if err := g.CreateNode(&c, "constant"); err != nil {
		return nil, err
	}
	return &c, nil
}

// Read fills up to count samples with the value.
func (c *Constant) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := c.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if c.done() {
		c.SetFinished()
		return 0, io.EOF
	}
	n := c.take(count)
	out := buf[offset : offset+c.OutputFormat().Len(n)]
	for i := range out {
		out[i] = c.Value
	}
	return n, nil
}

// Dispose disposes the node.
func (c *Constant) Dispose() error {
	return c.DisposeOnce(nil)
}

// Fixed replays interleaved samples once.
type Fixed struct {
	audiograph.SourceBase
	data []float32
	pos  int
}

// NewFixed returns source that replays data. Trailing samples that don't
// form a whole frame are ignored.
func NewFixed(g *audiograph.Graph, f audiograph.Format, data []float32) (*Fixed, error) {
	s := Fixed{data: data}
	s.InitSource(f)
	if err := g.CreateNode(&s, "fixed"); err != nil {
		return nil, err
	}
	return &s, nil
}

// Read copies up to count samples. The position advances only by what was
// returned.
func (s *Fixed) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := s.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	channels := s.OutputFormat().NumChannels()
	remaining := (len(s.data) - s.pos) / channels
	if remaining == 0 {
		s.SetFinished()
		return 0, io.EOF
	}
	n := min(count, remaining)
	s.pos += copy(buf[offset:offset+n*channels], s.data[s.pos:])
	return n, nil
}

// Remaining returns number of samples per channel left to replay.
func (s *Fixed) Remaining() int {
	return (len(s.data) - s.pos) / s.OutputFormat().NumChannels()
}

// Dispose disposes the node.
func (s *Fixed) Dispose() error {
	return s.DisposeOnce(nil)
}

// Sine produces a sine wave with the same phase on every channel.
type Sine struct {
	audiograph.SourceBase
	amplitude float64
	step      float64
	phase     float64
	limit
}

// NewSine returns sine source of frequency in Hz. Use Infinite for endless
// output.
func NewSine(g *audiograph.Graph, f audiograph.Format, frequency float64, amplitude float32, total int) (*Sine, error) {
	s := Sine{
		amplitude: float64(amplitude),
		limit:     newLimit(total),
	}
	if f.SampleRate > 0 {
		s.step = 2 * math.Pi * frequency / float64(f.SampleRate)
	}
	s.InitSource(f)
	if err := g.CreateNode(&s, "sine"); err != nil {
		return nil, err
	}
	return &s, nil
}

// Read generates up to count samples. Phase is continuous across reads.
func (s *Sine) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := s.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if s.done() {
		s.SetFinished()
		return 0, io.EOF
	}
	channels := s.OutputFormat().NumChannels()
	n := s.take(count)
	for i := 0; i < n; i++ {
		v := float32(s.amplitude * math.Sin(s.phase))
		frame := buf[offset+i*channels : offset+(i+1)*channels]
		for c := range frame {
			frame[c] = v
		}
		s.phase = math.Mod(s.phase+s.step, 2*math.Pi)
	}
	return n, nil
}

// Dispose disposes the node.
func (s *Sine) Dispose() error {
	return s.DisposeOnce(nil)
}

// Package device provides graph nodes for callback driven audio devices.
//
// Device callbacks run on threads that must never block. Renderer and
// Capturer decouple them from the graph with ring buffers: a callback only
// copies samples and signals demand, a driver.Driver moves the samples
// between the ring and the graph.
package device

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/internal/ring"
	"pipelined.dev/audiograph/metric"
)

// DefaultLatency is the duration of samples buffered between the device and
// the graph.
const DefaultLatency = 100 * time.Millisecond

// ErrUnsupportedChannels is returned when a device node is created with more
// than two channels.
var ErrUnsupportedChannels = fmt.Errorf("%w: devices support mono and stereo only", audiograph.ErrInvalidOperation)

type (
	// Option configures device nodes.
	Option func(*config)

	config struct {
		latency time.Duration
		notify  func(int)
	}
)

// WithLatency sets duration of samples buffered by the node.
func WithLatency(d time.Duration) Option {
	return func(c *config) {
		c.latency = d
	}
}

// WithNotify sets a function that is called from device callbacks with the
// number of samples per channel the node wants moved. It's usually
// driver.Driver.Notify and must not block.
func WithNotify(fn func(int)) Option {
	return func(c *config) {
		c.notify = fn
	}
}

func newConfig(f audiograph.Format, options []Option) (config, error) {
	if f.NumChannels() > 2 {
		return config{}, fmt.Errorf("%w: %d channels", ErrUnsupportedChannels, f.NumChannels())
	}
	c := config{
		latency: DefaultLatency,
		notify:  func(int) {},
	}
	for _, option := range options {
		option(&c)
	}
	return c, nil
}

// Renderer is a sink that feeds a playback device. The graph writes into
// it and the device callback drains it with Render.
type Renderer struct {
	audiograph.SinkBase
	ring    *ring.Buffer
	notify  func(int)
	started atomic.Bool
}

// NewRenderer returns a renderer bound to g.
func NewRenderer(g *audiograph.Graph, f audiograph.Format, options ...Option) (*Renderer, error) {
	c, err := newConfig(f, options)
	if err != nil {
		return nil, err
	}
	r := Renderer{
		ring:   ring.New(f.SamplesPerChannel(c.latency), f.NumChannels()),
		notify: c.notify,
	}
	r.InitSink(f)
	if err := g.CreateNode(&r, "device.renderer"); err != nil {
		return nil, err
	}
	return &r, nil
}

// Write buffers samples for playback. Samples that don't fit are dropped
// and counted as overflow.
func (r *Renderer) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := r.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	n := r.ring.Write(buf[offset : offset+r.InputFormat().Len(count)])
	if dropped := count - n; dropped > 0 {
		metric.Overflow(r, int64(dropped))
	}
	return nil
}

// Render fills out with buffered samples. It never blocks: if not enough
// samples are buffered, the rest of out is silence and counted as
// underrun. It returns number of samples per channel rendered from the
// buffer.
func (r *Renderer) Render(out []float32) int {
	channels := r.InputFormat().NumChannels()
	frames := len(out) / channels
	n := r.ring.Read(out)
	clear(out[n*channels:])
	if n < frames && !r.Disposed() {
		metric.Underrun(r, int64(frames-n))
	}
	// first callback asks for the whole buffer to fill the latency
	if !r.started.Swap(true) {
		r.notify(r.ring.Cap() - r.ring.Len())
	} else {
		r.notify(frames)
	}
	return n
}

// Buffered returns number of samples per channel waiting for playback.
func (r *Renderer) Buffered() int {
	return r.ring.Len()
}

// Dispose implements audiograph.Node.
func (r *Renderer) Dispose() error {
	return r.DisposeOnce(func() error {
		r.ring.Reset()
		return nil
	})
}

// Capturer is a source that is fed by a recording device. The device
// callback fills it with Capture and the graph reads from it.
type Capturer struct {
	audiograph.SourceBase
	ring   *ring.Buffer
	notify func(int)
	closed atomic.Bool
}

// NewCapturer returns a capturer bound to g.
func NewCapturer(g *audiograph.Graph, f audiograph.Format, options ...Option) (*Capturer, error) {
	c, err := newConfig(f, options)
	if err != nil {
		return nil, err
	}
	cp := Capturer{
		ring:   ring.New(f.SamplesPerChannel(c.latency), f.NumChannels()),
		notify: c.notify,
	}
	cp.InitSource(f)
	if err := g.CreateNode(&cp, "device.capturer"); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Capture buffers recorded samples. It never blocks: samples that don't
// fit are dropped and counted as overflow. It returns number of samples
// per channel buffered.
func (c *Capturer) Capture(in []float32) int {
	if c.closed.Load() || c.Disposed() {
		return 0
	}
	frames := len(in) / c.OutputFormat().NumChannels()
	n := c.ring.Write(in)
	if n < frames {
		metric.Overflow(c, int64(frames-n))
	}
	if n > 0 {
		c.notify(n)
	}
	return n
}

// Read returns captured samples. If nothing is captured yet, it returns
// zero samples. After Close, the remaining samples are returned and then
// the capturer is finished.
func (c *Capturer) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := c.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	n := c.ring.Read(buf[offset : offset+c.OutputFormat().Len(count)])
	if n == 0 && c.closed.Load() {
		c.SetFinished()
		return 0, io.EOF
	}
	return n, nil
}

// Buffered returns number of captured samples per channel not read yet.
func (c *Capturer) Buffered() int {
	return c.ring.Len()
}

// Close stops capturing. Samples captured so far can still be read.
func (c *Capturer) Close() {
	if c.closed.Swap(true) {
		return
	}
	// wake up the reader to observe the end
	c.notify(1)
}

// Dispose implements audiograph.Node.
func (c *Capturer) Dispose() error {
	return c.DisposeOnce(func() error {
		c.closed.Store(true)
		c.ring.Reset()
		return nil
	})
}

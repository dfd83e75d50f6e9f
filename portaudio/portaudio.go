// Package portaudio plays and records audio with the default portaudio
// devices.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/device"
	"pipelined.dev/audiograph/driver"
)

// DefaultFramesPerBuffer is the number of samples per channel the device
// asks for in a single callback.
const DefaultFramesPerBuffer = 512

type (
	// Playback renders the graph to the default output device.
	Playback struct {
		renderer *device.Renderer
		driver   *driver.Driver
		stream   *portaudio.Stream
	}

	// Recording captures the default input device into the graph.
	Recording struct {
		capturer *device.Capturer
		driver   *driver.Driver
		stream   *portaudio.Stream
	}

	// Option configures the device.
	Option func(*config)

	config struct {
		framesPerBuffer int
		latency         time.Duration
		driverOptions   []driver.Option
	}
)

// WithFramesPerBuffer sets the callback buffer size.
func WithFramesPerBuffer(n int) Option {
	return func(c *config) {
		c.framesPerBuffer = n
	}
}

// WithLatency sets duration of samples buffered between the device and the
// graph.
func WithLatency(d time.Duration) Option {
	return func(c *config) {
		c.latency = d
	}
}

// WithDriverOptions passes options to the driver that moves samples.
func WithDriverOptions(options ...driver.Option) Option {
	return func(c *config) {
		c.driverOptions = append(c.driverOptions, options...)
	}
}

func newConfig(options []Option) config {
	c := config{
		framesPerBuffer: DefaultFramesPerBuffer,
		latency:         device.DefaultLatency,
	}
	for _, option := range options {
		option(&c)
	}
	c.driverOptions = append([]driver.Option{driver.WithQuantum(c.framesPerBuffer)}, c.driverOptions...)
	return c
}

// Initialize initializes portaudio. It must be called before any device
// is opened.
func Initialize() error {
	return portaudio.Initialize()
}

// Terminate releases portaudio.
func Terminate() error {
	return portaudio.Terminate()
}

// DefaultOutputFormat returns the format of the default output device.
// Devices with more channels are used as stereo.
func DefaultOutputFormat() (audiograph.Format, error) {
	info, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return audiograph.Format{}, fmt.Errorf("default output device: %w", err)
	}
	return deviceFormat(info.DefaultSampleRate, info.MaxOutputChannels)
}

// DefaultInputFormat returns the format of the default input device.
func DefaultInputFormat() (audiograph.Format, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return audiograph.Format{}, fmt.Errorf("default input device: %w", err)
	}
	return deviceFormat(info.DefaultSampleRate, info.MaxInputChannels)
}

func deviceFormat(sampleRate float64, channels int) (audiograph.Format, error) {
	switch {
	case channels <= 0:
		return audiograph.Format{}, fmt.Errorf("%w: device has no channels", device.ErrUnsupportedChannels)
	case channels == 1:
		return audiograph.MonoFormat(uint32(sampleRate)), nil
	}
	return audiograph.StereoFormat(uint32(sampleRate)), nil
}

// NewPlayback opens the default output device for samples of format f.
// The returned playback must be connected and started.
func NewPlayback(g *audiograph.Graph, f audiograph.Format, options ...Option) (*Playback, error) {
	c := newConfig(options)
	d := driver.New(c.driverOptions...)
	r, err := device.NewRenderer(g, f, device.WithLatency(c.latency), device.WithNotify(d.Notify))
	if err != nil {
		return nil, err
	}
	stream, err := portaudio.OpenDefaultStream(0, f.NumChannels(), float64(f.SampleRate), c.framesPerBuffer, func(out []float32) {
		r.Render(out)
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open output stream: %w", err), r.Dispose())
	}
	return &Playback{
		renderer: r,
		driver:   d,
		stream:   stream,
	}, nil
}

// Sink returns the node the graph writes into.
func (p *Playback) Sink() *device.Renderer {
	return p.renderer
}

// Start starts the driver and the stream.
func (p *Playback) Start(ctx context.Context) error {
	if err := p.driver.BeginActivelyReading(ctx, p.renderer); err != nil {
		return err
	}
	if err := p.stream.Start(); err != nil {
		return errors.Join(fmt.Errorf("start output stream: %w", err), p.driver.Stop())
	}
	return nil
}

// Done is closed when the graph stops providing samples.
func (p *Playback) Done() <-chan struct{} {
	return p.driver.Done()
}

// Drain waits until buffered samples are played or ctx is done.
func (p *Playback) Drain(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for p.renderer.Buffered() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Close stops the driver and closes the stream. It returns the fault the
// driver stopped with, if any.
func (p *Playback) Close() error {
	err := p.driver.Stop()
	if serr := p.stream.Stop(); serr != nil {
		err = errors.Join(err, fmt.Errorf("stop output stream: %w", serr))
	}
	if cerr := p.stream.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close output stream: %w", cerr))
	}
	return errors.Join(err, p.renderer.Dispose())
}

// NewRecording opens the default input device for samples of format f.
func NewRecording(g *audiograph.Graph, f audiograph.Format, options ...Option) (*Recording, error) {
	c := newConfig(options)
	d := driver.New(c.driverOptions...)
	cp, err := device.NewCapturer(g, f, device.WithLatency(c.latency), device.WithNotify(d.Notify))
	if err != nil {
		return nil, err
	}
	stream, err := portaudio.OpenDefaultStream(f.NumChannels(), 0, float64(f.SampleRate), c.framesPerBuffer, func(in []float32) {
		cp.Capture(in)
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open input stream: %w", err), cp.Dispose())
	}
	return &Recording{
		capturer: cp,
		driver:   d,
		stream:   stream,
	}, nil
}

// Source returns the node the graph reads from.
func (r *Recording) Source() *device.Capturer {
	return r.capturer
}

// Start starts the driver and the stream.
func (r *Recording) Start(ctx context.Context) error {
	if err := r.driver.BeginActivelyWriting(ctx, r.capturer); err != nil {
		return err
	}
	if err := r.stream.Start(); err != nil {
		return errors.Join(fmt.Errorf("start input stream: %w", err), r.driver.Stop())
	}
	return nil
}

// Close stops the stream, lets the driver push captured samples and closes
// the stream.
func (r *Recording) Close() error {
	err := r.stream.Stop()
	if err != nil {
		err = fmt.Errorf("stop input stream: %w", err)
	}
	r.capturer.Close()
	select {
	case <-r.driver.Done():
	case <-time.After(time.Second):
	}
	err = errors.Join(err, r.driver.Stop())
	if cerr := r.stream.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close input stream: %w", cerr))
	}
	return errors.Join(err, r.capturer.Dispose())
}

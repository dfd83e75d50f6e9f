// Package mixer provides a source that sums any number of inputs.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/internal/ring"
	"pipelined.dev/audiograph/log"
	"pipelined.dev/audiograph/metric"
	"pipelined.dev/audiograph/pool"
	"pipelined.dev/audiograph/source"
)

// DefaultInputBuffer is the duration of samples every input can buffer
// when its source pushes them into the mixer.
const DefaultInputBuffer = 500 * time.Millisecond

type (
	// Mixer sums samples of its inputs. Inputs can be added while the
	// mixer is being read. Read, AddInput and Dispose are safe for
	// concurrent use.
	Mixer struct {
		audiograph.SourceBase
		logger      log.Logger
		pool        *pool.Pool
		readForever bool
		parallel    bool
		onFinished  func(token string)
		inputBuffer time.Duration
		measure     metric.MeasureFunc

		mu     sync.Mutex
		inputs []*input
		added  bool

		readMu   sync.Mutex
		snapshot []*input
	}

	// Option configures the mixer.
	Option func(*Mixer)

	// InputOption configures a single input.
	InputOption func(*input)

	input struct {
		src      audiograph.Source
		endpoint *endpoint
		owns     bool
		token    string
		silence  bool

		// results of the current read cycle
		scratch pool.Buffer
		n       int
		err     error
	}

	// endpoint is the sink an input source is connected to. Samples pushed
	// into it are buffered until the next read cycle.
	endpoint struct {
		audiograph.SinkBase
		mixer  *Mixer
		frames int
		fifo   atomic.Pointer[ring.Buffer]
		pushed atomic.Bool
	}
)

// ReadForever keeps the mixer producing silence when it has no inputs. Such
// mixer never finishes.
func ReadForever() Option {
	return func(m *Mixer) {
		m.readForever = true
	}
}

// ParallelReads makes the mixer read its inputs concurrently.
func ParallelReads() Option {
	return func(m *Mixer) {
		m.parallel = true
	}
}

// WithOnInputFinished sets a callback that is called once for every input
// with a token when that input is removed. It's called on the reading
// goroutine and must neither read nor dispose the mixer.
func WithOnInputFinished(fn func(token string)) Option {
	return func(m *Mixer) {
		m.onFinished = fn
	}
}

// WithLogger sets mixer logger. Graph logger is used by default.
func WithLogger(l log.Logger) Option {
	return func(m *Mixer) {
		m.logger = l
	}
}

// WithInputBuffer sets duration of samples buffered per input.
func WithInputBuffer(d time.Duration) Option {
	return func(m *Mixer) {
		m.inputBuffer = d
	}
}

// WithPool sets the pool for scratch buffers.
func WithPool(p *pool.Pool) Option {
	return func(m *Mixer) {
		m.pool = p
	}
}

// WithToken sets the token passed to input finished callback.
func WithToken(token string) InputOption {
	return func(in *input) {
		in.token = token
	}
}

// Pushed marks an input whose source pushes samples into the mixer. The
// mixer never reads such source, it only drains what was pushed.
func Pushed() InputOption {
	return func(in *input) {
		in.endpoint.pushed.Store(true)
	}
}

// New returns a new mixer bound to g.
func New(g *audiograph.Graph, f audiograph.Format, options ...Option) (*Mixer, error) {
	m := Mixer{
		pool:        pool.Default,
		inputBuffer: DefaultInputBuffer,
	}
	for _, option := range options {
		option(&m)
	}
	m.InitSource(f)
	if err := g.CreateNode(&m, "mixer"); err != nil {
		return nil, err
	}
	if m.logger == nil {
		m.logger = g.Logger()
	}
	m.logger = log.Component(m.logger, "mixer", m.ID().String())
	m.measure = metric.Meter(&m, f.SampleRate)()

	if m.readForever {
		silence, err := source.NewSilence(g, f)
		if err != nil {
			return nil, fmt.Errorf("mixer silence: %w", err)
		}
		if err := m.addInput(silence, true, true); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// AddInput connects src to the mixer. If owns is true, the mixer disposes
// src when it's removed or when the mixer is disposed. Formats must match,
// the mixer never resamples.
func (m *Mixer) AddInput(src audiograph.Source, owns bool, options ...InputOption) error {
	if src == nil {
		return fmt.Errorf("%w: nil input", audiograph.ErrInvalidOperation)
	}
	return m.addInput(src, owns, false, options...)
}

func (m *Mixer) addInput(src audiograph.Source, owns, silence bool, options ...InputOption) error {
	if m.Disposed() {
		return audiograph.ErrDisposed
	}
	if m.Finished() {
		return fmt.Errorf("%w: mixer has finished", audiograph.ErrInvalidOperation)
	}
	f := m.OutputFormat()
	if sf := src.OutputFormat(); sf != f {
		return &audiograph.FormatMismatchError{Upstream: sf, Downstream: f}
	}

	e := endpoint{
		mixer:  m,
		frames: f.SamplesPerChannel(m.inputBuffer),
	}
	e.InitSink(f)
	g := m.Graph()
	if err := g.CreateNode(&e, "mixer.input"); err != nil {
		return err
	}
	if err := g.Connect(src, &e); err != nil {
		_ = e.Dispose()
		return err
	}
	in := input{
		src:      src,
		endpoint: &e,
		owns:     owns,
		silence:  silence,
	}
	for _, option := range options {
		option(&in)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// checked again because the last input could be pruned meanwhile
	if m.Finished() {
		_ = e.Dispose()
		return fmt.Errorf("%w: mixer has finished", audiograph.ErrInvalidOperation)
	}
	m.inputs = append(m.inputs, &in)
	m.added = true
	m.logger.Debug("added input ", src.Name())
	return nil
}

// Inputs returns number of active inputs, not counting the silence of
// ReadForever mixer.
func (m *Mixer) Inputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, in := range m.inputs {
		if !in.silence {
			n++
		}
	}
	return n
}

// Read sums up to count samples of every input into buf and returns the
// largest number of samples produced by any input. Inputs that produce
// less contribute zeros for the rest. The sum is not clipped.
//
// If the mixer has no inputs yet, no samples are available. When all
// inputs are removed, the mixer is finished. If every input faults in the
// same cycle, the mixer returns a transfer fault. If ctx is cancelled,
// samples mixed so far are returned along with the context error.
func (m *Mixer) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := m.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	m.readMu.Lock()
	defer m.readMu.Unlock()

	m.mu.Lock()
	inputs := append(m.snapshot[:0], m.inputs...)
	added := m.added
	m.mu.Unlock()
	m.snapshot = inputs
	defer clear(m.snapshot)

	if len(inputs) == 0 {
		if !added {
			return 0, nil
		}
		m.SetFinished()
		return 0, io.EOF
	}

	f := m.OutputFormat()
	out := buf[offset : offset+f.Len(count)]
	clear(out)
	for _, in := range inputs {
		in.scratch = m.pool.Rent(f.Len(count))
	}
	defer func() {
		for _, in := range inputs {
			in.scratch.Release()
			in.scratch = pool.Buffer{}
		}
	}()
	m.pull(ctx, inputs, count)

	var (
		produced  int
		faults    int
		cancelled error
		pruned    []*input
	)
	for _, in := range inputs {
		if in.n > 0 {
			for i, v := range in.scratch.Data()[:f.Len(in.n)] {
				out[i] += v
			}
			produced = max(produced, in.n)
		}
		switch {
		case in.err == nil:
		case audiograph.IsCancelled(in.err):
			cancelled = in.err
			continue
		case errors.Is(in.err, io.EOF):
		default:
			faults++
			metric.Fault(m)
			m.logger.Warn("input ", in.src.Name(), " failed: ", in.err)
		}
		if in.done() {
			pruned = append(pruned, in)
		}
	}
	if cancelled != nil {
		return produced, cancelled
	}
	if len(pruned) > 0 {
		m.prune(pruned)
	}
	m.measure(int64(produced))

	if faults == len(inputs) {
		return 0, audiograph.Fault("mixer: all %d inputs failed", faults)
	}
	if produced == 0 && m.Finished() {
		return 0, io.EOF
	}
	return produced, nil
}

// pull fills scratch buffers of inputs.
func (m *Mixer) pull(ctx context.Context, inputs []*input, count int) {
	if !m.parallel || len(inputs) < 2 {
		for _, in := range inputs {
			in.pull(ctx, count)
		}
		return
	}
	var g errgroup.Group
	for _, in := range inputs {
		g.Go(func() error {
			in.pull(ctx, count)
			return nil
		})
	}
	_ = g.Wait()
}

// pull drains pushed samples and then reads the source for the rest.
func (in *input) pull(ctx context.Context, count int) {
	data := in.scratch.Data()
	in.n = in.endpoint.drain(data)
	in.err = nil
	if in.n == count || in.endpoint.pushed.Load() || in.endpoint.Input() == nil {
		return
	}
	channels := in.src.OutputFormat().NumChannels()
	n, err := in.src.Read(ctx, data, in.n*channels, count-in.n)
	in.n += n
	in.err = err
}

// done reports whether the input should be removed.
func (in *input) done() bool {
	if in.err != nil {
		return true
	}
	if in.endpoint.buffered() > 0 {
		return false
	}
	return in.src.Finished() || in.src.Disposed() || in.endpoint.Input() == nil
}

// prune removes inputs from the mixer, disposes owned sources and notifies
// about finished tokens.
func (m *Mixer) prune(pruned []*input) {
	m.mu.Lock()
	inputs := m.inputs[:0]
	for _, in := range m.inputs {
		if !contains(pruned, in) {
			inputs = append(inputs, in)
		}
	}
	clear(m.inputs[len(inputs):])
	m.inputs = inputs
	if len(m.inputs) == 0 && !m.readForever {
		m.SetFinished()
	}
	m.mu.Unlock()

	for _, in := range pruned {
		if err := m.release(in); err != nil {
			m.logger.Warn("release input ", in.src.Name(), ": ", err)
		}
		m.logger.Debug("removed input ", in.src.Name())
		if in.token != "" && m.onFinished != nil {
			m.onFinished(in.token)
		}
	}
}

func contains(inputs []*input, in *input) bool {
	for _, i := range inputs {
		if i == in {
			return true
		}
	}
	return false
}

// release disconnects the input and disposes the source if it's owned.
func (m *Mixer) release(in *input) error {
	err := in.endpoint.Dispose()
	if in.owns {
		err = errors.Join(err, in.src.Dispose())
	}
	return err
}

// Dispose disposes the mixer. Owned inputs are disposed, other inputs are
// disconnected. It waits for the read in progress to complete.
func (m *Mixer) Dispose() error {
	return m.DisposeOnce(func() error {
		m.readMu.Lock()
		defer m.readMu.Unlock()
		m.mu.Lock()
		inputs := m.inputs
		m.inputs = nil
		m.mu.Unlock()

		var err error
		for _, in := range inputs {
			err = errors.Join(err, m.release(in))
		}
		return err
	})
}

// Write buffers pushed samples. Samples that don't fit are dropped and
// counted as overflow.
func (e *endpoint) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := e.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	e.pushed.Store(true)
	n := e.buffer().Write(buf[offset : offset+e.InputFormat().Len(count)])
	if dropped := count - n; dropped > 0 {
		metric.Overflow(e.mixer, int64(dropped))
		e.mixer.logger.Debug("input ", e.Name(), " dropped ", dropped, " samples")
	}
	return nil
}

// buffer returns the FIFO, allocating it on the first push.
func (e *endpoint) buffer() *ring.Buffer {
	if b := e.fifo.Load(); b != nil {
		return b
	}
	b := ring.New(e.frames, e.InputFormat().NumChannels())
	if e.fifo.CompareAndSwap(nil, b) {
		return b
	}
	return e.fifo.Load()
}

func (e *endpoint) drain(data []float32) int {
	if b := e.fifo.Load(); b != nil {
		return b.Read(data)
	}
	return 0
}

func (e *endpoint) buffered() int {
	if b := e.fifo.Load(); b != nil {
		return b.Len()
	}
	return 0
}

func (e *endpoint) Dispose() error {
	return e.DisposeOnce(nil)
}

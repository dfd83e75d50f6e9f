// Package mock provides mocks and fault injecting nodes for graph tests.
// Mocks are not thread-safe, their counters should be checked after
// transfers are done.
package mock

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"time"

	"pipelined.dev/audiograph"
)

// ErrMock is returned by failing mocks when no error is configured.
var ErrMock = audiograph.Fault("mock failure")

// Source produces Limit samples per channel of Value.
type Source struct {
	audiograph.SourceBase
	counter
	Interval    time.Duration
	Limit       int
	Value       float32
	ErrorOnCall error
	Hooks
}

// Bind sets format and binds the mock to g.
func (m *Source) Bind(g *audiograph.Graph, f audiograph.Format) error {
	m.InitSource(f)
	return g.CreateNode(m, "mock.source")
}

// Read fills buffer with Value.
func (m *Source) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := m.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if m.ErrorOnCall != nil {
		return 0, m.ErrorOnCall
	}
	if m.samples >= m.Limit {
		m.SetFinished()
		return 0, io.EOF
	}
	if m.Interval > 0 {
		time.Sleep(m.Interval)
	}
	n := min(count, m.Limit-m.samples)
	out := buf[offset : offset+m.OutputFormat().Len(n)]
	for i := range out {
		out[i] = m.Value
	}
	m.advance(n)
	return n, nil
}

// Dispose implements audiograph.Node.
func (m *Source) Dispose() error {
	m.DisposeCalls++
	return m.DisposeOnce(m.release)
}

// Sink collects written samples unless Discard is set.
type Sink struct {
	audiograph.SinkBase
	counter
	buffer      []float32
	Discard     bool
	ErrorOnCall error
	Hooks
}

// Bind sets format and binds the mock to g.
func (m *Sink) Bind(g *audiograph.Graph, f audiograph.Format) error {
	m.InitSink(f)
	return g.CreateNode(m, "mock.sink")
}

// Write appends samples to the buffer.
func (m *Sink) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := m.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	if !m.Discard {
		m.buffer = append(m.buffer, buf[offset:offset+m.InputFormat().Len(count)]...)
	}
	m.advance(count)
	return nil
}

// Buffer returns collected samples.
func (m *Sink) Buffer() []float32 {
	return m.buffer
}

// Dispose implements audiograph.Node.
func (m *Sink) Dispose() error {
	m.DisposeCalls++
	return m.DisposeOnce(m.release)
}

// Unreliable simulates a source that is often not ready. Each read fails
// to produce anything with ChanceOfFailure, and otherwise reads less than
// requested with ChanceOfPartialRead. Writes are never dropped, they are
// split into random parts with ChanceOfPartialRead.
type Unreliable struct {
	audiograph.FilterBase
	counter
	ChanceOfFailure     float64
	ChanceOfPartialRead float64
	Seed                uint64
	rand                *rand.Rand
}

// Bind sets format and binds the mock to g.
func (m *Unreliable) Bind(g *audiograph.Graph, f audiograph.Format) error {
	m.InitFilter(f, f)
	m.rand = rand.New(rand.NewPCG(m.Seed, m.Seed))
	return g.CreateNode(m, "mock.unreliable")
}

// Read implements audiograph.Source.
func (m *Unreliable) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := m.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if m.rand.Float64() < m.ChanceOfFailure {
		m.advance(0)
		return 0, nil
	}
	if count > 1 && m.rand.Float64() < m.ChanceOfPartialRead {
		count = 1 + m.rand.IntN(count-1)
	}
	n, err := m.ReadInput(ctx, buf, offset, count)
	if errors.Is(err, io.EOF) {
		m.SetFinished()
	}
	m.advance(n)
	return n, err
}

// Write implements audiograph.Sink.
func (m *Unreliable) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := m.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	channels := m.InputFormat().NumChannels()
	for count > 0 {
		n := count
		if count > 1 && m.rand.Float64() < m.ChanceOfPartialRead {
			n = 1 + m.rand.IntN(count-1)
		}
		if err := m.WriteOutput(ctx, buf, offset, n); err != nil {
			return err
		}
		m.advance(n)
		offset += n * channels
		count -= n
	}
	return nil
}

// Dispose implements audiograph.Node.
func (m *Unreliable) Dispose() error {
	return m.DisposeOnce(nil)
}

// Polluter hands its peers buffers filled with garbage around and inside
// the transfer region, at an offset of Pad frames.
type Polluter struct {
	audiograph.FilterBase
	counter
	Pad     int
	Seed    uint64
	rand    *rand.Rand
	scratch []float32
}

// Bind sets format and binds the mock to g.
func (m *Polluter) Bind(g *audiograph.Graph, f audiograph.Format) error {
	m.InitFilter(f, f)
	if m.Pad == 0 {
		m.Pad = 37
	}
	m.rand = rand.New(rand.NewPCG(m.Seed, m.Seed+1))
	return g.CreateNode(m, "mock.polluter")
}

func (m *Polluter) polluted(count int) ([]float32, int) {
	f := m.InputFormat()
	pad := f.Len(m.Pad)
	size := pad + f.Len(count) + pad
	if cap(m.scratch) < size {
		m.scratch = make([]float32, size)
	}
	m.scratch = m.scratch[:size]
	for i := range m.scratch {
		m.scratch[i] = (m.rand.Float32()*2 - 1) * 1e6
	}
	return m.scratch, pad
}

// Read reads from input into a polluted buffer and copies the result out.
func (m *Polluter) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := m.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	scratch, pad := m.polluted(count)
	n, err := m.ReadInput(ctx, scratch, pad, count)
	copy(buf[offset:offset+m.OutputFormat().Len(n)], scratch[pad:])
	if errors.Is(err, io.EOF) {
		m.SetFinished()
	}
	m.advance(n)
	return n, err
}

// Write copies payload into a polluted buffer and pushes it to output.
func (m *Polluter) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := m.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	scratch, pad := m.polluted(count)
	copy(scratch[pad:], buf[offset:offset+m.InputFormat().Len(count)])
	m.advance(count)
	return m.WriteOutput(ctx, scratch, pad, count)
}

// Dispose implements audiograph.Node.
func (m *Polluter) Dispose() error {
	return m.DisposeOnce(nil)
}

// Stutter returns ZeroReads empty reads before every read that is passed
// through to input.
type Stutter struct {
	audiograph.FilterBase
	counter
	ZeroReads int
	Zeros     int
	zeros     int
}

// Bind sets format and binds the mock to g.
func (m *Stutter) Bind(g *audiograph.Graph, f audiograph.Format) error {
	m.InitFilter(f, f)
	return g.CreateNode(m, "mock.stutter")
}

// Read implements audiograph.Source.
func (m *Stutter) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := m.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if m.zeros < m.ZeroReads {
		m.zeros++
		m.Zeros++
		return 0, nil
	}
	m.zeros = 0
	n, err := m.ReadInput(ctx, buf, offset, count)
	if errors.Is(err, io.EOF) {
		m.SetFinished()
	}
	m.advance(n)
	return n, err
}

// Write implements audiograph.Sink.
func (m *Stutter) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := m.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	m.advance(count)
	return m.WriteOutput(ctx, buf, offset, count)
}

// Dispose implements audiograph.Node.
func (m *Stutter) Dispose() error {
	return m.DisposeOnce(nil)
}

// Chunker splits transfers into pieces of at most Chunk samples per
// channel. Written chunks are copied to Offset frames of a reused buffer.
type Chunker struct {
	audiograph.FilterBase
	counter
	Chunk   int
	Offset  int
	scratch []float32
}

// Bind sets format and binds the mock to g.
func (m *Chunker) Bind(g *audiograph.Graph, f audiograph.Format) error {
	m.InitFilter(f, f)
	if m.Chunk <= 0 {
		m.Chunk = 128
	}
	m.scratch = make([]float32, f.Len(m.Offset+m.Chunk))
	return g.CreateNode(m, "mock.chunker")
}

// Read reads at most Chunk samples.
func (m *Chunker) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := m.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	n, err := m.ReadInput(ctx, buf, offset, min(count, m.Chunk))
	if errors.Is(err, io.EOF) {
		m.SetFinished()
	}
	m.advance(n)
	return n, err
}

// Write pushes samples in chunks.
func (m *Chunker) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := m.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	f := m.InputFormat()
	at := f.Len(m.Offset)
	for done := 0; done < count; {
		n := min(m.Chunk, count-done)
		copy(m.scratch[at:], buf[offset+f.Len(done):offset+f.Len(done+n)])
		if err := m.WriteOutput(ctx, m.scratch, at, n); err != nil {
			return err
		}
		m.advance(n)
		done += n
	}
	return nil
}

// Dispose implements audiograph.Node.
func (m *Chunker) Dispose() error {
	return m.DisposeOnce(nil)
}

// Failing passes After samples per channel through and then fails every
// transfer with ErrorOnCall, or ErrMock if it's not set.
type Failing struct {
	audiograph.FilterBase
	counter
	After       int
	ErrorOnCall error
}

// Bind sets format and binds the mock to g.
func (m *Failing) Bind(g *audiograph.Graph, f audiograph.Format) error {
	m.InitFilter(f, f)
	return g.CreateNode(m, "mock.failing")
}

func (m *Failing) err() error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	return ErrMock
}

// Read implements audiograph.Source.
func (m *Failing) Read(ctx context.Context, buf []float32, offset, count int) (int, error) {
	if err := m.CheckRead(ctx, buf, offset, count); err != nil {
		return 0, err
	}
	if m.samples >= m.After {
		return 0, m.err()
	}
	n, err := m.ReadInput(ctx, buf, offset, min(count, m.After-m.samples))
	if errors.Is(err, io.EOF) {
		m.SetFinished()
	}
	m.advance(n)
	return n, err
}

// Write implements audiograph.Sink.
func (m *Failing) Write(ctx context.Context, buf []float32, offset, count int) error {
	if err := m.CheckWrite(ctx, buf, offset, count); err != nil {
		return err
	}
	if m.samples+count > m.After {
		return m.err()
	}
	m.advance(count)
	return m.WriteOutput(ctx, buf, offset, count)
}

// Dispose implements audiograph.Node.
func (m *Failing) Dispose() error {
	return m.DisposeOnce(nil)
}

// Hooks allows to mock dispose behaviour.
type Hooks struct {
	// DisposeCalls counts calls of Dispose.
	DisposeCalls int
	// Released counts how many times resources were actually released.
	Released       int
	ErrorOnDispose error
}

func (h *Hooks) release() error {
	h.Released++
	return h.ErrorOnDispose
}

// counter counts messages and samples.
type counter struct {
	messages int
	samples  int
}

// advance counter's metrics.
func (c *counter) advance(size int) {
	c.messages++
	c.samples = c.samples + size
}

// Count returns messages and samples metrics.
func (c *counter) Count() (int, int) {
	return c.messages, c.samples
}

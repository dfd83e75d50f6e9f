package audiograph

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/xid"
)

type (
	// Node is a graph participant. Nodes are built by embedding one of
	// SourceBase, SinkBase or FilterBase and are bound to a graph with
	// Graph.CreateNode.
	Node interface {
		ID() xid.ID
		Name() string
		Kind() string
		GraphID() GraphID
		Disposed() bool
		// Dispose releases node resources. It must be idempotent,
		// implementations get that for free with Base.DisposeOnce.
		Dispose() error
		base() *Base
	}

	// Source produces samples. Downstream nodes pull them with Read.
	//
	// Read fills buf[offset:] with up to count samples per channel and
	// returns how many were written. Zero samples with nil error means
	// that nothing is available yet and the call should be retried. The
	// stream is over when Read returns io.EOF; any other error is
	// terminal and should wrap ErrTransferFault. Contents of buf beyond
	// the returned count are undefined.
	Source interface {
		Node
		OutputFormat() Format
		Read(ctx context.Context, buf []float32, offset, count int) (int, error)
		Finished() bool
		Output() Sink
		outputPort() *OutputPort
	}

	// Sink consumes samples. Upstream nodes push them with Write.
	//
	// Write consumes exactly count samples per channel from buf[offset:].
	// It must not read outside of that range and must not rely on the
	// buffer contents after it returns.
	Sink interface {
		Node
		InputFormat() Format
		Write(ctx context.Context, buf []float32, offset, count int) error
		Input() Source
		inputPort() *InputPort
	}

	// Filter is both source and sink.
	Filter interface {
		Source
		Sink
	}
)

// Base carries identity and lifecycle of a node.
type Base struct {
	id       xid.ID
	name     string
	kind     string
	graphID  GraphID
	graph    *Graph
	disposed atomic.Bool
}

func (b *Base) base() *Base {
	return b
}

// ID returns unique node id. It's zero until the node is bound to a graph.
func (b *Base) ID() xid.ID {
	return b.id
}

// Name returns node name. If no name was set, node kind is used.
func (b *Base) Name() string {
	if b.name == "" {
		return b.kind
	}
	return b.name
}

// SetName sets a custom node name. It should be called before the node is
// bound.
func (b *Base) SetName(name string) {
	b.name = name
}

// Kind returns the kind the node was created with.
func (b *Base) Kind() string {
	return b.kind
}

// GraphID returns the id of the graph this node belongs to.
func (b *Base) GraphID() GraphID {
	return b.graphID
}

// Graph returns the graph this node belongs to.
func (b *Base) Graph() *Graph {
	return b.graph
}

// Disposed reports whether the node was disposed.
func (b *Base) Disposed() bool {
	return b.disposed.Load()
}

// DisposeOnce marks the node disposed, disconnects it from its peers and
// calls release. Only the first call has any effect.
func (b *Base) DisposeOnce(release func() error) error {
	if !b.disposed.CompareAndSwap(false, true) {
		return nil
	}
	if b.graph != nil {
		b.graph.unregister(b)
	}
	if release != nil {
		return release()
	}
	return nil
}

func (b *Base) String() string {
	return fmt.Sprintf("%s %s", b.Name(), b.id)
}

type sinkRef struct{ Sink }

type sourceRef struct{ Source }

// OutputPort holds the output side of a node.
type OutputPort struct {
	format   Format
	output   atomic.Pointer[sinkRef]
	finished atomic.Bool
}

func (p *OutputPort) outputPort() *OutputPort {
	return p
}

// OutputFormat returns format of produced samples.
func (p *OutputPort) OutputFormat() Format {
	return p.format
}

// Output returns connected downstream node or nil.
func (p *OutputPort) Output() Sink {
	if r := p.output.Load(); r != nil {
		return r.Sink
	}
	return nil
}

func (p *OutputPort) setOutput(s Sink) {
	if s == nil {
		p.output.Store(nil)
		return
	}
	p.output.Store(&sinkRef{s})
}

// Finished reports whether the stream has ended.
func (p *OutputPort) Finished() bool {
	return p.finished.Load()
}

// SetFinished marks the stream as ended. Subsequent reads return io.EOF.
func (p *OutputPort) SetFinished() {
	p.finished.Store(true)
}

// WriteOutput pushes samples to the connected downstream node. Samples are
// dropped if nothing is connected.
func (p *OutputPort) WriteOutput(ctx context.Context, buf []float32, offset, count int) error {
	out := p.Output()
	if out == nil || count == 0 {
		return nil
	}
	return out.Write(ctx, buf, offset, count)
}

// InputPort holds the input side of a node.
type InputPort struct {
	format Format
	input  atomic.Pointer[sourceRef]
}

func (p *InputPort) inputPort() *InputPort {
	return p
}

// InputFormat returns format of consumed samples.
func (p *InputPort) InputFormat() Format {
	return p.format
}

// Input returns connected upstream node or nil.
func (p *InputPort) Input() Source {
	if r := p.input.Load(); r != nil {
		return r.Source
	}
	return nil
}

func (p *InputPort) setInput(s Source) {
	if s == nil {
		p.input.Store(nil)
		return
	}
	p.input.Store(&sourceRef{s})
}

// ReadInput pulls samples from the connected upstream node. If nothing is
// connected, no samples are available.
func (p *InputPort) ReadInput(ctx context.Context, buf []float32, offset, count int) (int, error) {
	in := p.Input()
	if in == nil || count == 0 {
		return 0, nil
	}
	return in.Read(ctx, buf, offset, count)
}

// SourceBase is embedded by source nodes.
type SourceBase struct {
	Base
	OutputPort
}

// InitSource sets the output format.
func (s *SourceBase) InitSource(f Format) {
	s.OutputPort.format = f
}

// CheckRead validates read arguments and node state. Finished sources
// return io.EOF.
func (s *SourceBase) CheckRead(ctx context.Context, buf []float32, offset, count int) error {
	return checkRead(ctx, &s.Base, &s.OutputPort, buf, offset, count)
}

// SinkBase is embedded by sink nodes.
type SinkBase struct {
	Base
	InputPort
}

// InitSink sets the input format.
func (s *SinkBase) InitSink(f Format) {
	s.InputPort.format = f
}

// CheckWrite validates write arguments and node state.
func (s *SinkBase) CheckWrite(ctx context.Context, buf []float32, offset, count int) error {
	return checkTransfer(ctx, &s.Base, s.InputPort.format, buf, offset, count)
}

// FilterBase is embedded by filter nodes.
type FilterBase struct {
	Base
	InputPort
	OutputPort
}

// InitFilter sets input and output formats.
func (f *FilterBase) InitFilter(in, out Format) {
	f.InputPort.format = in
	f.OutputPort.format = out
}

// CheckRead validates read arguments and node state. Finished filters
// return io.EOF.
func (f *FilterBase) CheckRead(ctx context.Context, buf []float32, offset, count int) error {
	return checkRead(ctx, &f.Base, &f.OutputPort, buf, offset, count)
}

// CheckWrite validates write arguments and node state.
func (f *FilterBase) CheckWrite(ctx context.Context, buf []float32, offset, count int) error {
	return checkTransfer(ctx, &f.Base, f.InputPort.format, buf, offset, count)
}

func checkRead(ctx context.Context, b *Base, p *OutputPort, buf []float32, offset, count int) error {
	if err := checkTransfer(ctx, b, p.format, buf, offset, count); err != nil {
		return err
	}
	if p.Finished() {
		return io.EOF
	}
	return nil
}

func checkTransfer(ctx context.Context, b *Base, f Format, buf []float32, offset, count int) error {
	if b.Disposed() {
		return ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if offset < 0 || count < 0 {
		return fmt.Errorf("%w: negative offset %d or count %d", ErrInvalidOperation, offset, count)
	}
	if need := offset + count*int(f.Channels); need > len(buf) {
		return fmt.Errorf("%w: buffer of %d is too short, need %d", ErrInvalidOperation, len(buf), need)
	}
	return nil
}

package audiograph

import (
	"fmt"
	"sync"

	"github.com/rs/xid"

	"pipelined.dev/audiograph/log"
)

// GraphID identifies a graph.
type GraphID = xid.ID

type (
	// Graph is a registry of nodes. Nodes can only be connected within the
	// same graph. Graph operations are safe for concurrent use, node
	// transfers are not synchronized by the graph.
	Graph struct {
		id     GraphID
		name   string
		logger log.Logger

		mu     sync.Mutex
		closed bool
		nodes  []Node
		index  map[*Base]struct{}
	}

	// Option provides a way to set graph properties.
	Option func(*Graph)

	// Connection is an edge between two nodes of the same graph.
	Connection struct {
		Upstream   Source
		Downstream Sink
	}
)

// WithLogger sets logger for the graph.
func WithLogger(l log.Logger) Option {
	return func(g *Graph) {
		g.logger = l
	}
}

// WithName sets graph name.
func WithName(name string) Option {
	return func(g *Graph) {
		g.name = name
	}
}

// NewGraph returns a new empty graph.
func NewGraph(options ...Option) *Graph {
	g := Graph{
		id:    xid.New(),
		name:  "graph",
		index: make(map[*Base]struct{}),
	}
	for _, option := range options {
		option(&g)
	}
	g.logger = log.Component(log.OrSilent(g.logger), g.name, g.id.String())
	return &g
}

// ID returns graph id.
func (g *Graph) ID() GraphID {
	return g.id
}

// Logger returns graph logger.
func (g *Graph) Logger() log.Logger {
	return g.logger
}

// CreateNode binds n to the graph. The node gets a fresh id and its kind.
// Node formats are validated here, so every bound node has valid formats.
func (g *Graph) CreateNode(n Node, kind string) error {
	b := n.base()
	if b.graph != nil {
		return fmt.Errorf("%w: node %v is already bound", ErrInvalidOperation, b)
	}
	if s, ok := n.(Source); ok {
		if err := s.OutputFormat().Validate(); err != nil {
			return fmt.Errorf("%s output: %w", kind, err)
		}
	}
	if s, ok := n.(Sink); ok {
		if err := s.InputFormat().Validate(); err != nil {
			return fmt.Errorf("%s input: %w", kind, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGraphClosed
	}
	b.id = xid.New()
	b.kind = kind
	b.graph = g
	b.graphID = g.id
	g.nodes = append(g.nodes, n)
	g.index[b] = struct{}{}
	g.logger.Debug("created ", b)
	return nil
}

// Validate reports whether both nodes belong to this graph.
func (g *Graph) Validate(a, b Node) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owns(a) && g.owns(b)
}

func (g *Graph) owns(n Node) bool {
	if n == nil {
		return false
	}
	_, ok := g.index[n.base()]
	return ok
}

// Connect connects up output to down input. Formats must be equal, both
// nodes must belong to the graph and must not be connected to anything
// else.
func (g *Graph) Connect(up Source, down Sink) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrGraphClosed
	}
	if up == nil || down == nil {
		return fmt.Errorf("%w: connecting nil node", ErrInvalidOperation)
	}
	if up.Disposed() || down.Disposed() {
		return ErrDisposed
	}
	if !g.owns(up) || !g.owns(down) {
		return ErrForeignNode
	}
	if up.base() == down.base() {
		return fmt.Errorf("%w: node %v connected to itself", ErrInvalidOperation, up.base())
	}
	if uf, df := up.OutputFormat(), down.InputFormat(); uf != df {
		return &FormatMismatchError{Upstream: uf, Downstream: df}
	}
	op, ip := up.outputPort(), down.inputPort()
	if op.Output() != nil || ip.Input() != nil {
		return ErrAlreadyConnected
	}
	op.setOutput(down)
	ip.setInput(up)
	g.logger.Debug("connected ", up.base(), " to ", down.base())
	return nil
}

// Disconnect removes the output connection of up. It's a no-op if up is
// not connected.
func (g *Graph) Disconnect(up Source) {
	g.mu.Lock()
	defer g.mu.Unlock()
	disconnectOutput(up.outputPort())
}

// DisconnectInput removes the input connection of down. It's a no-op if
// down is not connected.
func (g *Graph) DisconnectInput(down Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	disconnectInput(down.inputPort())
}

func disconnectOutput(op *OutputPort) {
	if out := op.Output(); out != nil {
		op.setOutput(nil)
		out.inputPort().setInput(nil)
	}
}

func disconnectInput(ip *InputPort) {
	if in := ip.Input(); in != nil {
		ip.setInput(nil)
		in.outputPort().setOutput(nil)
	}
}

// unregister detaches disposed node from its peers and the registry.
func (g *Graph) unregister(b *Base) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.index[b]; !ok {
		return
	}
	delete(g.index, b)
	for i, n := range g.nodes {
		if n.base() != b {
			continue
		}
		if s, ok := n.(Source); ok {
			disconnectOutput(s.outputPort())
		}
		if s, ok := n.(Sink); ok {
			disconnectInput(s.inputPort())
		}
		g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
		break
	}
	g.logger.Debug("disposed ", b)
}

// Nodes returns a snapshot of registered nodes in creation order.
func (g *Graph) Nodes() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	nodes := make([]Node, len(g.nodes))
	copy(nodes, g.nodes)
	return nodes
}

// Connections returns a snapshot of current edges, ordered by upstream
// creation order.
func (g *Graph) Connections() []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	var conns []Connection
	for _, n := range g.nodes {
		s, ok := n.(Source)
		if !ok {
			continue
		}
		if out := s.Output(); out != nil {
			conns = append(conns, Connection{Upstream: s, Downstream: out})
		}
	}
	return conns
}

// Len returns number of registered nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Close disposes all registered nodes in reverse creation order. All
// dispose errors are returned. Closed graph doesn't accept new nodes.
func (g *Graph) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	nodes := make([]Node, len(g.nodes))
	copy(nodes, g.nodes)
	g.mu.Unlock()

	var errs closeErrors
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := nodes[i].Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("dispose %v: %w", nodes[i].base(), err))
		}
	}
	g.logger.Debug("closed")
	return errs.ret()
}

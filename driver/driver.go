// Package driver pumps samples between a callback driven boundary and the
// graph.
//
// Hardware asks for samples on its own schedule and can not wait for the
// graph. Callbacks signal demand with Driver.Notify, which never blocks, and
// the driver satisfies it on its own goroutine. When the graph can't keep up,
// a short buffer is delivered instead of blocking.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/log"
	"pipelined.dev/audiograph/metric"
	"pipelined.dev/audiograph/pool"
)

// State of the driver loop.
type State int32

const (
	// Idle driver has no loop running.
	Idle State = iota
	// Active driver runs a loop.
	Active
	// Stopping driver waits for its loop to exit.
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	// DefaultQuantum is the number of samples per channel moved per cycle.
	DefaultQuantum = 512
	// DefaultMaxZeroReads bounds empty reads per cycle.
	DefaultMaxZeroReads = 8
)

// ErrAlreadyActive is returned when a loop is started on a driver that is
// not idle.
var ErrAlreadyActive = fmt.Errorf("%w: driver is already active", audiograph.ErrInvalidOperation)

type (
	// Driver runs a single loop at a time. All methods are safe for
	// concurrent use.
	Driver struct {
		id           xid.ID
		quantum      int
		interval     time.Duration
		maxZeroReads int
		backoff      time.Duration
		logger       log.Logger
		onFault      func(error)
		pool         *pool.Pool
		metered      bool

		state  atomic.Int32
		demand atomic.Int64
		moved  atomic.Int64
		wake   chan struct{}

		mu     sync.Mutex
		cancel context.CancelFunc
		done   chan struct{}
		err    error
	}

	// Option configures the driver.
	Option func(*Driver)

	// step moves up to count samples per channel using buf and returns
	// how many were moved.
	step func(ctx context.Context, buf []float32, count int) (int, error)
)

// WithQuantum sets number of samples per channel moved per cycle.
func WithQuantum(n int) Option {
	return func(d *Driver) {
		d.quantum = n
	}
}

// WithInterval makes the driver pace itself: one quantum is wanted every
// interval. Without it, demand comes from Notify only.
func WithInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.interval = interval
	}
}

// WithMaxZeroReads sets how many consecutive empty reads are tolerated
// before a short buffer is delivered.
func WithMaxZeroReads(n int) Option {
	return func(d *Driver) {
		d.maxZeroReads = n
	}
}

// WithBackoff sets initial pause after an empty read.
func WithBackoff(backoff time.Duration) Option {
	return func(d *Driver) {
		d.backoff = backoff
	}
}

// WithLogger sets driver logger.
func WithLogger(l log.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithOnFault sets a callback that is called on the loop goroutine after
// the loop ended with a fault. The driver is idle by then.
func WithOnFault(fn func(error)) Option {
	return func(d *Driver) {
		d.onFault = fn
	}
}

// WithPool sets the pool for transfer buffers.
func WithPool(p *pool.Pool) Option {
	return func(d *Driver) {
		d.pool = p
	}
}

// WithMetric enables driver counters.
func WithMetric() Option {
	return func(d *Driver) {
		d.metered = true
	}
}

// New returns an idle driver.
func New(options ...Option) *Driver {
	d := Driver{
		id:           xid.New(),
		quantum:      DefaultQuantum,
		maxZeroReads: DefaultMaxZeroReads,
		backoff:      audiograph.DefaultBackoff,
		pool:         pool.Default,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, option := range options {
		option(&d)
	}
	if d.quantum <= 0 {
		d.quantum = DefaultQuantum
	}
	d.logger = log.Component(log.OrSilent(d.logger), "driver", d.id.String())
	// idle driver is done
	close(d.done)
	return &d
}

// BeginActivelyReading starts a loop that pulls wanted samples from the
// input of sink and writes them into sink. The loop ends when the input
// ends, when it faults, when ctx is done or when Stop is called.
func (d *Driver) BeginActivelyReading(ctx context.Context, sink audiograph.Sink) error {
	if sink == nil {
		return fmt.Errorf("%w: nil sink", audiograph.ErrInvalidOperation)
	}
	if sink.Input() == nil {
		return fmt.Errorf("%w: sink %v has no input", audiograph.ErrInvalidOperation, sink.Name())
	}
	f := sink.InputFormat()
	return d.begin(ctx, sink, f, func(ctx context.Context, buf []float32, count int) (int, error) {
		src := sink.Input()
		if src == nil {
			return 0, io.EOF
		}
		n, err := audiograph.ReadFull(ctx, src, buf, 0, count, d.readOptions()...)
		if n > 0 {
			if werr := sink.Write(ctx, buf, 0, n); werr != nil {
				return n, fmt.Errorf("write %v: %w", sink.Name(), werr)
			}
		}
		return n, err
	})
}

// BeginActivelyWriting starts a loop that reads wanted samples from src and
// pushes them into its output. Samples read while src is not connected are
// dropped. The loop ends when src ends, when it faults, when ctx is done or
// when Stop is called.
func (d *Driver) BeginActivelyWriting(ctx context.Context, src audiograph.Source) error {
	if src == nil {
		return fmt.Errorf("%w: nil source", audiograph.ErrInvalidOperation)
	}
	f := src.OutputFormat()
	return d.begin(ctx, src, f, func(ctx context.Context, buf []float32, count int) (int, error) {
		n, err := audiograph.ReadFull(ctx, src, buf, 0, count, d.readOptions()...)
		if n > 0 {
			if out := src.Output(); out != nil {
				if werr := out.Write(ctx, buf, 0, n); werr != nil {
					return n, fmt.Errorf("write %v: %w", out.Name(), werr)
				}
			} else if d.metered {
				metric.Overflow(d, int64(n))
			}
		}
		return n, err
	})
}

func (d *Driver) readOptions() []audiograph.ReadOption {
	return []audiograph.ReadOption{
		audiograph.WithBackoff(d.backoff),
		audiograph.WithMaxZeroReads(d.maxZeroReads),
	}
}

func (d *Driver) begin(ctx context.Context, n audiograph.Node, f audiograph.Format, fn step) error {
	if n.Disposed() {
		return audiograph.ErrDisposed
	}
	d.mu.Lock()
	if !d.state.CompareAndSwap(int32(Idle), int32(Active)) {
		d.mu.Unlock()
		return ErrAlreadyActive
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.err = nil
	d.moved.Store(0)
	d.mu.Unlock()

	d.logger.Debug("begin ", n.Name())
	go d.run(ctx, cancel, done, f, fn)
	return nil
}

func (d *Driver) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, f audiograph.Format, fn step) {
	err := d.pump(ctx, f, fn)
	cancel()
	switch {
	case err == nil, errors.Is(err, io.EOF):
		d.logger.Debug("loop finished")
		err = nil
	case audiograph.IsCancelled(err) && ctx.Err() != nil:
		d.logger.Debug("loop stopped")
		err = nil
	default:
		d.logger.Warn("loop failed: ", err)
		if d.metered {
			metric.Fault(d)
		}
	}
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	d.state.Store(int32(Idle))
	close(done)

	if err != nil && d.onFault != nil {
		d.onFault(err)
	}
}

// pump holds the loop resources.
func (d *Driver) pump(ctx context.Context, f audiograph.Format, fn step) error {
	buf := d.pool.Rent(f.Len(d.quantum))
	defer buf.Release()

	var measure metric.MeasureFunc
	if d.metered {
		measure = metric.Meter(d, f.SampleRate)()
	}
	var tick <-chan time.Time
	if d.interval > 0 {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	return d.loop(ctx, buf.Data(), tick, measure, fn)
}

// loop waits for demand and satisfies it quantum by quantum.
func (d *Driver) loop(ctx context.Context, buf []float32, tick <-chan time.Time, measure metric.MeasureFunc, fn step) error {
	for {
		pending := d.demand.Load()
		if pending <= 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
			case <-tick:
				d.demand.Add(int64(d.quantum))
			}
			continue
		}
		count := int(min(pending, int64(d.quantum)))
		n, err := fn(ctx, buf, count)
		d.moved.Add(int64(n))
		// delivered or not, the demand is consumed
		d.demand.Add(-int64(count))
		if measure != nil {
			measure(int64(n))
			if n < count && err == nil {
				metric.Underrun(d, int64(count-n))
			}
		}
		if err != nil {
			return err
		}
	}
}

// Notify signals that n more samples per channel are wanted. It never
// blocks and signals coalesce, so it's safe to call from callbacks.
func (d *Driver) Notify(n int) {
	if n <= 0 {
		return
	}
	d.demand.Add(int64(n))
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns number of samples per channel wanted but not yet moved.
func (d *Driver) Pending() int {
	return int(max(d.demand.Load(), 0))
}

// Moved returns number of samples per channel moved by the current or the
// last loop.
func (d *Driver) Moved() int64 {
	return d.moved.Load()
}

// Stop stops the loop and waits for it to exit. Stopping an idle driver is
// a no-op. It returns the error the loop ended with.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if d.state.CompareAndSwap(int32(Active), int32(Stopping)) {
		d.cancel()
	}
	done := d.done
	d.mu.Unlock()
	<-done
	// demand of a stopped loop is stale
	d.demand.Store(0)
	return d.Err()
}

// Done returns a channel that is closed when the current loop exits.
func (d *Driver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err returns the fault that ended the last loop.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// State returns current state of the driver.
func (d *Driver) State() State {
	return State(d.state.Load())
}

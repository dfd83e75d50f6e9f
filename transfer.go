package audiograph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pipelined.dev/audiograph/pool"
)

const (
	// DefaultBackoff is the initial pause after a read returned no samples.
	DefaultBackoff = time.Millisecond
	maxBackoff     = 16 * DefaultBackoff
)

type (
	// ReadOption configures ReadFull and Copy.
	ReadOption func(*readOptions)

	readOptions struct {
		backoff      time.Duration
		maxZeroReads int
		pool         *pool.Pool
	}
)

// WithBackoff sets initial pause between reads that returned no samples.
// Pause doubles on each consecutive empty read, up to 16 times the
// initial value.
func WithBackoff(d time.Duration) ReadOption {
	return func(o *readOptions) {
		o.backoff = d
	}
}

// WithMaxZeroReads limits number of consecutive empty reads. When the limit
// is reached, whatever was read so far is returned. Zero means no limit.
func WithMaxZeroReads(n int) ReadOption {
	return func(o *readOptions) {
		o.maxZeroReads = n
	}
}

// WithReadPool sets pool used for Copy buffers.
func WithReadPool(p *pool.Pool) ReadOption {
	return func(o *readOptions) {
		o.pool = p
	}
}

func newReadOptions(opts []ReadOption) readOptions {
	o := readOptions{
		backoff: DefaultBackoff,
		pool:    pool.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ReadFull reads from src until count samples per channel are read. Partial
// and empty reads are retried. It returns number of samples read and the
// error that stopped reading: io.EOF if the stream ended, a transfer fault
// or a context error. If zero reads limit is reached, it returns less than
// count with nil error.
func ReadFull(ctx context.Context, src Source, buf []float32, offset, count int, opts ...ReadOption) (int, error) {
	o := newReadOptions(opts)
	channels := src.OutputFormat().NumChannels()
	var read, zeros int
	backoff := o.backoff
	for read < count {
		n, err := src.Read(ctx, buf, offset+read*channels, count-read)
		read += n
		if err != nil {
			return read, err
		}
		if n > 0 {
			zeros = 0
			backoff = o.backoff
			continue
		}
		zeros++
		if o.maxZeroReads > 0 && zeros >= o.maxZeroReads {
			return read, nil
		}
		if err := sleep(ctx, backoff); err != nil {
			return read, err
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
	return read, nil
}

// Copy pumps samples from src into dst in chunks of chunk samples per
// channel until src is finished. It returns number of samples per channel
// written. Reaching the end of src is not an error.
func Copy(ctx context.Context, dst Sink, src Source, chunk int, opts ...ReadOption) (int64, error) {
	if uf, df := src.OutputFormat(), dst.InputFormat(); uf != df {
		return 0, &FormatMismatchError{Upstream: uf, Downstream: df}
	}
	if chunk <= 0 {
		return 0, fmt.Errorf("%w: chunk must be positive", ErrInvalidOperation)
	}
	o := newReadOptions(opts)
	buf := o.pool.Rent(src.OutputFormat().Len(chunk))
	defer buf.Release()

	var written int64
	for {
		n, err := ReadFull(ctx, src, buf.Data(), 0, chunk, opts...)
		if n > 0 {
			if werr := dst.Write(ctx, buf.Data(), 0, n); werr != nil {
				return written, fmt.Errorf("copy write: %w", werr)
			}
			written += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("copy read: %w", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

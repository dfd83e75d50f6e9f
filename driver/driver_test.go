package driver_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/driver"
	"pipelined.dev/audiograph/internal/mock"
	"pipelined.dev/audiograph/metric"
	"pipelined.dev/audiograph/pool"
	"pipelined.dev/audiograph/sink"
	"pipelined.dev/audiograph/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var stereo = audiograph.StereoFormat(44100)

const timeout = 2 * time.Second

func TestBeginActivelyReading(t *testing.T) {
	tests := []struct {
		description string
		zeroReads   int
		quantum     int
		limit       int
	}{
		{
			description: "no stutter",
			quantum:     128,
			limit:       1000,
		},
		{
			description: "stutter below zero reads limit",
			zeroReads:   3,
			quantum:     128,
			limit:       1000,
		},
		{
			description: "quantum larger than stream",
			zeroReads:   1,
			quantum:     4096,
			limit:       1000,
		},
	}
	for _, test := range tests {
		g := audiograph.NewGraph()
		src := &mock.Source{Limit: test.limit, Value: 0.25}
		require.NoError(t, src.Bind(g, stereo))
		stutter := &mock.Stutter{ZeroReads: test.zeroReads}
		require.NoError(t, stutter.Bind(g, stereo))
		bucket, err := sink.NewBucket(g, stereo)
		require.NoError(t, err)
		require.NoError(t, g.Connect(src, stutter))
		require.NoError(t, g.Connect(stutter, bucket))

		p := pool.New()
		d := driver.New(
			driver.WithQuantum(test.quantum),
			driver.WithBackoff(time.Microsecond),
			driver.WithPool(p),
		)
		d.Notify(test.limit + test.quantum)
		require.NoError(t, d.BeginActivelyReading(context.Background(), bucket), test.description)
		waitDone(t, d)

		assert.NoError(t, d.Err(), test.description)
		assert.Equal(t, driver.Idle, d.State(), test.description)
		assert.Equal(t, test.limit, bucket.Len(), test.description)
		assert.Equal(t, int64(test.limit), d.Moved(), test.description)
		for _, v := range bucket.Samples() {
			assert.Equal(t, float32(0.25), v, test.description)
		}
		assert.Zero(t, p.Outstanding(), test.description)
	}
}

func TestBeginActivelyWriting(t *testing.T) {
	g := audiograph.NewGraph()
	src, err := source.NewConstant(g, stereo, 0.5, 300)
	require.NoError(t, err)
	bucket, err := sink.NewBucket(g, stereo)
	require.NoError(t, err)
	require.NoError(t, g.Connect(src, bucket))

	d := driver.New(
		driver.WithQuantum(64),
		driver.WithInterval(time.Millisecond),
	)
	require.NoError(t, d.BeginActivelyWriting(context.Background(), src))
	waitDone(t, d)

	assert.NoError(t, d.Err())
	assert.Equal(t, 300, bucket.Len())
	assert.True(t, src.Finished())
}

func TestNotifyCoalesces(t *testing.T) {
	g := audiograph.NewGraph()
	src, err := source.NewSilence(g, stereo)
	require.NoError(t, err)
	bucket, err := sink.NewBucket(g, stereo)
	require.NoError(t, err)
	require.NoError(t, g.Connect(src, bucket))

	d := driver.New(driver.WithQuantum(64))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				d.Notify(10)
			}
		}()
	}
	wg.Wait()
	// non-positive demand is ignored
	d.Notify(0)
	d.Notify(-5)
	assert.Equal(t, 1000, d.Pending())

	require.NoError(t, d.BeginActivelyReading(context.Background(), bucket))
	assert.Eventually(t, func() bool {
		return bucket.Len() == 1000
	}, timeout, time.Millisecond)
	assert.Eventually(t, func() bool {
		return d.Pending() == 0
	}, timeout, time.Millisecond)

	d.Notify(24)
	assert.Eventually(t, func() bool {
		return bucket.Len() == 1024
	}, timeout, time.Millisecond)
	require.NoError(t, d.Stop())
	assert.Equal(t, 1024, bucket.Len())
}

func TestStop(t *testing.T) {
	g := audiograph.NewGraph()
	src, err := source.NewSilence(g, stereo)
	require.NoError(t, err)
	bucket, err := sink.NewBucket(g, stereo)
	require.NoError(t, err)
	require.NoError(t, g.Connect(src, bucket))

	d := driver.New(driver.WithInterval(time.Millisecond))
	// stop of idle driver is a no-op
	require.NoError(t, d.Stop())
	assert.Equal(t, driver.Idle, d.State())

	ctx := context.Background()
	require.NoError(t, d.BeginActivelyReading(ctx, bucket))
	assert.Equal(t, driver.Active, d.State())
	err = d.BeginActivelyReading(ctx, bucket)
	assert.ErrorIs(t, err, driver.ErrAlreadyActive)
	assert.ErrorIs(t, err, audiograph.ErrInvalidOperation)

	assert.Eventually(t, func() bool {
		return bucket.Len() > 0
	}, timeout, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Stop())
		}()
	}
	wg.Wait()
	assert.Equal(t, driver.Idle, d.State())
	assert.NoError(t, d.Err())
	stopped := bucket.Len()

	// driver can be started again
	require.NoError(t, d.BeginActivelyReading(ctx, bucket))
	assert.Eventually(t, func() bool {
		return bucket.Len() > stopped
	}, timeout, time.Millisecond)
	require.NoError(t, d.Stop())
}

func TestCancelParentContext(t *testing.T) {
	g := audiograph.NewGraph()
	src, err := source.NewSilence(g, stereo)
	require.NoError(t, err)
	bucket, err := sink.NewBucket(g, stereo)
	require.NoError(t, err)
	require.NoError(t, g.Connect(src, bucket))

	ctx, cancel := context.WithCancel(context.Background())
	d := driver.New()
	require.NoError(t, d.BeginActivelyReading(ctx, bucket))
	cancel()
	waitDone(t, d)
	assert.NoError(t, d.Err())
	assert.Equal(t, driver.Idle, d.State())
}

func TestFault(t *testing.T) {
	g := audiograph.NewGraph()
	src := &mock.Source{Limit: 1000, Value: 1}
	require.NoError(t, src.Bind(g, stereo))
	failing := &mock.Failing{After: 300}
	require.NoError(t, failing.Bind(g, stereo))
	bucket, err := sink.NewBucket(g, stereo)
	require.NoError(t, err)
	require.NoError(t, g.Connect(src, failing))
	require.NoError(t, g.Connect(failing, bucket))

	faults := make(chan error, 1)
	d := driver.New(
		driver.WithQuantum(128),
		driver.WithMetric(),
		driver.WithOnFault(func(err error) {
			faults <- err
		}),
	)
	d.Notify(1000)
	require.NoError(t, d.BeginActivelyReading(context.Background(), bucket))

	select {
	case err := <-faults:
		assert.ErrorIs(t, err, audiograph.ErrTransferFault)
		assert.ErrorIs(t, err, mock.ErrMock)
	case <-time.After(timeout):
		t.Fatal("fault callback was not called")
	}
	waitDone(t, d)
	assert.ErrorIs(t, d.Err(), mock.ErrMock)
	assert.ErrorIs(t, d.Stop(), mock.ErrMock)
	assert.Equal(t, driver.Idle, d.State())
	assert.Equal(t, 300, bucket.Len())
	assert.NotEqual(t, "0", metric.Get(d)[metric.FaultCounter])
}

func TestSinkWriteFault(t *testing.T) {
	g := audiograph.NewGraph()
	src, err := source.NewSilence(g, stereo)
	require.NoError(t, err)
	dst := &mock.Sink{ErrorOnCall: mock.ErrMock}
	require.NoError(t, dst.Bind(g, stereo))
	require.NoError(t, g.Connect(src, dst))

	d := driver.New()
	d.Notify(10)
	require.NoError(t, d.BeginActivelyReading(context.Background(), dst))
	waitDone(t, d)
	assert.ErrorIs(t, d.Err(), mock.ErrMock)
}

func TestShortBuffer(t *testing.T) {
	g := audiograph.NewGraph()
	src := &mock.Source{Limit: 1000}
	require.NoError(t, src.Bind(g, stereo))
	unreliable := &mock.Unreliable{ChanceOfFailure: 1}
	require.NoError(t, unreliable.Bind(g, stereo))
	bucket, err := sink.NewBucket(g, stereo)
	require.NoError(t, err)
	require.NoError(t, g.Connect(src, unreliable))
	require.NoError(t, g.Connect(unreliable, bucket))

	d := driver.New(
		driver.WithQuantum(100),
		driver.WithMaxZeroReads(2),
		driver.WithBackoff(0),
		driver.WithMetric(),
	)
	before := counter(t, d, metric.UnderrunCounter)
	d.Notify(300)
	require.NoError(t, d.BeginActivelyReading(context.Background(), bucket))
	// the demand is consumed even though nothing could be read
	assert.Eventually(t, func() bool {
		return d.Pending() == 0
	}, timeout, time.Millisecond)
	require.NoError(t, d.Stop())

	assert.Zero(t, bucket.Len())
	assert.Equal(t, before+300, counter(t, d, metric.UnderrunCounter))
}

func TestBeginErrors(t *testing.T) {
	g := audiograph.NewGraph()
	bucket, err := sink.NewBucket(g, stereo)
	require.NoError(t, err)
	src, err := source.NewSilence(g, stereo)
	require.NoError(t, err)

	d := driver.New()
	ctx := context.Background()
	assert.ErrorIs(t, d.BeginActivelyReading(ctx, nil), audiograph.ErrInvalidOperation)
	assert.ErrorIs(t, d.BeginActivelyWriting(ctx, nil), audiograph.ErrInvalidOperation)
	// not connected
	assert.ErrorIs(t, d.BeginActivelyReading(ctx, bucket), audiograph.ErrInvalidOperation)

	require.NoError(t, src.Dispose())
	assert.ErrorIs(t, d.BeginActivelyWriting(ctx, src), audiograph.ErrDisposed)
	assert.Equal(t, driver.Idle, d.State())
}

func waitDone(t *testing.T, d *driver.Driver) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(timeout):
		t.Fatal("driver loop did not exit")
	}
}

func counter(t *testing.T, d *driver.Driver, name string) int {
	t.Helper()
	v, ok := metric.Get(d)[name]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	require.NoError(t, err)
	return n
}

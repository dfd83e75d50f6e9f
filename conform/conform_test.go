package conform_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/conform"
	"pipelined.dev/audiograph/internal/mock"
	"pipelined.dev/audiograph/sink"
	"pipelined.dev/audiograph/source"
)

func TestChannels(t *testing.T) {
	tests := []struct {
		description string
		in          audiograph.Format
		out         audiograph.Format
		data        []float32
		expected    []float32
	}{
		{
			description: "mono to stereo",
			in:          audiograph.MonoFormat(44100),
			out:         audiograph.StereoFormat(44100),
			data:        []float32{0.1, 0.2, 0.3},
			expected:    []float32{0.1, 0.1, 0.2, 0.2, 0.3, 0.3},
		},
		{
			description: "stereo to mono",
			in:          audiograph.StereoFormat(44100),
			out:         audiograph.MonoFormat(44100),
			data:        []float32{0.1, 0.3, -1, 1, 0.5, 0.5},
			expected:    []float32{0.2, 0, 0.5},
		},
		{
			description: "same format",
			in:          audiograph.StereoFormat(44100),
			out:         audiograph.StereoFormat(44100),
			data:        []float32{0.1, 0.3, -1, 1},
			expected:    []float32{0.1, 0.3, -1, 1},
		},
	}
	ctx := context.Background()
	for _, test := range tests {
		g := audiograph.NewGraph()
		src, err := source.NewFixed(g, test.in, test.data)
		require.NoError(t, err, test.description)
		r, err := conform.NewResampler(g, test.in, test.out)
		require.NoError(t, err, test.description)
		bucket, err := sink.NewBucket(g, test.out)
		require.NoError(t, err, test.description)

		// formats are never adapted by connect
		if test.in != test.out {
			assert.ErrorIs(t, g.Connect(src, bucket), audiograph.ErrFormatMismatch, test.description)
		}
		require.NoError(t, g.Connect(src, r), test.description)
		_, err = audiograph.Copy(ctx, bucket, r, 2)
		require.NoError(t, err, test.description)
		assert.InDeltaSlice(t, test.expected, bucket.Samples(), 1e-6, test.description)
		assert.True(t, r.Finished(), test.description)
	}
}

func TestSampleRate(t *testing.T) {
	in, out := audiograph.StereoFormat(44100), audiograph.StereoFormat(48000)
	g := audiograph.NewGraph()
	src, err := source.NewConstant(g, in, 0.5, 44100)
	require.NoError(t, err)
	stutter := &mock.Stutter{ZeroReads: 1}
	require.NoError(t, stutter.Bind(g, in))
	r, err := conform.NewResampler(g, in, out)
	require.NoError(t, err)
	bucket, err := sink.NewBucket(g, out)
	require.NoError(t, err)
	require.NoError(t, g.Connect(src, stutter))
	require.NoError(t, g.Connect(stutter, r))

	n, err := audiograph.Copy(context.Background(), bucket, r, 512, audiograph.WithBackoff(0))
	require.NoError(t, err)
	// resampler delay is not flushed
	assert.InDelta(t, 48000, n, 2000)
	samples := bucket.Samples()
	middle := samples[out.Len(10000):out.Len(20000)]
	for _, v := range middle {
		assert.InDelta(t, 0.5, v, 1e-2)
	}
}

func TestWrite(t *testing.T) {
	in, out := audiograph.MonoFormat(8000), audiograph.StereoFormat(8000)
	g := audiograph.NewGraph()
	r, err := conform.NewResampler(g, in, out)
	require.NoError(t, err)
	bucket, err := sink.NewBucket(g, out)
	require.NoError(t, err)
	require.NoError(t, g.Connect(r, bucket))

	ctx := context.Background()
	require.NoError(t, r.Write(ctx, []float32{9, 1, 2, 9}, 1, 2))
	assert.Equal(t, []float32{1, 1, 2, 2}, bucket.Samples())
}

func TestUnsupportedConversion(t *testing.T) {
	quad, err := audiograph.PackedFormat(44100, 4)
	require.NoError(t, err)
	g := audiograph.NewGraph()
	_, err = conform.NewResampler(g, quad, audiograph.StereoFormat(44100))
	assert.ErrorIs(t, err, conform.ErrUnsupportedConversion)
	assert.ErrorIs(t, err, audiograph.ErrInvalidOperation)
	assert.Zero(t, g.Len())
}

func TestZeroLengthRead(t *testing.T) {
	in, out := audiograph.MonoFormat(8000), audiograph.StereoFormat(8000)
	g := audiograph.NewGraph()
	src, err := source.NewFixed(g, in, []float32{1, 2, 3})
	require.NoError(t, err)
	r, err := conform.NewResampler(g, in, out)
	require.NoError(t, err)
	require.NoError(t, g.Connect(src, r))

	ctx := context.Background()
	buf := make([]float32, out.Len(3))
	n, err := r.Read(ctx, buf, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, r.Finished())
	// nothing is pulled from input
	assert.Equal(t, 3, src.Remaining())

	n, err = r.Read(ctx, buf, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []float32{1, 1, 2, 2, 3, 3}, buf)
}

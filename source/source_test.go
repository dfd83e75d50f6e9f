package source_test

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/sink"
	"pipelined.dev/audiograph/source"
)

func TestFinite(t *testing.T) {
	stereo := audiograph.StereoFormat(44100)
	tests := []struct {
		description string
		create      func(*audiograph.Graph) (audiograph.Source, error)
		chunk       int
		expected    []float32
	}{
		{
			description: "constant",
			create: func(g *audiograph.Graph) (audiograph.Source, error) {
				return source.NewConstant(g, stereo, 0.5, 3)
			},
			chunk:    2,
			expected: []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5},
		},
		{
			description: "empty constant",
			create: func(g *audiograph.Graph) (audiograph.Source, error) {
				return source.NewConstant(g, stereo, 0.5, 0)
			},
			chunk: 2,
		},
		{
			description: "fixed",
			create: func(g *audiograph.Graph) (audiograph.Source, error) {
				return source.NewFixed(g, stereo, []float32{1, 2, 3, 4, 5, 6})
			},
			chunk:    1,
			expected: []float32{1, 2, 3, 4, 5, 6},
		},
		{
			description: "fixed with partial frame",
			create: func(g *audiograph.Graph) (audiograph.Source, error) {
				return source.NewFixed(g, stereo, []float32{1, 2, 3})
			},
			chunk:    4,
			expected: []float32{1, 2},
		},
	}
	ctx := context.Background()
	for _, test := range tests {
		g := audiograph.NewGraph()
		src, err := test.create(g)
		require.NoError(t, err, test.description)
		bucket, err := sink.NewBucket(g, stereo)
		require.NoError(t, err, test.description)

		n, err := audiograph.Copy(ctx, bucket, src, test.chunk)
		require.NoError(t, err, test.description)
		assert.Equal(t, int64(len(test.expected)/2), n, test.description)
		if len(test.expected) > 0 {
			assert.Equal(t, test.expected, bucket.Samples(), test.description)
		}
		assert.True(t, src.Finished(), test.description)

		_, err = src.Read(ctx, make([]float32, 4), 0, 2)
		assert.ErrorIs(t, err, io.EOF, test.description)
	}
}

func TestSilence(t *testing.T) {
	g := audiograph.NewGraph()
	s, err := source.NewSilence(g, audiograph.MonoFormat(8000))
	require.NoError(t, err)

	buf := []float32{1, 1, 1, 1}
	n, err := s.Read(context.Background(), buf, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float32{1, 0, 0, 1}, buf)
	assert.False(t, s.Finished())
}

func TestFixedRemaining(t *testing.T) {
	g := audiograph.NewGraph()
	s, err := source.NewFixed(g, audiograph.MonoFormat(8000), []float32{1, 2, 3, 4, 5})
	require.NoError(t, err)

	buf := make([]float32, 3)
	n, err := s.Read(context.Background(), buf, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, s.Remaining())
}

func TestSine(t *testing.T) {
	f := audiograph.StereoFormat(8000)
	ctx := context.Background()
	g := audiograph.NewGraph()

	whole, err := source.NewSine(g, f, 1000, 0.5, 16)
	require.NoError(t, err)
	expected := make([]float32, f.Len(16))
	n, err := whole.Read(ctx, expected, 0, 16)
	require.NoError(t, err)
	require.Equal(t, 16, n)

	// phase continues across reads
	split, err := source.NewSine(g, f, 1000, 0.5, 16)
	require.NoError(t, err)
	bucket, err := sink.NewBucket(g, f)
	require.NoError(t, err)
	_, err = audiograph.Copy(ctx, bucket, split, 5)
	require.NoError(t, err)
	assert.InDeltaSlice(t, expected, bucket.Samples(), 1e-6)

	for i := 0; i < 16; i++ {
		want := 0.5 * math.Sin(2*math.Pi*1000*float64(i)/8000)
		assert.InDelta(t, want, expected[2*i], 1e-6)
		assert.Equal(t, expected[2*i], expected[2*i+1])
	}
}

func TestInfinite(t *testing.T) {
	g := audiograph.NewGraph()
	c, err := source.NewConstant(g, audiograph.MonoFormat(8000), 1, source.Infinite)
	require.NoError(t, err)

	buf := make([]float32, 1024)
	for i := 0; i < 10; i++ {
		n, err := c.Read(context.Background(), buf, 0, len(buf))
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
	}
	assert.False(t, c.Finished())
}

func TestZeroLengthRead(t *testing.T) {
	mono := audiograph.MonoFormat(8000)
	tests := []struct {
		description string
		create      func(*audiograph.Graph) (audiograph.Source, error)
	}{
		{
			description: "silence",
			create: func(g *audiograph.Graph) (audiograph.Source, error) {
				return source.NewSilence(g, mono)
			},
		},
		{
			description: "constant",
			create: func(g *audiograph.Graph) (audiograph.Source, error) {
				return source.NewConstant(g, mono, 0.5, 4)
			},
		},
		{
			description: "fixed",
			create: func(g *audiograph.Graph) (audiograph.Source, error) {
				return source.NewFixed(g, mono, []float32{1, 2, 3, 4})
			},
		},
		{
			description: "sine",
			create: func(g *audiograph.Graph) (audiograph.Source, error) {
				return source.NewSine(g, mono, 1000, 0.5, 4)
			},
		},
	}
	ctx := context.Background()
	for _, test := range tests {
		g := audiograph.NewGraph()
		src, err := test.create(g)
		require.NoError(t, err, test.description)

		buf := make([]float32, 4)
		for i := 0; i < 3; i++ {
			n, err := src.Read(ctx, buf, 0, 0)
			require.NoError(t, err, test.description)
			assert.Zero(t, n, test.description)
			assert.False(t, src.Finished(), test.description)
		}
		n, err := src.Read(ctx, buf, 0, 4)
		require.NoError(t, err, test.description)
		assert.Equal(t, 4, n, test.description)
	}
}

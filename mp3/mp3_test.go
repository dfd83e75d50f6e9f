package mp3_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/mp3"
	"pipelined.dev/audiograph/sink"
	"pipelined.dev/audiograph/source"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		description string
		format      audiograph.Format
	}{
		{
			description: "stereo",
			format:      audiograph.StereoFormat(44100),
		},
		{
			description: "mono is decoded as stereo",
			format:      audiograph.MonoFormat(44100),
		},
	}
	ctx := context.Background()
	for _, test := range tests {
		path := filepath.Join(t.TempDir(), "out.mp3")
		g := audiograph.NewGraph()
		samples := test.format.SamplesPerChannel(1e9)
		sine, err := source.NewSine(g, test.format, 440, 0.5, samples)
		require.NoError(t, err, test.description)
		out, err := mp3.Create(g, test.format, path, 128, 2)
		require.NoError(t, err, test.description)
		_, err = audiograph.Copy(ctx, out, sine, 1152)
		require.NoError(t, err, test.description)
		require.NoError(t, out.Dispose(), test.description)

		in, err := mp3.Open(g, path)
		require.NoError(t, err, test.description)
		assert.Equal(t, audiograph.StereoFormat(44100), in.OutputFormat(), test.description)
		bucket, err := sink.NewBucket(g, in.OutputFormat())
		require.NoError(t, err, test.description)
		read, err := audiograph.Copy(ctx, bucket, in, 1024)
		require.NoError(t, err, test.description)
		// encoder adds padding frames
		assert.GreaterOrEqual(t, read, int64(samples), test.description)
		assert.True(t, in.Finished(), test.description)

		_, err = in.Read(ctx, make([]float32, 8), 0, 4)
		assert.ErrorIs(t, err, io.EOF, test.description)
		require.NoError(t, g.Close(), test.description)
	}
}

func TestInvalid(t *testing.T) {
	g := audiograph.NewGraph()
	quad, err := audiograph.PackedFormat(44100, 4)
	require.NoError(t, err)
	_, err = mp3.NewSink(g, quad, io.Discard, 0, 2)
	assert.ErrorIs(t, err, mp3.ErrUnsupportedChannels)

	_, err = mp3.NewSource(g, bytes.NewReader(nil))
	assert.Error(t, err)
	assert.Zero(t, g.Len())
}

func TestZeroLengthRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.mp3")
	f := audiograph.StereoFormat(44100)
	g := audiograph.NewGraph()
	defer g.Close()

	ctx := context.Background()
	sine, err := source.NewSine(g, f, 440, 0.5, 4*1152)
	require.NoError(t, err)
	out, err := mp3.Create(g, f, path, 128, 2)
	require.NoError(t, err)
	_, err = audiograph.Copy(ctx, out, sine, 1152)
	require.NoError(t, err)
	require.NoError(t, out.Dispose())

	in, err := mp3.Open(g, path)
	require.NoError(t, err)
	buf := make([]float32, f.Len(64))
	for i := 0; i < 3; i++ {
		n, err := in.Read(ctx, buf, 0, 0)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.False(t, in.Finished())
	}
	n, err := in.Read(ctx, buf, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
}

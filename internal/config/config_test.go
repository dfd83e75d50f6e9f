package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/internal/config"
)

func TestParse(t *testing.T) {
	tests := []struct {
		description string
		yaml        string
		err         error
	}{
		{
			description: "ok",
			yaml: `
output:
  path: out.wav
inputs:
  - path: a.wav
    gain_db: -6
    token: drums
  - sine:
      frequency: 440
      amplitude: 0.2
      duration: 1.5s
`,
		},
		{
			description: "no inputs",
			yaml: `
output:
  path: out.wav
`,
			err: config.ErrInvalidJob,
		},
		{
			description: "unsupported output",
			yaml: `
output:
  path: out.flac
inputs:
  - path: a.wav
`,
			err: config.ErrInvalidJob,
		},
		{
			description: "path and sine",
			yaml: `
output:
  path: out.mp3
inputs:
  - path: a.wav
    sine:
      duration: 1s
`,
			err: config.ErrInvalidJob,
		},
		{
			description: "too many channels",
			yaml: `
channels: 13
output:
  path: out.wav
inputs:
  - path: a.wav
`,
			err: config.ErrInvalidJob,
		},
	}
	for _, test := range tests {
		job, err := config.Parse([]byte(test.yaml))
		if test.err != nil {
			assert.ErrorIs(t, err, test.err, test.description)
			continue
		}
		require.NoError(t, err, test.description)
		assert.Equal(t, uint32(config.DefaultSampleRate), job.SampleRate, test.description)
		assert.Equal(t, config.DefaultChunk, job.Chunk, test.description)
		assert.Equal(t, config.DefaultBitDepth, job.Output.BitDepth, test.description)
		f, err := job.Format()
		require.NoError(t, err, test.description)
		assert.Equal(t, audiograph.StereoFormat(config.DefaultSampleRate), f, test.description)
		require.Len(t, job.Inputs, 2, test.description)
		assert.Equal(t, float32(-6), job.Inputs[0].GainDB, test.description)
		assert.Equal(t, "drums", job.Inputs[0].Token, test.description)
		require.NotNil(t, job.Inputs[1].Sine, test.description)
		assert.Equal(t, 1500*time.Millisecond, job.Inputs[1].Sine.Duration, test.description)
	}
}

func TestLoadResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sample_rate: 8000
channels: 1
output:
  path: out/mix.wav
inputs:
  - path: a.wav
  - path: /abs/b.mp3
`), 0o644))

	job, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out/mix.wav"), job.Output.Path)
	assert.Equal(t, filepath.Join(dir, "a.wav"), job.Inputs[0].Path)
	assert.Equal(t, "/abs/b.mp3", job.Inputs[1].Path)
	f, err := job.Format()
	require.NoError(t, err)
	assert.Equal(t, audiograph.MonoFormat(8000), f)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

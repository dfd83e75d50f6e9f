package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/conform"
	"pipelined.dev/audiograph/driver"
	"pipelined.dev/audiograph/filter"
	"pipelined.dev/audiograph/internal/config"
	"pipelined.dev/audiograph/mixer"
	"pipelined.dev/audiograph/source"
)

func newMixCommand() *cobra.Command {
	var jobFile string
	cmd := &cobra.Command{
		Use:   "mix",
		Short: "Render a mix job to a file",
		Long: `Render a mix job to a wav or mp3 file.

Example job file (job.yaml):
  sample_rate: 44100
  channels: 2
  output:
    path: mix.wav
    bit_depth: 16
  inputs:
    - path: drums.wav
      gain_db: -3
      token: drums
    - sine:
        frequency: 440
        amplitude: 0.1
        duration: 2s

Examples:
  audiograph mix -f job.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := config.Load(jobFile)
			if err != nil {
				return err
			}
			written, err := runMix(cmd.Context(), job)
			if err != nil {
				return err
			}
			f, _ := job.Format()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d samples, %v\n", job.Output.Path, written, f.Duration(int(written)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "job file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// runMix renders the job and returns number of samples per channel
// written.
func runMix(ctx context.Context, job *config.Job) (written int64, err error) {
	f, err := job.Format()
	if err != nil {
		return 0, err
	}
	g := audiograph.NewGraph(audiograph.WithLogger(logger), audiograph.WithName("mix"))
	defer func() {
		err = errors.Join(err, g.Close())
	}()

	m, err := mixer.New(g, f, mixer.WithOnInputFinished(func(token string) {
		logger.Info("input finished: ", token)
	}))
	if err != nil {
		return 0, err
	}
	for i, in := range job.Inputs {
		src, err := buildInput(g, f, in)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		var options []mixer.InputOption
		if in.Token != "" {
			options = append(options, mixer.WithToken(in.Token))
		}
		if err := m.AddInput(src, true, options...); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
	}

	out, err := createSink(g, f, job.Output)
	if err != nil {
		return 0, err
	}
	if !job.Realtime {
		return audiograph.Copy(ctx, out, m, job.Chunk)
	}

	if err := g.Connect(m, out); err != nil {
		return 0, err
	}
	d := driver.New(
		driver.WithQuantum(job.Chunk),
		driver.WithInterval(f.Duration(job.Chunk)),
		driver.WithLogger(logger),
		driver.WithMetric(),
	)
	if err := d.BeginActivelyReading(ctx, out); err != nil {
		return 0, err
	}
	<-d.Done()
	if err := d.Err(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.Moved(), nil
}

// buildInput creates the input chain: source, conformer if formats differ
// and volume if gain is set.
func buildInput(g *audiograph.Graph, f audiograph.Format, in config.Input) (audiograph.Source, error) {
	var (
		src audiograph.Source
		err error
	)
	if in.Sine != nil {
		src, err = source.NewSine(g, f, in.Sine.Frequency, in.Sine.Amplitude, f.SamplesPerChannel(in.Sine.Duration))
	} else {
		src, err = openSource(g, in.Path)
	}
	if err != nil {
		return nil, err
	}
	if sf := src.OutputFormat(); sf != f {
		r, err := conform.NewResampler(g, sf, f)
		if err != nil {
			return nil, err
		}
		if err := g.Connect(src, r); err != nil {
			return nil, err
		}
		src = r
	}
	if in.GainDB == 0 {
		return src, nil
	}
	v, err := filter.NewVolume(g, f)
	if err != nil {
		return nil, err
	}
	if err := v.SetDecibels(in.GainDB, 0); err != nil {
		return nil, err
	}
	if err := g.Connect(src, v); err != nil {
		return nil, err
	}
	return v, nil
}

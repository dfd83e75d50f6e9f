package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/conform"
	"pipelined.dev/audiograph/driver"
	"pipelined.dev/audiograph/filter"
	"pipelined.dev/audiograph/portaudio"
)

func newPlayCommand() *cobra.Command {
	var (
		gain            float32
		framesPerBuffer int
	)
	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Play a wav or mp3 file with the default output device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if err := portaudio.Initialize(); err != nil {
				return fmt.Errorf("initialize portaudio: %w", err)
			}
			defer func() {
				err = errors.Join(err, portaudio.Terminate())
			}()
			f, err := portaudio.DefaultOutputFormat()
			if err != nil {
				return err
			}

			g := audiograph.NewGraph(audiograph.WithLogger(logger), audiograph.WithName("play"))
			defer func() {
				err = errors.Join(err, g.Close())
			}()
			src, err := openSource(g, args[0])
			if err != nil {
				return err
			}
			if sf := src.OutputFormat(); sf != f {
				logger.Debug("conforming ", sf, " to ", f)
				r, err := conform.NewResampler(g, sf, f)
				if err != nil {
					return err
				}
				if err := g.Connect(src, r); err != nil {
					return err
				}
				src = r
			}
			volume, err := filter.NewVolume(g, f)
			if err != nil {
				return err
			}
			if err := volume.SetDecibels(gain, 0); err != nil {
				return err
			}
			if err := g.Connect(src, volume); err != nil {
				return err
			}

			playback, err := portaudio.NewPlayback(g, f,
				portaudio.WithFramesPerBuffer(framesPerBuffer),
				portaudio.WithDriverOptions(driver.WithLogger(logger), driver.WithMetric()),
			)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, playback.Close())
			}()
			if err := g.Connect(volume, playback.Sink()); err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := playback.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "playing %s: %v\n", args[0], f)
			select {
			case <-playback.Done():
				return playback.Drain(ctx)
			case <-ctx.Done():
				return nil
			}
		},
	}
	cmd.Flags().Float32Var(&gain, "gain", 0, "gain in decibels")
	cmd.Flags().IntVar(&framesPerBuffer, "frames", portaudio.DefaultFramesPerBuffer, "samples per channel per device callback")
	return cmd
}

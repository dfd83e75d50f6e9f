package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pipelined.dev/audiograph"
	"pipelined.dev/audiograph/sink"
)

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Print format and duration of a wav or mp3 file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			g := audiograph.NewGraph(audiograph.WithLogger(logger), audiograph.WithName("info"))
			defer func() {
				err = errors.Join(err, g.Close())
			}()
			src, err := openSource(g, args[0])
			if err != nil {
				return err
			}
			f := src.OutputFormat()
			null, err := sink.NewNull(g, f)
			if err != nil {
				return err
			}
			n, err := audiograph.Copy(cmd.Context(), null, src, 4096)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "file:     %s\n", args[0])
			fmt.Fprintf(w, "format:   %v\n", f)
			fmt.Fprintf(w, "samples:  %d\n", n)
			fmt.Fprintf(w, "duration: %v\n", f.Duration(int(n)))
			return nil
		},
	}
}

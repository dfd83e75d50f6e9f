// Command audiograph mixes, plays and inspects audio files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pipelined.dev/audiograph/log"
)

var (
	successExitCode = 0
	errorExitCode   = 1
)

var logger = log.GetLogger()

func newRootCommand() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:           "audiograph",
		Short:         "Mix, play and inspect audio files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logger.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.AddCommand(
		newMixCommand(),
		newPlayCommand(),
		newInfoCommand(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
		stop()
		os.Exit(errorExitCode)
	}
	stop()
	os.Exit(successExitCode)
}

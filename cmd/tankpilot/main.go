package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/tankpilot/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var vErr config.ValidationError
		if errors.As(err, &vErr) {
			for _, issue := range vErr.Issues() {
				fmt.Fprintf(os.Stderr, "  - %s\n", issue)
			}
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "tankpilot",
		Short: "Drive and observe stage-based load tests on a tank API",
		Long: `tankpilot starts, pauses, resumes and stops load tests on a remote tank
API. A breakpoint names the stage before which the tank pauses; moving the
breakpoint continues the paused session, and setting one when no session is
running starts a new test that pauses there.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	config.RegisterFlags(root)

	root.AddCommand(
		newRunCmd(),
		newResumeCmd(),
		newStopCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newConsoleCmd(),
		newArtifactsCmd(),
		newShootCmd(),
		newMergePhoutCmd(),
	)
	return root
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/logging"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// exitCodeError carries a remote exit code out of cobra so the process
// mirrors the target command's status.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("command exited %d", e.code)
}

func main() {
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		var exit exitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		var cmdErr *engine.CommandError
		if errors.As(err, &cmdErr) {
			os.Exit(cmdErr.Result.ExitCode)
		}
		fmt.Fprintln(os.Stderr, "xec:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "xec",
		Short:         "Run commands on local, ssh, docker, and remote-docker targets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newTargetsCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the xec version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "xec", version)
		},
	}
}

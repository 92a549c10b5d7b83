package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pushbot",
		Short: "Self-hosted push-to-deploy dispatcher",
		Long: `pushbot receives provider push webhooks, runs each service's deploy
command under a strict one-at-a-time-per-service schedule, and streams
the child process's logs to any number of live observers.`,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newDeployCommand())
	cmd.AddCommand(newInitCommand())
	return cmd
}

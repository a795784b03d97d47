package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slackcore",
		Short: "slackcore — a Slack Socket Mode bot runtime",
		Long:  "slackcore runs a Slack app over Socket Mode: connection lifecycle, event dedupe, handler pipeline, rate limiting, and a local cache, all behind one binary.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newConfigureCmd())
	cmd.AddCommand(newHealthcheckCmd())
	cmd.AddCommand(newDiagnosticsCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("slackcore %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// newLogger builds the console-writer zerolog logger every subcommand uses.
func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slackcore/runtime/internal/config"
	"github.com/slackcore/runtime/internal/instance"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the Socket Mode connection and serve until interrupted",
		Long:  "Loads the config, builds an Instance, and runs it until SIGINT/SIGTERM. Handlers and middleware are registered by the embedding application before Run is called; the bare slackcore binary runs with no handlers registered beyond the default slash-command ack.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "slackcore.yaml", "path to config file")
	return cmd
}

func runRun(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger()
	inst, err := instance.New(*cfg, log)
	if err != nil {
		return fmt.Errorf("build instance: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "slackcore %q starting (config: %s)\n", cfg.InstanceName, configPath)
	if err := inst.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("instance run: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "slackcore shut down")
	return nil
}

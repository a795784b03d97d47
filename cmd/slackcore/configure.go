package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slackcore/runtime/internal/config"
)

func newConfigureCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Validate a config file and print the resolved settings",
		Long:  "Loads the config file, applies defaults, validates required fields, and prints the resolved settings without starting a connection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "slackcore.yaml", "path to config file")
	return cmd
}

func runConfigure(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "instance_name:    %s\n", cfg.InstanceName)
	fmt.Fprintf(out, "ack_mode:         %s\n", cfg.AckMode)
	fmt.Fprintf(out, "event_buffer:     adapter=%s ttl=%s\n", cfg.EventBuffer.Adapter, cfg.EventBuffer.TTL())
	fmt.Fprintf(out, "cache_sync:       enabled=%t kinds=%v interval=%dms\n", cfg.CacheSync.Enabled, cfg.CacheSync.Kinds, cfg.CacheSync.IntervalMS)
	fmt.Fprintf(out, "user_cache:       ttl=%s\n", cfg.UserCache.TTL())
	fmt.Fprintf(out, "diagnostics:      enabled=%t buffer_size=%d\n", cfg.Diagnostics.Enabled, cfg.Diagnostics.BufferSize)
	fmt.Fprintf(out, "http:             enabled=%t addr=%s\n", cfg.HTTP.Enabled, cfg.HTTP.Addr)
	fmt.Fprintln(out, "config OK")
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newHealthcheckCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "One-shot HTTP GET against a running instance's /healthz",
		Long:  "Fetches /healthz from a running slackcore instance's introspection HTTP surface and exits non-zero if it reports not ready. Useful as a container HEALTHCHECK or liveness probe.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8090", "base address of the introspection HTTP server")
	return cmd
}

func runHealthcheck(cmd *cobra.Command, addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/healthz")
	if err != nil {
		return fmt.Errorf("healthz request: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		State string `json:"state"`
		Ready bool   `json:"ready"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode healthz response: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "state=%s ready=%t\n", body.State, body.Ready)
	if !body.Ready {
		return fmt.Errorf("instance not ready (state=%s)", body.State)
	}
	return nil
}

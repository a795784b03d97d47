package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newDiagnosticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Inspect a running instance's diagnostics ring buffer",
	}
	cmd.AddCommand(newDiagnosticsReplayCmd())
	return cmd
}

func newDiagnosticsReplayCmd() *cobra.Command {
	var (
		addr  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Fetch and print recent diagnostics ring buffer entries",
		Long:  "Calls GET /diagnostics?limit=N on a running instance's introspection HTTP surface and prints each recorded frame in order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnosticsReplay(cmd, addr, limit)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8090", "base address of the introspection HTTP server")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to fetch")
	return cmd
}

func runDiagnosticsReplay(cmd *cobra.Command, addr string, limit int) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(fmt.Sprintf("%s/diagnostics?limit=%d", addr, limit))
	if err != nil {
		return fmt.Errorf("diagnostics request: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Entries []struct {
			Direction string    `json:"Direction"`
			Type      string    `json:"Type"`
			At        time.Time `json:"At"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode diagnostics response: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, e := range body.Entries {
		fmt.Fprintf(out, "%s  %-8s  %s\n", e.At.Format(time.RFC3339), e.Direction, e.Type)
	}
	fmt.Fprintf(out, "%d entries\n", len(body.Entries))
	return nil
}

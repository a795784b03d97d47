package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDiagnosticsReplayCmd_PrintsEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"entries":[{"Direction":"inbound","Type":"events_api","At":"2026-01-01T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"diagnostics", "replay", "--addr", srv.URL})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("diagnostics replay command failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "events_api") {
		t.Errorf("expected output to contain entry type, got: %s", out)
	}
	if !strings.Contains(out, "1 entries") {
		t.Errorf("expected trailing count, got: %s", out)
	}
}

package instance

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/slackcore/runtime/internal/config"
	"github.com/slackcore/runtime/internal/pipeline"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("app_token: xapp-test\nbot_token: xoxb-test\n"))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	return *cfg
}

func TestNew_WiresDefaultMemoryEventBuffer(t *testing.T) {
	inst, err := New(testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if inst.Buffer == nil {
		t.Fatal("Buffer not wired")
	}
	if inst.Pipeline == nil || inst.Connection == nil || inst.Limiter == nil || inst.WebAPI == nil {
		t.Fatal("core subsystems not wired")
	}
	if inst.Syncer != nil {
		t.Fatal("syncer should be nil when cache_sync.enabled is false")
	}
	if inst.HTTP != nil {
		t.Fatal("http server should be nil when http.enabled is false")
	}
}

func TestNew_WiresCacheSyncWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheSync.Enabled = true
	inst, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if inst.Syncer == nil {
		t.Fatal("syncer should be wired when cache_sync.enabled is true")
	}
}

func TestNew_WiresHTTPServerWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Enabled = true
	cfg.HTTP.Addr = "127.0.0.1:0"
	inst, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if inst.HTTP == nil {
		t.Fatal("http server should be wired when http.enabled is true")
	}
}

func TestNew_RejectsUnknownEventBufferAdapter(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventBuffer.Adapter = "carrier-pigeon"
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown event buffer adapter")
	}
}

func TestConfigureAutoAck_EphemeralSetsPostFunc(t *testing.T) {
	cfg := testConfig(t)
	cfg.AckMode = config.AckModeEphemeral
	pipe := pipeline.New(pipeline.Opts{})
	configureAutoAck(pipe, cfg, nil)

	// A wired Post func reaches postEphemeralAck's payload type check
	// instead of silently doing nothing (the bug this wiring fixes: an
	// ephemeral ack strategy with no Post delivered its body nowhere).
	err := pipe.Dispatch(context.Background(), pipeline.Envelope{
		EnvelopeID: "e1",
		Type:       "slash_commands",
		Payload:    "not-a-slash-command",
	})
	if err == nil {
		t.Fatal("expected dispatch to surface the ack post error")
	}
}

func TestPostEphemeralAck_RejectsUnexpectedPayloadWithoutTouchingAPI(t *testing.T) {
	post := postEphemeralAck(nil)
	err := post(context.Background(), "Processing...", pipeline.Envelope{
		Type:    "slash_commands",
		Payload: "not-a-slash-command",
	})
	if err == nil {
		t.Fatal("expected an error for a non-SlashCommand payload")
	}
}

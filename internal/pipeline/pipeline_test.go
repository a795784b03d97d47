package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slackcore/runtime/internal/diagnostics"
	"github.com/slackcore/runtime/internal/eventbuffer"
)

func newTestPipeline() (*Pipeline, *diagnostics.Ring) {
	ring := diagnostics.New(diagnostics.Opts{Enabled: true, BufferSize: 32})
	buf := eventbuffer.NewMemory(eventbuffer.MemoryOpts{TTL: time.Minute})
	p := New(Opts{Buffer: buf, Diagnostics: ring})
	return p, ring
}

func TestPipeline_DedupesSameEnvelopeID(t *testing.T) {
	p, ring := newTestPipeline()
	var calls int32
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		atomic.AddInt32(&calls, 1)
		return HandlerResult{}, nil
	})

	env := Envelope{EnvelopeID: "e1", Type: "events_api", Payload: "p"}
	p.Dispatch(context.Background(), env)
	p.Dispatch(context.Background(), env)

	if calls != 1 {
		t.Fatalf("handler invocations = %d, want 1", calls)
	}
	entries := ring.List()
	if len(entries) != 2 {
		t.Fatalf("diagnostics entries = %d, want 2 (one new, one duplicate)", len(entries))
	}
}

func TestPipeline_MiddlewareHaltStopsHandlers(t *testing.T) {
	p, ring := newTestPipeline()
	var handlerRan bool
	p.Use(func(ctx context.Context, envelopeType string, payload any) (MiddlewareResult, error) {
		if payload == "blocked" {
			return MiddlewareResult{Halt: true}, nil
		}
		return MiddlewareResult{}, nil
	})
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		handlerRan = true
		return HandlerResult{}, nil
	})

	p.Dispatch(context.Background(), Envelope{EnvelopeID: "e1", Type: "events_api", Payload: "blocked"})

	if handlerRan {
		t.Fatal("handler ran after middleware halt")
	}
	if len(ring.List()) != 1 {
		t.Fatalf("diagnostics entries = %d, want 1 (inbound still recorded)", len(ring.List()))
	}
}

func TestPipeline_HandlerHaltStopsLaterHandlers(t *testing.T) {
	p, _ := newTestPipeline()
	var secondRan bool
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		return HandlerResult{Halt: true}, nil
	})
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		secondRan = true
		return HandlerResult{}, nil
	})

	p.Dispatch(context.Background(), Envelope{EnvelopeID: "e1", Type: "events_api", Payload: "p"})

	if secondRan {
		t.Fatal("second handler ran after first halted")
	}
}

func TestPipeline_HandlerErrorContinuesToNextHandler(t *testing.T) {
	p, _ := newTestPipeline()
	var secondRan bool
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		return HandlerResult{}, errors.New("boom")
	})
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		secondRan = true
		return HandlerResult{}, nil
	})

	p.Dispatch(context.Background(), Envelope{EnvelopeID: "e1", Type: "events_api", Payload: "p"})

	if !secondRan {
		t.Fatal("second handler did not run after first returned an error")
	}
}

func TestPipeline_HandlerPanicRecovered(t *testing.T) {
	p, _ := newTestPipeline()
	var secondRan bool
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		panic("boom")
	})
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		secondRan = true
		return HandlerResult{}, nil
	})

	err := p.Dispatch(context.Background(), Envelope{EnvelopeID: "e1", Type: "events_api", Payload: "p"})
	if err != nil {
		t.Fatalf("Dispatch returned error after handler panic, want nil (never crash worker): %v", err)
	}
	if !secondRan {
		t.Fatal("second handler did not run after first panicked")
	}
}

func TestPipeline_EmitSkipsDedupe(t *testing.T) {
	p, ring := newTestPipeline()
	var calls int32
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		atomic.AddInt32(&calls, 1)
		return HandlerResult{}, nil
	})

	env := Envelope{EnvelopeID: "e1", Type: "events_api", Payload: "p"}
	p.Emit(context.Background(), env)
	p.Emit(context.Background(), env)

	if calls != 2 {
		t.Fatalf("handler invocations via Emit = %d, want 2 (dedupe skipped)", calls)
	}
	entries := ring.List()
	for _, e := range entries {
		if e.Meta["origin"] != "emit" {
			t.Errorf("entry meta origin = %v, want emit", e.Meta["origin"])
		}
	}
}

func TestPipeline_SlashCommandAutoAck(t *testing.T) {
	p, _ := newTestPipeline()
	var posted any
	p.SetAckStrategy("slash_commands", AckStrategy{
		Mode: AckEphemeral,
		Body: "Processing...",
		Post: func(ctx context.Context, body any, env Envelope) error {
			posted = body
			return nil
		},
	})
	p.On("slash_commands", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		return HandlerResult{}, nil
	})

	p.Dispatch(context.Background(), Envelope{EnvelopeID: "e1", Type: "slash_commands", Payload: "p"})

	if posted != "Processing..." {
		t.Fatalf("posted ack body = %v, want Processing...", posted)
	}
}

func TestPipeline_EventBufferErrorFailsOpen(t *testing.T) {
	ring := diagnostics.New(diagnostics.Opts{Enabled: true, BufferSize: 8})
	p := New(Opts{Buffer: failingBuffer{}, Diagnostics: ring})
	var calls int32
	p.On("events_api", func(ctx context.Context, env Envelope) (HandlerResult, error) {
		atomic.AddInt32(&calls, 1)
		return HandlerResult{}, nil
	})

	p.Dispatch(context.Background(), Envelope{EnvelopeID: "e1", Type: "events_api", Payload: "p"})

	if calls != 1 {
		t.Fatalf("handler invocations with failing event buffer = %d, want 1 (fail-open)", calls)
	}
}

type failingBuffer struct{}

func (failingBuffer) Record(ctx context.Context, key string, payload any) (eventbuffer.RecordResult, error) {
	return eventbuffer.RecordOK, errors.New("backend down")
}
func (failingBuffer) Delete(ctx context.Context, key string) error        { return nil }
func (failingBuffer) Seen(ctx context.Context, key string) (bool, error) { return false, nil }
func (failingBuffer) Pending(ctx context.Context) ([]eventbuffer.Entry, error) {
	return nil, nil
}
func (failingBuffer) Close() error { return nil }

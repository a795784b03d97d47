// Package pipeline implements the Handler Pipeline: dedupe via the Event
// Buffer, diagnostics recording, a middleware chain with short-circuit, and
// per-type handler fan-out. Each dispatch runs on its own goroutine so a
// panicking handler never takes down the connection manager.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/slackcore/runtime/internal/diagnostics"
	"github.com/slackcore/runtime/internal/eventbuffer"
)

// Envelope is one inbound unit, identified by EnvelopeID when present.
// Frames without one (e.g. some control frames) are deduped on a
// caller-supplied deterministic key instead.
type Envelope struct {
	EnvelopeID             string
	Type                   string
	Payload                any
	AcceptsResponsePayload bool
	RetryAttempt           int
	RetryReason            string
}

// MiddlewareResult is returned by a Middleware. Halt stops the chain (and
// skips handler fan-out); Payload/Ctx let a middleware transform state seen
// by subsequent middleware and handlers.
type MiddlewareResult struct {
	Halt     bool
	Response any
	Payload  any
	Ctx      context.Context
}

// Middleware runs before handler fan-out, in declared order.
type Middleware func(ctx context.Context, envelopeType string, payload any) (MiddlewareResult, error)

// HandlerResult is returned by a Handler.
type HandlerResult struct {
	Halt     bool
	Response any
}

// Handler processes one envelope for a registered type.
type Handler func(ctx context.Context, env Envelope) (HandlerResult, error)

// DispatchStatus is the telemetry-facing outcome of one dispatch.
type DispatchStatus string

const (
	StatusNew       DispatchStatus = "new"
	StatusDuplicate DispatchStatus = "duplicate"
	StatusHalted    DispatchStatus = "halted"
	StatusError     DispatchStatus = "error"
	StatusException DispatchStatus = "exception"
	StatusOK        DispatchStatus = "ok"
)

// Pipeline owns the dedupe store, diagnostics ring, middleware chain, and
// the type-to-handlers dispatch table built by the caller at startup.
type Pipeline struct {
	buffer      eventbuffer.Adapter
	diagnostics *diagnostics.Ring
	log         zerolog.Logger
	ack         *AckRegistry

	mu          sync.RWMutex
	middlewares []Middleware
	handlers    map[string][]Handler
}

// Opts configures a Pipeline.
type Opts struct {
	Buffer      eventbuffer.Adapter
	Diagnostics *diagnostics.Ring
	Logger      zerolog.Logger
}

// New creates a Pipeline.
func New(opts Opts) *Pipeline {
	return &Pipeline{
		buffer:      opts.Buffer,
		diagnostics: opts.Diagnostics,
		log:         opts.Logger.With().Str("component", "pipeline").Logger(),
		ack:         NewAckRegistry(),
		handlers:    make(map[string][]Handler),
	}
}

// Use appends a middleware to the chain, run in the order registered.
func (p *Pipeline) Use(mw Middleware) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.middlewares = append(p.middlewares, mw)
}

// On registers a handler for envelopeType, appended to any handlers already
// registered for that type.
func (p *Pipeline) On(envelopeType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[envelopeType] = append(p.handlers[envelopeType], h)
}

// SetAckStrategy registers the auto-ack strategy used for slash command
// envelopes of the given type (normally "slash_commands").
func (p *Pipeline) SetAckStrategy(envelopeType string, strategy AckStrategy) {
	p.ack.Set(envelopeType, strategy)
}

// Dispatch runs the full pipeline for one inbound envelope: dedupe,
// diagnostics, auto-ack, middleware chain, then handler fan-out. It never
// panics — handler and middleware panics are recovered and recorded as
// StatusException.
func (p *Pipeline) Dispatch(ctx context.Context, env Envelope) error {
	return p.dispatch(ctx, env, diagnostics.DirectionInbound, false)
}

// Emit feeds envelope into the pipeline exactly as if received, but skips
// dedupe. Diagnostics are recorded with meta["origin"]="emit" before the
// pipeline runs, so a handler crash never loses the record.
func (p *Pipeline) Emit(ctx context.Context, env Envelope) error {
	return p.dispatch(ctx, env, diagnostics.DirectionInbound, true)
}

func (p *Pipeline) dispatch(ctx context.Context, env Envelope, dir diagnostics.Direction, skipDedupe bool) error {
	key := dedupeKey(env)

	if !skipDedupe {
		result, err := p.buffer.Record(ctx, key, env.Payload)
		if err != nil {
			// Fail-open per event buffer policy: treat as unseen and proceed.
			p.log.Warn().Err(err).Str("key", key).Msg("event buffer record failed, assuming unseen")
		} else if result == eventbuffer.RecordDuplicate {
			p.recordDiagnostics(env, dir, "emit", false, map[string]any{"decision": "duplicate"})
			p.log.Debug().Str("key", key).Msg("duplicate envelope, dropping")
			return nil
		}
	}

	meta := map[string]any{"decision": "new"}
	if skipDedupe {
		meta["origin"] = "emit"
	}
	p.recordDiagnostics(env, dir, "", skipDedupe, meta)

	if env.Type == "slash_commands" {
		if err := p.ack.Apply(ctx, env); err != nil {
			p.log.Warn().Err(err).Str("type", env.Type).Msg("auto-ack failed")
		}
	}

	status := p.runChain(ctx, env)
	p.log.Debug().Str("envelope_id", env.EnvelopeID).Str("type", env.Type).Str("status", string(status)).Msg("dispatch complete")
	return nil
}

func (p *Pipeline) recordDiagnostics(env Envelope, dir diagnostics.Direction, origin string, isEmit bool, meta map[string]any) {
	if isEmit {
		meta["origin"] = "emit"
	}
	p.diagnostics.Record(diagnostics.Entry{
		Direction: dir,
		Type:      env.Type,
		Payload:   env.Payload,
		Meta:      meta,
	})
}

// runChain executes the middleware chain followed by handler fan-out,
// recovering panics at each stage so one bad handler never takes down the
// worker.
func (p *Pipeline) runChain(ctx context.Context, env Envelope) (status DispatchStatus) {
	p.mu.RLock()
	middlewares := append([]Middleware(nil), p.middlewares...)
	handlers := append([]Handler(nil), p.handlers[env.Type]...)
	p.mu.RUnlock()

	payload := env.Payload
	for _, mw := range middlewares {
		res, err := p.runMiddleware(ctx, mw, env.Type, payload)
		if err != nil {
			p.log.Warn().Err(err).Str("type", env.Type).Msg("middleware exception")
			return StatusException
		}
		if res.Halt {
			return StatusHalted
		}
		if res.Ctx != nil {
			ctx = res.Ctx
		}
		if res.Payload != nil {
			payload = res.Payload
		}
	}
	env.Payload = payload

	status = StatusOK
	for _, h := range handlers {
		res, err := p.runHandler(ctx, h, env)
		if err != nil {
			status = StatusError
			p.log.Warn().Err(err).Str("type", env.Type).Msg("handler error")
			continue
		}
		if res.Halt {
			return StatusHalted
		}
	}
	return status
}

func (p *Pipeline) runMiddleware(ctx context.Context, mw Middleware, envelopeType string, payload any) (res MiddlewareResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: middleware panic: %v", r)
		}
	}()
	return mw(ctx, envelopeType, payload)
}

func (p *Pipeline) runHandler(ctx context.Context, h Handler, env Envelope) (res HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: handler panic: %v", r)
		}
	}()
	return h(ctx, env)
}

// dedupeKey derives the Event Buffer key: envelope_id when present, else a
// deterministic hash of the payload for frames without one (e.g. some
// control frames routed through the pipeline for uniformity).
func dedupeKey(env Envelope) string {
	if env.EnvelopeID != "" {
		return env.EnvelopeID
	}
	return fmt.Sprintf("%s:%v", env.Type, env.Payload)
}

// Package connection implements the Connection Manager: the Socket Mode
// state machine that owns the WebSocket, acks inbound envelopes
// synchronously on the socket loop, and hands dispatch off to the Handler
// Pipeline on a separate goroutine so the socket loop never blocks.
package connection

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/slackcore/runtime/internal/pipeline"
)

// State is one of the Connection Manager's lifecycle states.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReady        State = "ready"
	StateBackoff      State = "backoff"
)

// socketClient abstracts the socketmode.Client methods the Manager needs,
// so tests can inject a fake transport without a live Slack connection.
type socketClient interface {
	RunContext(ctx context.Context) error
	Events() chan socketmode.Event
	Ack(req socketmode.Request, payload ...any)
}

type realSocketClient struct{ client *socketmode.Client }

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) Events() chan socketmode.Event         { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...any) {
	r.client.Ack(req, payload...)
}

// Backoff configures the reconnect backoff policy: exponential with full
// jitter, base and cap both configurable.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

func (b Backoff) delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 60 * time.Second
	}
	exp := base << attempt // #nosec G115 -- attempt is bounded by caller loop
	if exp <= 0 || exp > cap {
		exp = cap
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

// Manager owns the Socket Mode connection lifecycle.
type Manager struct {
	socket   socketClient
	pipeline *pipeline.Pipeline
	backoff  Backoff
	log      zerolog.Logger

	mu            sync.RWMutex
	state         State
	rateLimitedAt time.Time // non-zero when the prior close carried a rate-limit signal
	retryAfter    time.Duration
}

// Opts configures a Manager.
type Opts struct {
	SlackClient *slackapi.Client
	Pipeline    *pipeline.Pipeline
	Backoff     Backoff
	Logger      zerolog.Logger
	// Socket overrides the transport, for tests.
	Socket socketClient
}

// New creates a Manager.
func New(opts Opts) *Manager {
	socket := opts.Socket
	if socket == nil {
		socket = &realSocketClient{client: socketmode.New(opts.SlackClient)}
	}
	return &Manager{
		socket:   socket,
		pipeline: opts.Pipeline,
		backoff:  opts.Backoff,
		log:      opts.Logger.With().Str("component", "connection").Logger(),
		state:    StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.log.Info().Str("state", string(s)).Msg("connection state transition")
}

// Run drives the connection lifecycle until ctx is cancelled: it starts the
// socket-mode transport, pumps events to the pipeline, and on transport
// failure re-enters backoff before reopening. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return ctx.Err()
		default:
		}

		m.setState(StateConnecting)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- m.socket.RunContext(runCtx) }()
		go m.pumpEvents(runCtx)

		err := <-done
		cancel()

		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}
		if err == nil {
			// Clean shutdown requested by the transport itself.
			m.setState(StateDisconnected)
			return nil
		}

		m.setState(StateBackoff)
		wait := m.nextBackoff(attempt)
		m.log.Warn().Err(err).Dur("wait", wait).Int("attempt", attempt).Msg("socket mode disconnected, backing off")
		attempt++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// nextBackoff uses the server-provided Retry-After delay when the prior
// close carried a Slack rate-limit signal, otherwise full-jitter
// exponential backoff.
func (m *Manager) nextBackoff(attempt int) time.Duration {
	m.mu.RLock()
	retryAfter := m.retryAfter
	rateLimited := !m.rateLimitedAt.IsZero()
	m.mu.RUnlock()
	if rateLimited && retryAfter > 0 {
		m.mu.Lock()
		m.rateLimitedAt = time.Time{}
		m.retryAfter = 0
		m.mu.Unlock()
		m.log.Info().Dur("retry_after", retryAfter).Msg("connection rate_limited reconnect")
		return retryAfter
	}
	return m.backoff.delay(attempt)
}

// NoteRateLimitedClose records that the transport's most recent close
// carried a Slack-provided Retry-After, so the next backoff honors it
// instead of the exponential schedule.
func (m *Manager) NoteRateLimitedClose(retryAfter time.Duration) {
	m.mu.Lock()
	m.rateLimitedAt = time.Now()
	m.retryAfter = retryAfter
	m.mu.Unlock()
}

// pumpEvents reads Socket Mode events and translates them into pipeline
// dispatches. This goroutine is the only place that touches the socket for
// acking; it never blocks on pipeline work — dispatch is handed off to its
// own goroutine per envelope.
func (m *Manager) pumpEvents(ctx context.Context) {
	events := m.socket.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, evt)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		m.setState(StateConnecting)
	case socketmode.EventTypeConnected:
		m.setState(StateConnected)
	case socketmode.EventTypeConnectionError:
		m.log.Warn().Interface("data", evt.Data).Msg("connection error")
	case socketmode.EventTypeHello:
		m.setState(StateReady)
	case socketmode.EventTypeDisconnect:
		m.log.Info().Msg("server requested disconnect, will reconnect")
		m.setState(StateBackoff)
	case socketmode.EventTypeEventsAPI:
		m.handleEventsAPI(ctx, evt)
	case socketmode.EventTypeSlashCommand:
		m.handleSlashCommand(ctx, evt)
	case socketmode.EventTypeInteractive:
		m.handleInteractive(ctx, evt)
	}
}

// ackAndDispatch sends the synchronous WS ack frame immediately, then hands
// the envelope to the pipeline on its own goroutine. The invariant this
// preserves: the socket loop never blocks on handler work.
func (m *Manager) ackAndDispatch(ctx context.Context, evt socketmode.Event, env pipeline.Envelope, ackPayload any) {
	if evt.Request != nil {
		if ackPayload != nil {
			m.socket.Ack(*evt.Request, ackPayload)
		} else {
			m.socket.Ack(*evt.Request)
		}
	}
	go func() {
		if err := m.pipeline.Dispatch(ctx, env); err != nil {
			m.log.Warn().Err(err).Str("envelope_id", env.EnvelopeID).Msg("dispatch error")
		}
	}()
}

func (m *Manager) handleEventsAPI(ctx context.Context, evt socketmode.Event) {
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	env := pipeline.Envelope{
		EnvelopeID: envelopeID(evt),
		Type:       "events_api",
		Payload:    eventsAPIEvent,
	}
	m.ackAndDispatch(ctx, evt, env, nil)
}

func (m *Manager) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	cmd, ok := evt.Data.(slackapi.SlashCommand)
	if !ok {
		return
	}
	env := pipeline.Envelope{
		EnvelopeID:             envelopeID(evt),
		Type:                   "slash_commands",
		Payload:                cmd,
		AcceptsResponsePayload: true,
	}
	m.ackAndDispatch(ctx, evt, env, nil)
}

func (m *Manager) handleInteractive(ctx context.Context, evt socketmode.Event) {
	cb, ok := evt.Data.(slackapi.InteractionCallback)
	if !ok {
		return
	}
	env := pipeline.Envelope{
		EnvelopeID:             envelopeID(evt),
		Type:                   "interactive",
		Payload:                cb,
		AcceptsResponsePayload: true,
	}
	m.ackAndDispatch(ctx, evt, env, nil)
}

func envelopeID(evt socketmode.Event) string {
	if evt.Request == nil {
		return ""
	}
	return fmt.Sprintf("%s", evt.Request.EnvelopeID)
}

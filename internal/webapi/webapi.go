// Package webapi is the single chokepoint for outbound Slack Web API calls.
// Every call passes through the dual rate limiter before reaching the HTTP
// client, and every outcome is logged with duration and status.
package webapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"

	"github.com/slackcore/runtime/internal/ratelimit"
)

// Status classifies the outcome of a Push call for telemetry.
type Status string

const (
	StatusOK        Status = "ok"
	StatusError     Status = "error"
	StatusException Status = "exception"
)

// Call is a single outbound Web API invocation: the method name (used for
// tier classification and telemetry), the rate-limit key, and the function
// that actually performs the HTTP round-trip against *slack.Client.
type Call struct {
	Method string
	Key    string
	Fn     func(ctx context.Context, client *slackapi.Client) (any, error)
}

// Client wraps *slack.Client with the dual rate limiter and structured
// telemetry. It is the only component in the runtime permitted to perform
// outbound HTTP calls to Slack.
type Client struct {
	slack   *slackapi.Client
	limiter *ratelimit.Limiter
	log     zerolog.Logger
	worker  chan func()
}

// Opts configures a Client.
type Opts struct {
	SlackClient  *slackapi.Client
	Limiter      *ratelimit.Limiter
	Logger       zerolog.Logger
	AsyncWorkers int // goroutines servicing PushAsync; default 4
}

// New creates a Client.
func New(opts Opts) *Client {
	workers := opts.AsyncWorkers
	if workers <= 0 {
		workers = 4
	}
	c := &Client{
		slack:   opts.SlackClient,
		limiter: opts.Limiter,
		log:     opts.Logger.With().Str("component", "webapi").Logger(),
		worker:  make(chan func(), 256),
	}
	for i := 0; i < workers; i++ {
		go c.runWorker()
	}
	return c
}

func (c *Client) runWorker() {
	for fn := range c.worker {
		fn()
	}
}

// Push performs a single Web API call, blocking on the rate limiter and
// returning the call's result or error. A Slack 429 is reported back into
// the limiter (SuspendKey/SuspendTier) and surfaced to the caller as
// *RateLimitedError so upstream callers (e.g. cache sync pagers) may
// re-enqueue per the spec's retry contract.
func (c *Client) Push(ctx context.Context, call Call) (result any, err error) {
	start := time.Now()
	status := StatusOK
	defer func() {
		c.log.Debug().
			Str("method", call.Method).
			Dur("duration", time.Since(start)).
			Str("status", string(status)).
			Msg("api request")
	}()

	tier := ratelimit.MethodTier(call.Method)
	release, err := c.limiter.Acquire(ctx, call.Key, tier)
	if err != nil {
		status = StatusError
		return nil, fmt.Errorf("webapi: acquire limiter for %s: %w", call.Method, err)
	}
	defer release()

	result, err = c.invoke(ctx, call)
	if err != nil {
		var rle *slackapi.RateLimitedError
		if errors.As(err, &rle) {
			status = StatusError
			c.limiter.SuspendKey(call.Key, rle.RetryAfter)
			c.limiter.SuspendTier(tier, rle.RetryAfter)
			return nil, &RateLimitedError{Method: call.Method, RetryAfter: rle.RetryAfter}
		}
		status = StatusException
		return nil, fmt.Errorf("webapi: %s: %w", call.Method, err)
	}
	return result, nil
}

func (c *Client) invoke(ctx context.Context, call Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("webapi: %s: panic: %v", call.Method, r)
		}
	}()
	return call.Fn(ctx, c.slack)
}

// PushAsync schedules call on the async worker pool and logs its outcome;
// errors are not returned to the caller.
func (c *Client) PushAsync(ctx context.Context, call Call) {
	c.worker <- func() {
		if _, err := c.Push(ctx, call); err != nil {
			c.log.Warn().Err(err).Str("method", call.Method).Msg("async push failed")
		}
	}
}

// RateLimitedError is returned by Push when Slack responds with a 429. It
// carries the Retry-After duration so callers can decide whether to wait
// and re-enqueue.
type RateLimitedError struct {
	Method     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("webapi: %s rate limited, retry after %s", e.Method, e.RetryAfter)
}

// Package ratelimit implements the dual rate limiter that sits in front of
// every outbound Slack Web API call: a per-key serializer (Limiter-A) and a
// tier-based token bucket (Limiter-B). Both gates understand Slack's 429
// Retry-After signal: SuspendKey and SuspendTier let the Web API client
// report a rate-limit response back into the limiter so subsequent callers
// queue behind the server-dictated delay instead of re-discovering it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Tier identifies a Slack API rate-limit tier. Method-to-tier mapping lives
// in tiers.go.
type Tier string

const (
	Tier1    Tier = "tier1"
	Tier2    Tier = "tier2"
	Tier3    Tier = "tier3"
	Tier4    Tier = "tier4"
	TierPost Tier = "chat.post" // chat.postMessage gets its own per-workspace cap
)

// keyState is obtained per RateLimitKey, released when the caller's request
// completes. sem is a 1-buffered channel used as a serialization gate
// (Limiter-A): Go's runtime serves goroutines blocked on a channel receive in
// the order they started waiting, which gives the enqueue-order guarantee a
// plain sync.Mutex does not. blockedUntil holds a server-dictated Retry-After
// deadline reported via SuspendKey, stored as unix nanos so Stats and
// releaseKey can read it without contending with a holder of sem.
type keyState struct {
	refCount     int // guarded by Limiter.mu
	sem          chan struct{}
	blockedUntil atomic.Int64
}

func newKeyState() *keyState {
	ks := &keyState{sem: make(chan struct{}, 1)}
	ks.sem <- struct{}{}
	return ks
}

func (ks *keyState) blockedDeadline() time.Time {
	nanos := ks.blockedUntil.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// tierState pairs a token bucket with a suspension deadline reported via
// SuspendTier on a 429 response.
type tierState struct {
	mu           sync.Mutex
	bucket       *rate.Limiter
	suspendedUntil time.Time
}

// Limiter combines Limiter-A (per-key serialization) and Limiter-B (tier
// token buckets) in front of every outbound call. Acquire blocks until both
// gates admit the call, returning a release function the caller must call
// exactly once (typically deferred) once the call completes.
type Limiter struct {
	mu      sync.Mutex
	keys    map[string]*keyState
	buckets map[Tier]*tierState
}

// Opts configures a Limiter's tier buckets. Unset tiers fall back to the
// registry defaults in tiers.go.
type Opts struct {
	TierRates map[Tier]rate.Limit
	TierBurst map[Tier]int
}

// New creates a Limiter with the default tier registry, overridden by any
// rates supplied in opts.
func New(opts Opts) *Limiter {
	l := &Limiter{
		keys:    make(map[string]*keyState),
		buckets: make(map[Tier]*tierState),
	}
	for tier, def := range defaultTierLimits {
		r, burst := def.rate, def.burst
		if rr, ok := opts.TierRates[tier]; ok {
			r = rr
		}
		if b, ok := opts.TierBurst[tier]; ok {
			burst = b
		}
		l.buckets[tier] = &tierState{bucket: rate.NewLimiter(r, burst)}
	}
	return l
}

// Acquire blocks until a call keyed by "key" and tiered as "tier" may
// proceed, acquiring Limiter-A's per-key serialization first (including any
// standing SuspendKey deadline) and then Limiter-B's tier bucket (including
// any standing SuspendTier deadline). The returned release func must be
// called exactly once when the call completes, regardless of outcome.
func (l *Limiter) Acquire(ctx context.Context, key string, tier Tier) (release func(), err error) {
	ks := l.acquireKey(key)

	select {
	case <-ks.sem:
	case <-ctx.Done():
		l.releaseKey(key)
		return nil, fmt.Errorf("ratelimit: key %q: %w", key, ctx.Err())
	}

	if err := waitUntil(ctx, ks.blockedDeadline()); err != nil {
		ks.sem <- struct{}{}
		l.releaseKey(key)
		return nil, fmt.Errorf("ratelimit: key %q suspended: %w", key, err)
	}

	ts, ok := l.buckets[tier]
	if !ok {
		ks.sem <- struct{}{}
		l.releaseKey(key)
		return nil, fmt.Errorf("ratelimit: unknown tier %q", tier)
	}

	ts.mu.Lock()
	suspendedUntil := ts.suspendedUntil
	ts.mu.Unlock()
	if err := waitUntil(ctx, suspendedUntil); err != nil {
		ks.sem <- struct{}{}
		l.releaseKey(key)
		return nil, fmt.Errorf("ratelimit: tier %q suspended: %w", tier, err)
	}

	if err := ts.bucket.Wait(ctx); err != nil {
		ks.sem <- struct{}{}
		l.releaseKey(key)
		return nil, fmt.Errorf("ratelimit: tier %q wait: %w", tier, err)
	}

	released := false
	release = func() {
		if released {
			return
		}
		released = true
		ks.sem <- struct{}{}
		l.releaseKey(key)
	}
	return release, nil
}

// SuspendKey records a Slack 429 Retry-After for a given RateLimitKey. The
// caller must already hold the release from the Acquire that observed the
// 429; subsequent Acquire calls for the same key block until the deadline.
func (l *Limiter) SuspendKey(key string, retryAfter time.Duration) {
	l.mu.Lock()
	ks, ok := l.keys[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	ks.blockedUntil.Store(time.Now().Add(retryAfter).UnixNano())
}

// SuspendTier records a Slack 429 Retry-After for an entire tier. All
// callers queued or arriving on that tier wait until the deadline elapses.
func (l *Limiter) SuspendTier(tier Tier, retryAfter time.Duration) {
	l.mu.Lock()
	ts, ok := l.buckets[tier]
	l.mu.Unlock()
	if !ok {
		return
	}
	ts.mu.Lock()
	ts.suspendedUntil = time.Now().Add(retryAfter)
	ts.mu.Unlock()
}

// Stats reports a point-in-time snapshot for the diagnostics HTTP surface:
// the number of tracked keys and how many keys/tiers currently carry a
// standing 429 suspension.
type Stats struct {
	Keys             int
	SuspendedKeys    int
	SuspendedTiers   int
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	keys := make([]*keyState, 0, len(l.keys))
	for _, ks := range l.keys {
		keys = append(keys, ks)
	}
	tiers := make([]*tierState, 0, len(l.buckets))
	for _, ts := range l.buckets {
		tiers = append(tiers, ts)
	}
	l.mu.Unlock()

	now := time.Now()
	s := Stats{Keys: len(keys)}
	for _, ks := range keys {
		if now.Before(ks.blockedDeadline()) {
			s.SuspendedKeys++
		}
	}
	for _, ts := range tiers {
		ts.mu.Lock()
		suspended := now.Before(ts.suspendedUntil)
		ts.mu.Unlock()
		if suspended {
			s.SuspendedTiers++
		}
	}
	return s
}

func waitUntil(ctx context.Context, deadline time.Time) error {
	if deadline.IsZero() {
		return nil
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) acquireKey(key string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	ks, ok := l.keys[key]
	if !ok {
		ks = newKeyState()
		l.keys[key] = ks
	}
	ks.refCount++
	return ks
}

// releaseKey drops the keyState from the map once nobody references it and
// no suspension is outstanding, so the map doesn't grow unbounded with
// one-shot keys (e.g. per-user DM channels).
func (l *Limiter) releaseKey(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ks, ok := l.keys[key]
	if !ok {
		return
	}
	ks.refCount--
	if ks.refCount <= 0 && time.Now().After(ks.blockedDeadline()) {
		delete(l.keys, key)
	}
}

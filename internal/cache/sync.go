package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/slackcore/runtime/internal/webapi"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom,
// month, dow), matching the teacher's telegraph janitor schedule.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// UserPage is one page of the users.list sweep.
type UserPage struct {
	Users      map[string]any // user_id -> raw user payload
	NextCursor string
}

// ChannelPage is one page of the users.conversations sweep.
type ChannelPage struct {
	ChannelIDs []string
	NextCursor string
}

// UserFetcher abstracts paginated access to Slack's users.list so sync
// logic can be tested without a live Slack API.
type UserFetcher interface {
	FetchUsers(ctx context.Context, cursor string, limit int) (UserPage, error)
}

// ChannelFetcher abstracts paginated access to Slack's users.conversations
// for the bot's own identity.
type ChannelFetcher interface {
	FetchChannels(ctx context.Context, cursor string, limit int) (ChannelPage, error)
}

// pendingSync preserves cursor progress across a rate-limit pause so a
// sweep resumes rather than restarting from scratch.
type pendingSync struct {
	cursor string
	count  int
}

// SyncOpts configures a Syncer.
type SyncOpts struct {
	Queue       *MutationQueue
	Users       UserFetcher
	Channels    ChannelFetcher
	Interval    time.Duration
	PageLimit   int
	UserTTL     time.Duration
	Logger      zerolog.Logger

	// JanitorCron optionally overrides Interval with a 5-field cron
	// expression, so a full resync can run on a schedule like "nightly at
	// 3am" rather than a fixed period. Invalid expressions fall back to
	// Interval.
	JanitorCron string
}

// Syncer runs the users and channels background pagers. Each pager runs
// once immediately on Start, then on the configured interval, mirroring a
// ticker-driven poll loop: a single goroutine per kind, rate-limit aware,
// never blocking the caller.
type Syncer struct {
	opts SyncOpts

	mu           sync.Mutex
	usersPending pendingSync
	chansPending pendingSync
}

// NewSyncer creates a Syncer.
func NewSyncer(opts SyncOpts) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 200
	}
	if opts.UserTTL <= 0 {
		opts.UserTTL = time.Hour
	}
	return &Syncer{opts: opts}
}

// Start launches the users and channels pagers as background goroutines,
// stopping when ctx is cancelled.
func (s *Syncer) Start(ctx context.Context) {
	if s.opts.Users != nil {
		go s.runLoop(ctx, "users", s.sweepUsers)
	}
	if s.opts.Channels != nil {
		go s.runLoop(ctx, "channels", s.sweepChannels)
	}
}

func (s *Syncer) runLoop(ctx context.Context, kind string, sweep func(ctx context.Context) error) {
	log := s.opts.Logger.With().Str("sync", kind).Logger()

	run := func() {
		if err := sweep(ctx); err != nil {
			log.Warn().Err(err).Msg("sync sweep failed")
		}
	}
	run()

	sched, useCron := s.janitorSchedule()
	if useCron {
		s.runCronLoop(ctx, sched, run)
		return
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// janitorSchedule parses JanitorCron, if set. A parse error is treated as
// unset, falling back to the fixed Interval ticker.
func (s *Syncer) janitorSchedule() (cron.Schedule, bool) {
	if s.opts.JanitorCron == "" {
		return nil, false
	}
	sched, err := cronParser.Parse(s.opts.JanitorCron)
	if err != nil {
		s.opts.Logger.Warn().Err(err).Str("expr", s.opts.JanitorCron).Msg("invalid janitor_cron, falling back to interval")
		return nil, false
	}
	return sched, true
}

// runCronLoop fires run at each cron occurrence, recomputing the wait after
// every fire rather than relying on a fixed-period ticker.
func (s *Syncer) runCronLoop(ctx context.Context, sched cron.Schedule, run func()) {
	for {
		wait := time.Until(sched.Next(time.Now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			run()
		}
	}
}

// sweepUsers pages through users.list, resuming from any pending cursor
// left by a prior rate-limited call. On a RateLimitedError it schedules a
// resume after RetryAfter without blocking the caller of Start's loop.
func (s *Syncer) sweepUsers(ctx context.Context) error {
	s.mu.Lock()
	cursor := s.usersPending.cursor
	count := s.usersPending.count
	s.mu.Unlock()

	for {
		page, err := s.opts.Users.FetchUsers(ctx, cursor, s.opts.PageLimit)
		if err != nil {
			var rle *webapi.RateLimitedError
			if errors.As(err, &rle) {
				s.mu.Lock()
				s.usersPending = pendingSync{cursor: cursor, count: count}
				s.mu.Unlock()
				s.scheduleResume(ctx, "users", rle.RetryAfter, s.sweepUsers)
				return nil
			}
			return fmt.Errorf("cache: sync users: %w", err)
		}

		expiresAt := time.Now().Add(s.opts.UserTTL)
		for id, data := range page.Users {
			s.opts.Queue.Enqueue(Mutation{Kind: MutationPutUser, UserID: id, Data: data, ExpiresAt: expiresAt})
		}
		count += len(page.Users)

		if page.NextCursor == "" {
			s.mu.Lock()
			s.usersPending = pendingSync{}
			s.mu.Unlock()
			return nil
		}
		cursor = page.NextCursor
	}
}

func (s *Syncer) sweepChannels(ctx context.Context) error {
	s.mu.Lock()
	cursor := s.chansPending.cursor
	count := s.chansPending.count
	s.mu.Unlock()

	for {
		page, err := s.opts.Channels.FetchChannels(ctx, cursor, s.opts.PageLimit)
		if err != nil {
			var rle *webapi.RateLimitedError
			if errors.As(err, &rle) {
				s.mu.Lock()
				s.chansPending = pendingSync{cursor: cursor, count: count}
				s.mu.Unlock()
				s.scheduleResume(ctx, "channels", rle.RetryAfter, s.sweepChannels)
				return nil
			}
			return fmt.Errorf("cache: sync channels: %w", err)
		}

		for _, id := range page.ChannelIDs {
			s.opts.Queue.Enqueue(Mutation{Kind: MutationJoinChannel, ChannelID: id})
		}
		count += len(page.ChannelIDs)

		if page.NextCursor == "" {
			s.mu.Lock()
			s.chansPending = pendingSync{}
			s.mu.Unlock()
			return nil
		}
		cursor = page.NextCursor
	}
}

// scheduleResume waits out a rate-limit suspension on its own goroutine so
// the caller (and the ticker loop) stay responsive, then retries the sweep.
func (s *Syncer) scheduleResume(ctx context.Context, kind string, retryAfter time.Duration, sweep func(ctx context.Context) error) {
	log := s.opts.Logger.With().Str("sync", kind).Logger()
	go func() {
		timer := time.NewTimer(retryAfter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := sweep(ctx); err != nil {
			log.Warn().Err(err).Msg("resumed sweep failed")
		}
	}()
}

// Package instance assembles the typed Instance handle: the top-level
// orchestrator wiring Config Store, Event Buffer, Cache, Rate Limiter, Web
// API Client, Handler Pipeline, Diagnostics, and Connection Manager into
// one running bot process.
package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"

	"github.com/slackcore/runtime/internal/cache"
	"github.com/slackcore/runtime/internal/config"
	"github.com/slackcore/runtime/internal/configstore"
	"github.com/slackcore/runtime/internal/connection"
	"github.com/slackcore/runtime/internal/db"
	"github.com/slackcore/runtime/internal/diagnostics"
	"github.com/slackcore/runtime/internal/eventbuffer"
	"github.com/slackcore/runtime/internal/httpserver"
	"github.com/slackcore/runtime/internal/pipeline"
	"github.com/slackcore/runtime/internal/ratelimit"
	"github.com/slackcore/runtime/internal/webapi"
)

// Instance is the typed handle for one running bot process: a per-instance
// bundle of subsystem references, replacing the source framework's
// atom-name-derived child process registry.
type Instance struct {
	Name string

	ConfigStore *configstore.Store
	Buffer      eventbuffer.Adapter
	Provider    *cache.Provider
	Queue       *cache.MutationQueue
	Syncer      *cache.Syncer
	Limiter     *ratelimit.Limiter
	WebAPI      *webapi.Client
	Pipeline    *pipeline.Pipeline
	Diagnostics *diagnostics.Ring
	Connection  *connection.Manager
	HTTP        *httpserver.Server

	log zerolog.Logger
}

// New builds an Instance from a validated Config. It constructs every
// subsystem but does not start any background goroutines — call Run to
// start the connection manager and cache sync pagers.
func New(cfg config.Config, log zerolog.Logger) (*Instance, error) {
	store := configstore.New(cfg)

	buffer, err := buildEventBuffer(cfg)
	if err != nil {
		return nil, fmt.Errorf("instance: event buffer: %w", err)
	}

	diag := diagnostics.New(diagnostics.Opts{
		Enabled:    cfg.Diagnostics.Enabled,
		BufferSize: cfg.Diagnostics.BufferSize,
	})

	limiter := ratelimit.New(ratelimit.Opts{})

	slackClient := slackapi.New(cfg.BotToken, slackapi.OptionAppLevelToken(cfg.AppToken))
	api := webapi.New(webapi.Opts{SlackClient: slackClient, Limiter: limiter, Logger: log})

	provider := cache.NewProvider(nil)
	queue := cache.NewMutationQueue(provider, 256)

	var syncer *cache.Syncer
	if cfg.CacheSync.Enabled {
		botID := func() string {
			auth, err := slackClient.AuthTest()
			if err != nil {
				return ""
			}
			return auth.UserID
		}
		syncer = cache.NewSyncer(cache.SyncOpts{
			Queue:     queue,
			Users:     &cache.SlackUserFetcher{Client: api},
			Channels:  &cache.SlackChannelFetcher{Client: api, BotID: botID},
			Interval:    time.Duration(cfg.CacheSync.IntervalMS) * time.Millisecond,
			PageLimit:   cfg.CacheSync.PageLimit,
			UserTTL:     cfg.UserCache.TTL(),
			JanitorCron: cfg.CacheSync.JanitorCron,
			Logger:      log,
		})
	}

	pipe := pipeline.New(pipeline.Opts{Buffer: buffer, Diagnostics: diag, Logger: log})
	configureAutoAck(pipe, cfg, api)

	mgr := connection.New(connection.Opts{
		SlackClient: slackClient,
		Pipeline:    pipe,
		Logger:      log,
	})

	var httpSrv *httpserver.Server
	if cfg.HTTP.Enabled {
		httpSrv = httpserver.New(httpserver.Opts{
			Addr:        cfg.HTTP.Addr,
			Connection:  mgr,
			Diagnostics: diag,
			Limiter:     limiter,
			Provider:    provider,
			Logger:      log,
		})
	}

	return &Instance{
		Name:        cfg.InstanceName,
		ConfigStore: store,
		Buffer:      buffer,
		Provider:    provider,
		Queue:       queue,
		Syncer:      syncer,
		Limiter:     limiter,
		WebAPI:      api,
		Pipeline:    pipe,
		Diagnostics: diag,
		Connection:  mgr,
		HTTP:        httpSrv,
		log:         log.With().Str("instance", cfg.InstanceName).Logger(),
	}, nil
}

// Run starts the cache syncer (if enabled) and the introspection HTTP
// surface (if enabled), then blocks on the connection manager until ctx is
// cancelled. Handlers and middleware must already be registered on
// i.Pipeline before calling Run.
func (i *Instance) Run(ctx context.Context) error {
	if i.Syncer != nil {
		i.Syncer.Start(ctx)
	}
	if i.HTTP != nil {
		go func() {
			if err := i.HTTP.Start(ctx); err != nil {
				i.log.Warn().Err(err).Msg("introspection http server exited")
			}
		}()
	}
	return i.Connection.Run(ctx)
}

func buildEventBuffer(cfg config.Config) (eventbuffer.Adapter, error) {
	switch cfg.EventBuffer.Adapter {
	case "memory", "":
		return eventbuffer.NewMemory(eventbuffer.MemoryOpts{
			Namespace: cfg.InstanceName,
			TTL:       cfg.EventBuffer.TTL(),
		}), nil
	case "redis":
		return eventbuffer.NewRedis(eventbuffer.RedisOpts{
			Client:    newRedisClient(cfg),
			Namespace: cfg.InstanceName,
			TTL:       cfg.EventBuffer.TTL(),
		}), nil
	case "sql":
		gdb, err := db.Connect(cfg.EventBuffer.SQLDriver, cfg.EventBuffer.SQLDSN)
		if err != nil {
			return nil, fmt.Errorf("event buffer sql connect: %w", err)
		}
		return eventbuffer.NewSQL(eventbuffer.SQLOpts{
			DB:        gdb,
			Namespace: cfg.InstanceName,
			TTL:       cfg.EventBuffer.TTL(),
		})
	default:
		return nil, fmt.Errorf("unknown event buffer adapter %q", cfg.EventBuffer.Adapter)
	}
}

func configureAutoAck(pipe *pipeline.Pipeline, cfg config.Config, api *webapi.Client) {
	switch cfg.AckMode {
	case config.AckModeEphemeral:
		pipe.SetAckStrategy("slash_commands", pipeline.AckStrategy{
			Mode: pipeline.AckEphemeral,
			Body: "Processing...",
			Post: postEphemeralAck(api),
		})
	case config.AckModeSilent, "":
		pipe.SetAckStrategy("slash_commands", pipeline.AckStrategy{Mode: pipeline.AckSilent})
	}
}

// postEphemeralAck delivers the default ephemeral ack body via the slash
// command's response_url, matching the teacher's other_examples slash
// command handlers (MsgOptionResponseURL + ResponseTypeEphemeral).
func postEphemeralAck(api *webapi.Client) func(ctx context.Context, body any, env pipeline.Envelope) error {
	return func(ctx context.Context, body any, env pipeline.Envelope) error {
		cmd, ok := env.Payload.(slackapi.SlashCommand)
		if !ok {
			return fmt.Errorf("instance: ephemeral ack: unexpected payload type %T", env.Payload)
		}
		text, _ := body.(string)

		_, err := api.Push(ctx, webapi.Call{
			Method: "chat.postMessage",
			Key:    cmd.ChannelID,
			Fn: func(ctx context.Context, client *slackapi.Client) (any, error) {
				_, _, _, err := client.SendMessageContext(
					ctx, cmd.ChannelID,
					slackapi.MsgOptionResponseURL(cmd.ResponseURL, slackapi.ResponseTypeEphemeral),
					slackapi.MsgOptionText(text, false),
				)
				return nil, err
			},
		})
		return err
	}
}

// Package httpserver exposes the one HTTP surface the runtime carries: a
// read-only introspection API for operators (healthz/metrics/diagnostics).
// It never accepts writes and never fronts chat traffic — the bot's only
// inbound channel is the Socket Mode connection owned by internal/connection.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/slackcore/runtime/internal/cache"
	"github.com/slackcore/runtime/internal/connection"
	"github.com/slackcore/runtime/internal/diagnostics"
	"github.com/slackcore/runtime/internal/ratelimit"
)

const shutdownGrace = 5 * time.Second

// Opts configures the introspection server.
type Opts struct {
	Addr        string
	Connection  *connection.Manager
	Diagnostics *diagnostics.Ring
	Limiter     *ratelimit.Limiter
	Provider    *cache.Provider
	Logger      zerolog.Logger
}

// Server wraps the gin router and the *http.Server it drives.
type Server struct {
	opts Opts
	srv  *http.Server
}

// New builds a Server. Routes are registered but nothing is listening until
// Start is called.
func New(opts Opts) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8090"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{opts: opts}
	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", s.handleMetrics)
	router.GET("/diagnostics", s.handleDiagnostics)

	s.srv = &http.Server{Addr: opts.Addr, Handler: router}
	return s
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
// It blocks; call it from its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.opts.Logger.Info().Str("addr", s.opts.Addr).Msg("introspection http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpserver: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(c *gin.Context) {
	state := connection.StateDisconnected
	if s.opts.Connection != nil {
		state = s.opts.Connection.State()
	}
	status := http.StatusOK
	if state != connection.StateReady && state != connection.StateConnected {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"state": state,
		"ready": state == connection.StateReady,
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	var (
		diagLen        int
		keys           int
		suspendedKeys  int
		suspendedTiers int
		channels       int
		users          int
	)
	if s.opts.Diagnostics != nil {
		diagLen = s.opts.Diagnostics.Len()
	}
	if s.opts.Limiter != nil {
		st := s.opts.Limiter.Stats()
		keys, suspendedKeys, suspendedTiers = st.Keys, st.SuspendedKeys, st.SuspendedTiers
	}
	if s.opts.Provider != nil {
		channels = len(s.opts.Provider.Channels())
		users = len(s.opts.Provider.Users())
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK,
		"slackcore_diagnostics_entries %d\n"+
			"slackcore_ratelimit_keys %d\n"+
			"slackcore_ratelimit_suspended_keys %d\n"+
			"slackcore_ratelimit_suspended_tiers %d\n"+
			"slackcore_cache_channels %d\n"+
			"slackcore_cache_users %d\n",
		diagLen, keys, suspendedKeys, suspendedTiers, channels, users,
	)
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	if s.opts.Diagnostics == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []diagnostics.Entry{}})
		return
	}
	entries := s.opts.Diagnostics.List()
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit >= 0 && limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

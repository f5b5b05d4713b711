package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/voice"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/handlers"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/live/session"
	"github.com/vango-go/vai-interview/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-interview/pkg/gateway/metrics"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
)

// drainWarning is sent to every connected client when shutdown begins.
const drainWarning = "gateway is shutting down; reconnect to resume the interview"

// Archive stores and serves evaluations.
type Archive interface {
	session.Archiver
	handlers.EvaluationReader
}

// Deps are the long-lived collaborators shared by all connections. Nil
// optional fields disable the matching feature.
type Deps struct {
	Engine   *conversation.Engine
	Store    *store.Store
	Upstream session.StatusPusher
	Archive  Archive
	Voice    *voice.Capabilities
	Metrics  *metrics.Metrics
	// ReadyChecks are probed by /readyz, keyed by dependency name.
	ReadyChecks map[string]handlers.ReadyCheck
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Deps

	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Engine == nil {
		deps.Engine = conversation.New(conversation.Config{Logger: logger})
	}
	if deps.Store == nil {
		deps.Store = store.New(store.Config{Cache: store.NewMemoryCache(), TTL: cfg.SessionTTL, Logger: logger})
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		deps:         deps,
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /health", handlers.HealthHandler{})
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Lifecycle: s.lifecycle, Checks: s.deps.ReadyChecks})
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	var archiver session.Archiver
	var reader handlers.EvaluationReader
	if s.deps.Archive != nil {
		archiver = s.deps.Archive
		reader = s.deps.Archive
	}

	s.mux.Handle("GET /ws/interview/{sessionID}", handlers.InterviewHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Engine:    s.deps.Engine,
		Store:     s.deps.Store,
		Upstream:  s.deps.Upstream,
		Archive:   archiver,
		Voice:     s.deps.Voice,
		Metrics:   s.deps.Metrics,
		Lifecycle: s.lifecycle,
		Sessions:  s.liveSessions,
	})
	s.mux.Handle("GET /v1/interviews/{sessionID}/evaluation", handlers.EvaluationHandler{
		Archive: reader,
		Logger:  s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes /readyz fail and refuses new interview connections.
func (s *Server) SetDraining() {
	if s.lifecycle.BeginDrain(time.Now()) {
		s.logger.Info("draining interview gateway", "live_sessions", s.liveSessions.Count())
	}
}

// WarnLiveSessionsDraining tells connected candidates the gateway is going away.
func (s *Server) WarnLiveSessionsDraining() {
	s.liveSessions.WarnAll(drainWarning)
}

// WaitLiveSessions blocks until every connection has closed or ctx ends.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

// CancelLiveSessions force-closes every connection.
func (s *Server) CancelLiveSessions() {
	s.liveSessions.CancelAll()
}

// LiveSessionCount reports the number of connected interviews.
func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}

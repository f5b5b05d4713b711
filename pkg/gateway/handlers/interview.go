package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/core/voice"
	"github.com/vango-go/vai-interview/pkg/gateway/archive"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-interview/pkg/gateway/live/session"
	"github.com/vango-go/vai-interview/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-interview/pkg/gateway/metrics"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
)

const maxSessionIDLen = 128

// InterviewHandler serves GET /ws/interview/{sessionID}.
type InterviewHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Engine    *conversation.Engine
	Store     *store.Store
	Upstream  session.StatusPusher
	Archive   session.Archiver
	Voice     *voice.Capabilities
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h InterviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if !validSessionID(sessionID) {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("invalid session id", "sessionID"))
		return
	}
	if h.Lifecycle.IsDraining() {
		h.reject("draining")
		ce := core.NewOverloadedError("gateway is draining")
		ce.Code = "draining"
		writeError(w, r, ce)
		return
	}
	if !h.Config.OriginAllowed(r.Header.Get("Origin")) {
		h.reject("origin")
		ce := core.NewPermissionError("origin is not allowed")
		ce.Param = "Origin"
		writeError(w, r, ce)
		return
	}

	var mode types.Mode
	if raw := strings.TrimSpace(r.URL.Query().Get("mode")); raw != "" {
		parsed, ok := types.ParseMode(raw)
		if !ok {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("mode must be TEXT or VOICE", "mode"))
			return
		}
		mode = parsed
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	connID := uuid.NewString()

	// The tracker entry exists before the upgrade so a busy session is refused
	// with a plain HTTP status; the coordinator is attached once built.
	var coord atomic.Pointer[session.Coordinator]
	unregister, ok := h.Sessions.Register(sessionID, sessions.Handle{
		ConnID: connID,
		Cancel: func() {
			if c := coord.Load(); c != nil {
				c.Cancel()
			}
		},
		Warn: func(message string) error {
			if c := coord.Load(); c != nil {
				return c.SendError(message)
			}
			return nil
		},
	})
	if !ok {
		activeConn, _ := h.Sessions.Active(sessionID)
		logger.Info("refusing second interview connection", "session_id", sessionID, "active_conn_id", activeConn, "request_id", reqID)
		h.reject("session_busy")
		ce := core.NewConflictError("session already has an active connection")
		ce.Code = "session_busy"
		writeError(w, r, ce)
		return
	}
	defer unregister()

	upgrader := websocket.Upgrader{
		// Origin was checked above against the configured allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "session_id", sessionID, "request_id", reqID, "error", err)
		return
	}
	defer conn.Close()

	c, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    logger.With("request_id", reqID),
		Engine:    h.Engine,
		Store:     h.Store,
		Upstream:  h.Upstream,
		Archive:   h.Archive,
		Voice:     h.Voice,
		Metrics:   h.sessionMetrics(),
		SessionID: sessionID,
		ConnID:    connID,
		Mode:      mode,
		Config: session.Config{
			MaxMessageBytes:        h.Config.WSMaxMessageBytes,
			MaxAudioFPS:            h.Config.MaxAudioFPS,
			MaxAudioBytesPerSecond: h.Config.MaxAudioBytesPerSecond,
			InboundBurstSeconds:    h.Config.InboundBurstSeconds,
			SampleRate:             h.Config.SampleRate,
			SilenceCommit:          h.Config.SilenceCommit,
			MaxUtterance:           h.Config.MaxUtterance,
			AudioChunkBytes:        h.Config.AudioChunkBytes,
			PingInterval:           h.Config.WSPingInterval,
			WriteTimeout:           h.Config.WSWriteTimeout,
			ReadTimeout:            h.Config.WSReadTimeout,
			AutoEvaluate:           h.Config.AutoEvaluate,
			STTModel:               h.Config.STTModel,
			TTSModel:               h.Config.TTSModel,
			TTSVoice:               h.Config.TTSVoice,
		},
	})
	if err != nil {
		logger.Error("failed to initialize interview session", "session_id", sessionID, "request_id", reqID, "error", err)
		_ = conn.WriteJSON(protocol.NewErrorFrame("failed to initialize interview session"))
		return
	}
	coord.Store(c)

	if h.Metrics != nil {
		h.Metrics.SessionStarted()
	}
	start := time.Now()
	runErr := c.Run()
	if h.Metrics != nil {
		h.Metrics.SessionEnded(c.Mode(), time.Since(start))
	}
	if runErr != nil {
		logger.Warn("interview connection ended with error", "session_id", sessionID, "conn_id", connID, "request_id", reqID, "error", runErr)
	}
}

func (h InterviewHandler) sessionMetrics() session.Metrics {
	if h.Metrics == nil {
		return nil
	}
	return h.Metrics
}

func (h InterviewHandler) reject(reason string) {
	if h.Metrics != nil {
		h.Metrics.SessionRejected(reason)
	}
}

func validSessionID(id string) bool {
	if id == "" || len(id) > maxSessionIDLen {
		return false
	}
	return !strings.ContainsAny(id, "/ \t\r\n")
}

func isNotFound(err error) bool {
	return errors.Is(err, archive.ErrNotFound)
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/gateway/archive"
)

// EvaluationReader looks up archived evaluations.
type EvaluationReader interface {
	Latest(ctx context.Context, sessionID string) (archive.Record, error)
}

// EvaluationHandler serves GET /v1/interviews/{sessionID}/evaluation.
type EvaluationHandler struct {
	Archive EvaluationReader
	Logger  *slog.Logger
}

type evaluationResponse struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"sessionId"`
	CandidateID string           `json:"candidateId,omitempty"`
	TemplateID  string           `json:"templateId,omitempty"`
	Evaluation  types.Evaluation `json:"evaluation"`
	Transcript  []types.Turn     `json:"transcript"`
	CreatedAt   time.Time        `json:"createdAt"`
}

func (h EvaluationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	if !validSessionID(sessionID) {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("invalid session id", "sessionID"))
		return
	}
	if h.Archive == nil {
		ce := core.NewNotFoundError("evaluation archive is not configured")
		ce.Code = "archive_disabled"
		writeError(w, r, ce)
		return
	}

	rec, err := h.Archive.Latest(r.Context(), sessionID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, err)
			return
		}
		if h.Logger != nil {
			h.Logger.Error("evaluation lookup failed", "session_id", sessionID, "op", "archive_latest", "error", err)
		}
		ce := core.NewAPIError("evaluation lookup failed")
		ce.Code = "archive_unavailable"
		writeError(w, r, ce)
		return
	}

	transcript := rec.Transcript
	if transcript == nil {
		transcript = []types.Turn{}
	}
	writeJSON(w, http.StatusOK, evaluationResponse{
		ID:          rec.ID,
		SessionID:   rec.SessionID,
		CandidateID: rec.CandidateID,
		TemplateID:  rec.TemplateID,
		Evaluation:  rec.Evaluation,
		Transcript:  transcript,
		CreatedAt:   rec.CreatedAt,
	})
}

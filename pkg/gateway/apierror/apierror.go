package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/gateway/archive"
	"github.com/vango-go/vai-interview/pkg/gateway/upstream"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		ce := core.NewAPIError("request timeout")
		ce.RequestID = requestID
		return ce, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		ce := core.NewAPIError("request cancelled")
		ce.Code = "cancelled"
		ce.RequestID = requestID
		return ce, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	if errors.Is(err, archive.ErrNotFound) {
		return &core.Error{
			Type:      core.ErrNotFound,
			Message:   "no evaluation archived for this session",
			RequestID: requestID,
		}, http.StatusNotFound
	}

	// Backend status errors keep their status class but never their body.
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) && statusErr != nil {
		if statusErr.StatusCode == http.StatusNotFound {
			return &core.Error{
				Type:      core.ErrNotFound,
				Message:   "interview session not found",
				RequestID: requestID,
			}, http.StatusNotFound
		}
		ce := core.NewUpstreamError(statusErr.Op, err)
		ce.RequestID = requestID
		return ce, http.StatusBadGateway
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	ce := core.NewAPIError("internal error")
	ce.RequestID = requestID
	return ce, http.StatusInternalServerError
}

// Write serializes err as an Envelope with the mapped status.
func Write(w http.ResponseWriter, err error, requestID string) {
	coreErr, status := FromError(err, requestID)
	if coreErr == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: coreErr})
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return http.StatusServiceUnavailable
	case core.ErrUpstream:
		return http.StatusBadGateway
	case core.ErrAPI:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentmkt/marketplace/pkg/apperror"
)

// errorBody is the JSON error envelope returned by every handler, rich
// enough for a caller to branch on kind and (for sunset agents) pick
// up the suggested replacement without re-parsing a message string.
type errorBody struct {
	Kind    apperror.Kind `json:"kind"`
	Message string        `json:"message"`
	Field   string        `json:"field,omitempty"`
	AgentID string        `json:"agentId,omitempty"`
	Replace string        `json:"replacement,omitempty"`
	Limit   string        `json:"limit,omitempty"`
}

// mapAppError maps an apperror.Kind to spec.md §6/§7's HTTP status
// codes, generalizing the teacher's mapServiceError from the
// services.ValidationError/ErrNotFound/ErrNotCancellable/ErrAlreadyExists
// taxonomy to apperror's broader Kind set.
func mapAppError(err error) *echo.HTTPError {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		slog.Error("api: unmapped error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, errorBody{
			Kind: apperror.KindInternal, Message: "internal error",
		})
	}

	status := statusForKind(appErr.Kind)
	if status == http.StatusInternalServerError {
		slog.Error("api: internal error", "error", appErr)
	}

	return echo.NewHTTPError(status, errorBody{
		Kind:    appErr.Kind,
		Message: appErr.Message,
		Field:   appErr.Field,
		AgentID: appErr.AgentID,
		Replace: appErr.Replace,
		Limit:   appErr.Limit,
	})
}

// statusForKind implements spec.md §7's error taxonomy as HTTP status
// codes.
func statusForKind(kind apperror.Kind) int {
	switch kind {
	case apperror.KindInvalidInput:
		return http.StatusBadRequest
	case apperror.KindPermissionDenied:
		return http.StatusForbidden
	case apperror.KindAgentNotFound, apperror.KindJobNotFound:
		return http.StatusNotFound
	case apperror.KindAgentSunset, apperror.KindVersionIncompat:
		return http.StatusGone
	case apperror.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case apperror.KindTimeout:
		return http.StatusGatewayTimeout
	case apperror.KindUpstreamRetryable, apperror.KindAgentUnavailable:
		return http.StatusServiceUnavailable
	case apperror.KindUpstreamRejected, apperror.KindMaxRetriesExceeded:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/formbricks/buckets/internal/api/response"
	"github.com/formbricks/buckets/internal/huberrors"
)

// respondServiceError maps a service error to a problem+json response.
// notFoundDetail is shown for NotFoundError.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, notFoundDetail string) {
	var validationErr *huberrors.ValidationError

	switch {
	case errors.Is(err, huberrors.ErrNotFound):
		response.RespondNotFound(w, notFoundDetail)
	case errors.As(err, &validationErr):
		response.RespondBadRequest(w, validationErr.Error())
	case errors.Is(err, huberrors.ErrUnauthorized):
		response.RespondUnauthorized(w, err.Error())
	case errors.Is(err, huberrors.ErrUpstream):
		slog.WarnContext(r.Context(), "upstream provider failed", "path", r.URL.Path, "error", err)
		response.RespondBadGateway(w, "An upstream provider failed; try again later")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		w.WriteHeader(http.StatusRequestTimeout)
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		response.RespondInternalServerError(w, "An unexpected error occurred")
	}
}

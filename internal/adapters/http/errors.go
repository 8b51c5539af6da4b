package http

import (
	"errors"
	"net/http"

	"github.com/example/approvals/internal/core/request"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, request.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, request.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, request.ErrInvalidTransition), errors.Is(err, request.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, request.ErrUnknownState):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	resp := errorResponse{Error: err.Error()}
	var verr *request.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

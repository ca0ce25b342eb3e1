package httpadapter

import (
	"net/http"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrIndexNotLoaded):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage keeps raw error text out of responses.
func publicErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid request"
	case domain.IsKind(err, domain.ErrIndexNotLoaded):
		return "knowledge base is not loaded"
	case domain.IsKind(err, domain.ErrTemporary):
		return "service temporarily unavailable"
	default:
		return "internal error"
	}
}

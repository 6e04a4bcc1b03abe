package httpadapter

import (
	"net/http"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrSearchUnavailable), domain.IsKind(err, domain.ErrTransientBackend):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package httpadapter

import (
	"net/http"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrClassification):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrStoreUnavailable), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

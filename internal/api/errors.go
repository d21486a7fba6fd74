package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"vpn-subscription-backend/internal/auth"
	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/subscription"
	"vpn-subscription-backend/internal/vless"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor сопоставляет ошибки HTTP-статусам и публичным сообщениям.
// Ошибки конфигурации серверов отдаются так же, как недоступная подписка.
func statusFor(err error) (int, string) {
	var validation validator.ValidationErrors
	switch {
	case auth.IsAuthError(err):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, subscription.ErrSubscriptionUnavailable),
		errors.Is(err, subscription.ErrNoActiveServers),
		vless.IsConfigError(err):
		return http.StatusForbidden, "subscription unavailable"
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, validation.Error()
	case errors.Is(err, errInvalidRequest):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func abortWithError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

var errInvalidRequest = errors.New("invalid request")

package handler

import (
	"errors"
	"net/http"

	v1 "labspawn/api/v1"
	"labspawn/internal/middleware"
	"labspawn/internal/service"
	"labspawn/pkg/jwt"
	"labspawn/pkg/log"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	logger *log.Logger
}

func NewHandler(
	logger *log.Logger,
) *Handler {
	return &Handler{
		logger: logger,
	}
}

func GetCallerFromCtx(ctx *gin.Context) service.Caller {
	v, exists := ctx.Get(middleware.ClaimsKey)
	if !exists {
		return service.Caller{}
	}
	claims, _ := v.(*jwt.MyCustomClaims)
	return service.CallerFromClaims(claims)
}

// httpStatus 业务错误对应的 HTTP 状态码
func httpStatus(err error) int {
	switch {
	case errors.Is(err, v1.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, v1.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, v1.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, v1.ErrNotFound), errors.Is(err, v1.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, v1.ErrInstanceConflict), errors.Is(err, v1.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, v1.ErrQueueFull), errors.Is(err, v1.ErrSecretBackend):
		return http.StatusServiceUnavailable
	case errors.Is(err, v1.ErrSecretNotReady):
		return http.StatusAccepted
	}
	return http.StatusInternalServerError
}

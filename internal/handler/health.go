package handler

import (
	"context"
	"net/http"
	"time"

	v1 "labspawn/api/v1"
	"labspawn/internal/queue"
	"labspawn/pkg/cluster"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type HealthHandler struct {
	*Handler
	platform cluster.Platform
	queue    queue.Queue
}

func NewHealthHandler(handler *Handler, platform cluster.Platform, q queue.Queue) *HealthHandler {
	return &HealthHandler{
		Handler:  handler,
		platform: platform,
		queue:    q,
	}
}

// Healthz godoc
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} v1.Response
// @Router /healthz [get]
func (h *HealthHandler) Healthz(ctx *gin.Context) {
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := h.platform.Ping(c); err != nil {
		h.logger.WithContext(ctx).Warn("platform ping error", zap.Error(err))
		v1.HandleError(ctx, http.StatusServiceUnavailable, v1.ErrInternalServerError, map[string]string{"platform": err.Error()})
		return
	}
	if _, err := h.queue.Stats(c); err != nil {
		h.logger.WithContext(ctx).Warn("queue stats error", zap.Error(err))
		v1.HandleError(ctx, http.StatusServiceUnavailable, v1.ErrInternalServerError, map[string]string{"queue": err.Error()})
		return
	}
	v1.HandleSuccess(ctx, map[string]string{"status": "ok"})
}

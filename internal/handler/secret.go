package handler

import (
	"net/http"

	v1 "labspawn/api/v1"
	"labspawn/internal/service"

	"github.com/gin-gonic/gin"
)

type SecretHandler struct {
	*Handler
	secretBroker service.SecretBroker
}

func NewSecretHandler(handler *Handler, secretBroker service.SecretBroker) *SecretHandler {
	return &SecretHandler{
		Handler:      handler,
		secretBroker: secretBroker,
	}
}

// GetSecret godoc
// @Summary 获取实例 flag
// @Description 3004 表示 secret 尚未创建（继续轮询），3005 表示存储暂不可用
// @Tags 实例模块
// @Produce json
// @Security Bearer
// @Param secret_ref path string true "secret 名称"
// @Success 200 {object} v1.SecretResponse
// @Router /api/v1/secrets/{secret_ref} [get]
func (h *SecretHandler) GetSecret(ctx *gin.Context) {
	secretRef := ctx.Param("secret_ref")
	if secretRef == "" {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}
	data, err := h.secretBroker.GetForCaller(ctx, GetCallerFromCtx(ctx), secretRef)
	if err != nil {
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}
	v1.HandleSuccess(ctx, data)
}

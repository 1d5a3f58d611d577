package router

import (
	"labspawn/internal/middleware"

	"github.com/gin-gonic/gin"
)

func InitSecretRouter(
	deps RouterDeps,
	r *gin.RouterGroup,
) {
	strictAuthRouter := r.Group("/secrets").Use(middleware.StrictAuth(deps.JWT, deps.Logger))
	{
		strictAuthRouter.GET("/:secret_ref", deps.SecretHandler.GetSecret)
	}
}

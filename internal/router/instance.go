package router

import (
	"labspawn/internal/middleware"

	"github.com/gin-gonic/gin"
)

func InitInstanceRouter(
	deps RouterDeps,
	r *gin.RouterGroup,
) {
	strictAuthRouter := r.Group("/").Use(middleware.StrictAuth(deps.JWT, deps.Logger))
	{
		strictAuthRouter.POST("/instances", deps.InstanceHandler.Launch)
		strictAuthRouter.GET("/instances", deps.InstanceHandler.ListInstances)
		strictAuthRouter.GET("/instances/:id", deps.InstanceHandler.GetInstance)
		strictAuthRouter.DELETE("/instances/:id", deps.InstanceHandler.Terminate)
		strictAuthRouter.GET("/instances/:id/status", deps.InstanceHandler.PollStatus)
		strictAuthRouter.GET("/instances/:id/watch", deps.InstanceHandler.Watch)
		strictAuthRouter.GET("/tasks/status", deps.InstanceHandler.PollTask)
		strictAuthRouter.GET("/contents", deps.InstanceHandler.ListContents)
		strictAuthRouter.GET("/queue/stats", deps.InstanceHandler.QueueStats)
	}
}

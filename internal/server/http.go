package server

import (
	apiV1 "labspawn/api/v1"
	"labspawn/docs"
	"labspawn/internal/middleware"
	"labspawn/internal/router"
	"labspawn/pkg/server/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// NewRegistry 进程内唯一的指标注册表
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewHTTPServer(
	deps router.RouterDeps,
	registry *prometheus.Registry,
) *http.Server {
	if deps.Config.GetString("env") == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	// 请求日志由 RequestLogMiddleware 负责（已脱敏），不再挂 gin 自带的 Logger
	engine := gin.New()
	engine.Use(gin.Recovery())
	s := http.NewServer(
		engine,
		deps.Logger,
		http.WithServerHost(deps.Config.GetString("http.host")),
		http.WithServerPort(deps.Config.GetInt("http.port")),
	)

	// swagger doc
	docs.SwaggerInfo.BasePath = "/"
	s.GET("/swagger/*any", ginSwagger.WrapHandler(
		swaggerfiles.Handler,
		ginSwagger.DefaultModelsExpandDepth(-1),
		ginSwagger.PersistAuthorization(true),
	))
	s.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	s.GET("/healthz", deps.HealthHandler.Healthz)

	s.Use(
		middleware.CORSMiddleware(),
		middleware.ResponseLogMiddleware(deps.Logger),
		middleware.RequestLogMiddleware(deps.Logger),
	)
	s.GET("/", func(ctx *gin.Context) {
		deps.Logger.WithContext(ctx).Info("hello")
		apiV1.HandleSuccess(ctx, map[string]interface{}{
			":)": "labspawn is running",
		})
	})

	apiV1 := s.Group("/api/v1")
	router.InitInstanceRouter(deps, apiV1)
	router.InitSecretRouter(deps, apiV1)

	return s
}

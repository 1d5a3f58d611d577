//go:build wireinject
// +build wireinject

package wire

import (
	"labspawn/internal/handler"
	"labspawn/internal/job"
	"labspawn/internal/queue"
	"labspawn/internal/repository"
	"labspawn/internal/router"
	"labspawn/internal/server"
	"labspawn/internal/service"
	"labspawn/internal/worker"
	"labspawn/pkg/app"
	"labspawn/pkg/cluster"
	"labspawn/pkg/jwt"
	"labspawn/pkg/log"
	"labspawn/pkg/server/http"
	"labspawn/pkg/sid"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
)

var repositorySet = wire.NewSet(
	repository.NewDB,
	repository.NewRedis,
	repository.NewRepository,
	repository.NewTransaction,
	repository.NewUserRepository,
	repository.NewInstanceRepository,
	repository.NewContentRepository,
)

var orchestratorSet = wire.NewSet(
	queue.NewQueue,
	cluster.NewPlatform,
	worker.NewConfig,
	worker.NewMetrics,
	worker.NewPool,
	server.NewRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
)

var serviceSet = wire.NewSet(
	service.NewService,
	service.NewInstanceService,
	service.NewStatusService,
	service.NewSecretBroker,
)

var handlerSet = wire.NewSet(
	handler.NewHandler,
	handler.NewInstanceHandler,
	handler.NewSecretHandler,
	handler.NewHealthHandler,
)

var jobSet = wire.NewSet(
	job.NewJob,
	job.NewReconcileConfig,
	job.NewReconcileJob,
)
var serverSet = wire.NewSet(
	server.NewHTTPServer,
	server.NewWorkerServer,
	server.NewJobServer,
)

// build App
func newApp(
	httpServer *http.Server,
	workerServer *server.WorkerServer,
	jobServer *server.JobServer,
) *app.App {
	return app.NewApp(
		app.WithServer(httpServer, workerServer, jobServer),
		app.WithName("labspawn-server"),
	)
}

func NewWire(*viper.Viper, *log.Logger) (*app.App, func(), error) {
	panic(wire.Build(
		repositorySet,
		orchestratorSet,
		serviceSet,
		handlerSet,
		jobSet,
		serverSet,
		wire.Struct(new(router.RouterDeps), "*"),
		sid.NewSid,
		jwt.NewJwt,
		newApp,
	))
}

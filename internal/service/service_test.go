package service

import (
	"context"
	"testing"
	"time"

	"labspawn/internal/model"
	"labspawn/internal/queue"
	"labspawn/internal/repository"
	"labspawn/internal/repository/sqlitetest"
	"labspawn/internal/worker"
	"labspawn/pkg/cluster"
	"labspawn/pkg/log"
	"labspawn/pkg/sid"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	learner    = Caller{UserID: "u-learner"}
	otherUser  = Caller{UserID: "u-other"}
	instructor = Caller{UserID: "u-instructor", Privileged: true}
)

type fixture struct {
	db        *gorm.DB
	conf      *viper.Viper
	queue     *queue.MemoryQueue
	repo      repository.InstanceRepository
	users     repository.UserRepository
	contents  repository.ContentRepository
	platform  *cluster.MemoryPlatform
	pool      *worker.Pool
	instances InstanceService
	status    StatusService
	secrets   *secretBroker
}

func newFixture(t *testing.T, opts queue.Options) *fixture {
	t.Helper()
	logger := log.NewNop()

	conf := viper.New()
	conf.Set("orchestrator.priority.default", 10)
	conf.Set("orchestrator.priority.privileged", 1)
	conf.Set("orchestrator.priority.terminate", 0)

	db := sqlitetest.New(t)
	repo := repository.NewRepository(logger, db)
	instanceRepo := repository.NewInstanceRepository(repo)
	userRepo := repository.NewUserRepository(repo)
	contents, err := repository.NewStaticContentRepository([]*model.Content{
		{Ref: "web-101", Name: "Web 101", Image: "ghcr.io/labspawn/web-101", Port: 8080},
		{Ref: "pwn-201", Image: "ghcr.io/labspawn/pwn-201", Port: 9000, Apps: []model.ContentApp{{Name: "terminal", Image: "ghcr.io/labspawn/ttyd"}}},
	})
	require.NoError(t, err)

	q := queue.NewMemoryQueue(opts)
	platform := cluster.NewMemoryPlatform(nil, 0)
	pool := worker.NewPool(worker.Config{
		Workers:           1,
		Lease:             time.Second,
		ProvisionTimeout:  2 * time.Second,
		TerminateTimeout:  time.Second,
		ReadyPollInterval: 5 * time.Millisecond,
		RetryInitial:      5 * time.Millisecond,
	}, q, instanceRepo, contents, platform, worker.NewMetrics(prometheus.NewRegistry(), q), logger)

	svc := NewService(logger, sid.NewSid())
	return &fixture{
		db:        db,
		conf:      conf,
		queue:     q,
		repo:      instanceRepo,
		users:     userRepo,
		contents:  contents,
		platform:  platform,
		pool:      pool,
		instances: NewInstanceService(svc, conf, q, instanceRepo, contents, userRepo),
		status:    NewStatusService(svc, q, instanceRepo),
		secrets: newSecretBroker(svc, platform, instanceRepo, SecretBrokerOptions{
			NotFoundTTL: time.Minute,
			RetryWait:   time.Millisecond,
		}),
	}
}

// runNext 认领并执行下一个任务
func (f *fixture) runNext(t *testing.T) queue.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	return f.pool.Execute(context.Background(), task)
}

func (f *fixture) get(t *testing.T, instanceID string) *model.Instance {
	t.Helper()
	inst, err := f.repo.Get(context.Background(), instanceID)
	require.NoError(t, err)
	require.NotNil(t, inst)
	return inst
}

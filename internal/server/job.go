package server

import (
	"context"
	"time"

	"labspawn/internal/job"
	"labspawn/pkg/log"

	"github.com/go-co-op/gocron"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type JobServer struct {
	log       *log.Logger
	conf      *viper.Viper
	reconcile job.ReconcileJob
	scheduler *gocron.Scheduler
}

func NewJobServer(
	log *log.Logger,
	conf *viper.Viper,
	reconcile job.ReconcileJob,
) *JobServer {
	return &JobServer{
		log:       log,
		conf:      conf,
		reconcile: reconcile,
	}
}

func (j *JobServer) every(key string, def time.Duration) time.Duration {
	if d := j.conf.GetDuration(key); d > 0 {
		return d
	}
	return def
}

func (j *JobServer) Start(ctx context.Context) error {
	gocron.SetPanicHandler(func(jobName string, recoverData interface{}) {
		j.log.Error("job panic", zap.String("job", jobName), zap.Any("recover", recoverData))
	})
	j.scheduler = gocron.NewScheduler(time.UTC)
	j.scheduler.SingletonModeAll()

	lease := j.every("orchestrator.lease", 2*time.Minute)
	jobs := []struct {
		name  string
		every time.Duration
		fn    func(context.Context) error
	}{
		{"requeue-expired", lease / 2, j.reconcile.RequeueExpired},
		{"purge-results", j.every("orchestrator.result_grace", 10*time.Minute) / 2, j.reconcile.PurgeResults},
		{"reconcile-instances", j.every("orchestrator.reconcile.interval", 30*time.Second), j.reconcile.ReconcileInstances},
		{"sweep-secrets", j.every("orchestrator.reconcile.secret_sweep_interval", 5*time.Minute), j.reconcile.SweepSecrets},
	}
	for _, item := range jobs {
		item := item
		_, err := j.scheduler.Every(item.every).Name(item.name).Do(func() {
			if err := item.fn(ctx); err != nil {
				j.log.Error("job error", zap.String("job", item.name), zap.Error(err))
			}
		})
		if err != nil {
			j.log.Error("schedule job error", zap.String("job", item.name), zap.Error(err))
			return err
		}
	}
	j.log.Info("job server start", zap.Int("jobs", len(jobs)))
	j.scheduler.StartAsync()
	return nil
}

func (j *JobServer) Stop(ctx context.Context) error {
	if j.scheduler != nil {
		j.scheduler.Stop()
	}
	j.log.Info("job server stop")
	return nil
}

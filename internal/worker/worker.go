// Package worker 固定数量的 worker 从队列认领任务，驱动实例的创建和销毁
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labspawn/internal/model"
	"labspawn/internal/queue"
	"labspawn/internal/repository"
	"labspawn/pkg/cluster"
	"labspawn/pkg/log"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Workers           int
	Lease             time.Duration
	ProvisionTimeout  time.Duration
	TerminateTimeout  time.Duration
	ReadyPollInterval time.Duration
	// RetryInitial 外部调用失败后第一次重试的间隔
	RetryInitial time.Duration
	FlagPrefix   string
	SecretKey    string
}

func NewConfig(conf *viper.Viper) Config {
	return Config{
		Workers:           conf.GetInt("orchestrator.workers"),
		Lease:             conf.GetDuration("orchestrator.lease"),
		ProvisionTimeout:  conf.GetDuration("orchestrator.provision_timeout"),
		TerminateTimeout:  conf.GetDuration("orchestrator.terminate_timeout"),
		ReadyPollInterval: conf.GetDuration("orchestrator.ready_poll_interval"),
		RetryInitial:      conf.GetDuration("orchestrator.retry_initial"),
		FlagPrefix:        conf.GetString("orchestrator.secret.flag_prefix"),
		SecretKey:         conf.GetString("orchestrator.secret.key"),
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = 3 * time.Minute
	}
	if c.TerminateTimeout <= 0 {
		c.TerminateTimeout = time.Minute
	}
	if c.ReadyPollInterval <= 0 {
		c.ReadyPollInterval = time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
	if c.FlagPrefix == "" {
		c.FlagPrefix = "flag"
	}
	if c.SecretKey == "" {
		c.SecretKey = "FLAG"
	}
	return c
}

// SecretName 实例 flag 所在 secret 的名字
func SecretName(instanceID string) string {
	return "flag-" + instanceID
}

type Pool struct {
	conf         Config
	queue        queue.Queue
	instanceRepo repository.InstanceRepository
	contentRepo  repository.ContentRepository
	platform     cluster.Platform
	metrics      *Metrics
	logger       *log.Logger
}

func NewPool(
	conf Config,
	q queue.Queue,
	instanceRepo repository.InstanceRepository,
	contentRepo repository.ContentRepository,
	platform cluster.Platform,
	metrics *Metrics,
	logger *log.Logger,
) *Pool {
	return &Pool{
		conf:         conf.withDefaults(),
		queue:        q,
		instanceRepo: instanceRepo,
		contentRepo:  contentRepo,
		platform:     platform,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run 阻塞直到 ctx 结束。ctx 结束后不再认领新任务，执行中的任务跑完再返回
func (p *Pool) Run(ctx context.Context) error {
	g := errgroup.Group{}
	for i := 0; i < p.conf.Workers; i++ {
		id := i
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("worker", id))
	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue error", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.conf.RetryInitial):
			}
			continue
		}
		p.Execute(context.WithoutCancel(ctx), task)
	}
}

// Execute 执行一个已认领的任务并写回结果
func (p *Pool) Execute(ctx context.Context, task *queue.Task) queue.Result {
	ctx = p.logger.WithValue(ctx,
		zap.String("task_id", task.ID),
		zap.String("instance_id", task.InstanceID),
		zap.String("kind", string(task.Kind)),
		zap.Int("attempt", task.Attempt),
	)
	logger := p.logger.WithContext(ctx)
	logger.Info("task claimed")

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeat(hbCtx, task.ID)

	p.metrics.busy.Inc()
	start := time.Now()

	var (
		result queue.Result
		err    error
	)
	switch task.Kind {
	case queue.KindProvision:
		result, err = p.provision(ctx, task)
	case queue.KindTerminate:
		result, err = p.terminate(ctx, task)
	default:
		result = queue.Result{Error: fmt.Sprintf("unknown task kind %q", task.Kind)}
	}
	stopHeartbeat()
	p.metrics.busy.Dec()
	if err != nil {
		// 不写结果，租约过期后由 RequeueExpired 重新投递
		p.metrics.observe(task.Kind, "abandoned", time.Since(start))
		logger.Error("task abandoned", zap.Error(err))
		return queue.Result{}
	}
	result.FinishedAt = time.Now()
	p.metrics.observe(task.Kind, outcome(result), time.Since(start))

	err = p.retry(ctx, time.Minute, func() error {
		err := p.queue.Complete(ctx, task.ID, result)
		if errors.Is(err, queue.ErrAlreadyComplete) || errors.Is(err, queue.ErrTaskNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		logger.Warn("complete task error", zap.Error(err))
	}
	logger.Info("task finished", zap.Bool("success", result.Success), zap.String("error", result.Error))
	return result
}

func (p *Pool) heartbeat(ctx context.Context, taskID string) {
	ticker := time.NewTicker(p.conf.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(ctx, taskID); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.WithContext(ctx).Warn("heartbeat error", zap.Error(err))
				if errors.Is(err, queue.ErrLeaseLost) {
					return
				}
			}
		}
	}
}

// retry 指数退避重试 op，直到成功、遇到 backoff.Permanent 或超过 limit
func (p *Pool) retry(ctx context.Context, limit time.Duration, op func() error) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.conf.RetryInitial
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	var last error
	err := backoff.Retry(func() error {
		last = op()
		return last
	}, backoff.WithContext(b, ctx))
	if err != nil && ctx.Err() != nil && last != nil {
		// 超时的时候带上最后一次的真实错误
		return fmt.Errorf("%w (%v)", last, ctx.Err())
	}
	return err
}

func (p *Pool) getInstance(ctx context.Context, instanceID string) (*model.Instance, error) {
	var inst *model.Instance
	err := p.retry(ctx, 30*time.Second, func() error {
		var err error
		inst, err = p.instanceRepo.Get(ctx, instanceID)
		return err
	})
	return inst, err
}

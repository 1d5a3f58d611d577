package job

import (
	"context"
	"errors"
	"strconv"
	"time"

	"labspawn/internal/model"
	"labspawn/internal/queue"
	"labspawn/internal/repository"
	"labspawn/pkg/cluster"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReconcileJob 周期性修复队列与实例记录之间的偏差
//
// worker 崩溃时任务的租约会过期并重新投递；任务本身丢失（例如 redis 被清空）时，
// 由这里根据实例状态重新投递或标记失败，保证实例不会永远停在中间状态。
type ReconcileJob interface {
	RequeueExpired(ctx context.Context) error
	PurgeResults(ctx context.Context) error
	ReconcileInstances(ctx context.Context) error
	SweepSecrets(ctx context.Context) error
}

type ReconcileConfig struct {
	// StuckAfter 实例状态超过这个时间没有变化才会被检查
	StuckAfter time.Duration
	// SecretGrace 新建的 secret 在这段时间内不会被当作泄漏
	SecretGrace       time.Duration
	BatchSize         int
	DefaultPriority   int
	TerminatePriority int
}

func NewReconcileConfig(conf *viper.Viper) ReconcileConfig {
	c := ReconcileConfig{
		StuckAfter:        conf.GetDuration("orchestrator.reconcile.stuck_after"),
		SecretGrace:       conf.GetDuration("orchestrator.reconcile.secret_grace"),
		BatchSize:         conf.GetInt("orchestrator.reconcile.batch_size"),
		DefaultPriority:   conf.GetInt("orchestrator.priority.default"),
		TerminatePriority: conf.GetInt("orchestrator.priority.terminate"),
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 10 * time.Minute
	}
	if c.SecretGrace <= 0 {
		c.SecretGrace = c.StuckAfter
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

func NewReconcileJob(
	job *Job,
	conf ReconcileConfig,
	q queue.Queue,
	instanceRepo repository.InstanceRepository,
	platform cluster.Platform,
) ReconcileJob {
	return &reconcileJob{
		Job:          job,
		conf:         conf,
		queue:        q,
		instanceRepo: instanceRepo,
		platform:     platform,
		now:          time.Now,
	}
}

type reconcileJob struct {
	*Job
	conf         ReconcileConfig
	queue        queue.Queue
	instanceRepo repository.InstanceRepository
	platform     cluster.Platform
	now          func() time.Time
}

func (j *reconcileJob) RequeueExpired(ctx context.Context) error {
	n, err := j.queue.RequeueExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.WithContext(ctx).Warn("requeued tasks with expired lease", zap.Int("count", n))
	}
	return nil
}

func (j *reconcileJob) PurgeResults(ctx context.Context) error {
	n, err := j.queue.PurgeResults(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.WithContext(ctx).Debug("purged task results", zap.Int("count", n))
	}
	return nil
}

func (j *reconcileJob) ReconcileInstances(ctx context.Context) error {
	stale, err := j.instanceRepo.ListStale(ctx, []string{
		model.InstanceStateQueued,
		model.InstanceStateProvisioning,
		model.InstanceStateTerminating,
	}, j.now().Add(-j.conf.StuckAfter), j.conf.BatchSize)
	if err != nil {
		return err
	}

	var errs []error
	for _, inst := range stale {
		if err := j.reconcileOne(ctx, inst); err != nil {
			j.logger.WithContext(ctx).Error("reconcile instance error",
				zap.String("instance_id", inst.InstanceID),
				zap.String("state", inst.State),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// taskAlive 任务仍在排队或执行中
func (j *reconcileJob) taskAlive(ctx context.Context, taskID string) (bool, error) {
	if taskID == "" {
		return false, nil
	}
	view, err := j.queue.Peek(ctx, taskID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return view.State != queue.TaskDone, nil
}

func (j *reconcileJob) reconcileOne(ctx context.Context, inst *model.Instance) error {
	alive, err := j.taskAlive(ctx, inst.TaskID)
	if err != nil || alive {
		return err
	}
	logger := j.logger.WithContext(ctx).With(zap.String("instance_id", inst.InstanceID), zap.String("task_id", inst.TaskID))

	switch inst.State {
	case model.InstanceStateQueued:
		// 任务丢失，按原优先级和原任务 id 重新投递
		priority, ok := inst.Metadata.Int(model.MetaPriority)
		if !ok {
			priority = j.conf.DefaultPriority
		}
		taskID := inst.TaskID
		err := j.tm.Transaction(ctx, func(ctx context.Context) error {
			if taskID == "" {
				taskID = uuid.NewString()
				if err := j.instanceRepo.SetTask(ctx, inst.InstanceID, model.InstanceStateQueued, taskID); err != nil {
					return err
				}
			}
			return j.instanceRepo.UpdateMetadata(ctx, inst.InstanceID, model.InstanceStateQueued, redriven(inst))
		})
		if err != nil {
			return ignoreConflict(err)
		}
		_, err = j.queue.Enqueue(ctx, &queue.Task{
			ID:         taskID,
			InstanceID: inst.InstanceID,
			Kind:       queue.KindProvision,
			Priority:   priority,
		})
		if err != nil {
			return err
		}
		logger.Warn("re-enqueued lost provision task")
		return nil

	case model.InstanceStateProvisioning:
		// 超过时限仍未完成且没有任务在跑，直接判定失败
		secretGone := j.cleanup(ctx, inst)
		fields := repository.TransitionFields{Metadata: model.ErrorMetadata("provisioning stalled and was abandoned")}
		if secretGone {
			empty := ""
			fields.SecretRef = &empty
		}
		err := j.instanceRepo.Transition(ctx, inst.InstanceID, model.InstanceStateProvisioning, model.InstanceStateError, fields)
		if err != nil {
			return ignoreConflict(err)
		}
		logger.Warn("marked stalled instance as error")
		return nil

	case model.InstanceStateTerminating:
		taskID := uuid.NewString()
		// 新任务 id 和重投次数一起落库
		err := j.tm.Transaction(ctx, func(ctx context.Context) error {
			if err := j.instanceRepo.SetTask(ctx, inst.InstanceID, model.InstanceStateTerminating, taskID); err != nil {
				return err
			}
			return j.instanceRepo.UpdateMetadata(ctx, inst.InstanceID, model.InstanceStateTerminating, redriven(inst))
		})
		if err != nil {
			return ignoreConflict(err)
		}
		_, err = j.queue.Enqueue(ctx, &queue.Task{
			ID:         taskID,
			InstanceID: inst.InstanceID,
			Kind:       queue.KindTerminate,
			Priority:   j.conf.TerminatePriority,
		})
		if err != nil {
			return err
		}
		logger.Warn("re-enqueued terminate task", zap.String("new_task_id", taskID))
	}
	return nil
}

func redriven(inst *model.Instance) model.Metadata {
	n, _ := inst.Metadata.Int(model.MetaRedrive)
	return model.Metadata{model.MetaRedrive: strconv.Itoa(n + 1)}
}

// cleanup 返回 secret 是否已删除
func (j *reconcileJob) cleanup(ctx context.Context, inst *model.Instance) bool {
	logger := j.logger.WithContext(ctx)
	if err := j.platform.DeleteWorkload(ctx, inst.InstanceID); err != nil {
		logger.Warn("delete workload error", zap.String("instance_id", inst.InstanceID), zap.Error(err))
	}
	if inst.SecretRef == "" {
		return true
	}
	if err := j.platform.DeleteSecret(ctx, inst.SecretRef); err != nil {
		logger.Warn("delete secret error", zap.String("secret_ref", inst.SecretRef), zap.Error(err))
		return false
	}
	return true
}

// SweepSecrets 删除实例已结束或不存在的 secret，并清理 ERROR 实例上残留的 secret_ref
func (j *reconcileJob) SweepSecrets(ctx context.Context) error {
	logger := j.logger.WithContext(ctx)
	var errs []error

	failed, err := j.instanceRepo.ListWithSecret(ctx, []string{model.InstanceStateError, model.InstanceStateTerminated})
	if err != nil {
		return err
	}
	for _, inst := range failed {
		if !j.cleanup(ctx, inst) {
			continue
		}
		if err := j.instanceRepo.ClearSecretRef(ctx, inst.InstanceID, inst.State); err != nil && !errors.Is(err, repository.ErrStateConflict) {
			errs = append(errs, err)
			continue
		}
		logger.Info("cleared leftover secret", zap.String("instance_id", inst.InstanceID), zap.String("secret_ref", inst.SecretRef))
	}

	secrets, err := j.platform.ListSecrets(ctx)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	cutoff := j.now().Add(-j.conf.SecretGrace)
	for _, s := range secrets {
		if s.Labels[cluster.LabelManaged] != "true" || s.CreatedAt.After(cutoff) {
			continue
		}
		instanceID := s.Labels[cluster.LabelInstance]
		inst, err := j.instanceRepo.Get(ctx, instanceID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if inst != nil && !model.IsTerminalState(inst.State) && inst.SecretRef == s.Name {
			continue
		}
		if err := j.platform.DeleteSecret(ctx, s.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Warn("deleted leaked secret", zap.String("secret", s.Name), zap.String("instance_id", instanceID))
	}
	return errors.Join(errs...)
}

func ignoreConflict(err error) error {
	if errors.Is(err, repository.ErrStateConflict) {
		return nil
	}
	return err
}

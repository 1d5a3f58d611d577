package worker

import (
	"context"
	"errors"

	"labspawn/internal/model"
	"labspawn/internal/queue"
	"labspawn/internal/repository"

	"go.uber.org/zap"
)

// terminate 幂等：已经 TERMINATED 直接成功
func (p *Pool) terminate(ctx context.Context, task *queue.Task) (queue.Result, error) {
	logger := p.logger.WithContext(ctx)

	inst, err := p.getInstance(ctx, task.InstanceID)
	if err != nil {
		return queue.Result{}, err
	}
	if inst == nil {
		return queue.Result{Success: true}, nil
	}

	switch inst.State {
	case model.InstanceStateTerminated:
		return queue.Result{Success: true}, nil
	case model.InstanceStateError:
		// ERROR 是终态，只清理可能残留的资源
		if p.cleanup(ctx, inst.InstanceID, inst.SecretRef) && inst.SecretRef != "" {
			if err := p.instanceRepo.ClearSecretRef(ctx, inst.InstanceID, model.InstanceStateError); err != nil {
				logger.Warn("clear secret_ref error", zap.Error(err))
			}
		}
		return queue.Result{Success: true}, nil
	case model.InstanceStateTerminating:
	default:
		err := p.instanceRepo.Transition(ctx, inst.InstanceID, inst.State, model.InstanceStateTerminating, repository.TransitionFields{
			TaskID: &task.ID,
		})
		if errors.Is(err, repository.ErrStateConflict) {
			// 状态刚被改掉，重新读取后再来一次
			return p.terminateAgain(ctx, task)
		}
		if err != nil {
			return queue.Result{}, err
		}
	}

	// secret_ref 在认领创建任务时写入；为空说明实例从未离开 QUEUED，集群里什么都没有
	if inst.SecretRef == "" {
		return p.markTerminated(ctx, inst.InstanceID)
	}

	tctx, cancel := context.WithTimeout(ctx, p.conf.TerminateTimeout)
	defer cancel()

	if err := p.retryUntil(tctx, func() error { return p.platform.DeleteWorkload(tctx, inst.InstanceID) }); err != nil {
		// 保持 TERMINATING，由对账任务重新投递
		logger.Warn("delete workload error", zap.Error(err))
		return queue.Result{Error: "delete workload: " + err.Error()}, nil
	}

	secretRef := inst.SecretRef
	if err := p.retryUntil(tctx, func() error { return p.platform.DeleteSecret(tctx, secretRef) }); err != nil {
		// secret 泄漏由对账任务兜底，不阻塞实例进入 TERMINATED
		logger.Warn("delete secret error, left to reconciler", zap.String("secret_ref", secretRef), zap.Error(err))
	}

	return p.markTerminated(ctx, inst.InstanceID)
}

func (p *Pool) markTerminated(ctx context.Context, instanceID string) (queue.Result, error) {
	empty := ""
	err := p.instanceRepo.Transition(ctx, instanceID, model.InstanceStateTerminating, model.InstanceStateTerminated, repository.TransitionFields{
		SecretRef: &empty,
		Metadata:  model.Metadata{},
	})
	if err != nil && !errors.Is(err, repository.ErrStateConflict) {
		return queue.Result{}, err
	}
	p.logger.WithContext(ctx).Info("instance terminated")
	return queue.Result{Success: true}, nil
}

func (p *Pool) terminateAgain(ctx context.Context, task *queue.Task) (queue.Result, error) {
	inst, err := p.getInstance(ctx, task.InstanceID)
	if err != nil {
		return queue.Result{}, err
	}
	if inst != nil && (inst.State == model.InstanceStateTerminated || inst.State == model.InstanceStateError) {
		return queue.Result{Success: true}, nil
	}
	return p.terminate(ctx, task)
}

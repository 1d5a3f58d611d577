package worker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"labspawn/internal/model"
	"labspawn/internal/queue"
	"labspawn/internal/repository"
	"labspawn/pkg/cluster"

	"github.com/cenkalti/backoff/v4"
	"github.com/duke-git/lancet/v2/random"
	"go.uber.org/zap"
)

var errNotReady = errors.New("workload not ready")

// provision 返回 error 表示记录库不可用，任务不写结果，等租约过期后重新投递
func (p *Pool) provision(ctx context.Context, task *queue.Task) (queue.Result, error) {
	logger := p.logger.WithContext(ctx)

	inst, err := p.getInstance(ctx, task.InstanceID)
	if err != nil {
		return queue.Result{}, err
	}
	if inst == nil {
		return queue.Result{Error: "instance not found"}, nil
	}

	secretRef := SecretName(inst.InstanceID)
	switch inst.State {
	case model.InstanceStateQueued:
		err := p.instanceRepo.Transition(ctx, inst.InstanceID, model.InstanceStateQueued, model.InstanceStateProvisioning, repository.TransitionFields{
			SecretRef: &secretRef,
			Metadata:  model.Metadata{model.MetaAttempt: strconv.Itoa(task.Attempt + 1)},
		})
		if errors.Is(err, repository.ErrStateConflict) {
			// 被取消或被并发修改，按最新状态给出结果
			return p.settled(ctx, inst.InstanceID)
		}
		if err != nil {
			return queue.Result{}, err
		}
	case model.InstanceStateProvisioning:
		// 任务重投递，接着上次的进度继续
		logger.Info("resume provisioning")
		if inst.SecretRef != "" {
			secretRef = inst.SecretRef
		}
	default:
		return resultFromInstance(inst), nil
	}

	url, err := p.materialize(ctx, inst, secretRef)
	if err != nil {
		cause := err.Error()
		logger.Warn("provisioning failed", zap.String("cause", cause))
		p.fail(ctx, inst.InstanceID, secretRef, cause)
		return queue.Result{Error: cause}, nil
	}

	err = p.instanceRepo.Transition(ctx, inst.InstanceID, model.InstanceStateProvisioning, model.InstanceStateActive, repository.TransitionFields{
		ExternalURL: &url,
		SecretRef:   &secretRef,
		Metadata:    model.Metadata{},
	})
	if err != nil {
		// 期间有人发起了销毁，把自己刚创建的东西清理掉
		logger.Warn("activate instance error, cleaning up", zap.Error(err))
		p.cleanup(ctx, inst.InstanceID, secretRef)
		return p.settled(ctx, inst.InstanceID)
	}
	logger.Info("instance active", zap.String("url", url))
	return queue.Result{Success: true, URL: url}, nil
}

// materialize 创建 secret 和工作负载，并等待就绪
func (p *Pool) materialize(ctx context.Context, inst *model.Instance, secretRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.conf.ProvisionTimeout)
	defer cancel()

	content, err := p.contentRepo.Get(ctx, inst.ContentRef)
	if err != nil {
		return "", fmt.Errorf("load content %s: %w", inst.ContentRef, err)
	}
	if content == nil {
		return "", fmt.Errorf("content %s not found", inst.ContentRef)
	}

	if err := p.ensureSecret(ctx, inst, secretRef); err != nil {
		return "", err
	}

	spec := cluster.WorkloadSpec{
		InstanceID: inst.InstanceID,
		Image:      content.Image,
		Port:       content.Port,
		Env:        upperKeys(content.Env),
		Labels: map[string]string{
			"labspawn.owner":   inst.OwnerID,
			"labspawn.content": inst.ContentRef,
			"labspawn.group":   inst.GroupRef,
		},
		SecretRef: secretRef,
	}
	for _, app := range content.Apps {
		spec.Companions = append(spec.Companions, cluster.Companion{Name: app.Name, Image: app.Image, Env: upperKeys(app.Env)})
	}

	err = p.retryUntil(ctx, func() error {
		_, err := p.platform.CreateWorkload(ctx, spec)
		if errors.Is(err, cluster.ErrInvalidWorkload) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return "", p.timeoutCause(ctx, "create workload", err)
	}

	url, err := p.waitReady(ctx, inst.InstanceID)
	if err != nil {
		return "", p.timeoutCause(ctx, "wait for workload ready", err)
	}
	return url, nil
}

func (p *Pool) ensureSecret(ctx context.Context, inst *model.Instance, secretRef string) error {
	err := p.retryUntil(ctx, func() error {
		_, err := p.platform.GetSecret(ctx, secretRef)
		if err == nil {
			return nil
		}
		if !errors.Is(err, cluster.ErrNotFound) {
			return err
		}
		return p.platform.CreateSecret(ctx, secretRef,
			map[string]string{p.conf.SecretKey: p.newFlag()},
			map[string]string{
				cluster.LabelManaged:  "true",
				cluster.LabelInstance: inst.InstanceID,
			},
		)
	})
	if err != nil {
		return p.timeoutCause(ctx, "create secret", err)
	}
	return nil
}

func (p *Pool) newFlag() string {
	return fmt.Sprintf("%s{%s}", p.conf.FlagPrefix, hex.EncodeToString(random.RandBytes(16)))
}

// waitReady 轮询直到工作负载就绪；GetWorkload 的瞬时错误继续轮询
func (p *Pool) waitReady(ctx context.Context, instanceID string) (string, error) {
	ticker := time.NewTicker(p.conf.ReadyPollInterval)
	defer ticker.Stop()
	var last error
	for {
		w, err := p.platform.GetWorkload(ctx, instanceID)
		switch {
		case err == nil && w.Ready && w.URL != "":
			return w.URL, nil
		case err == nil:
			last = errNotReady
		default:
			last = err
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w (%v)", last, ctx.Err())
		case <-ticker.C:
		}
	}
}

// retryUntil 重试直到 ctx 截止
func (p *Pool) retryUntil(ctx context.Context, op func() error) error {
	deadline, ok := ctx.Deadline()
	limit := p.conf.ProvisionTimeout
	if ok {
		limit = time.Until(deadline)
	}
	return p.retry(ctx, limit, op)
}

func (p *Pool) timeoutCause(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: timed out after %s: %v", step, p.conf.ProvisionTimeout, err)
	}
	return fmt.Errorf("%s: %v", step, err)
}

// fail 清理已创建的资源并把实例置为 ERROR
func (p *Pool) fail(ctx context.Context, instanceID, secretRef, cause string) {
	logger := p.logger.WithContext(ctx)
	secretGone := p.cleanup(ctx, instanceID, secretRef)

	fields := repository.TransitionFields{Metadata: model.ErrorMetadata(cause)}
	if secretGone {
		empty := ""
		fields.SecretRef = &empty
	}
	err := p.instanceRepo.Transition(ctx, instanceID, model.InstanceStateProvisioning, model.InstanceStateError, fields)
	if err != nil {
		logger.Warn("mark instance error failed", zap.Error(err))
	}
}

// cleanup 尽力删除工作负载和 secret，返回 secret 是否已删除
func (p *Pool) cleanup(ctx context.Context, instanceID, secretRef string) bool {
	logger := p.logger.WithContext(ctx)
	cctx, cancel := context.WithTimeout(ctx, p.conf.TerminateTimeout)
	defer cancel()

	if err := p.retryUntil(cctx, func() error { return p.platform.DeleteWorkload(cctx, instanceID) }); err != nil {
		logger.Warn("cleanup workload error", zap.Error(err))
	}
	if secretRef == "" {
		return true
	}
	if err := p.retryUntil(cctx, func() error { return p.platform.DeleteSecret(cctx, secretRef) }); err != nil {
		logger.Warn("cleanup secret error, left to reconciler", zap.String("secret_ref", secretRef), zap.Error(err))
		return false
	}
	return true
}

// settled CAS 失败后重新读取实例并给出对应结果
func (p *Pool) settled(ctx context.Context, instanceID string) (queue.Result, error) {
	inst, err := p.getInstance(ctx, instanceID)
	if err != nil {
		return queue.Result{}, err
	}
	if inst == nil {
		return queue.Result{Error: "instance not found"}, nil
	}
	return resultFromInstance(inst), nil
}

func resultFromInstance(inst *model.Instance) queue.Result {
	switch inst.State {
	case model.InstanceStateActive:
		return queue.Result{Success: true, URL: inst.ExternalURL}
	case model.InstanceStateError:
		cause := inst.Metadata[model.MetaError]
		if cause == "" {
			cause = "provisioning failed"
		}
		return queue.Result{Error: cause}
	default:
		return queue.Result{Error: "instance is " + strings.ToLower(inst.State)}
	}
}

func upperKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

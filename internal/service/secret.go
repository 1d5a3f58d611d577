package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	v1 "labspawn/api/v1"
	"labspawn/internal/repository"
	"labspawn/pkg/cluster"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// ErrSecretNotFound secret 还没创建（仍在 provisioning）或已经随实例销毁
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretBackend secret 存储暂时不可用
	ErrSecretBackend = errors.New("secret backend unavailable")
)

// SecretBroker 每次都直接读取集群 secret，只短暂缓存 not-found 结果
type SecretBroker interface {
	Get(ctx context.Context, secretRef string) (string, error)
	// GetForCaller 校验 secret 所属实例的归属后再读取
	GetForCaller(ctx context.Context, caller Caller, secretRef string) (*v1.SecretData, error)
}

type SecretBrokerOptions struct {
	Key         string
	NotFoundTTL time.Duration
	Retries     uint64
	RetryWait   time.Duration
}

func NewSecretBroker(
	service *Service,
	conf *viper.Viper,
	platform cluster.Platform,
	instanceRepo repository.InstanceRepository,
) SecretBroker {
	ttl := 2 * time.Second
	if conf.IsSet("orchestrator.secret.not_found_ttl") {
		ttl = conf.GetDuration("orchestrator.secret.not_found_ttl")
	}
	return newSecretBroker(service, platform, instanceRepo, SecretBrokerOptions{
		Key:         conf.GetString("orchestrator.secret.key"),
		NotFoundTTL: ttl,
		Retries:     uint64(conf.GetInt("orchestrator.secret.retries")),
		RetryWait:   conf.GetDuration("orchestrator.secret.retry_wait"),
	})
}

func newSecretBroker(service *Service, platform cluster.Platform, instanceRepo repository.InstanceRepository, opts SecretBrokerOptions) *secretBroker {
	if opts.Key == "" {
		opts.Key = "FLAG"
	}
	if opts.NotFoundTTL < 0 {
		opts.NotFoundTTL = 0
	}
	if opts.Retries == 0 {
		opts.Retries = 2
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 100 * time.Millisecond
	}
	return &secretBroker{
		Service:      service,
		platform:     platform,
		instanceRepo: instanceRepo,
		opts:         opts,
		missing:      make(map[string]time.Time),
		now:          time.Now,
	}
}

type secretBroker struct {
	*Service
	platform     cluster.Platform
	instanceRepo repository.InstanceRepository
	opts         SecretBrokerOptions

	mu      sync.Mutex
	missing map[string]time.Time // secretRef -> not-found 缓存过期时间
	now     func() time.Time
}

func (b *secretBroker) Get(ctx context.Context, secretRef string) (string, error) {
	if secretRef == "" || b.cachedMissing(secretRef) {
		return "", ErrSecretNotFound
	}

	var data map[string]string
	op := func() error {
		var err error
		data, err = b.platform.GetSecret(ctx, secretRef)
		if errors.Is(err, cluster.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(b.opts.RetryWait), b.opts.Retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, cluster.ErrNotFound) {
			b.rememberMissing(secretRef)
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrSecretBackend, err)
	}
	b.forget(secretRef)

	if v, ok := data[b.opts.Key]; ok {
		return v, nil
	}
	// 只有一个键时不要求键名匹配
	if len(data) == 1 {
		for _, v := range data {
			return v, nil
		}
	}
	return "", ErrSecretNotFound
}

func (b *secretBroker) GetForCaller(ctx context.Context, caller Caller, secretRef string) (*v1.SecretData, error) {
	logger := b.logger.WithContext(ctx)

	inst, err := b.instanceRepo.GetBySecretRef(ctx, secretRef)
	if err != nil {
		logger.Error("instanceRepo.GetBySecretRef error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	// secret_ref 已清空说明实例已销毁
	if inst == nil {
		return nil, v1.ErrNotFound
	}
	if !caller.CanAccess(inst.OwnerID) {
		return nil, v1.ErrForbidden
	}

	value, err := b.Get(ctx, secretRef)
	switch {
	case errors.Is(err, ErrSecretNotFound):
		return nil, v1.ErrSecretNotReady
	case errors.Is(err, ErrSecretBackend):
		logger.Warn("secret backend unavailable", zap.String("secret_ref", secretRef), zap.Error(err))
		return nil, v1.ErrSecretBackend
	case err != nil:
		logger.Error("secretBroker.Get error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	return &v1.SecretData{SecretRef: secretRef, Value: value}, nil
}

func (b *secretBroker) cachedMissing(secretRef string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.missing[secretRef]
	if !ok {
		return false
	}
	if b.now().Before(until) {
		return true
	}
	delete(b.missing, secretRef)
	return false
}

func (b *secretBroker) rememberMissing(secretRef string) {
	if b.opts.NotFoundTTL == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	// 顺手清理过期条目，避免 map 无限增长
	for ref, until := range b.missing {
		if !now.Before(until) {
			delete(b.missing, ref)
		}
	}
	b.missing[secretRef] = now.Add(b.opts.NotFoundTTL)
}

func (b *secretBroker) forget(secretRef string) {
	b.mu.Lock()
	delete(b.missing, secretRef)
	b.mu.Unlock()
}

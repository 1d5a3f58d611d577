// Package cluster 封装运行题目环境的集群平台：工作负载 + 存放 flag 的 secret
package cluster

//go:generate mockgen -destination=mocks/mock_platform.go -package=mocks labspawn/pkg/cluster Platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labspawn/pkg/log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// ErrNotFound 工作负载或 secret 不存在，调用方据此区分“还没好”和后端故障
var ErrNotFound = errors.New("cluster: resource not found")

// ErrInvalidWorkload 规格本身有问题（镜像不存在、参数非法），重试没有意义
var ErrInvalidWorkload = errors.New("cluster: invalid workload")

const (
	LabelManaged  = "labspawn.managed"
	LabelInstance = "labspawn.instance"
	LabelPort     = "labspawn.port"
	LabelRole     = "labspawn.role"
)

type Companion struct {
	Name  string
	Image string
	Env   map[string]string
}

type WorkloadSpec struct {
	InstanceID string
	Image      string
	Port       int
	Env        map[string]string
	Labels     map[string]string
	// SecretRef 指向的 secret 以环境变量的形式注入主容器
	SecretRef  string
	Companions []Companion
}

type Workload struct {
	InstanceID string
	ID         string
	Ready      bool
	URL        string
}

type SecretInfo struct {
	Name      string
	Labels    map[string]string
	CreatedAt time.Time
}

type Platform interface {
	CreateWorkload(ctx context.Context, spec WorkloadSpec) (*Workload, error)
	GetWorkload(ctx context.Context, instanceID string) (*Workload, error)
	// DeleteWorkload 幂等，不存在时返回 nil
	DeleteWorkload(ctx context.Context, instanceID string) error
	CreateSecret(ctx context.Context, name string, data map[string]string, labels map[string]string) error
	GetSecret(ctx context.Context, name string) (map[string]string, error)
	DeleteSecret(ctx context.Context, name string) error
	ListSecrets(ctx context.Context) ([]SecretInfo, error)
	Ping(ctx context.Context) error
}

// NewPlatform 按 cluster.driver 选择实现，secret 存储按 cluster.secret_store 选择
func NewPlatform(conf *viper.Viper, logger *log.Logger, rdb *redis.Client) (Platform, error) {
	var secrets SecretStore
	switch conf.GetString("cluster.secret_store") {
	case "redis":
		if rdb == nil {
			return nil, errors.New("cluster.secret_store=redis requires data.redis.addr")
		}
		secrets = NewRedisSecretStore(rdb, conf.GetString("cluster.secret_prefix"))
	case "", "memory":
		secrets = NewMemorySecretStore()
	default:
		return nil, fmt.Errorf("unknown secret store %q", conf.GetString("cluster.secret_store"))
	}

	switch conf.GetString("cluster.driver") {
	case "docker":
		return NewDockerPlatform(context.Background(), DockerConfig{
			PublicHost: conf.GetString("cluster.docker.public_host"),
			Scheme:     conf.GetString("cluster.docker.scheme"),
			Network:    conf.GetString("cluster.docker.network"),
			PullImages: conf.GetBool("cluster.docker.pull_images"),
			MemoryMB:   conf.GetInt64("cluster.docker.memory_mb"),
			NanoCPUs:   conf.GetInt64("cluster.docker.nano_cpus"),
		}, secrets, logger)
	case "", "memory":
		p := NewMemoryPlatform(secrets, conf.GetDuration("cluster.memory.ready_delay"))
		if host := conf.GetString("cluster.memory.public_host"); host != "" {
			p.publicHost = host
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown cluster driver %q", conf.GetString("cluster.driver"))
	}
}

func instanceLabels(spec WorkloadSpec, role string) map[string]string {
	labels := map[string]string{
		LabelManaged:  "true",
		LabelInstance: spec.InstanceID,
		LabelRole:     role,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	if role == "main" && spec.Port > 0 {
		labels[LabelPort] = fmt.Sprintf("%d", spec.Port)
	}
	return labels
}

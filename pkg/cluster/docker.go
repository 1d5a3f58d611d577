package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"labspawn/pkg/log"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

type DockerConfig struct {
	// PublicHost 学员访问题目时使用的主机名
	PublicHost string
	Scheme     string
	// Network 主容器和伴随容器加入的网络，为空时使用默认 bridge
	Network    string
	PullImages bool
	MemoryMB   int64
	NanoCPUs   int64
}

// DockerPlatform 每个实例一个主容器（容器名即 instance id），端口映射到宿主机随机端口
type DockerPlatform struct {
	client  *dockerclient.Client
	conf    DockerConfig
	secrets SecretStore
	logger  *log.Logger
}

var _ Platform = (*DockerPlatform)(nil)

func NewDockerPlatform(ctx context.Context, conf DockerConfig, secrets SecretStore, logger *log.Logger) (*DockerPlatform, error) {
	if conf.Scheme == "" {
		conf.Scheme = "http"
	}
	if conf.PublicHost == "" {
		conf.PublicHost = "127.0.0.1"
	}
	client, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	p := &DockerPlatform{client: client, conf: conf, secrets: secrets, logger: logger}
	if err := p.Ping(ctx); err != nil {
		logger.Warn("docker daemon not reachable yet", zap.Error(err))
	}
	return p, nil
}

func (p *DockerPlatform) pull(ctx context.Context, ref string) error {
	if !p.conf.PullImages {
		return nil
	}
	rc, err := p.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classify(fmt.Sprintf("image pull %s", ref), err)
	}
	defer rc.Close()
	// 读完才算拉取完成
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("reading image pull response: %w", err)
	}
	return nil
}

// classify 镜像不存在或参数非法时包装成 ErrInvalidWorkload
func classify(op string, err error) error {
	if cerrdefs.IsNotFound(err) || cerrdefs.IsInvalidArgument(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidWorkload, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func envList(maps ...map[string]string) []string {
	var env []string
	for _, m := range maps {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+m[k])
		}
	}
	return env
}

func (p *DockerPlatform) networking() *network.NetworkingConfig {
	if p.conf.Network == "" {
		return nil
	}
	return &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{p.conf.Network: {}},
	}
}

func (p *DockerPlatform) resources() container.Resources {
	return container.Resources{
		Memory:   p.conf.MemoryMB * 1024 * 1024,
		NanoCPUs: p.conf.NanoCPUs,
	}
}

// startContainer 创建并启动，同名容器已存在时直接复用
func (p *DockerPlatform) startContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	resp, err := p.client.ContainerCreate(ctx, cfg, hostCfg, p.networking(), nil, name)
	id := resp.ID
	if err != nil {
		if !cerrdefs.IsConflict(err) {
			return "", classify("container create "+name, err)
		}
		info, ierr := p.client.ContainerInspect(ctx, name)
		if ierr != nil {
			return "", fmt.Errorf("container inspect %s: %w", name, ierr)
		}
		id = info.ID
	}
	if err := p.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		_ = p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start %s: %w", name, err)
	}
	return id, nil
}

func (p *DockerPlatform) CreateWorkload(ctx context.Context, spec WorkloadSpec) (*Workload, error) {
	var secretEnv map[string]string
	if spec.SecretRef != "" {
		data, err := p.secrets.Get(ctx, spec.SecretRef)
		if err != nil {
			return nil, fmt.Errorf("load secret %s: %w", spec.SecretRef, err)
		}
		secretEnv = data
	}

	for _, c := range spec.Companions {
		if err := p.pull(ctx, c.Image); err != nil {
			return nil, err
		}
		name := spec.InstanceID + "-" + c.Name
		_, err := p.startContainer(ctx, name, &container.Config{
			Image:    c.Image,
			Env:      envList(c.Env),
			Labels:   instanceLabels(spec, "companion"),
			Hostname: c.Name,
		}, &container.HostConfig{Resources: p.resources()})
		if err != nil {
			return nil, err
		}
	}

	if err := p.pull(ctx, spec.Image); err != nil {
		return nil, err
	}
	port := nat.Port(fmt.Sprintf("%d/tcp", spec.Port))
	id, err := p.startContainer(ctx, spec.InstanceID, &container.Config{
		Image:        spec.Image,
		Env:          envList(spec.Env, secretEnv),
		Labels:       instanceLabels(spec, "main"),
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}, &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}},
		},
		Resources: p.resources(),
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("workload started",
		zap.String("instance_id", spec.InstanceID),
		zap.String("container_id", id),
		zap.Int("companions", len(spec.Companions)),
	)
	return &Workload{InstanceID: spec.InstanceID, ID: id}, nil
}

func (p *DockerPlatform) GetWorkload(ctx context.Context, instanceID string) (*Workload, error) {
	info, err := p.client.ContainerInspect(ctx, instanceID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("container inspect %s: %w", instanceID, err)
	}
	w := &Workload{InstanceID: instanceID, ID: info.ID}
	if info.State == nil || !info.State.Running {
		return w, nil
	}
	if info.State.Health != nil && info.State.Health.Status != container.Healthy {
		return w, nil
	}
	if info.Config == nil || info.NetworkSettings == nil {
		return w, nil
	}
	portLabel, err := strconv.Atoi(info.Config.Labels[LabelPort])
	if err != nil {
		return nil, fmt.Errorf("container %s: bad port label: %w", instanceID, err)
	}
	bindings := info.NetworkSettings.Ports[nat.Port(fmt.Sprintf("%d/tcp", portLabel))]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return w, nil
	}
	w.Ready = true
	w.URL = fmt.Sprintf("%s://%s:%s", p.conf.Scheme, p.conf.PublicHost, bindings[0].HostPort)
	return w, nil
}

// DeleteWorkload 按实例标签删除主容器和伴随容器
func (p *DockerPlatform) DeleteWorkload(ctx context.Context, instanceID string) error {
	list, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelInstance+"="+instanceID)),
	})
	if err != nil {
		return fmt.Errorf("container list %s: %w", instanceID, err)
	}
	var errs []error
	for _, c := range list {
		err := p.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !cerrdefs.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("container remove %s: %w", c.ID, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(list) > 0 {
		p.logger.Info("workload removed", zap.String("instance_id", instanceID), zap.Int("containers", len(list)))
	}
	return nil
}

func (p *DockerPlatform) CreateSecret(ctx context.Context, name string, data map[string]string, labels map[string]string) error {
	return p.secrets.Put(ctx, name, data, labels)
}

func (p *DockerPlatform) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	return p.secrets.Get(ctx, name)
}

func (p *DockerPlatform) DeleteSecret(ctx context.Context, name string) error {
	return p.secrets.Delete(ctx, name)
}

func (p *DockerPlatform) ListSecrets(ctx context.Context) ([]SecretInfo, error) {
	return p.secrets.List(ctx)
}

func (p *DockerPlatform) Ping(ctx context.Context) error {
	_, err := p.client.Ping(ctx)
	return err
}

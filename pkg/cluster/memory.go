package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryWorkload struct {
	spec      WorkloadSpec
	createdAt time.Time
	port      int
}

// MemoryPlatform 进程内的平台实现，本地开发和测试使用
// 工作负载在创建 readyDelay 之后变为就绪
type MemoryPlatform struct {
	mu         sync.Mutex
	secrets    SecretStore
	workloads  map[string]*memoryWorkload
	readyDelay time.Duration
	publicHost string
	nextPort   int

	createErr error
	deleteErr error
	neverReady bool
	calls      map[string]int
}

var _ Platform = (*MemoryPlatform)(nil)

func NewMemoryPlatform(secrets SecretStore, readyDelay time.Duration) *MemoryPlatform {
	if secrets == nil {
		secrets = NewMemorySecretStore()
	}
	return &MemoryPlatform{
		secrets:    secrets,
		workloads:  make(map[string]*memoryWorkload),
		readyDelay: readyDelay,
		publicHost: "127.0.0.1",
		nextPort:   32768,
		calls:      make(map[string]int),
	}
}

// SetCreateError 之后的 CreateWorkload 都返回 err，nil 恢复
func (p *MemoryPlatform) SetCreateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

func (p *MemoryPlatform) SetDeleteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteErr = err
}

func (p *MemoryPlatform) SetNeverReady(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.neverReady = v
}

// Calls 某个操作被调用的次数
func (p *MemoryPlatform) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *MemoryPlatform) WorkloadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workloads)
}

func (p *MemoryPlatform) record(op string) {
	p.mu.Lock()
	p.calls[op]++
	p.mu.Unlock()
}

func (p *MemoryPlatform) CreateWorkload(_ context.Context, spec WorkloadSpec) (*Workload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["CreateWorkload"]++
	if p.createErr != nil {
		return nil, p.createErr
	}
	if w, ok := p.workloads[spec.InstanceID]; ok {
		// 重投递的任务再次创建，沿用已有的
		return &Workload{InstanceID: spec.InstanceID, ID: "mem-" + w.spec.InstanceID}, nil
	}
	w := &memoryWorkload{spec: spec, createdAt: time.Now(), port: p.nextPort}
	p.nextPort++
	p.workloads[spec.InstanceID] = w
	return &Workload{InstanceID: spec.InstanceID, ID: "mem-" + spec.InstanceID}, nil
}

func (p *MemoryPlatform) GetWorkload(_ context.Context, instanceID string) (*Workload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["GetWorkload"]++
	w, ok := p.workloads[instanceID]
	if !ok {
		return nil, ErrNotFound
	}
	out := &Workload{InstanceID: instanceID, ID: "mem-" + instanceID}
	if !p.neverReady && time.Since(w.createdAt) >= p.readyDelay {
		out.Ready = true
		out.URL = fmt.Sprintf("http://%s:%d", p.publicHost, w.port)
	}
	return out, nil
}

func (p *MemoryPlatform) DeleteWorkload(_ context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["DeleteWorkload"]++
	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.workloads, instanceID)
	return nil
}

func (p *MemoryPlatform) CreateSecret(ctx context.Context, name string, data map[string]string, labels map[string]string) error {
	p.record("CreateSecret")
	return p.secrets.Put(ctx, name, data, labels)
}

func (p *MemoryPlatform) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	p.record("GetSecret")
	return p.secrets.Get(ctx, name)
}

func (p *MemoryPlatform) DeleteSecret(ctx context.Context, name string) error {
	p.record("DeleteSecret")
	return p.secrets.Delete(ctx, name)
}

func (p *MemoryPlatform) ListSecrets(ctx context.Context) ([]SecretInfo, error) {
	p.record("ListSecrets")
	return p.secrets.List(ctx)
}

func (p *MemoryPlatform) Ping(_ context.Context) error {
	return nil
}

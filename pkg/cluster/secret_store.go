package cluster

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SecretStore secret 的实际存放位置
type SecretStore interface {
	Put(ctx context.Context, name string, data map[string]string, labels map[string]string) error
	Get(ctx context.Context, name string) (map[string]string, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]SecretInfo, error)
}

type memorySecret struct {
	data      map[string]string
	labels    map[string]string
	createdAt time.Time
}

type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]memorySecret
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]memorySecret)}
}

func (s *MemorySecretStore) Put(_ context.Context, name string, data map[string]string, labels map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = memorySecret{data: copyMap(data), labels: copyMap(labels), createdAt: time.Now()}
	return nil
}

func (s *MemorySecretStore) Get(_ context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.secrets[name]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMap(sec.data), nil
}

func (s *MemorySecretStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
	return nil
}

func (s *MemorySecretStore) List(_ context.Context) ([]SecretInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SecretInfo, 0, len(s.secrets))
	for name, sec := range s.secrets {
		out = append(out, SecretInfo{Name: name, Labels: copyMap(sec.labels), CreatedAt: sec.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RedisSecretStore 每个 secret 两个 hash（数据和标签），外加一个索引 set
type RedisSecretStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisSecretStore(rdb *redis.Client, prefix string) *RedisSecretStore {
	if prefix == "" {
		prefix = "labspawn:secret:"
	}
	return &RedisSecretStore{rdb: rdb, prefix: prefix}
}

func (s *RedisSecretStore) dataKey(name string) string  { return s.prefix + name }
func (s *RedisSecretStore) labelKey(name string) string { return s.prefix + name + ":labels" }
func (s *RedisSecretStore) indexKey() string            { return s.prefix + "index" }

const createdAtLabel = "labspawn.created_at"

func (s *RedisSecretStore) Put(ctx context.Context, name string, data map[string]string, labels map[string]string) error {
	if len(data) == 0 {
		return fmt.Errorf("secret %s: empty data", name)
	}
	meta := copyMap(labels)
	meta[createdAtLabel] = strconv.FormatInt(time.Now().Unix(), 10)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.dataKey(name), s.labelKey(name))
		pipe.HSet(ctx, s.dataKey(name), toArgs(data)...)
		pipe.HSet(ctx, s.labelKey(name), toArgs(meta)...)
		pipe.SAdd(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put secret %s: %w", name, err)
	}
	return nil
}

func (s *RedisSecretStore) Get(ctx context.Context, name string) (map[string]string, error) {
	data, err := s.rdb.HGetAll(ctx, s.dataKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *RedisSecretStore) Delete(ctx context.Context, name string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.dataKey(name), s.labelKey(name))
		pipe.SRem(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}

func (s *RedisSecretStore) List(ctx context.Context) ([]SecretInfo, error) {
	names, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	sort.Strings(names)
	out := make([]SecretInfo, 0, len(names))
	for _, name := range names {
		labels, err := s.rdb.HGetAll(ctx, s.labelKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("list secrets: %w", err)
		}
		info := SecretInfo{Name: name, Labels: labels}
		if ts, ok := labels[createdAtLabel]; ok {
			if sec, err := strconv.ParseInt(ts, 10, 64); err == nil {
				info.CreatedAt = time.Unix(sec, 0)
			}
			delete(labels, createdAtLabel)
		}
		out = append(out, info)
	}
	return out, nil
}

func toArgs(m map[string]string) []interface{} {
	args := make([]interface{}, 0, len(m)*2)
	for k, v := range m {
		args = append(args, k, v)
	}
	return args
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

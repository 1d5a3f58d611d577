package repository

import (
	"context"
	"fmt"
	"sort"

	"labspawn/internal/model"
	"labspawn/pkg/hash"

	"github.com/spf13/viper"
)

type ContentRepository interface {
	Get(ctx context.Context, ref string) (*model.Content, error)
	List(ctx context.Context) ([]*model.Content, error)
	// Hash 规格摘要，用于判断题目镜像/端口是否变更
	Hash(ctx context.Context, ref string) (string, error)
}

// NewContentRepository 题目目录只读，启动时从配置加载
func NewContentRepository(conf *viper.Viper) (ContentRepository, error) {
	var items []*model.Content
	if err := conf.UnmarshalKey("content.catalog", &items); err != nil {
		return nil, fmt.Errorf("content.catalog: %w", err)
	}
	return NewStaticContentRepository(items)
}

func NewStaticContentRepository(items []*model.Content) (ContentRepository, error) {
	r := &contentRepository{items: make(map[string]*model.Content, len(items))}
	for _, c := range items {
		if c.Ref == "" || c.Image == "" || c.Port <= 0 {
			return nil, fmt.Errorf("content %q: ref, image and port are required", c.Ref)
		}
		if _, dup := r.items[c.Ref]; dup {
			return nil, fmt.Errorf("content %q: duplicate ref", c.Ref)
		}
		r.items[c.Ref] = c
	}
	return r, nil
}

type contentRepository struct {
	items map[string]*model.Content
}

// Get 不存在时返回 nil, nil
func (r *contentRepository) Get(_ context.Context, ref string) (*model.Content, error) {
	c, ok := r.items[ref]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (r *contentRepository) List(_ context.Context) ([]*model.Content, error) {
	out := make([]*model.Content, 0, len(r.items))
	for _, c := range r.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

func (r *contentRepository) Hash(_ context.Context, ref string) (string, error) {
	c, ok := r.items[ref]
	if !ok {
		return "", fmt.Errorf("content %q not found", ref)
	}
	return hash.CalculateResourceHash(c)
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labspawn/internal/model"
	"labspawn/pkg/hash"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrStateConflict CAS 失败：库里的状态已经不是期望值
	ErrStateConflict = errors.New("instance state conflict")
	// ErrDuplicateActive 同一 (owner, content, group) 已有非终态实例
	ErrDuplicateActive = errors.New("duplicate active instance")

	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInstanceNotFound  = errors.New("instance not found")
)

// TransitionFields 状态迁移时一并写入的字段，nil 表示不修改
type TransitionFields struct {
	ExternalURL *string
	SecretRef   *string
	TaskID      *string
	Metadata    model.Metadata
}

type InstanceFilter struct {
	OwnerID  string
	State    string
	Page     int
	PageSize int
}

type InstanceRepository interface {
	Create(ctx context.Context, instance *model.Instance) error
	Get(ctx context.Context, instanceID string) (*model.Instance, error)
	GetByTaskID(ctx context.Context, taskID string) (*model.Instance, error)
	GetBySecretRef(ctx context.Context, secretRef string) (*model.Instance, error)
	GetActiveByTuple(ctx context.Context, ownerID, contentRef, groupRef string) (*model.Instance, error)
	Transition(ctx context.Context, instanceID, expected, next string, fields TransitionFields) error
	SetTask(ctx context.Context, instanceID, expectedState, taskID string) error
	ClearSecretRef(ctx context.Context, instanceID, expectedState string) error
	UpdateMetadata(ctx context.Context, instanceID, expectedState string, patch model.Metadata) error
	ListByOwner(ctx context.Context, ownerID string, filter InstanceFilter) ([]*model.Instance, int64, error)
	ListAll(ctx context.Context, filter InstanceFilter) ([]*model.Instance, int64, error)
	ListStale(ctx context.Context, states []string, olderThan time.Time, limit int) ([]*model.Instance, error)
	ListWithSecret(ctx context.Context, states []string) ([]*model.Instance, error)
	Delete(ctx context.Context, instanceID string) error
}

func NewInstanceRepository(
	repository *Repository,
) InstanceRepository {
	return &instanceRepository{
		Repository: repository,
	}
}

type instanceRepository struct {
	*Repository
}

func ActiveKey(ownerID, contentRef, groupRef string) string {
	return hash.TupleKey(ownerID, contentRef, groupRef)
}

func (r *instanceRepository) Create(ctx context.Context, instance *model.Instance) error {
	if instance.GroupRef == "" {
		instance.GroupRef = model.DefaultGroupRef
	}
	if instance.Metadata == nil {
		instance.Metadata = model.Metadata{}
	}
	if !model.IsTerminalState(instance.State) {
		key := ActiveKey(instance.OwnerID, instance.ContentRef, instance.GroupRef)
		instance.ActiveKey = &key
	}
	err := r.DB(ctx).Create(instance).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateActive
	}
	// 部分驱动不翻译唯一索引错误，再查一次确认
	if instance.ActiveKey != nil {
		existing, qerr := r.GetActiveByTuple(ctx, instance.OwnerID, instance.ContentRef, instance.GroupRef)
		if qerr == nil && existing != nil {
			return ErrDuplicateActive
		}
	}
	return err
}

func (r *instanceRepository) first(ctx context.Context, query string, args ...interface{}) (*model.Instance, error) {
	var instance model.Instance
	err := r.DB(ctx).Where(query, args...).First(&instance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func (r *instanceRepository) Get(ctx context.Context, instanceID string) (*model.Instance, error) {
	return r.first(ctx, "instance_id = ?", instanceID)
}

func (r *instanceRepository) GetByTaskID(ctx context.Context, taskID string) (*model.Instance, error) {
	return r.first(ctx, "task_id = ?", taskID)
}

func (r *instanceRepository) GetBySecretRef(ctx context.Context, secretRef string) (*model.Instance, error) {
	if secretRef == "" {
		return nil, nil
	}
	return r.first(ctx, "secret_ref = ?", secretRef)
}

func (r *instanceRepository) GetActiveByTuple(ctx context.Context, ownerID, contentRef, groupRef string) (*model.Instance, error) {
	if groupRef == "" {
		groupRef = model.DefaultGroupRef
	}
	return r.first(ctx, "active_key = ?", ActiveKey(ownerID, contentRef, groupRef))
}

// Transition 比较并交换：只有库里的 state 仍等于 expected 时才写入 next
func (r *instanceRepository) Transition(ctx context.Context, instanceID, expected, next string, fields TransitionFields) error {
	if !model.CanTransition(expected, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}
	updates := map[string]interface{}{
		"state": next,
	}
	if model.IsTerminalState(next) {
		updates["active_key"] = nil
	}
	if fields.ExternalURL != nil {
		updates["external_url"] = *fields.ExternalURL
	}
	if fields.SecretRef != nil {
		updates["secret_ref"] = *fields.SecretRef
	}
	if fields.TaskID != nil {
		updates["task_id"] = *fields.TaskID
	}
	if fields.Metadata != nil {
		updates["metadata"] = fields.Metadata
	}

	res := r.DB(ctx).Model(&model.Instance{}).
		Where("instance_id = ? AND state = ?", instanceID, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	current, err := r.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrInstanceNotFound
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrStateConflict, expected, current.State)
}

func (r *instanceRepository) SetTask(ctx context.Context, instanceID, expectedState, taskID string) error {
	res := r.DB(ctx).Model(&model.Instance{}).
		Where("instance_id = ? AND state = ?", instanceID, expectedState).
		Update("task_id", taskID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// ClearSecretRef secret 已经删除后清空引用，不改变状态
func (r *instanceRepository) ClearSecretRef(ctx context.Context, instanceID, expectedState string) error {
	res := r.DB(ctx).Model(&model.Instance{}).
		Where("instance_id = ? AND state = ?", instanceID, expectedState).
		Update("secret_ref", "")
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// UpdateMetadata 把 patch 合并进 metadata，状态已变化时返回 ErrStateConflict
// 读改写在同一事务里完成；调用方已在 Transaction 中时使用 savepoint
func (r *instanceRepository) UpdateMetadata(ctx context.Context, instanceID, expectedState string, patch model.Metadata) error {
	return r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if tx.Dialector.Name() != "sqlite" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var instance model.Instance
		err := query.Where("instance_id = ? AND state = ?", instanceID, expectedState).First(&instance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrStateConflict
		}
		if err != nil {
			return err
		}

		merged := model.Metadata{}
		for k, v := range instance.Metadata {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		res := tx.Model(&model.Instance{}).
			Where("instance_id = ? AND state = ?", instanceID, expectedState).
			Update("metadata", merged)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStateConflict
		}
		return nil
	})
}

func (r *instanceRepository) ListByOwner(ctx context.Context, ownerID string, filter InstanceFilter) ([]*model.Instance, int64, error) {
	filter.OwnerID = ownerID
	return r.list(ctx, filter)
}

func (r *instanceRepository) ListAll(ctx context.Context, filter InstanceFilter) ([]*model.Instance, int64, error) {
	return r.list(ctx, filter)
}

func (r *instanceRepository) list(ctx context.Context, filter InstanceFilter) ([]*model.Instance, int64, error) {
	var (
		instances []*model.Instance
		total     int64
	)
	query := r.DB(ctx).Model(&model.Instance{})
	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize
	err := query.Order("gmt_create DESC, id DESC").
		Offset(offset).
		Limit(filter.PageSize).
		Find(&instances).Error
	if err != nil {
		return nil, 0, err
	}
	return instances, total, nil
}

// ListStale 在 states 中且超过 olderThan 未更新的实例，给对账任务使用
func (r *instanceRepository) ListStale(ctx context.Context, states []string, olderThan time.Time, limit int) ([]*model.Instance, error) {
	var instances []*model.Instance
	query := r.DB(ctx).Where("state IN ? AND gmt_modified < ?", states, olderThan).
		Order("gmt_modified ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

func (r *instanceRepository) ListWithSecret(ctx context.Context, states []string) ([]*model.Instance, error) {
	var instances []*model.Instance
	err := r.DB(ctx).Where("state IN ? AND secret_ref <> ''", states).Find(&instances).Error
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// Delete 只用于入队失败时回滚刚创建的记录
func (r *instanceRepository) Delete(ctx context.Context, instanceID string) error {
	return r.DB(ctx).Where("instance_id = ?", instanceID).Delete(&model.Instance{}).Error
}

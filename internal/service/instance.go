package service

import (
	"context"
	"errors"
	"strconv"

	v1 "labspawn/api/v1"
	"labspawn/internal/model"
	"labspawn/internal/queue"
	"labspawn/internal/repository"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ConflictError 同一题目已有进行中的实例，Existing 给前端跳转用
type ConflictError struct {
	Existing *v1.InstanceItem
}

func (e *ConflictError) Error() string { return v1.ErrInstanceConflict.Error() }
func (e *ConflictError) Unwrap() error { return v1.ErrInstanceConflict }

type InstanceService interface {
	Launch(ctx context.Context, caller Caller, req *v1.LaunchRequest) (*v1.LaunchResponseData, error)
	Terminate(ctx context.Context, caller Caller, instanceID string) (*v1.TerminateResponseData, error)
	GetInstance(ctx context.Context, caller Caller, instanceID string) (*v1.InstanceItem, error)
	ListInstances(ctx context.Context, caller Caller, req *v1.ListInstancesRequest) (*v1.ListInstancesResponseData, error)
	ListContents(ctx context.Context) ([]v1.ContentItem, error)
	QueueStats(ctx context.Context, caller Caller) (*v1.QueueStatsData, error)
}

func NewInstanceService(
	service *Service,
	conf *viper.Viper,
	q queue.Queue,
	instanceRepo repository.InstanceRepository,
	contentRepo repository.ContentRepository,
	userRepo repository.UserRepository,
) InstanceService {
	s := &instanceService{
		Service:            service,
		queue:              q,
		instanceRepo:       instanceRepo,
		contentRepo:        contentRepo,
		userRepo:           userRepo,
		defaultPriority:    conf.GetInt("orchestrator.priority.default"),
		privilegedPriority: conf.GetInt("orchestrator.priority.privileged"),
		terminatePriority:  conf.GetInt("orchestrator.priority.terminate"),
	}
	if !conf.IsSet("orchestrator.priority.default") {
		s.defaultPriority = 10
	}
	if !conf.IsSet("orchestrator.priority.privileged") {
		s.privilegedPriority = 1
	}
	return s
}

type instanceService struct {
	*Service
	queue        queue.Queue
	instanceRepo repository.InstanceRepository
	contentRepo  repository.ContentRepository
	userRepo     repository.UserRepository

	defaultPriority    int
	privilegedPriority int
	terminatePriority  int
}

// priority 普通学员只能使用默认优先级
func (s *instanceService) priority(caller Caller, requested *int) int {
	if !caller.Privileged {
		return s.defaultPriority
	}
	if requested != nil {
		return *requested
	}
	return s.privilegedPriority
}

func (s *instanceService) Launch(ctx context.Context, caller Caller, req *v1.LaunchRequest) (*v1.LaunchResponseData, error) {
	logger := s.logger.WithContext(ctx)

	content, err := s.contentRepo.Get(ctx, req.ContentRef)
	if err != nil {
		logger.Error("contentRepo.Get error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	if content == nil {
		return nil, v1.ErrContentNotFound
	}

	sid, err := s.sid.GenString()
	if err != nil {
		logger.Error("sid.GenString error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	priority := s.priority(caller, req.Priority)
	inst := &model.Instance{
		InstanceID: "i-" + sid,
		OwnerID:    caller.UserID,
		ContentRef: req.ContentRef,
		GroupRef:   req.GroupRef,
		State:      model.InstanceStateQueued,
		TaskID:     uuid.NewString(),
		Metadata:   model.Metadata{model.MetaPriority: strconv.Itoa(priority)},
	}

	if err := s.instanceRepo.Create(ctx, inst); err != nil {
		if errors.Is(err, repository.ErrDuplicateActive) {
			return nil, s.conflict(ctx, inst)
		}
		logger.Error("instanceRepo.Create error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}

	_, err = s.queue.Enqueue(ctx, &queue.Task{
		ID:         inst.TaskID,
		InstanceID: inst.InstanceID,
		Kind:       queue.KindProvision,
		Priority:   priority,
	})
	if err != nil {
		// 入队失败，回滚刚创建的实例，三元组重新可用
		if derr := s.instanceRepo.Delete(ctx, inst.InstanceID); derr != nil {
			logger.Error("instanceRepo.Delete error", zap.Error(derr), zap.String("instance_id", inst.InstanceID))
		}
		if errors.Is(err, queue.ErrQueueFull) {
			return nil, v1.ErrQueueFull
		}
		logger.Error("queue.Enqueue error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}

	// 记录入队时的位置，实时位置以 Poll 为准
	if view, err := s.queue.Peek(ctx, inst.TaskID); err == nil && view.State == queue.TaskPending {
		err := s.instanceRepo.UpdateMetadata(ctx, inst.InstanceID, model.InstanceStateQueued, model.Metadata{
			model.MetaQueuePosition: strconv.Itoa(view.Position),
		})
		if err != nil && !errors.Is(err, repository.ErrStateConflict) {
			logger.Warn("record queue position error", zap.Error(err), zap.String("instance_id", inst.InstanceID))
		}
	}

	logger.Info("instance queued",
		zap.String("instance_id", inst.InstanceID),
		zap.String("task_id", inst.TaskID),
		zap.Int("priority", priority),
	)
	return &v1.LaunchResponseData{InstanceID: inst.InstanceID, TaskID: inst.TaskID}, nil
}

func (s *instanceService) conflict(ctx context.Context, inst *model.Instance) error {
	existing, err := s.instanceRepo.GetActiveByTuple(ctx, inst.OwnerID, inst.ContentRef, inst.GroupRef)
	if err != nil {
		s.logger.WithContext(ctx).Warn("instanceRepo.GetActiveByTuple error", zap.Error(err))
	}
	if existing == nil {
		return v1.ErrInstanceConflict
	}
	item := toItem(existing)
	return &ConflictError{Existing: &item}
}

func (s *instanceService) Terminate(ctx context.Context, caller Caller, instanceID string) (*v1.TerminateResponseData, error) {
	logger := s.logger.WithContext(ctx)

	// CAS 失败说明状态刚被改动，重新读取后再判断
	for i := 0; i < 3; i++ {
		inst, err := s.instanceRepo.Get(ctx, instanceID)
		if err != nil {
			logger.Error("instanceRepo.Get error", zap.Error(err))
			return nil, v1.ErrInternalServerError
		}
		if inst == nil {
			return nil, v1.ErrNotFound
		}
		if !caller.CanAccess(inst.OwnerID) {
			return nil, v1.ErrForbidden
		}

		resp := &v1.TerminateResponseData{InstanceID: inst.InstanceID, State: inst.State}
		switch inst.State {
		case model.InstanceStateTerminated, model.InstanceStateTerminating, model.InstanceStateError:
			return resp, nil

		case model.InstanceStateQueued:
			cancelled, err := s.queue.Cancel(ctx, inst.TaskID)
			if err != nil {
				logger.Warn("queue.Cancel error", zap.Error(err))
			}
			if cancelled {
				// 还没开始创建，直接结束，不调用集群
				empty := ""
				err := s.instanceRepo.Transition(ctx, inst.InstanceID, model.InstanceStateQueued, model.InstanceStateTerminated, repository.TransitionFields{
					SecretRef: &empty,
					Metadata:  model.Metadata{},
				})
				if errors.Is(err, repository.ErrStateConflict) {
					continue
				}
				if err != nil {
					logger.Error("instanceRepo.Transition error", zap.Error(err))
					return nil, v1.ErrInternalServerError
				}
				resp.State = model.InstanceStateTerminated
				return resp, nil
			}
		}

		taskID := uuid.NewString()
		err = s.instanceRepo.Transition(ctx, inst.InstanceID, inst.State, model.InstanceStateTerminating, repository.TransitionFields{
			TaskID: &taskID,
		})
		if errors.Is(err, repository.ErrStateConflict) {
			continue
		}
		if err != nil {
			logger.Error("instanceRepo.Transition error", zap.Error(err))
			return nil, v1.ErrInternalServerError
		}

		_, err = s.queue.Enqueue(ctx, &queue.Task{
			ID:         taskID,
			InstanceID: inst.InstanceID,
			Kind:       queue.KindTerminate,
			Priority:   s.terminatePriority,
		})
		if err != nil {
			// 实例已是 TERMINATING，对账任务会补发销毁任务
			logger.Warn("enqueue terminate task error", zap.Error(err), zap.String("instance_id", inst.InstanceID))
		}
		resp.State = model.InstanceStateTerminating
		resp.TaskID = taskID
		return resp, nil
	}

	// 连续冲突说明别人也在推进状态；只要已进入销毁流程就算成功
	inst, err := s.instanceRepo.Get(ctx, instanceID)
	if err != nil {
		logger.Error("instanceRepo.Get error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	if inst == nil {
		return nil, v1.ErrNotFound
	}
	switch inst.State {
	case model.InstanceStateTerminating, model.InstanceStateTerminated, model.InstanceStateError:
		return &v1.TerminateResponseData{InstanceID: inst.InstanceID, State: inst.State, TaskID: inst.TaskID}, nil
	}
	logger.Warn("terminate gave up after repeated conflicts", zap.String("instance_id", instanceID), zap.String("state", inst.State))
	return nil, v1.ErrInvalidState
}

func (s *instanceService) GetInstance(ctx context.Context, caller Caller, instanceID string) (*v1.InstanceItem, error) {
	inst, err := s.instanceRepo.Get(ctx, instanceID)
	if err != nil {
		s.logger.WithContext(ctx).Error("instanceRepo.Get error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	if inst == nil {
		return nil, v1.ErrNotFound
	}
	if !caller.CanAccess(inst.OwnerID) {
		return nil, v1.ErrForbidden
	}
	item := toItem(inst)
	return &item, nil
}

func (s *instanceService) ListInstances(ctx context.Context, caller Caller, req *v1.ListInstancesRequest) (*v1.ListInstancesResponseData, error) {
	logger := s.logger.WithContext(ctx)
	filter := repository.InstanceFilter{State: req.State, Page: req.Page, PageSize: req.PageSize}

	var (
		list  []*model.Instance
		total int64
		err   error
	)
	if req.Scope == "all" {
		if !caller.Privileged {
			return nil, v1.ErrForbidden
		}
		list, total, err = s.instanceRepo.ListAll(ctx, filter)
	} else {
		list, total, err = s.instanceRepo.ListByOwner(ctx, caller.UserID, filter)
	}
	if err != nil {
		logger.Error("instanceRepo.List error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}

	items := make([]v1.InstanceItem, 0, len(list))
	for _, inst := range list {
		items = append(items, toItem(inst))
	}
	if req.Scope == "all" {
		s.enrichOwners(ctx, items)
	}
	return &v1.ListInstancesResponseData{Total: total, List: items}, nil
}

// enrichOwners 补充昵称；用户服务不可用时保留原始数据
func (s *instanceService) enrichOwners(ctx context.Context, items []v1.InstanceItem) {
	ids := slice.Unique(slice.Map(items, func(_ int, item v1.InstanceItem) string { return item.OwnerID }))
	users, err := s.userRepo.GetByUserIds(ctx, ids)
	if err != nil {
		s.logger.WithContext(ctx).Warn("owner enrichment unavailable", zap.Error(err))
		return
	}
	nick := make(map[string]string, len(users))
	for _, u := range users {
		nick[u.UserId] = u.Nickname
	}
	for i := range items {
		items[i].OwnerNickname = nick[items[i].OwnerID]
	}
}

func (s *instanceService) ListContents(ctx context.Context) ([]v1.ContentItem, error) {
	contents, err := s.contentRepo.List(ctx)
	if err != nil {
		s.logger.WithContext(ctx).Error("contentRepo.List error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	out := make([]v1.ContentItem, 0, len(contents))
	for _, c := range contents {
		h, err := s.contentRepo.Hash(ctx, c.Ref)
		if err != nil {
			s.logger.WithContext(ctx).Warn("contentRepo.Hash error", zap.Error(err))
		}
		item := v1.ContentItem{Ref: c.Ref, Name: c.Name, Image: c.Image, Port: c.Port, Hash: h}
		for _, app := range c.Apps {
			item.Apps = append(item.Apps, app.Name)
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *instanceService) QueueStats(ctx context.Context, caller Caller) (*v1.QueueStatsData, error) {
	if !caller.Privileged {
		return nil, v1.ErrForbidden
	}
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		s.logger.WithContext(ctx).Error("queue.Stats error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	return &v1.QueueStatsData{
		Pending:     stats.Pending,
		InFlight:    stats.InFlight,
		Results:     stats.Results,
		MaxInFlight: stats.MaxInFlight,
		MaxPending:  stats.MaxPending,
	}, nil
}

func toItem(inst *model.Instance) v1.InstanceItem {
	return v1.InstanceItem{
		InstanceID:  inst.InstanceID,
		OwnerID:     inst.OwnerID,
		ContentRef:  inst.ContentRef,
		GroupRef:    inst.GroupRef,
		State:       inst.State,
		ExternalURL: inst.ExternalURL,
		SecretRef:   inst.SecretRef,
		TaskID:      inst.TaskID,
		Metadata:    inst.Metadata,
		CreatedAt:   inst.CreateTime,
		UpdatedAt:   inst.UpdateTime,
	}
}

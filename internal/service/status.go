package service

import (
	"context"
	"errors"

	v1 "labspawn/api/v1"
	"labspawn/internal/model"
	"labspawn/internal/queue"
	"labspawn/internal/repository"

	"go.uber.org/zap"
)

// StatusService 结合队列中的任务和实例记录计算对外状态
//
// 队列里的结果只保留一段时间，任务找不到时以实例记录为准，
// 已经 ACTIVE 的实例不能因为结果被清理而报告成失败。
//
// instanceID 为空时按 taskID 反查实例。
type StatusService interface {
	Poll(ctx context.Context, caller Caller, instanceID, taskID string) (*v1.TaskStatusData, error)
}

func NewStatusService(
	service *Service,
	q queue.Queue,
	instanceRepo repository.InstanceRepository,
) StatusService {
	return &statusService{
		Service:      service,
		queue:        q,
		instanceRepo: instanceRepo,
	}
}

type statusService struct {
	*Service
	queue        queue.Queue
	instanceRepo repository.InstanceRepository
}

func (s *statusService) Poll(ctx context.Context, caller Caller, instanceID, taskID string) (*v1.TaskStatusData, error) {
	logger := s.logger.WithContext(ctx)
	if instanceID == "" && taskID == "" {
		return nil, v1.ErrBadRequest
	}

	inst, err := s.instance(ctx, instanceID, taskID)
	if err != nil {
		logger.Error("load instance error", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}
	if inst == nil {
		return nil, v1.ErrNotFound
	}
	if !caller.CanAccess(inst.OwnerID) {
		return nil, v1.ErrForbidden
	}
	if taskID == "" {
		taskID = inst.TaskID
	}

	view, err := s.queue.Peek(ctx, taskID)
	if err != nil {
		if !errors.Is(err, queue.ErrTaskNotFound) {
			logger.Warn("queue.Peek error, falling back to instance", zap.Error(err), zap.String("task_id", taskID))
		}
		return fromInstance(inst, taskID), nil
	}
	if view.Task.InstanceID != inst.InstanceID {
		return nil, v1.ErrNotFound
	}
	return fromTask(inst, view), nil
}

// instance 只给了任务 id 时先问队列，队列里已经没有再按实例当前任务查
func (s *statusService) instance(ctx context.Context, instanceID, taskID string) (*model.Instance, error) {
	if instanceID != "" {
		return s.instanceRepo.Get(ctx, instanceID)
	}
	view, err := s.queue.Peek(ctx, taskID)
	if err == nil {
		return s.instanceRepo.Get(ctx, view.Task.InstanceID)
	}
	if !errors.Is(err, queue.ErrTaskNotFound) {
		s.logger.WithContext(ctx).Warn("queue.Peek error", zap.Error(err), zap.String("task_id", taskID))
	}
	return s.instanceRepo.GetByTaskID(ctx, taskID)
}

func fromTask(inst *model.Instance, view *queue.TaskView) *v1.TaskStatusData {
	data := &v1.TaskStatusData{TaskID: view.Task.ID, InstanceID: inst.InstanceID}

	switch view.State {
	case queue.TaskPending:
		position, priority := view.Position, view.Task.Priority
		data.Status = v1.StatusQueued
		data.Position = &position
		data.Priority = &priority
		return data

	case queue.TaskClaimed:
		data.InProgress = true
		data.Status = v1.StatusProvisioning
		if view.Task.Kind == queue.KindTerminate {
			data.Status = v1.StatusTerminating
		}
		return data
	}

	res := view.Result
	if res == nil {
		return fromInstance(inst, view.Task.ID)
	}
	// 创建任务结束后实例又被销毁，以实例为准
	if view.Task.Kind == queue.KindProvision {
		switch inst.State {
		case model.InstanceStateTerminating:
			data.Status = v1.StatusTerminating
			data.InProgress = true
			return data
		case model.InstanceStateTerminated:
			data.Status = v1.StatusTerminated
			return data
		}
	}

	if res.Success {
		if view.Task.Kind == queue.KindTerminate {
			data.Status = v1.StatusTerminated
			return data
		}
		if res.URL == "" {
			return fromInstance(inst, view.Task.ID)
		}
		data.Status = v1.StatusActive
		data.URL = res.URL
		return data
	}

	if view.Task.Kind == queue.KindTerminate {
		// 销毁失败时实例保持 TERMINATING，等待对账重试
		if inst.State == model.InstanceStateTerminating {
			data.Status = v1.StatusTerminating
			data.InProgress = true
		} else {
			data = fromInstance(inst, view.Task.ID)
		}
		data.Error = res.Error
		return data
	}
	data.Status = v1.StatusError
	data.Error = res.Error
	if data.Error == "" {
		data.Error = "provisioning failed"
	}
	return data
}

// fromInstance 任务已被清理或不可读时，直接使用实例记录
func fromInstance(inst *model.Instance, taskID string) *v1.TaskStatusData {
	data := &v1.TaskStatusData{TaskID: taskID, InstanceID: inst.InstanceID}
	switch inst.State {
	case model.InstanceStateActive:
		if inst.ExternalURL == "" {
			data.Status = v1.StatusUnknown
			return data
		}
		data.Status = v1.StatusActive
		data.URL = inst.ExternalURL
	case model.InstanceStateError:
		data.Status = v1.StatusError
		data.Error = inst.Metadata[model.MetaError]
		if data.Error == "" {
			data.Error = "provisioning failed"
		}
	case model.InstanceStateTerminated:
		data.Status = v1.StatusTerminated
	default:
		data.Status = v1.StatusUnknown
	}
	return data
}

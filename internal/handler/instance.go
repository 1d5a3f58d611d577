package handler

import (
	"errors"
	"net/http"
	"time"

	v1 "labspawn/api/v1"
	"labspawn/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type InstanceHandler struct {
	*Handler
	instanceService service.InstanceService
	statusService   service.StatusService
	watchInterval   time.Duration
	watchTimeout    time.Duration
}

func NewInstanceHandler(
	handler *Handler,
	conf *viper.Viper,
	instanceService service.InstanceService,
	statusService service.StatusService,
) *InstanceHandler {
	h := &InstanceHandler{
		Handler:         handler,
		instanceService: instanceService,
		statusService:   statusService,
		watchInterval:   conf.GetDuration("orchestrator.watch.interval"),
		watchTimeout:    conf.GetDuration("orchestrator.watch.timeout"),
	}
	if h.watchInterval <= 0 {
		h.watchInterval = time.Second
	}
	if h.watchTimeout <= 0 {
		h.watchTimeout = 15 * time.Minute
	}
	return h
}

// Launch godoc
// @Summary 申请题目环境
// @Description 创建实例并放入队列，返回 instance_id 和 task_id；同一题目已有进行中的实例时返回 409 及该实例
// @Tags 实例模块
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body v1.LaunchRequest true "params"
// @Success 200 {object} v1.LaunchResponse
// @Failure 409 {object} v1.InstanceResponse
// @Failure 503 {object} v1.Response
// @Router /api/v1/instances [post]
func (h *InstanceHandler) Launch(ctx *gin.Context) {
	req := new(v1.LaunchRequest)
	if err := ctx.ShouldBindJSON(req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}

	data, err := h.instanceService.Launch(ctx, GetCallerFromCtx(ctx), req)
	if err != nil {
		var conflict *service.ConflictError
		if errors.As(err, &conflict) {
			v1.HandleError(ctx, http.StatusConflict, err, conflict.Existing)
			return
		}
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}
	v1.HandleSuccess(ctx, data)
}

// PollStatus godoc
// @Summary 查询任务状态
// @Description 返回排队位置/优先级，或最终结果（ACTIVE 带 url，ERROR 带 error）；UNKNOWN 表示需要刷新实例列表
// @Tags 实例模块
// @Produce json
// @Security Bearer
// @Param id path string true "实例ID"
// @Param task_id query string false "任务ID，默认为实例当前任务"
// @Success 200 {object} v1.TaskStatusResponse
// @Router /api/v1/instances/{id}/status [get]
func (h *InstanceHandler) PollStatus(ctx *gin.Context) {
	data, err := h.statusService.Poll(ctx, GetCallerFromCtx(ctx), ctx.Param("id"), ctx.Query("task_id"))
	if err != nil {
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}
	v1.HandleSuccess(ctx, data)
}

// PollTask godoc
// @Summary 按任务ID查询状态
// @Description 只持有 task_id 时使用，结果同 /instances/{id}/status
// @Tags 实例模块
// @Produce json
// @Security Bearer
// @Param task_id query string true "任务ID"
// @Success 200 {object} v1.TaskStatusResponse
// @Router /api/v1/tasks/status [get]
func (h *InstanceHandler) PollTask(ctx *gin.Context) {
	var req v1.PollStatusRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}
	data, err := h.statusService.Poll(ctx, GetCallerFromCtx(ctx), "", req.TaskID)
	if err != nil {
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}
	v1.HandleSuccess(ctx, data)
}

// Watch godoc
// @Summary 订阅任务状态（WebSocket）
// @Description 状态变化时推送 TaskStatusData，到达最终状态后关闭连接
// @Tags 实例模块
// @Security Bearer
// @Param id path string true "实例ID"
// @Param task_id query string false "任务ID"
// @Param access_token query string false "浏览器无法设置 header 时使用"
// @Router /api/v1/instances/{id}/watch [get]
func (h *InstanceHandler) Watch(ctx *gin.Context) {
	caller := GetCallerFromCtx(ctx)
	instanceID, taskID := ctx.Param("id"), ctx.Query("task_id")

	// 握手前先校验一次，错误直接按普通 HTTP 返回
	first, err := h.statusService.Poll(ctx, caller, instanceID, taskID)
	if err != nil {
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.logger.WithContext(ctx).Warn("watch: failed to upgrade websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	// 读协程只用来感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.watchInterval)
	defer ticker.Stop()
	deadline := time.After(h.watchTimeout)

	data, last := first, (*v1.TaskStatusData)(nil)
	for {
		if last == nil || changed(last, data) {
			if err := conn.WriteJSON(data); err != nil {
				return
			}
			last = data
		}
		if data.Status.Final() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(data.Status)))
			return
		}

		select {
		case <-closed:
			return
		case <-deadline:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "watch timeout"))
			return
		case <-ctx.Request.Context().Done():
			return
		case <-ticker.C:
		}

		next, err := h.statusService.Poll(ctx, caller, instanceID, last.TaskID)
		if err != nil {
			h.logger.WithContext(ctx).Warn("watch: poll error", zap.Error(err))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
			return
		}
		data = next
	}
}

func changed(a, b *v1.TaskStatusData) bool {
	if a.Status != b.Status || a.InProgress != b.InProgress || a.URL != b.URL || a.Error != b.Error {
		return true
	}
	if (a.Position == nil) != (b.Position == nil) {
		return true
	}
	return a.Position != nil && *a.Position != *b.Position
}

// Terminate godoc
// @Summary 销毁题目环境
// @Description 幂等；已在销毁中或已结束的实例直接返回成功
// @Tags 实例模块
// @Produce json
// @Security Bearer
// @Param id path string true "实例ID"
// @Success 200 {object} v1.TerminateResponse
// @Router /api/v1/instances/{id} [delete]
func (h *InstanceHandler) Terminate(ctx *gin.Context) {
	data, err := h.instanceService.Terminate(ctx, GetCallerFromCtx(ctx), ctx.Param("id"))
	if err != nil {
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}
	v1.HandleSuccess(ctx, data)
}

// GetInstance godoc
// @Summary 获取实例详情
// @Tags 实例模块
// @Produce json
// @Security Bearer
// @Param id path string true "实例ID"
// @Success 200 {object} v1.InstanceResponse
// @Router /api/v1/instances/{id} [get]
func (h *InstanceHandler) GetInstance(ctx *gin.Context) {
	data, err := h.instanceService.GetInstance(ctx, GetCallerFromCtx(ctx), ctx.Param("id"))
	if err != nil {
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}
	v1.HandleSuccess(ctx, data)
}

// ListInstances godoc
// @Summary 实例列表
// @Description scope=all 需要讲师或管理员角色
// @Tags 实例模块
// @Produce json
// @Security Bearer
// @Param scope query string false "owner|all"
// @Param state query string false "状态过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} v1.ListInstancesResponse
// @Router /api/v1/instances [get]
func (h *InstanceHandler) ListInstances(ctx *gin.Context) {
	req := new(v1.ListInstancesRequest)
	if err := ctx.ShouldBindQuery(req); err != nil {
		v1.HandleError(ctx, http.StatusBadRequest, v1.ErrBadRequest, nil)
		return
	}
	data, err := h.instanceService.ListInstances(ctx, GetCallerFromCtx(ctx), req)
	if err != nil {
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}
	v1.HandleSuccess(ctx, data)
}

// ListContents godoc
// @Summary 题目目录
// @Tags 实例模块
// @Produce json
// @Security Bearer
// @Success 200 {object} v1.ListContentsResponse
// @Router /api/v1/contents [get]
func (h *InstanceHandler) ListContents(ctx *gin.Context) {
	data, err := h.instanceService.ListContents(ctx)
	if err != nil {
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}
	v1.HandleSuccess(ctx, data)
}

// QueueStats godoc
// @Summary 队列状态
// @Tags 实例模块
// @Produce json
// @Security Bearer
// @Success 200 {object} v1.QueueStatsResponse
// @Router /api/v1/queue/stats [get]
func (h *InstanceHandler) QueueStats(ctx *gin.Context) {
	data, err := h.instanceService.QueueStats(ctx, GetCallerFromCtx(ctx))
	if err != nil {
		v1.HandleError(ctx, httpStatus(err), err, nil)
		return
	}
	v1.HandleSuccess(ctx, data)
}

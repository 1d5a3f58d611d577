package v1

import "time"

type LaunchRequest struct {
	ContentRef string `json:"content_ref" binding:"required,max=255" example:"web-101"`
	GroupRef   string `json:"group_ref" binding:"max=255" example:"course-2026"` // 为空时视为 standalone
	// 仅讲师/管理员可指定，数值越小越先调度
	Priority *int `json:"priority" binding:"omitempty,min=0" example:"5"`
}
type LaunchResponseData struct {
	InstanceID string `json:"instance_id" example:"i-3fKq9b"`
	TaskID     string `json:"task_id" example:"0b6f2a5e-7a2c-4f57-9f0e-3c1d4b3f9a10"`
}
type LaunchResponse struct {
	Response
	Data LaunchResponseData
}

// ReportedStatus 对外可见的任务状态
//
// PROVISIONING/TERMINATING 表示任务已被认领，与 QUEUED 一样需要继续轮询，只是没有 position。
type ReportedStatus string

const (
	StatusQueued       ReportedStatus = "QUEUED"
	StatusProvisioning ReportedStatus = "PROVISIONING"
	StatusActive       ReportedStatus = "ACTIVE"
	StatusError        ReportedStatus = "ERROR"
	StatusTerminating  ReportedStatus = "TERMINATING"
	StatusTerminated   ReportedStatus = "TERMINATED"
	StatusUnknown      ReportedStatus = "UNKNOWN"
)

// Final 客户端可以停止轮询
func (s ReportedStatus) Final() bool {
	switch s {
	case StatusActive, StatusError, StatusTerminated, StatusUnknown:
		return true
	}
	return false
}

type PollStatusRequest struct {
	TaskID string `form:"task_id" binding:"required"`
}
type TaskStatusData struct {
	TaskID     string         `json:"task_id"`
	InstanceID string         `json:"instance_id"`
	Status     ReportedStatus `json:"status" enums:"QUEUED,PROVISIONING,ACTIVE,ERROR,TERMINATING,TERMINATED,UNKNOWN" example:"QUEUED"`
	Position   *int           `json:"position,omitempty" example:"3"`
	Priority   *int           `json:"priority,omitempty" example:"10"`
	InProgress bool           `json:"in_progress"`
	URL        string         `json:"url,omitempty" example:"http://labs.example.com:32768"`
	Error      string         `json:"error,omitempty"`
}
type TaskStatusResponse struct {
	Response
	Data TaskStatusData
}

type TerminateResponseData struct {
	InstanceID string `json:"instance_id"`
	State      string `json:"state" example:"TERMINATING"`
	TaskID     string `json:"task_id,omitempty"`
}
type TerminateResponse struct {
	Response
	Data TerminateResponseData
}

type InstanceItem struct {
	InstanceID    string            `json:"instance_id"`
	OwnerID       string            `json:"owner_id"`
	OwnerNickname string            `json:"owner_nickname,omitempty"`
	ContentRef    string            `json:"content_ref"`
	GroupRef      string            `json:"group_ref"`
	State         string            `json:"state"`
	ExternalURL   string            `json:"external_url,omitempty"`
	SecretRef     string            `json:"secret_ref,omitempty"`
	TaskID        string            `json:"task_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
type InstanceResponse struct {
	Response
	Data InstanceItem
}

type ListInstancesRequest struct {
	Scope    string `form:"scope" binding:"omitempty,oneof=owner all" example:"owner"`
	State    string `form:"state" example:"ACTIVE"`
	Page     int    `form:"page" binding:"omitempty,min=1" example:"1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=200" example:"20"`
}
type ListInstancesResponseData struct {
	Total int64          `json:"total"`
	List  []InstanceItem `json:"list"`
}
type ListInstancesResponse struct {
	Response
	Data ListInstancesResponseData
}

type SecretData struct {
	SecretRef string `json:"secret_ref"`
	Value     string `json:"value" example:"flag{...}"`
}
type SecretResponse struct {
	Response
	Data SecretData
}

type QueueStatsData struct {
	Pending     int `json:"pending"`
	InFlight    int `json:"in_flight"`
	Results     int `json:"results"`
	MaxInFlight int `json:"max_in_flight"`
	MaxPending  int `json:"max_pending"`
}
type QueueStatsResponse struct {
	Response
	Data QueueStatsData
}

type ContentItem struct {
	Ref   string   `json:"ref"`
	Name  string   `json:"name"`
	Image string   `json:"image"`
	Port  int      `json:"port"`
	Apps  []string `json:"apps,omitempty"`
	Hash  string   `json:"hash"`
}
type ListContentsResponse struct {
	Response
	Data []ContentItem
}

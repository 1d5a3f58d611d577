package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	InstanceStateQueued       = "QUEUED"
	InstanceStateProvisioning = "PROVISIONING"
	InstanceStateActive       = "ACTIVE"
	InstanceStateError        = "ERROR"
	InstanceStateTerminating  = "TERMINATING"
	InstanceStateTerminated   = "TERMINATED"
)

// DefaultGroupRef 没有课程/分组时使用的占位值
const DefaultGroupRef = "standalone"

// Instance 一个学员在某个题目上的一次完整生命周期
type Instance struct {
	Id         int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	InstanceID string `json:"instance_id" gorm:"column:instance_id;size:64;not null;uniqueIndex"`

	OwnerID    string `json:"owner_id" gorm:"column:owner_id;size:100;not null;index:idx_instance_owner_state"`
	ContentRef string `json:"content_ref" gorm:"column:content_ref;size:255;not null"`
	GroupRef   string `json:"group_ref" gorm:"column:group_ref;size:255;not null"`

	State       string `json:"state" gorm:"column:state;size:32;not null;index:idx_instance_owner_state;index:idx_instance_state_modified"`
	ExternalURL string `json:"external_url" gorm:"column:external_url;size:512"`
	SecretRef   string `json:"secret_ref" gorm:"column:secret_ref;size:128;index"`
	TaskID      string `json:"task_id" gorm:"column:task_id;size:64;index"`

	Metadata Metadata `json:"metadata" gorm:"column:metadata;type:text"`

	// 非终态时为 (owner, content, group) 的哈希，终态时置 NULL
	// 唯一索引保证同一三元组最多一个进行中的实例
	ActiveKey *string `json:"-" gorm:"column:active_key;size:64;uniqueIndex"`

	CreateTime time.Time `json:"create_time" gorm:"column:gmt_create;autoCreateTime;index:idx_instance_state_modified"`
	UpdateTime time.Time `json:"update_time" gorm:"column:gmt_modified;autoUpdateTime"`
}

func (Instance) TableName() string {
	return "instance"
}

// Metadata 实例附加信息，ACTIVE/TERMINATED 时清空，ERROR 时只保留 error
type Metadata map[string]string

const (
	MetaQueuePosition = "queue_position"
	MetaPriority      = "priority"
	MetaError         = "error"
	MetaAttempt       = "attempt"
	// MetaRedrive 对账任务重新投递的次数
	MetaRedrive = "redrive"
)

func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

func (m Metadata) Int(key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ErrorMetadata 进入 ERROR 时的 metadata
func ErrorMetadata(reason string) Metadata {
	return Metadata{MetaError: reason}
}

var transitions = map[string][]string{
	InstanceStateQueued:       {InstanceStateProvisioning, InstanceStateError, InstanceStateTerminating, InstanceStateTerminated},
	InstanceStateProvisioning: {InstanceStateActive, InstanceStateError, InstanceStateTerminating},
	InstanceStateActive:       {InstanceStateTerminating},
	InstanceStateTerminating:  {InstanceStateTerminated},
}

// CanTransition 状态只能前进
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalState(state string) bool {
	return state == InstanceStateError || state == InstanceStateTerminated
}

func NonTerminalStates() []string {
	return []string{InstanceStateQueued, InstanceStateProvisioning, InstanceStateActive, InstanceStateTerminating}
}

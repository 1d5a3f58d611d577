// Package queue 带准入控制的优先级任务队列
//
// 排序规则：priority 越小越先出队，同一优先级按入队序号 FIFO。
// 正在执行（claimed）的任务数不超过 MaxInFlight，待执行任务数超过 MaxPending 时入队直接失败。
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labspawn/pkg/log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

var (
	ErrQueueFull       = errors.New("queue: too many pending tasks")
	ErrTaskNotFound    = errors.New("queue: task not found")
	ErrLeaseLost       = errors.New("queue: task lease lost")
	ErrAlreadyComplete = errors.New("queue: task already has a result")
)

type Kind string

const (
	KindProvision Kind = "provision"
	KindTerminate Kind = "terminate"
)

type Task struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	Kind       Kind      `json:"kind"`
	Priority   int       `json:"priority"`
	Seq        int64     `json:"seq"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Result 写入后不可修改
type Result struct {
	Success    bool      `json:"success"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskClaimed TaskState = "claimed"
	TaskDone    TaskState = "done"
)

type TaskView struct {
	Task  Task
	State TaskState
	// Position 只对 pending 有意义，从 0 开始
	Position int
	Result   *Result
}

type Stats struct {
	Pending     int
	InFlight    int
	Results     int
	MaxInFlight int
	MaxPending  int
}

type Queue interface {
	// Enqueue 不阻塞，超过 MaxPending 返回 ErrQueueFull
	Enqueue(ctx context.Context, task *Task) (string, error)
	// Dequeue 阻塞直到可以认领一个任务或 ctx 结束
	Dequeue(ctx context.Context) (*Task, error)
	Peek(ctx context.Context, taskID string) (*TaskView, error)
	Complete(ctx context.Context, taskID string, result Result) error
	Heartbeat(ctx context.Context, taskID string) error
	// Cancel 只移除还没被认领的任务
	Cancel(ctx context.Context, taskID string) (bool, error)
	RequeueExpired(ctx context.Context) (int, error)
	PurgeResults(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

type Options struct {
	MaxInFlight int
	MaxPending  int
	Lease       time.Duration
	ResultGrace time.Duration
	// PollInterval redis 驱动轮询认领的间隔
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 4
	}
	if o.Lease <= 0 {
		o.Lease = 2 * time.Minute
	}
	if o.ResultGrace <= 0 {
		o.ResultGrace = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	return o
}

func OptionsFromConfig(conf *viper.Viper) Options {
	return Options{
		MaxInFlight:  conf.GetInt("orchestrator.max_in_flight"),
		MaxPending:   conf.GetInt("orchestrator.max_pending"),
		Lease:        conf.GetDuration("orchestrator.lease"),
		ResultGrace:  conf.GetDuration("orchestrator.result_grace"),
		PollInterval: conf.GetDuration("orchestrator.queue.poll_interval"),
	}
}

// NewQueue 按 orchestrator.queue.driver 选择实现
func NewQueue(conf *viper.Viper, rdb *redis.Client, logger *log.Logger) (Queue, error) {
	opts := OptionsFromConfig(conf)
	switch driver := conf.GetString("orchestrator.queue.driver"); driver {
	case "", "memory":
		return NewMemoryQueue(opts), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("orchestrator.queue.driver=redis requires data.redis.addr")
		}
		return NewRedisQueue(rdb, conf.GetString("orchestrator.queue.prefix"), opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", driver)
	}
}

// less 优先级相同时按序号
func less(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Seq < b.Seq
}

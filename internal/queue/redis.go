package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"labspawn/pkg/log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 分数 = priority * seqSpan + seq，ZRANK 即为排队位置
// float64 精度要求 priority 不超过 maxPriority
const (
	seqSpan     = 1e12
	maxPriority = 8000
)

var enqueueScript = redis.NewScript(`
if tonumber(ARGV[1]) > 0 and redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[2], 'data', ARGV[3], 'score', ARGV[2], 'attempt', 0)
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
return 1
`)

// 认领：在途数未满时弹出分数最小的任务并记录租约截止时间
var claimScript = redis.NewScript(`
if redis.call('ZCARD', KEYS[2]) >= tonumber(ARGV[1]) then
  return false
end
local ids = redis.call('ZRANGE', KEYS[1], 0, 0)
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

var heartbeatScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

var completeScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[3], 'result') == 1 then
  return -1
end
local removed = redis.call('ZREM', KEYS[1], ARGV[3]) + redis.call('ZREM', KEYS[2], ARGV[3])
if removed == 0 then
  return 0
end
redis.call('HSET', KEYS[3], 'result', ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[3])
return 1
`)

var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local key = ARGV[2] .. id
  local score = redis.call('HGET', key, 'score')
  if score then
    redis.call('ZADD', KEYS[2], score, id)
    redis.call('HINCRBY', key, 'attempt', 1)
  end
end
return #ids
`)

// RedisQueue 多实例共享的实现
//
//	<prefix>pending   zset  taskID -> priority*1e12+seq
//	<prefix>inflight  zset  taskID -> 租约截止时间(ms)
//	<prefix>done      zset  taskID -> 完成时间(ms)
//	<prefix>task:<id> hash  data / score / attempt / result
//	<prefix>seq       string 自增序号
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
	opts   Options
	logger *log.Logger
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(rdb *redis.Client, prefix string, opts Options, logger *log.Logger) *RedisQueue {
	if prefix == "" {
		prefix = "labspawn:queue:"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix, opts: opts.withDefaults(), logger: logger}
}

func (q *RedisQueue) pendingKey() string       { return q.prefix + "pending" }
func (q *RedisQueue) inflightKey() string      { return q.prefix + "inflight" }
func (q *RedisQueue) doneKey() string          { return q.prefix + "done" }
func (q *RedisQueue) seqKey() string           { return q.prefix + "seq" }
func (q *RedisQueue) taskPrefix() string       { return q.prefix + "task:" }
func (q *RedisQueue) taskKey(id string) string { return q.taskPrefix() + id }

func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) (string, error) {
	if task.Priority < 0 || task.Priority > maxPriority {
		return "", fmt.Errorf("queue: priority %d out of range [0,%d]", task.Priority, maxPriority)
	}
	seq, err := q.rdb.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return "", fmt.Errorf("queue: next seq: %w", err)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Seq = seq
	task.EnqueuedAt = time.Now()
	data, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	score := strconv.FormatInt(int64(task.Priority)*int64(seqSpan)+seq, 10)

	ok, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.pendingKey(), q.taskKey(task.ID)},
		q.opts.MaxPending, score, string(data), task.ID,
	).Int()
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	if ok == 0 {
		return "", ErrQueueFull
	}
	return task.ID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		task, err := q.tryClaim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			q.logger.WithContext(ctx).Warn("queue claim failed", zap.Error(err))
		}
		if task != nil {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *RedisQueue) tryClaim(ctx context.Context) (*Task, error) {
	deadline := time.Now().Add(q.opts.Lease).UnixMilli()
	id, err := claimScript.Run(ctx, q.rdb,
		[]string{q.pendingKey(), q.inflightKey()},
		q.opts.MaxInFlight, deadline,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	task, _, _, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		// 任务数据丢失，释放在途名额
		q.rdb.ZRem(ctx, q.inflightKey(), id)
		return nil, nil
	}
	return task, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Task, *Result, bool, error) {
	fields, err := q.rdb.HGetAll(ctx, q.taskKey(id)).Result()
	if err != nil {
		return nil, nil, false, err
	}
	raw, ok := fields["data"]
	if !ok {
		return nil, nil, false, nil
	}
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, nil, false, fmt.Errorf("queue: decode task %s: %w", id, err)
	}
	if a, err := strconv.Atoi(fields["attempt"]); err == nil {
		task.Attempt = a
	}
	res, ok := fields["result"]
	if !ok {
		return &task, nil, false, nil
	}
	var result Result
	if err := json.Unmarshal([]byte(res), &result); err != nil {
		return nil, nil, false, fmt.Errorf("queue: decode result %s: %w", id, err)
	}
	return &task, &result, true, nil
}

func (q *RedisQueue) Peek(ctx context.Context, taskID string) (*TaskView, error) {
	task, result, done, err := q.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if done {
		return &TaskView{Task: *task, State: TaskDone, Result: result}, nil
	}
	rank, err := q.rdb.ZRank(ctx, q.pendingKey(), taskID).Result()
	if err == nil {
		return &TaskView{Task: *task, State: TaskPending, Position: int(rank)}, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return &TaskView{Task: *task, State: TaskClaimed}, nil
}

func (q *RedisQueue) Complete(ctx context.Context, taskID string, result Result) error {
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	ret, err := completeScript.Run(ctx, q.rdb,
		[]string{q.inflightKey(), q.pendingKey(), q.taskKey(taskID), q.doneKey()},
		string(data), result.FinishedAt.UnixMilli(), taskID,
	).Int()
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	switch ret {
	case -1:
		return ErrAlreadyComplete
	case 0:
		return ErrTaskNotFound
	}
	// 兜底过期，正常由 PurgeResults 清理
	q.rdb.Expire(ctx, q.taskKey(taskID), 2*q.opts.ResultGrace)
	return nil
}

func (q *RedisQueue) Heartbeat(ctx context.Context, taskID string) error {
	deadline := time.Now().Add(q.opts.Lease).UnixMilli()
	ok, err := heartbeatScript.Run(ctx, q.rdb, []string{q.inflightKey()}, deadline, taskID).Int()
	if err != nil {
		return fmt.Errorf("queue: heartbeat: %w", err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *RedisQueue) Cancel(ctx context.Context, taskID string) (bool, error) {
	removed, err := q.rdb.ZRem(ctx, q.pendingKey(), taskID).Result()
	if err != nil {
		return false, fmt.Errorf("queue: cancel: %w", err)
	}
	if removed == 0 {
		return false, nil
	}
	if err := q.rdb.Del(ctx, q.taskKey(taskID)).Err(); err != nil {
		return true, fmt.Errorf("queue: cancel: %w", err)
	}
	return true, nil
}

func (q *RedisQueue) RequeueExpired(ctx context.Context) (int, error) {
	n, err := requeueScript.Run(ctx, q.rdb,
		[]string{q.inflightKey(), q.pendingKey()},
		time.Now().UnixMilli(), q.taskPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: requeue: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) PurgeResults(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-q.opts.ResultGrace).UnixMilli()
	ids, err := q.rdb.ZRangeByScore(ctx, q.doneKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: purge: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids))
	members := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, q.taskKey(id))
		members = append(members, id)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, q.doneKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("queue: purge: %w", err)
	}
	return len(ids), nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	pending := pipe.ZCard(ctx, q.pendingKey())
	inflight := pipe.ZCard(ctx, q.inflightKey())
	done := pipe.ZCard(ctx, q.doneKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return Stats{
		Pending:     int(pending.Val()),
		InFlight:    int(inflight.Val()),
		Results:     int(done.Val()),
		MaxInFlight: q.opts.MaxInFlight,
		MaxPending:  q.opts.MaxPending,
	}, nil
}

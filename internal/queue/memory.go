package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	task       Task
	state      TaskState
	index      int
	leaseUntil time.Time
	result     *Result
}

type taskHeap []*entry

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return less(&h[i].task, &h[j].task) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// MemoryQueue 单进程实现，所有状态由一把锁保护
type MemoryQueue struct {
	mu       sync.Mutex
	opts     Options
	pending  taskHeap
	tasks    map[string]*entry
	seq      int64
	inFlight int
	// 状态变化时关闭并替换，唤醒所有等待中的 Dequeue
	changed chan struct{}
	now     func() time.Time
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:    opts.withDefaults(),
		tasks:   make(map[string]*entry),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

func (q *MemoryQueue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *MemoryQueue) Enqueue(_ context.Context, task *Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.opts.MaxPending > 0 && q.pending.Len() >= q.opts.MaxPending {
		return "", ErrQueueFull
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	q.seq++
	task.Seq = q.seq
	task.EnqueuedAt = q.now()

	e := &entry{task: *task, state: TaskPending}
	q.tasks[task.ID] = e
	heap.Push(&q.pending, e)
	q.broadcast()
	return task.ID, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if q.inFlight < q.opts.MaxInFlight && q.pending.Len() > 0 {
			e := heap.Pop(&q.pending).(*entry)
			e.state = TaskClaimed
			e.leaseUntil = q.now().Add(q.opts.Lease)
			q.inFlight++
			t := e.task
			q.mu.Unlock()
			return &t, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (q *MemoryQueue) Peek(_ context.Context, taskID string) (*TaskView, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	view := &TaskView{Task: e.task, State: e.state}
	switch e.state {
	case TaskPending:
		for _, other := range q.pending {
			if less(&other.task, &e.task) {
				view.Position++
			}
		}
	case TaskDone:
		r := *e.result
		view.Result = &r
	}
	return view, nil
}

func (q *MemoryQueue) Complete(_ context.Context, taskID string, result Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	switch e.state {
	case TaskDone:
		return ErrAlreadyComplete
	case TaskClaimed:
		q.inFlight--
	case TaskPending:
		// 租约过期被重新排队后，原 worker 仍然完成了任务
		heap.Remove(&q.pending, e.index)
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = q.now()
	}
	e.state = TaskDone
	e.result = &result
	q.broadcast()
	return nil
}

func (q *MemoryQueue) Heartbeat(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if e.state != TaskClaimed {
		return ErrLeaseLost
	}
	e.leaseUntil = q.now().Add(q.opts.Lease)
	return nil
}

func (q *MemoryQueue) Cancel(_ context.Context, taskID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.tasks[taskID]
	if !ok || e.state != TaskPending {
		return false, nil
	}
	heap.Remove(&q.pending, e.index)
	delete(q.tasks, taskID)
	return true, nil
}

func (q *MemoryQueue) RequeueExpired(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for _, e := range q.tasks {
		if e.state != TaskClaimed || now.Before(e.leaseUntil) {
			continue
		}
		// 保留原序号，重新排队后位置不变
		e.state = TaskPending
		e.task.Attempt++
		e.leaseUntil = time.Time{}
		heap.Push(&q.pending, e)
		q.inFlight--
		n++
	}
	if n > 0 {
		q.broadcast()
	}
	return n, nil
}

func (q *MemoryQueue) PurgeResults(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.opts.ResultGrace)
	n := 0
	for id, e := range q.tasks {
		if e.state == TaskDone && e.result.FinishedAt.Before(cutoff) {
			delete(q.tasks, id)
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	results := 0
	for _, e := range q.tasks {
		if e.state == TaskDone {
			results++
		}
	}
	return Stats{
		Pending:     q.pending.Len(),
		InFlight:    q.inFlight,
		Results:     results,
		MaxInFlight: q.opts.MaxInFlight,
		MaxPending:  q.opts.MaxPending,
	}, nil
}

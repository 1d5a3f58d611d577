package server

import (
	"context"
	"errors"
	"sync"

	"labspawn/internal/worker"
	"labspawn/pkg/log"

	"go.uber.org/zap"
)

// WorkerServer 运行 worker 池；Stop 后不再认领新任务，执行中的任务继续跑完或等租约过期
type WorkerServer struct {
	pool *worker.Pool
	log  *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorkerServer(
	log *log.Logger,
	pool *worker.Pool,
) *WorkerServer {
	return &WorkerServer{
		pool: pool,
		log:  log,
	}
}

func (s *WorkerServer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()
	defer close(done)

	s.log.Info("starting worker server")
	err := s.pool.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("worker pool exited", zap.Error(err))
		return err
	}
	return nil
}

func (s *WorkerServer) Stop(ctx context.Context) error {
	s.log.Info("stopping worker server")
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

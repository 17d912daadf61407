package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// JobHandler processes one dispatch job.
type JobHandler interface {
	Dispatch(ctx context.Context, job queue.DispatchJob) error
}

// WorkerService runs dispatch job consumers. Each consumer handles one
// campaign at a time, so concurrency bounds how many campaigns drain in
// parallel.
type WorkerService struct {
	consumer    queue.Consumer
	handler     JobHandler
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(consumer queue.Consumer, handler JobHandler, concurrency int, logger *zap.Logger) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("job handler is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		handler:     handler,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the dispatch queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DispatchQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.DispatchQueue, s.handler.Dispatch)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

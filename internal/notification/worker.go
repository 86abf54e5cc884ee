package notification

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerPool sends deliveries in the background with a bounded queue.
type WorkerPool struct {
	size    int
	jobs    chan Delivery
	sender  Sender
	timeout time.Duration
	logger  *logrus.Entry
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size, queueSize int, sender Sender, timeout time.Duration, logger *logrus.Entry) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Delivery, queueSize),
		sender:  sender,
		timeout: timeout,
		logger:  logger,
	}
}

// Start launches the worker goroutines. They stop when ctx is done.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debugf("worker %d started", id)
	for {
		select {
		case d := <-wp.jobs:
			wp.deliver(ctx, id, d)
		case <-ctx.Done():
			wp.logger.Debugf("worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a delivery without blocking. It returns false when the queue is full.
func (wp *WorkerPool) Dispatch(d Delivery) bool {
	select {
	case wp.jobs <- d:
		return true
	default:
		wp.logger.Warnf("delivery queue full, dropping code of challenge %s", d.ChallengeID)
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Delivery {
	return wp.jobs
}

func (wp *WorkerPool) deliver(ctx context.Context, id int, d Delivery) {
	if wp.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.timeout)
		defer cancel()
	}

	if err := wp.sender.Send(ctx, d); err != nil {
		wp.logger.Errorf("worker %d could not deliver code of challenge %s over %s: %s", id, d.ChallengeID, d.Channel, err)
		return
	}
	wp.logger.Infof("worker %d delivered code of challenge %s over %s", id, d.ChallengeID, d.Channel)
}

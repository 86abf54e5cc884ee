package transfer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"device-registry-backend/internal/logging"
)

const sweepBatch = 500

// Sweeper is the cron job that expires attempts nobody came back to.
type Sweeper struct {
	workflow *Workflow
	timeout  time.Duration
	logger   *logrus.Entry
}

func NewSweeper(workflow *Workflow, timeout time.Duration, logger *logrus.Entry) *Sweeper {
	return &Sweeper{workflow: workflow, timeout: timeout, logger: logger}
}

// Run satisfies cron.Job. Each run handles at most one batch; leftovers wait for the next run.
func (s *Sweeper) Run() {
	ctx := logging.InitContext()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.Sweep(ctx)
}

func (s *Sweeper) Sweep(ctx context.Context) int {
	lFunc := logging.ConfigureLogger(ctx, s.logger)

	now := s.workflow.now()
	lFunc.Debug("starting transfer expiry sweep")
	n, err := s.workflow.ExpireStale(ctx, now, sweepBatch)
	if err != nil {
		lFunc.Errorf("transfer expiry sweep stopped early after %d attempts: %s", n, err)
		return n
	}
	if n > 0 {
		lFunc.Infof("expired %d stale transfer attempts", n)
	}
	return n
}

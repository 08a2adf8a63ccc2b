package outbox

import (
	"context"
	"time"

	"github.com/richardliu001/ticket-service/internal/clock"
	"github.com/richardliu001/ticket-service/internal/repo"
	"go.uber.org/zap"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultBatchSize = 20
)

// BatchProcessor runs one dispatch cycle.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, maxMessages int, partition *repo.Partition) (BatchResult, error)
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	Partition *repo.Partition
}

// Scheduler runs ProcessBatch every Interval until its context ends.
type Scheduler struct {
	proc      BatchProcessor
	clock     clock.Clock
	interval  time.Duration
	batchSize int
	partition *repo.Partition
	log       *zap.SugaredLogger
}

func NewScheduler(proc BatchProcessor, cfg SchedulerConfig, clk clock.Clock, log *zap.SugaredLogger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		proc:      proc,
		clock:     clk,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		partition: cfg.Partition,
		log:       log,
	}
}

// Run loops until ctx is cancelled and then returns nil. A failing or panicking cycle is
// logged and the loop carries on.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("outbox scheduler started interval=%s batch=%d partition=%s",
		s.interval, s.batchSize, s.partition)
	for {
		if ctx.Err() != nil {
			s.log.Info("outbox scheduler stopped")
			return nil
		}
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("outbox scheduler stopped")
			return nil
		case <-s.clock.After(s.interval):
		}
	}
}

// RunOnce executes a single cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (res BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("outbox cycle panic: %v", r)
		}
	}()

	res, err = s.proc.ProcessBatch(ctx, s.batchSize, s.partition)
	if err != nil {
		s.log.Errorf("outbox cycle: %v", err)
	}
	return res, err
}

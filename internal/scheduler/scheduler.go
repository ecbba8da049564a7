package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/engine"
)

// SweepRecorder observes completed sweeps.
type SweepRecorder interface {
	RecordSweep(settled, failed int, duration time.Duration)
}

// StakingSweeper settles matured staking positions on a cron schedule.
// Reads settle lazily as well, so the sweep only bounds how long a matured
// position can stay unpaid for an account that never looks at it.
type StakingSweeper struct {
	cron      *cron.Cron
	staking   engine.StakingEngine
	recorder  SweepRecorder
	schedule  string
	batchSize int
	timeout   time.Duration
	logger    *logrus.Logger
}

func NewStakingSweeper(staking engine.StakingEngine, recorder SweepRecorder, schedule string, batchSize int, logger *logrus.Logger) *StakingSweeper {
	cronLogger := cron.PrintfLogger(logger)
	return &StakingSweeper{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		staking:   staking,
		recorder:  recorder,
		schedule:  schedule,
		batchSize: batchSize,
		timeout:   5 * time.Minute,
		logger:    logger,
	}
}

// Start registers the sweep job and starts the cron runner.
func (s *StakingSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("Staking sweeper started")
	return nil
}

// Stop halts the runner and waits for a running sweep to finish or ctx to
// expire.
func (s *StakingSweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Staking sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StakingSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("Staking sweep failed")
	}
}

// RunOnce settles every position matured by now.
func (s *StakingSweeper) RunOnce(ctx context.Context) (*engine.SweepResult, error) {
	result, err := s.staking.SweepMatured(ctx, s.batchSize)
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.RecordSweep(result.Settled, result.Failed, result.Elapsed)
	}

	entry := s.logger.WithFields(logrus.Fields{
		"settled": result.Settled,
		"failed":  result.Failed,
		"elapsed": result.Elapsed.String(),
	})
	switch {
	case result.Failed > 0:
		entry.Warn("Staking sweep finished with failures")
	case result.Settled > 0:
		entry.Info("Staking sweep settled matured positions")
	default:
		entry.Debug("Staking sweep found nothing to settle")
	}
	return result, nil
}

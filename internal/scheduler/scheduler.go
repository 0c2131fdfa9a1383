package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/dbourene/kinjo-production/internal/production"
)

// Runner is the part of production.Service the scheduler drives.
type Runner interface {
	Calculate(ctx context.Context, installationID string, overrides production.Overrides) (production.Summary, error)
	Reconcile(ctx context.Context) (int, error)
}

// Config controls which jobs are registered. A zero interval disables a job.
type Config struct {
	Installations     []string
	RecalcInterval    time.Duration
	ReconcileInterval time.Duration
	RunTimeout        time.Duration
}

// Scheduler periodically recalculates configured installations and replays
// record updates left behind by failed runs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	cfg       Config
	logger    *zap.Logger
}

// New creates a new Scheduler.
func New(cfg Config, runner Runner, logger *zap.Logger) *Scheduler {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	jobs := 0

	if s.cfg.RecalcInterval > 0 && len(s.cfg.Installations) > 0 {
		if _, err := s.scheduler.Every(s.cfg.RecalcInterval).WaitForSchedule().SingletonMode().Do(s.recalculate); err != nil {
			return fmt.Errorf("schedule recalculation: %w", err)
		}
		jobs++
	} else {
		s.logger.Info("scheduler: recalculation disabled")
	}

	if s.cfg.ReconcileInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.ReconcileInterval).SingletonMode().Do(s.reconcile); err != nil {
			return fmt.Errorf("schedule reconciliation: %w", err)
		}
		jobs++
	}

	if jobs == 0 {
		s.logger.Info("scheduler: nothing to schedule")
		return nil
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) recalculate() {
	if err := s.RecalculateAll(context.Background()); err != nil {
		s.logger.Error("scheduler: recalculation finished with errors", zap.Error(err))
	}
}

// RecalculateAll runs every configured installation concurrently and
// aggregates the failures.
func (s *Scheduler) RecalculateAll(ctx context.Context) error {
	s.logger.Info("scheduler: running production recalculation",
		zap.Int("installations", len(s.cfg.Installations)))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, id := range s.cfg.Installations {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()

			runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
			defer cancel()

			summary, err := s.runner.Calculate(runCtx, id, production.Overrides{})
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("installation %s: %w", id, err))
				mu.Unlock()
				return
			}
			s.logger.Info("scheduler: installation recalculated",
				zap.String("installation_id", id),
				zap.Float64("energie_kwh", summary.EnergyKWh))
		}()
	}
	wg.Wait()
	s.logger.Info("scheduler: completed production recalculation")
	return result.ErrorOrNil()
}

func (s *Scheduler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	committed, err := s.runner.Reconcile(ctx)
	if err != nil {
		s.logger.Error("scheduler: reconciliation finished with errors",
			zap.Int("committed", committed),
			zap.Error(err))
		return
	}
	if committed > 0 {
		s.logger.Info("scheduler: reconciled runs", zap.Int("committed", committed))
	}
}

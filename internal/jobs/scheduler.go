package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/vatledger/engine/internal/apperror"
	"github.com/vatledger/engine/internal/logger"
	"github.com/vatledger/engine/internal/metrics"
	"github.com/vatledger/engine/internal/service"
	"github.com/vatledger/engine/internal/vat"
)

const (
	JobSweep         = "tax-record-sweep"
	JobMonthlyReturn = "monthly-draft-return"
)

// Config controls which jobs run and when.
type Config struct {
	SweepInterval time.Duration
	MonthlyReturn bool
	// Location the monthly job fires in and computes period bounds in.
	Location   *time.Location
	JobTimeout time.Duration
}

// Scheduler runs the engine's background jobs: a periodic sweep that creates
// missing tax records and a monthly draft return for the previous month.
type Scheduler struct {
	scheduler gocron.Scheduler
	records   service.TaxRecordService
	returns   service.TaxReturnService
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics

	jobs map[string]gocron.Job
	mu   sync.RWMutex

	stopOnce sync.Once
	stopErr  error
}

// NewScheduler creates the scheduler and registers its jobs. Nothing runs
// until Start.
func NewScheduler(cfg Config, records service.TaxRecordService, returns service.TaxReturnService,
	l *zap.Logger, m *metrics.Metrics) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if l == nil {
		l = zap.NewNop()
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: scheduler,
		records:   records,
		returns:   returns,
		cfg:       cfg,
		logger:    l.Named("jobs"),
		metrics:   m,
		jobs:      make(map[string]gocron.Job),
	}
	if err := s.registerJobs(); err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) registerJobs() error {
	if s.cfg.SweepInterval > 0 {
		job, err := s.scheduler.NewJob(
			gocron.DurationJob(s.cfg.SweepInterval),
			gocron.NewTask(s.Sweep),
			gocron.WithName(JobSweep),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to create sweep job: %w", err)
		}
		s.jobs[JobSweep] = job
	}

	if s.cfg.MonthlyReturn {
		job, err := s.scheduler.NewJob(
			gocron.MonthlyJob(1, gocron.NewDaysOfTheMonth(1), gocron.NewAtTimes(gocron.NewAtTime(2, 0, 0))),
			gocron.NewTask(func(ctx context.Context) error {
				return s.GenerateMonthlyDraft(ctx, time.Now())
			}),
			gocron.WithName(JobMonthlyReturn),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to create monthly return job: %w", err)
		}
		s.jobs[JobMonthlyReturn] = job
	}

	s.logger.Info("Registered background jobs", zap.Strings("jobs", s.JobNames()))
	return nil
}

// Start starts the job scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting background job scheduler")
	s.scheduler.Start()
}

// Stop cancels the context of running jobs, waits for them to return and
// stops the scheduler. Later calls return the first result.
func (s *Scheduler) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background job scheduler")
		s.stopErr = s.scheduler.Shutdown()
	})
	return s.stopErr
}

// JobNames lists the registered jobs, sorted.
func (s *Scheduler) JobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun reports when a registered job fires next.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, apperror.Errorf(apperror.ENOTFOUND, "jobs.next_run", "no job named %q", name)
	}
	return job.NextRun()
}

// Sweep computes the tax records that are still missing. Per-order failures
// are logged by the service and retried on the next sweep.
func (s *Scheduler) Sweep(ctx context.Context) error {
	return s.run(ctx, JobSweep, func(ctx context.Context) error {
		result, err := s.records.SweepMissing(ctx)
		if err != nil {
			s.logger.Warn("Sweep finished with failures",
				zap.Int("processed", result.Processed),
				zap.Int("failed", len(result.Failed)))
		}
		return err
	})
}

// GenerateMonthlyDraft generates the DRAFT return of the month before now.
// A month that is already filed is left alone.
func (s *Scheduler) GenerateMonthlyDraft(ctx context.Context, now time.Time) error {
	return s.run(ctx, JobMonthlyReturn, func(ctx context.Context) error {
		thisMonth, _ := vat.PeriodBounds(vat.PeriodMonthly, now.In(s.cfg.Location))
		start, end := vat.PeriodBounds(vat.PeriodMonthly, thisMonth.AddDate(0, -1, 0))

		ret, err := s.returns.GenerateTaxReturn(ctx, vat.PeriodMonthly, start, end)
		if apperror.IsInvalidState(err) {
			s.logger.Info("Previous month already filed, skipping draft", zap.Time("start", start))
			return nil
		}
		if err != nil {
			return err
		}
		s.logger.Info("Draft return ready",
			zap.String("period", ret.Period),
			zap.String("vat_due", ret.TotalVatDue.String()))
		return nil
	})
}

func (s *Scheduler) run(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx = logger.WithJob(ctx, name)
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	started := time.Now()
	err := fn(ctx)
	s.metrics.Job(name, started, err)

	if err != nil {
		s.logger.Error("Job failed", zap.String("job", name), zap.Duration("took", time.Since(started)), zap.Error(err))
		return err
	}
	s.logger.Debug("Job finished", zap.String("job", name), zap.Duration("took", time.Since(started)))
	return nil
}

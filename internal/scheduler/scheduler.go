package scheduler

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

const (
	sweepTimeout  = time.Minute
	reportTimeout = 2 * time.Minute
)

// Sweeper re-queues notifications left pending.
type Sweeper interface {
	ResumePending(ctx context.Context) (int, error)
}

// Reporter exports the daily delivery report.
type Reporter interface {
	ExportDailyReport(ctx context.Context, now time.Time) (models.DeliveryReport, error)
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	reporter Reporter
	cfg      config.Config
	loc      *time.Location
	logger   *zap.Logger
}

// NewScheduler creates a new scheduler instance. reporter may be nil.
func NewScheduler(cfg config.Config, sweeper Sweeper, reporter Reporter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := time.LoadLocation(cfg.Reporting.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Reporting.Timezone, err)
	}

	// robfig/cron/v3 default parser is standard cron (5 fields: min, hour, dom, month, dow)
	// and also accepts descriptors such as "@every 1m".
	c := cron.New(cron.WithLocation(loc))

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		reporter: reporter,
		cfg:      cfg,
		loc:      loc,
		logger:   logger,
	}, nil
}

// Start registers the jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler", zap.String("timezone", s.loc.String()))

	if _, err := s.cron.AddFunc(s.cfg.Dispatcher.SweepSchedule, s.sweepPending); err != nil {
		return fmt.Errorf("schedule pending sweep %q: %w", s.cfg.Dispatcher.SweepSchedule, err)
	}

	if s.reporter != nil {
		if _, err := s.cron.AddFunc(s.cfg.Reporting.CronSchedule, s.exportDailyReport); err != nil {
			return fmt.Errorf("schedule daily report %q: %w", s.cfg.Reporting.CronSchedule, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("stopping scheduler")
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler jobs still running at shutdown")
	}
}

func (s *Scheduler) sweepPending() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := s.sweeper.ResumePending(ctx)
	if err != nil {
		s.logger.Error("pending sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("pending sweep queued notifications", zap.Int("count", n))
	}
}

func (s *Scheduler) exportDailyReport() {
	s.logger.Info("generating daily delivery report")
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	if _, err := s.reporter.ExportDailyReport(ctx, time.Now().In(s.loc)); err != nil {
		s.logger.Error("failed to export daily delivery report", zap.Error(err))
	}
}

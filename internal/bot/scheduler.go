package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"stakan-guard/internal/modules/mute"
)

type sweeper interface {
	Sweep(ctx context.Context) (mute.SweepReport, error)
}

type pruner interface {
	Prune(now time.Time) int
}

type auditCleaner interface {
	CleanupAuditLogs(ctx context.Context, before time.Time) (int64, error)
}

type SchedulerConfig struct {
	SweepInterval     time.Duration
	PruneInterval     time.Duration
	RetentionInterval time.Duration
	Retention         time.Duration
}

// Scheduler runs the periodic jobs: the mute sweep, spam state pruning and
// audit log retention.
type Scheduler struct {
	config  SchedulerConfig
	mutes   sweeper
	spam    pruner
	cleaner auditCleaner
	logger  *zap.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewScheduler(cfg SchedulerConfig, mutes sweeper, spam pruner, cleaner auditCleaner, logger *zap.Logger) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Minute
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = 24 * time.Hour
	}
	return &Scheduler{
		config:  cfg,
		mutes:   mutes,
		spam:    spam,
		cleaner: cleaner,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.every(s.config.SweepInterval, true, s.sweep)
	if s.spam != nil {
		s.wg.Add(1)
		go s.every(s.config.PruneInterval, false, s.prune)
	}
	if s.cleaner != nil && s.config.Retention > 0 {
		s.wg.Add(1)
		go s.every(s.config.RetentionInterval, true, s.cleanup)
	}
}

// Stop waits for the running jobs to return. It is safe to call twice.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Scheduler) every(interval time.Duration, immediate bool, job func(time.Duration)) {
	defer s.wg.Done()
	if immediate {
		job(interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			job(interval)
		}
	}
}

func (s *Scheduler) sweep(budget time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	report, err := s.mutes.Sweep(ctx)
	if err != nil {
		s.logger.Warn("mute sweep incomplete", zap.Int("released", report.Released), zap.Int("failed", report.Failed), zap.Error(err))
		return
	}
	if report.Released > 0 || report.Missing > 0 {
		s.logger.Info("mute sweep", zap.Int("released", report.Released), zap.Int("missing", report.Missing), zap.Int("pending", report.Pending))
	}
}

func (s *Scheduler) prune(time.Duration) {
	if dropped := s.spam.Prune(time.Now().UTC()); dropped > 0 {
		s.logger.Debug("spam tracker pruned", zap.Int("dropped", dropped))
	}
}

func (s *Scheduler) cleanup(budget time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), min(budget, time.Minute))
	defer cancel()
	removed, err := s.cleaner.CleanupAuditLogs(ctx, time.Now().UTC().Add(-s.config.Retention))
	if err != nil {
		s.logger.Warn("audit retention failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("audit retention", zap.Int64("removed", removed))
	}
}

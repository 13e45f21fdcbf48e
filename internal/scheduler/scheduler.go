// Package scheduler submits periodic refresh jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

// Trigger values recorded on jobs submitted by the scheduler.
const (
	TriggerStartup = "startup"
	TriggerNightly = "nightly"
	TriggerWeekly  = "weekly"
)

// Submitter queues a refresh job. *dispatcher.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, kind catalog.JobKind, pids []string, trigger string) (string, error)
}

// Config holds six-field cron specs (with seconds). An empty spec disables
// that schedule.
type Config struct {
	OnStartup   bool
	Nightly     string
	WeeklyReset string
}

// Scheduler owns the cron runner. Callbacks only enqueue; the work happens on
// the worker pool.
type Scheduler struct {
	cron      *cron.Cron
	cfg       Config
	submitter Submitter
	logger    *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New validates the cron expressions and registers the jobs.
func New(cfg Config, submitter Submitter, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		cfg:       cfg,
		submitter: submitter,
		logger:    logger.Named("scheduler"),
		ctx:       context.Background(),
	}
	if cfg.Nightly != "" {
		if err := s.cron.AddFunc(cfg.Nightly, s.nightly); err != nil {
			return nil, fmt.Errorf("nightly schedule %q: %w", cfg.Nightly, err)
		}
	}
	if cfg.WeeklyReset != "" {
		if err := s.cron.AddFunc(cfg.WeeklyReset, s.weekly); err != nil {
			return nil, fmt.Errorf("weekly reset schedule %q: %w", cfg.WeeklyReset, err)
		}
	}
	return s, nil
}

// Start submits the startup job when enabled and starts the cron runner.
// ctx bounds the submissions made by later callbacks.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if s.cfg.OnStartup {
		s.submit(catalog.JobBootstrap, TriggerStartup)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("schedules", len(s.cron.Entries())))
}

// Stop halts the cron runner. Jobs already queued still run.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) nightly() {
	s.submit(catalog.JobRefresh, TriggerNightly)
}

func (s *Scheduler) weekly() {
	s.submit(catalog.JobReset, TriggerWeekly)
}

func (s *Scheduler) submit(kind catalog.JobKind, trigger string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	id, err := s.submitter.Submit(ctx, kind, nil, trigger)
	if err != nil {
		s.logger.Error("submit scheduled job", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	s.logger.Debug("scheduled job submitted", zap.String("trigger", trigger), zap.String("job_id", id))
}

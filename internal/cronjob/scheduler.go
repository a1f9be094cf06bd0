package cronjob

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/logging"
	"github.com/robfig/cron/v3"
)

// StaleLister lists assessments left analyzing
type StaleLister interface {
	Stale(ctx context.Context) ([]domain.Assessment, error)
}

// Runs starts analyses and reports the ones running here
type Runs interface {
	Start(ctx context.Context, assessmentID string) error
	Active(assessmentID string) bool
}

// Scheduler resumes interrupted analyses on a cron schedule
type Scheduler struct {
	ctx   context.Context
	stale StaleLister
	runs  Runs
	cron  *cron.Cron
}

func NewScheduler(ctx context.Context, stale StaleLister, runs Runs) *Scheduler {
	return &Scheduler{ctx: ctx, stale: stale, runs: runs}
}

// Start registers the resume job with spec (standard five fields or a
// descriptor such as "@every 5m") and starts the cron runner.
func (s *Scheduler) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.ResumeStale(s.ctx); err != nil {
			logging.NewLogger(s.ctx).LogError("cron.resume", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to create resume job %q: %w", spec, err)
	}

	s.cron = c
	c.Start()
	logging.NewLogger(s.ctx).LogInfof("cron.resume", "resume scheduler started (%s)", spec)
	return nil
}

// Stop stops the schedule and waits for a running sweep
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// ResumeStale starts a run for every analyzing assessment that has no run in
// this process. Assessments running on another instance are refused by the
// run lock and skipped.
func (s *Scheduler) ResumeStale(ctx context.Context) ([]string, error) {
	logger := logging.NewLogger(ctx)

	stale, err := s.stale.Stale(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stale assessments: %w", err)
	}

	var resumed []string
	for _, a := range stale {
		if s.runs.Active(a.ID) {
			continue
		}
		err := s.runs.Start(ctx, a.ID)
		switch {
		case err == nil:
			resumed = append(resumed, a.ID)
			logger.LogInfof("cron.resume", "resuming analysis of %s (%d/%d categories done)", a.ID, a.Progress.Completed, a.Progress.Total)
		case errors.Is(err, domain.ErrAnalysisRunning):
		default:
			logger.LogWarnf("cron.resume", "resume %s: %v", a.ID, err)
		}
	}
	return resumed, nil
}

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"adsOptimizer/pkg/logger"
)

// Scheduler fires batch runs for every known profile on a cron schedule.
type Scheduler struct {
	ctrl    *Controller
	cron    *cron.Cron
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(ctrl *Controller, timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctrl:    ctrl,
		cron:    cron.New(),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the batch job. An empty spec disables scheduling.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		logger.Info("batch schedule disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(spec, s.runAll); err != nil {
		return fmt.Errorf("invalid batch schedule %q: %w", spec, err)
	}
	s.cron.Start()
	logger.Info("batch scheduler started", "schedule", spec)
	return nil
}

// Stop cancels in-flight runs at their next entity boundary and waits for
// the running job to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runAll() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	profiles, err := s.ctrl.Profiles(ctx)
	if err != nil {
		logger.Error("scheduled run: failed to list profiles", "error", err)
		return
	}
	for _, p := range profiles {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.ctrl.RunBatch(ctx, p); err != nil {
			logger.Error("scheduled run failed", "profile_id", p, "error", err)
		}
	}
}

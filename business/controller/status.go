package controller

import (
	"context"
	"fmt"
	"time"

	"adsOptimizer/business/optimizer"
	"adsOptimizer/domain"
)

// Status summarizes a profile for the dashboard.
func (c *Controller) Status(ctx context.Context, profileID string) (*domain.OptimizerStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	states, err := c.opt.States(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list bid states: %w", err)
	}

	out := &domain.OptimizerStatus{ProfileID: profileID, TotalEntities: len(states)}

	sumPct := 0.0
	for i := range states {
		switch states[i].ConfidenceLevel {
		case domain.ConfidenceHigh:
			out.HighConfidenceCount++
		case domain.ConfidenceMedium:
			out.MediumConfidenceCount++
		default:
			out.LowConfidenceCount++
		}
		sumPct += states[i].ConfidencePct
	}
	if len(states) > 0 {
		out.AverageConfidencePct = sumPct / float64(len(states))
	}
	out.LearningProgressPct = optimizer.LearningProgress(states)

	runs, err := c.runs.ListRuns(ctx, profileID, 1)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var last *domain.OptimizerRun
	if len(runs) > 0 {
		last = &runs[0]
		t := last.StartedAt
		out.LastRunAt = &t
		out.LastRunStatus = last.Status
	}

	completed, err := c.runs.HasCompletedRun(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("check completed runs: %w", err)
	}
	out.State = domain.DeriveProfileState(len(states), last, completed)

	now := c.opt.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out.BidsChangedToday, err = c.runs.BidsChangedSince(ctx, profileID, midnight)
	if err != nil {
		return nil, fmt.Errorf("count bid changes: %w", err)
	}

	return out, nil
}

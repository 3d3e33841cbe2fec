package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/appforge/internal/scheduler"
	"github.com/user/appforge/internal/types"
)

// Maintenance job names.
const (
	JobSessionSweep   = "session-sweep"
	JobRetentionPrune = "retention-prune"
	JobLimiterSweep   = "limiter-sweep"
)

// Jobs returns the maintenance jobs for the configured schedules. A job
// whose schedule is empty can still be run by name.
func (a *App) Jobs() []scheduler.Job {
	cfg := a.Config
	jobs := []scheduler.Job{
		{
			Name:     JobSessionSweep,
			Schedule: cfg.Sessions.SweepSchedule,
			Run:      a.sweepSessions,
		},
		{
			Name:     JobRetentionPrune,
			Schedule: cfg.Retention.Schedule,
			Run:      a.pruneSessions,
		},
	}
	limiterSchedule := ""
	if ttl := cfg.HTTP.RateLimit.IdleTTL; ttl > 0 {
		limiterSchedule = fmt.Sprintf("@every %s", ttl)
	}
	jobs = append(jobs, scheduler.Job{
		Name:     JobLimiterSweep,
		Schedule: limiterSchedule,
		Run: func(context.Context) error {
			if n := a.Limiter.Sweep(); n > 0 {
				a.Log.Debug("rate limiter swept", zap.Int("evicted", n))
			}
			return nil
		},
	})
	return jobs
}

// Scheduler registers the maintenance jobs on a new scheduler.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.Log)
	for _, job := range a.Jobs() {
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func (a *App) sweepSessions(ctx context.Context) error {
	if a.Config.Sessions.IdleTimeout <= 0 {
		return nil
	}
	closed, err := a.Ingest.SweepIdle(ctx, a.Config.Sessions.IdleTimeout)
	if err != nil {
		return err
	}
	if len(closed) > 0 {
		a.Log.Info("idle sessions closed", zap.Int("count", len(closed)))
	}
	active, err := a.Ingest.Sessions(ctx, types.SessionFilter{ActiveOnly: true})
	if err != nil {
		return err
	}
	a.Metrics.SetActiveSessions(len(active))
	return nil
}

func (a *App) pruneSessions(ctx context.Context) error {
	if a.Config.Retention.MaxAge <= 0 {
		return nil
	}
	n, err := a.Ingest.Prune(ctx, a.Config.Retention.MaxAge)
	if err != nil {
		return err
	}
	if n > 0 {
		a.Log.Info("expired sessions pruned", zap.Int("count", n))
	}
	return nil
}

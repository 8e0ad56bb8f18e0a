// Package worker runs the background scheduler that launches campaigns
// when their scheduled send time arrives.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/logger"
	"github.com/lettora/crm-engine/internal/service/campaign"
)

// DueLister finds scheduled campaigns whose send time has arrived.
// Satisfied by the campaign repository.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time) ([]domain.Campaign, error)
}

// Launcher starts a campaign and re-arms recurring ones. Satisfied by
// the campaign service, whose launch path carries the per-campaign
// lock, so two scheduler instances polling the same database race
// safely.
type Launcher interface {
	Launch(ctx context.Context, id string) (*domain.Campaign, error)
	Rearm(ctx context.Context, id string, next time.Time) error
}

// Scheduler polls for due campaigns on a cron schedule and launches
// them.
type Scheduler struct {
	due      DueLister
	launcher Launcher
	clock    clockwork.Clock
	spec     string
	cron     *cron.Cron
}

// NewScheduler creates a scheduler. spec is a cron expression; empty
// defaults to every 30 seconds.
func NewScheduler(due DueLister, launcher Launcher, clock clockwork.Clock, spec string) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if spec == "" {
		spec = "@every 30s"
	}
	return &Scheduler{
		due:      due,
		launcher: launcher,
		clock:    clock,
		spec:     spec,
	}
}

// Start begins polling. Call Stop to drain.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.spec, func() { s.CheckDue(ctx) })
	if err != nil {
		return fmt.Errorf("schedule poll job: %w", err)
	}
	s.cron.Start()
	logger.Info("campaign scheduler started", "spec", s.spec)
	return nil
}

// Stop halts polling and waits for a running check to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	logger.Info("campaign scheduler stopped")
}

// CheckDue launches every scheduled campaign whose send time has
// arrived. A campaign that another instance already launched comes back
// as a rejected transition and is skipped quietly.
func (s *Scheduler) CheckDue(ctx context.Context) {
	due, err := s.due.ListDue(ctx, s.clock.Now().UTC())
	if err != nil {
		logger.Error("scheduler poll failed", "error", err)
		return
	}

	for _, c := range due {
		launched, err := s.launcher.Launch(ctx, c.ID)
		if err != nil {
			if campaign.IsTransition(err) {
				logger.Debug("due campaign already claimed", "campaign_id", c.ID)
				continue
			}
			logger.Error("scheduled launch failed", "campaign_id", c.ID, "error", err)
			continue
		}
		logger.Info("scheduled campaign launched", "campaign_id", c.ID, "name", c.Name)
		s.rearm(ctx, launched)
	}
}

// rearm puts a recurring campaign back on the schedule at its next cron
// occurrence. Launch dispatches synchronously, so when it returns the
// run is done.
func (s *Scheduler) rearm(ctx context.Context, c *domain.Campaign) {
	if c == nil || !c.Schedule.Recurring || c.Schedule.CronExpr == "" {
		return
	}
	sched, err := cron.ParseStandard(c.Schedule.CronExpr)
	if err != nil {
		logger.Error("recurring campaign has a bad cron expression", "campaign_id", c.ID, "cron", c.Schedule.CronExpr, "error", err)
		return
	}
	now := s.clock.Now()
	if c.Schedule.Timezone != "" {
		if loc, lerr := time.LoadLocation(c.Schedule.Timezone); lerr == nil {
			now = now.In(loc)
		}
	}
	next := sched.Next(now).UTC()
	if err := s.launcher.Rearm(ctx, c.ID, next); err != nil {
		if campaign.IsTransition(err) {
			logger.Debug("recurring campaign not re-armed, status changed during run", "campaign_id", c.ID)
			return
		}
		logger.Error("recurring campaign re-arm failed", "campaign_id", c.ID, "error", err)
		return
	}
	logger.Info("recurring campaign re-armed", "campaign_id", c.ID, "next_send_at", next)
}

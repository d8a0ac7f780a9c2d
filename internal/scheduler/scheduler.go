// Package scheduler runs the periodic jobs next to the post queue: enqueueing
// scheduled submissions when they fall due and probing login status.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/abdulachik/multipost/internal/queue"
	"github.com/abdulachik/multipost/internal/submission"
	"github.com/abdulachik/multipost/internal/website"
)

const (
	componentSchedule = "schedule"
	statusPrefix      = "status:"
)

// Store lists and clears scheduled submissions.
type Store interface {
	ListDueScheduled(ctx context.Context) ([]*submission.Submission, error)
	ClearScheduled(ctx context.Context, id string) error
}

// Enqueuer admits submissions to the post queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, sub *submission.Submission) (*queue.Entry, error)
}

// Sites resolves the adapters to probe.
type Sites interface {
	Get(id string) (website.Handle, error)
	IDs() []string
}

// Config holds scheduler configuration.
type Config struct {
	Store Store
	Queue Enqueuer
	Sites Sites

	// ScheduleSpec and StatusSpec are cron expressions; "@every 1m" works too.
	// An empty spec disables the job.
	ScheduleSpec string
	StatusSpec   string
	// StatusProfiles are the login profiles probed on every site.
	StatusProfiles []string
}

// Scheduler orchestrates the periodic jobs.
type Scheduler struct {
	cfg    Config
	health *Health
}

// New checks the cron specs and creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	for _, spec := range []string{cfg.ScheduleSpec, cfg.StatusSpec} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
		}
	}
	return &Scheduler{cfg: cfg, health: NewHealth()}, nil
}

// Run runs the jobs once and then on their schedules until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("starting scheduler",
		"schedule_spec", s.cfg.ScheduleSpec,
		"status_spec", s.cfg.StatusSpec,
		"status_profiles", s.cfg.StatusProfiles,
	)

	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if s.cfg.ScheduleSpec != "" {
		if _, err := c.AddFunc(s.cfg.ScheduleSpec, func() { s.Sweep(ctx) }); err != nil {
			return fmt.Errorf("add schedule job: %w", err)
		}
	}
	if s.cfg.StatusSpec != "" && len(s.cfg.StatusProfiles) > 0 {
		if _, err := c.AddFunc(s.cfg.StatusSpec, func() { s.ProbeStatus(ctx) }); err != nil {
			return fmt.Errorf("add status job: %w", err)
		}
	}

	if s.cfg.ScheduleSpec != "" {
		s.Sweep(ctx)
	}
	if s.cfg.StatusSpec != "" {
		s.ProbeStatus(ctx)
	}

	c.Start()
	<-ctx.Done()
	slog.Info("scheduler shutting down")
	<-c.Stop().Done()
	return ctx.Err()
}

// Sweep enqueues every scheduled submission that is due and clears its
// schedule. A submission that fails validation is unscheduled as well, so it
// is reported once instead of on every sweep; the queue stores its problems.
// It returns the number queued.
func (s *Scheduler) Sweep(ctx context.Context) int {
	due, err := s.cfg.Store.ListDueScheduled(ctx)
	if err != nil {
		s.health.SetUnhealthy(componentSchedule, err)
		slog.Error("failed to list scheduled submissions", "error", err)
		return 0
	}

	queued := 0
	var rejected []string
	for _, sub := range due {
		_, err := s.cfg.Queue.Enqueue(ctx, sub)

		var verr *queue.ValidationError
		switch {
		case err == nil:
			queued++
			slog.Info("scheduled submission queued", "submission", sub.ID, "title", sub.Title)
		case errors.Is(err, queue.ErrAlreadyQueued):
			slog.Debug("scheduled submission already queued", "submission", sub.ID)
		case errors.As(err, &verr):
			rejected = append(rejected, sub.Title)
			slog.Warn("scheduled submission has problems",
				"submission", sub.ID,
				"problems", verr.Problems,
			)
		default:
			slog.Error("failed to queue scheduled submission", "submission", sub.ID, "error", err)
			continue
		}

		if err := s.cfg.Store.ClearScheduled(ctx, sub.ID); err != nil {
			slog.Error("failed to clear schedule", "submission", sub.ID, "error", err)
		}
	}

	if len(rejected) > 0 {
		s.health.SetUnhealthy(componentSchedule,
			fmt.Errorf("rejected scheduled submissions: %s", strings.Join(rejected, ", ")))
	} else {
		s.health.SetHealthy(componentSchedule, fmt.Sprintf("queued %d", queued))
	}
	return queued
}

// ProbeStatus checks every configured profile on every site.
func (s *Scheduler) ProbeStatus(ctx context.Context) {
	for _, profile := range s.cfg.StatusProfiles {
		for _, id := range s.cfg.Sites.IDs() {
			h, err := s.cfg.Sites.Get(id)
			if err != nil {
				continue
			}

			component := StatusComponent(id, profile)
			status := h.CheckStatus(ctx, profile)
			if status.Status == website.LoggedIn {
				s.health.SetHealthy(component, "logged in as "+status.Username)
				continue
			}
			s.health.SetUnhealthy(component, errors.New("not logged in"))
			slog.Info("profile logged out", "site", id, "profile", profile)
		}
	}
}

// StatusComponent names the health entry of a profile on a site.
func StatusComponent(site, profile string) string {
	return statusPrefix + site + "/" + profile
}

// Health returns the health tracker.
func (s *Scheduler) Health() *Health {
	return s.health
}

// Package schedule drives automatic backups: a fixed-interval job, one timer
// per enabled backup plan and a smart-schedule gate in front of both.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"syncvault/internal/config"
	"syncvault/internal/model"
)

// Runner executes the scheduled work.
type Runner interface {
	RunAuto(ctx context.Context) error
	RunPlan(ctx context.Context, plan model.BackupPlan) error
}

// Job is an extra periodic task run next to the backups, such as a sync pass.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	runner   Runner
	interval time.Duration
	auto     bool
	plans    []model.BackupPlan
	smart    config.SmartSchedule
	jobs     []Job
	logger   *slog.Logger

	// Now is the clock used for plan timers and the time window.
	Now func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(runner Runner, cfg *config.Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		interval: cfg.BackupInterval(),
		auto:     cfg.LocalAutoBackup() || cfg.Backup.CloudAutoBackup || cfg.Backup.HybridBackup,
		plans:    cfg.Backup.Plans,
		smart:    cfg.Backup.SmartSchedule,
		logger:   logger,
		Now:      time.Now,
	}
}

// AddJob registers an extra periodic job. It must be called before Start.
func (s *Scheduler) AddJob(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches the interval loop and the plan timers. They stop when ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	if s.auto {
		s.wg.Add(1)
		go s.every(ctx, "auto backup", s.interval, s.runner.RunAuto)
	}
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.every(ctx, job.Name, job.Interval, job.Run)
	}

	enabled := 0
	for _, plan := range s.plans {
		if !plan.Enabled {
			continue
		}
		enabled++
		s.wg.Add(1)
		go s.planLoop(ctx, plan)
	}

	s.logger.Info("Scheduler started", "auto", s.auto, "interval", s.interval, "plans", enabled, "jobs", len(s.jobs))
}

// Stop cancels all timers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, name, fn)
		}
	}
}

func (s *Scheduler) planLoop(ctx context.Context, plan model.BackupPlan) {
	defer s.wg.Done()

	for {
		now := s.Now()
		next, err := NextFire(plan, now)
		if err != nil {
			s.logger.Error("Backup plan disabled", "plan", plan.ID, "error", err)
			return
		}
		s.logger.Debug("Backup plan scheduled", "plan", plan.ID, "next", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx, "plan "+plan.ID, func(ctx context.Context) error {
			return s.runner.RunPlan(ctx, plan)
		})
	}
}

func (s *Scheduler) fire(ctx context.Context, name string, fn func(context.Context) error) {
	if ok, reason := s.CheckConditions(s.Now()); !ok {
		s.logger.Info("Scheduled run skipped", "job", name, "reason", reason)
		return
	}
	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("Scheduled run failed", "job", name, "error", err)
		return
	}
	s.logger.Info("Scheduled run completed", "job", name, "duration", time.Since(start).Round(time.Millisecond))
}

// CheckConditions reports whether a scheduled run may start at now. Only the
// time window is enforced; network and power requirements are accepted as met.
func (s *Scheduler) CheckConditions(now time.Time) (bool, string) {
	return checkConditions(s.smart, now, s.logger)
}

func checkConditions(ss config.SmartSchedule, now time.Time, logger *slog.Logger) (bool, string) {
	if !ss.Enabled {
		return true, ""
	}
	if ss.RequireWiFi || ss.RequireCharging {
		logger.Debug("Network and power requirements are not checked", "wifi", ss.RequireWiFi, "charging", ss.RequireCharging)
	}

	start, err := parseClock(ss.WindowStart)
	if err != nil {
		return true, ""
	}
	end, err := parseClock(ss.WindowEnd)
	if err != nil {
		return true, ""
	}
	if !InWindow(start, end, now) {
		return false, fmt.Sprintf("outside backup window %s-%s", ss.WindowStart, ss.WindowEnd)
	}
	return true, ""
}

// InWindow reports whether the clock time of now lies in [start, end), both
// given in minutes after midnight. A window with start after end wraps midnight.
func InWindow(start, end int, now time.Time) bool {
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// NextFire returns the first time strictly after now at which plan runs.
//
// Weekly plans list weekdays (0 is Sunday) and default to the weekday of now.
// Monthly plans list days of the month and default to the 1st; months that do
// not have a listed day are skipped for that day.
func NextFire(plan model.BackupPlan, now time.Time) (time.Time, error) {
	minutes, err := parseClock(plan.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("plan %s: %w", plan.ID, err)
	}
	hour, minute := minutes/60, minutes%60
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	}

	switch plan.Schedule {
	case model.ScheduleDaily:
		next := at(now.Year(), now.Month(), now.Day())
		if !next.After(now) {
			next = at(now.Year(), now.Month(), now.Day()+1)
		}
		return next, nil

	case model.ScheduleWeekly:
		days := plan.Days
		if len(days) == 0 {
			days = []int{int(now.Weekday())}
		}
		for _, d := range days {
			if d < 0 || d > 6 {
				return time.Time{}, fmt.Errorf("plan %s: weekday %d out of range 0-6", plan.ID, d)
			}
		}
		for offset := range 8 {
			next := at(now.Year(), now.Month(), now.Day()+offset)
			if slices.Contains(days, int(next.Weekday())) && next.After(now) {
				return next, nil
			}
		}

	case model.ScheduleMonthly:
		days := slices.Clone(plan.Days)
		if len(days) == 0 {
			days = []int{1}
		}
		for _, d := range days {
			if d < 1 || d > 31 {
				return time.Time{}, fmt.Errorf("plan %s: day of month %d out of range 1-31", plan.ID, d)
			}
		}
		slices.Sort(days)
		for offset := range 13 {
			first := time.Date(now.Year(), now.Month()+time.Month(offset), 1, 0, 0, 0, 0, now.Location())
			last := first.AddDate(0, 1, -1).Day()
			for _, d := range days {
				if d > last {
					continue
				}
				if next := at(first.Year(), first.Month(), d); next.After(now) {
					return next, nil
				}
			}
		}

	default:
		return time.Time{}, fmt.Errorf("plan %s: unsupported schedule %q", plan.ID, plan.Schedule)
	}
	return time.Time{}, fmt.Errorf("plan %s: no upcoming run", plan.ID)
}

type Upcoming struct {
	Plan model.BackupPlan
	Next time.Time
	Err  error
}

// UpcomingRuns pairs each plan with its next run time, soonest first. Disabled
// plans and plans that cannot be scheduled get a zero time and sort last.
func UpcomingRuns(plans []model.BackupPlan, now time.Time) []Upcoming {
	runs := make([]Upcoming, 0, len(plans))
	for _, p := range plans {
		u := Upcoming{Plan: p}
		if p.Enabled {
			u.Next, u.Err = NextFire(p, now)
		}
		runs = append(runs, u)
	}
	slices.SortStableFunc(runs, func(a, b Upcoming) int {
		switch {
		case a.Next.IsZero() && b.Next.IsZero():
			return 0
		case a.Next.IsZero():
			return 1
		case b.Next.IsZero():
			return -1
		}
		return a.Next.Compare(b.Next)
	})
	return runs
}

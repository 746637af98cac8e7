package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	ModeHourly  = "hourly"
	ModeHourly2 = "hourly-2"
	ModeCron    = "cron"
	ModeBoth    = "both"
	ModeTest    = "test"
	ModeMinute  = "minute"
	ModeDaily   = "daily"
)

type SchedulerConfig struct {
	Mode   string
	Minute int    // for ModeMinute
	At     string // HH:MM for ModeDaily
	Loc    *time.Location
	Log    *Logger
}

// Scheduler runs crawls on a cron schedule in Seoul time.
type Scheduler struct {
	cfg     SchedulerConfig
	crawler *Crawler
	cron    *cron.Cron
	specs   []string
	log     *Logger
}

// ScheduleSpecs maps a mode to its cron expressions (minute hour dom month dow).
func ScheduleSpecs(mode string, minute int, at string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeHourly:
		return []string{"0 * * * *"}, nil
	case ModeHourly2:
		return []string{"0 */2 * * *"}, nil
	case ModeCron:
		return []string{"0 9,12,18,21 * * *"}, nil
	case ModeBoth:
		return []string{"0 * * * *", "0 9,12,18,21 * * *"}, nil
	case ModeTest:
		return []string{"* * * * *"}, nil
	case ModeMinute, "":
		if minute < 0 || minute > 59 {
			return nil, fmt.Errorf("minute must be 0..59, got %d", minute)
		}
		return []string{fmt.Sprintf("%d * * * *", minute)}, nil
	case ModeDaily:
		h, m, err := ParseClock(at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at %q: %w", at, err)
		}
		return []string{fmt.Sprintf("%d %d * * *", m, h)}, nil
	default:
		return nil, fmt.Errorf("unknown schedule mode %q", mode)
	}
}

func NewScheduler(cfg SchedulerConfig, crawler *Crawler) (*Scheduler, error) {
	if cfg.Log == nil {
		cfg.Log = NewNopLogger()
	}
	if cfg.Loc == nil {
		cfg.Loc = LoadSeoul()
	}
	specs, err := ScheduleSpecs(cfg.Mode, cfg.Minute, cfg.At)
	if err != nil {
		return nil, err
	}

	clog := cronLogger{cfg.Log}
	c := cron.New(
		cron.WithLocation(cfg.Loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	s := &Scheduler{cfg: cfg, crawler: crawler, cron: c, specs: specs, log: cfg.Log}
	for _, spec := range specs {
		if _, err := c.AddFunc(spec, s.tick); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Specs() []string { return append([]string(nil), s.specs...) }

// Run blocks until ctx is done, then waits for a running crawl to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.log.Infof("scheduler started mode=%s specs=%q tz=%s next=%s",
		s.cfg.Mode, s.specs, s.cfg.Loc, FormatKST(s.NextRun(), s.cfg.Loc))

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.log.Infof("scheduler stopped")
}

// NextRun is the earliest upcoming fire time, or zero before Start.
func (s *Scheduler) NextRun() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	if next.IsZero() {
		return s.nextFromSpecs(time.Now())
	}
	return next
}

func (s *Scheduler) nextFromSpecs(from time.Time) time.Time {
	var next time.Time
	for _, spec := range s.specs {
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			continue
		}
		n := sched.Next(from.In(s.cfg.Loc))
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

func (s *Scheduler) tick() {
	// a scheduled run is not cut short by shutdown; Stop waits for it
	res, err := s.crawler.Run(context.Background(), "schedule")
	switch {
	case errors.Is(err, ErrCrawlInProgress):
		s.log.Warnf("scheduled crawl skipped: another crawl is running")
	case err != nil:
		s.log.Errorf("scheduled crawl failed run=%s: %v", res.RunID, err)
	default:
		s.log.Infof("scheduled crawl ok run=%s saved=%d next=%s",
			res.RunID, res.Saved, FormatKST(s.NextRun(), s.cfg.Loc))
	}
}

// cronLogger routes cron's structured logs through our Logger.
type cronLogger struct{ l *Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugf("cron: %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mayanayza/transit-calendar-blocker/pkg/sync"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Runner is the work the scheduler drives. Implemented by sync.Reconciler.
type Runner interface {
	RunCycle(ctx context.Context) (*sync.Result, error)
	RunDailyUpdate(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

type jobKind int

const (
	jobCheck jobKind = iota
	jobDaily
	jobCleanup
)

func (j jobKind) String() string {
	switch j {
	case jobCheck:
		return "check"
	case jobDaily:
		return "daily-update"
	case jobCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Scheduler drives the runner on three cadences: an interval check, a daily
// update at a fixed wall-clock time, and a weekly cleanup on Sunday night.
// All jobs funnel through a single loop so they never overlap.
type Scheduler struct {
	runner        Runner
	checkInterval time.Duration
	dailyHour     int
	dailyMinute   int
	loc           *time.Location

	notifyCh chan struct{}
	jobCh    chan jobKind
}

func New(runner Runner, checkInterval time.Duration, dailyHour, dailyMinute int, loc *time.Location) *Scheduler {
	return &Scheduler{
		runner:        runner,
		checkInterval: checkInterval,
		dailyHour:     dailyHour,
		dailyMinute:   dailyMinute,
		loc:           loc,
		notifyCh:      make(chan struct{}, 1),
		jobCh:         make(chan jobKind, 4),
	}
}

// Notify requests an immediate check. Non-blocking if one is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Start blocks running the scheduler loop until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.loc))
	if _, err := c.AddFunc(fmt.Sprintf("%d %d * * *", s.dailyMinute, s.dailyHour), func() {
		s.enqueue(jobDaily)
	}); err != nil {
		return fmt.Errorf("scheduling daily update: %w", err)
	}
	if _, err := c.AddFunc("0 2 * * 0", func() {
		s.enqueue(jobCleanup)
	}); err != nil {
		return fmt.Errorf("scheduling weekly cleanup: %w", err)
	}
	c.Start()
	defer c.Stop()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	log.Infof("scheduler started: check every %s, daily update at %02d:%02d, cleanup Sunday 02:00",
		s.checkInterval, s.dailyHour, s.dailyMinute)

	// First check right away so a restart does not wait a full interval.
	s.run(ctx, jobCheck)

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.run(ctx, jobCheck)
		case <-s.notifyCh:
			log.Info("scheduler triggered by notification")
			s.run(ctx, jobCheck)
		case job := <-s.jobCh:
			s.run(ctx, job)
		}
	}
}

func (s *Scheduler) enqueue(job jobKind) {
	select {
	case s.jobCh <- job:
	default:
		log.Warnf("scheduler queue full, dropping %s job", job)
	}
}

func (s *Scheduler) run(ctx context.Context, job jobKind) {
	var err error
	switch job {
	case jobCheck:
		_, err = s.runner.RunCycle(ctx)
	case jobDaily:
		err = s.runner.RunDailyUpdate(ctx)
	case jobCleanup:
		err = s.runner.Cleanup(ctx)
	}
	if err != nil {
		log.Errorf("%s job failed: %v", job, err)
	}
}

package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/lock"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

// defaultTenant keys locks for single-schema deployments.
const defaultTenant = "default"

// Schedule runs Job once a day at At (HH:MM).
type Schedule struct {
	Job string
	At  string
}

type dailyJob struct {
	job          string
	hour, minute int
}

// SchedulerConfig configures the daily scheduler.
type SchedulerConfig struct {
	Schedules    []Schedule
	Location     *time.Location
	PollInterval time.Duration
	LockTTL      time.Duration
	// MultiTenant runs each job for every active tenant schema.
	MultiTenant bool
	// Now overrides the wall clock.
	Now func() time.Time
}

// Scheduler fires the daily jobs at their configured wall-clock times.
// A lock keyed by job, tenant and date keeps replicas from running a job
// twice on the same day.
type Scheduler struct {
	jobs     *Jobs
	tenants  TenantStore
	locker   lock.Locker
	daily    []dailyJob
	loc      *time.Location
	poll     time.Duration
	lockTTL  time.Duration
	multi    bool
	now      func() time.Time
	logger   *logger.Logger
	mu       sync.Mutex
	lastRun  map[string]string
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewScheduler validates the schedules and builds a scheduler.
func NewScheduler(jobs *Jobs, tenants TenantStore, locker lock.Locker, cfg SchedulerConfig, log *logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		jobs:    jobs,
		tenants: tenants,
		locker:  locker,
		loc:     cfg.Location,
		poll:    cfg.PollInterval,
		lockTTL: cfg.LockTTL,
		multi:   cfg.MultiTenant,
		now:     time.Now,
		logger:  log,
		lastRun: make(map[string]string),
	}
	if cfg.Now != nil {
		s.now = cfg.Now
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.poll <= 0 {
		s.poll = 30 * time.Second
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 23 * time.Hour
	}

	for _, sc := range cfg.Schedules {
		if !jobs.Has(sc.Job) {
			return nil, fmt.Errorf("unknown job %q", sc.Job)
		}
		h, m, err := parseClock(sc.At)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", sc.Job, err)
		}
		s.daily = append(s.daily, dailyJob{job: sc.Job, hour: h, minute: m})
	}
	return s, nil
}

func parseClock(v string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return h, m, nil
}

// Start runs the scheduler in a background goroutine until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.finished = make(chan struct{})

	go func() {
		defer close(s.finished)
		s.logger.Info().
			Int("jobs", len(s.daily)).
			Str("timezone", s.loc.String()).
			Dur("poll_interval", s.poll).
			Msg("job scheduler started")

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("job scheduler stopped")
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.finished
	}
}

// Tick runs every job whose time has come today and that has not run yet.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().In(s.loc)
	date := now.Format(domain.DateLayout)

	for _, d := range s.daily {
		due := time.Date(now.Year(), now.Month(), now.Day(), d.hour, d.minute, 0, 0, s.loc)
		if now.Before(due) {
			continue
		}
		s.mu.Lock()
		done := s.lastRun[d.job] == date
		if !done {
			s.lastRun[d.job] = date
		}
		s.mu.Unlock()
		if done {
			continue
		}
		s.RunForAllTenants(ctx, d.job, date)
	}
}

// RunForAllTenants runs job once per tenant for date, skipping tenants whose
// lock is already held.
func (s *Scheduler) RunForAllTenants(ctx context.Context, job, date string) {
	targets := []domain.Tenant{{Slug: defaultTenant}}
	if s.multi {
		var err error
		if targets, err = s.tenants.ListActive(ctx); err != nil {
			s.logger.Error().Err(err).Str("job", job).Msg("failed to query active tenants")
			return
		}
	}

	for _, t := range targets {
		key := fmt.Sprintf("job:%s:%s:%s", job, t.Slug, date)
		ok, err := s.locker.Acquire(ctx, key, s.lockTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("lock", key).Msg("failed to acquire job lock")
			continue
		}
		if !ok {
			s.logger.Debug().Str("lock", key).Msg("job already ran elsewhere")
			continue
		}

		tctx := ctx
		if t.SchemaName != "" {
			tctx = tenant.WithTenantContext(ctx, t.ID, t.Slug, t.SchemaName)
		}
		if _, err := s.jobs.Run(tctx, job); err != nil {
			s.logger.Error().Err(err).Str("job", job).Str("tenant", t.Slug).Msg("scheduled job failed")
			// Let another replica retry today.
			if err := s.locker.Release(ctx, key); err != nil {
				s.logger.Warn().Err(err).Str("lock", key).Msg("failed to release job lock")
			}
		}
	}
}

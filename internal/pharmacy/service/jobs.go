package service

import (
	"context"
	"sort"
	"time"

	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

// Job names.
const (
	JobExpireInventory         = "inventory:expire"
	JobCheckAlerts             = "stock:check-alerts"
	JobDeactivatePrescriptions = "prescriptions:deactivate-inactive"
	JobExpireStaleRequests     = "requests:expire-stale"
)

// JobSettings are the windows the maintenance jobs use.
type JobSettings struct {
	PrescriptionInactivity time.Duration
	StaleRequestAge        time.Duration
}

// Jobs runs the daily maintenance jobs against the tenant in ctx.
type Jobs struct {
	jobs   map[string]func(ctx context.Context) (int, error)
	logger *logger.Logger
}

// NewJobs registers the maintenance jobs of svc.
func NewJobs(svc *Services, settings JobSettings, log *logger.Logger) *Jobs {
	if settings.PrescriptionInactivity <= 0 {
		settings.PrescriptionInactivity = 90 * 24 * time.Hour
	}
	if settings.StaleRequestAge <= 0 {
		settings.StaleRequestAge = 30 * 24 * time.Hour
	}
	return &Jobs{
		jobs: map[string]func(ctx context.Context) (int, error){
			JobExpireInventory: svc.Ledger.SweepExpired,
			JobCheckAlerts:     svc.Alerts.ScanAll,
			JobDeactivatePrescriptions: func(ctx context.Context) (int, error) {
				return svc.Prescriptions.DeactivateInactive(ctx, settings.PrescriptionInactivity)
			},
			JobExpireStaleRequests: func(ctx context.Context) (int, error) {
				return svc.Requests.ExpireStale(ctx, settings.StaleRequestAge)
			},
		},
		logger: log,
	}
}

// Names lists the registered jobs.
func (j *Jobs) Names() []string {
	names := make([]string, 0, len(j.jobs))
	for name := range j.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a registered job.
func (j *Jobs) Has(name string) bool {
	_, ok := j.jobs[name]
	return ok
}

// Run executes one job and returns how many records it touched.
func (j *Jobs) Run(ctx context.Context, name string) (int, error) {
	fn, ok := j.jobs[name]
	if !ok {
		return 0, errors.NotFound("job")
	}

	start := time.Now()
	log := j.logger.WithJob(name)
	n, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Int("affected", n).Dur("duration", time.Since(start)).Msg("job failed")
		return n, err
	}
	log.Info().Int("affected", n).Dur("duration", time.Since(start)).Msg("job completed")
	return n, nil
}

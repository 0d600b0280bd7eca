// Command pharmacy-jobs runs the daily maintenance jobs once, outside the
// scheduler. Useful for cron-driven deployments and for catching up after an
// outage.
//
//	pharmacy-jobs -list
//	pharmacy-jobs -job inventory:expire -tenant-schema tenant_city_hospital
//	pharmacy-jobs -job all -all-tenants
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/events"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/repository"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

const serviceName = "pharmacy-jobs"

func main() {
	var (
		job          string
		list         bool
		allTenants   bool
		tenantID     string
		tenantSlug   string
		tenantSchema string
	)
	flag.StringVar(&job, "job", "", "Job to run, or \"all\"")
	flag.BoolVar(&list, "list", false, "List the registered jobs and exit")
	flag.BoolVar(&allTenants, "all-tenants", false, "Run for every active tenant schema")
	flag.StringVar(&tenantID, "tenant-id", "", "Tenant ID")
	flag.StringVar(&tenantSlug, "tenant-slug", "", "Tenant slug")
	flag.StringVar(&tenantSchema, "tenant-schema", "", "Tenant schema to run against")
	flag.Parse()

	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.Server.Environment)

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid scheduler timezone")
	}

	// Events are published when the broker is configured, as in the service.
	var publisher messaging.EventPublisher = messaging.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		rmq, err := messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()
		if publisher, err = messaging.NewPublisher(rmq, cfg.RabbitMQ.Exchange, serviceName, log); err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	}

	stores := repository.New(db).Stores()
	svc := service.New(stores, events.NewNotifier(publisher, log), publisher, service.Options{
		Clock:             service.SystemClock(loc),
		ExpiryWarningDays: cfg.Alerts.ExpiryWarningDays,
	}, log)
	jobs := service.NewJobs(svc, service.JobSettings{
		PrescriptionInactivity: time.Duration(cfg.Scheduler.PrescriptionInactivityDays) * 24 * time.Hour,
		StaleRequestAge:        time.Duration(cfg.Scheduler.StaleRequestDays) * 24 * time.Hour,
	}, log)

	if list {
		for _, name := range jobs.Names() {
			fmt.Println(name)
		}
		return
	}

	names := []string{job}
	switch {
	case job == "":
		fmt.Fprintln(os.Stderr, "missing -job (use -list to see the registered jobs)")
		os.Exit(2)
	case job == "all":
		names = jobs.Names()
	case !jobs.Has(job):
		fmt.Fprintf(os.Stderr, "unknown job %q\n", job)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	targets := []domain.Tenant{{ID: tenantID, Slug: tenantSlug, SchemaName: tenantSchema}}
	if allTenants {
		if targets, err = stores.Tenants.ListActive(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to query active tenants")
		}
	}

	failed := 0
	for _, t := range targets {
		tctx := ctx
		if t.SchemaName != "" {
			tctx = tenant.WithTenantContext(ctx, t.ID, t.Slug, t.SchemaName)
		}
		for _, name := range names {
			n, err := jobs.Run(tctx, name)
			if err != nil {
				failed++
				log.Error().Err(err).Str("job", name).Str("tenant", t.Slug).Msg("job failed")
				continue
			}
			log.Info().Str("job", name).Str("tenant", t.Slug).Int("affected", n).Msg("job done")
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

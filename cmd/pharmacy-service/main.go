package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/consumers"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/events"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/handler"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/repository"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/migrations"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/medflow/medflow-pharmacy/pkg/i18n"
	"github.com/medflow/medflow-pharmacy/pkg/lock"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
)

const serviceName = "pharmacy-service"

func main() {
	// Fails fast in production if required config is missing
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Pharmacy Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		log.Info().Strs("applied", applied).Msg("migrations up to date")
	}

	// Messaging is optional in development; without it events are dropped
	// and the staff directory is not kept in sync.
	var (
		rmq       *messaging.RabbitMQ
		publisher messaging.EventPublisher = messaging.NopPublisher{}
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}
		publisher, err = messaging.NewPublisher(rmq, cfg.RabbitMQ.Exchange, serviceName, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("RabbitMQ disabled, events will not be published")
	}

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid scheduler timezone")
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

	if rmq != nil {
		userConsumer, err := consumers.NewUserEventConsumer(rmq, cfg.RabbitMQ, svc.Staff, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create user event consumer")
		}
		if err := userConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start user event consumer")
		}
	}

	if cfg.Scheduler.Enabled {
		locker, err := newLocker(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		scheduler, err := service.NewScheduler(jobs, stores.Tenants, locker, service.SchedulerConfig{
			Schedules: []service.Schedule{
				{Job: service.JobExpireInventory, At: cfg.Scheduler.ExpirySweepAt},
				{Job: service.JobCheckAlerts, At: cfg.Scheduler.AlertScanAt},
				{Job: service.JobDeactivatePrescriptions, At: cfg.Scheduler.PrescriptionInactivityAt},
				{Job: service.JobExpireStaleRequests, At: cfg.Scheduler.StaleRequestsAt},
			},
			Location:     loc,
			PollInterval: cfg.Scheduler.PollInterval,
			LockTTL:      cfg.Scheduler.LockTTL,
			MultiTenant:  cfg.Tenancy.Required,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid scheduler configuration")
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Accept-Language"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)
	if cfg.RateLimit.Enabled {
		limit, err := httputil.RateLimit(cfg.RateLimit.Rate, log)
		if err != nil {
			log.Fatal().Err(err).Str("rate", cfg.RateLimit.Rate).Msg("invalid rate limit")
		}
		r.Use(limit)
	}
	r.Use(httputil.TenantMiddleware(cfg.Tenancy.Required))
	r.Use(httputil.ActorMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
		}
		if rmq != nil {
			health["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, r, http.StatusOK, health)
	})

	r.Mount("/api/v1/pharmacy", handler.New(svc, jobs, log).Routes())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stops the consumer and the scheduler loop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// newLocker returns a Redis job lock shared by every replica, or an
// in-process lock when Redis is disabled.
func newLocker(ctx context.Context, cfg *config.Config, log *logger.Logger) (lock.Locker, error) {
	if !cfg.Redis.Enabled {
		log.Warn().Msg("Redis disabled, scheduler locks are local to this process")
		return lock.NewLocalLocker(), nil
	}
	client, err := lock.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	return lock.NewRedisLocker(client, "medflow:pharmacy:jobs"), nil
}

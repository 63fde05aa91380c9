package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/edulane/notify-service/config"
	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/dispatch"
	"github.com/edulane/notify-service/internal/handler/ops"
	"github.com/edulane/notify-service/internal/platform"
	"github.com/edulane/notify-service/internal/queue"
	"github.com/edulane/notify-service/internal/repository"
	"github.com/edulane/notify-service/internal/repository/postgres"
	"github.com/edulane/notify-service/internal/service/processor"
	"github.com/edulane/notify-service/internal/service/retry"
	"github.com/edulane/notify-service/internal/unsubscribe"
	"github.com/edulane/notify-service/internal/worker"
	"github.com/edulane/notify-service/pkg/logger"
	redisbroker "github.com/edulane/notify-service/pkg/messaging/redis"
	"github.com/edulane/notify-service/pkg/metrics"
)

const collaboratorCacheTTL = 5 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{Level: logger.InfoLevel, Pretty: cfg.LogPretty})

	db, err := postgres.Connect(cfg.Database.DSN())
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := redisbroker.NewBroker(cfg.Redis.ToBrokerConfig(), log)
	if err != nil {
		log.Fatal(err, "failed to connect to redis broker")
	}
	defer broker.Close()

	m := metrics.New("notify")

	// Repositories.
	baseRepo := postgres.NewBaseRepository(db)
	notificationRepo := postgres.NewNotificationRepository(baseRepo)
	deliveryRepo := postgres.NewDeliveryRepository(baseRepo)

	// Queues share one postgres-backed store.
	storage := queue.NewPostgresStorage(db)
	enqueuers := processor.Enqueuers{
		Orchestration: queue.NewEnqueuer(storage, queue.QueueOrchestration),
		Email:         queue.NewEnqueuer(storage, queue.QueueEmail),
		Push:          queue.NewEnqueuer(storage, queue.QueuePush),
	}

	// Collaborators: in-database implementations behind read-through caches.
	users := collaborator.NewCachedUserDirectory(platform.NewUserDirectory(db), collaboratorCacheTTL)
	preferences := collaborator.NewCachedPreferenceResolver(platform.NewPreferenceResolver(db), collaboratorCacheTTL)
	renderer := platform.NewTemplateRenderer(db)
	events := collaborator.NewBrokerEventPublisher(broker)
	analytics := collaborator.NewBrokerAnalyticsRecorder(broker)

	emailDispatcher := dispatch.NewSMTPEmailDispatcher(dispatch.SMTPConfig{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		FromAddress: cfg.SMTP.FromAddress,
		FromName:    cfg.SMTP.FromName,
		Timeout:     cfg.SMTP.Timeout,
	})
	pushDispatcher := dispatch.NewHTTPPushDispatcher(dispatch.PushConfig{
		Timeout:   cfg.Push.Timeout,
		BatchSize: cfg.Push.BatchSize,
	})

	tokens, err := unsubscribe.NewTokenService(cfg.Unsubscribe.Secret, cfg.Unsubscribe.BaseURL, cfg.Unsubscribe.TTL)
	if err != nil {
		log.Fatal(err, "failed to initialize unsubscribe tokens")
	}

	policy := retry.NewPolicy(cfg.Retry.BaseDelay, cfg.Retry.EmailCap, cfg.Retry.PushCap)

	proc := processor.New(notificationRepo, deliveryRepo, preferences, renderer, enqueuers, log, m)
	emailWorker := worker.NewEmailWorker(deliveryRepo, notificationRepo, users, renderer,
		emailDispatcher, events, analytics, tokens, policy, log, m)
	pushWorker := worker.NewPushWorker(deliveryRepo, notificationRepo, users, renderer,
		pushDispatcher, preferences, events, analytics,
		worker.PushDefaults{IconURL: cfg.Push.IconURL, BadgeURL: cfg.Push.BadgeURL, BaseURL: cfg.App.BaseURL},
		policy, log, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := startQueueWorkers(ctx, storage, cfg, log, m, proc, emailWorker, pushWorker)
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
	}()

	sweep := worker.NewRetrySweep(deliveryRepo, enqueuers.Email, enqueuers.Push,
		cfg.Retry.SweepInterval, cfg.Retry.SweepBatch, log, m)
	go sweep.Start(ctx)

	opsServer := startOpsServer(cfg, db, broker, storage, deliveryRepo, log)

	// Block until shutdown is requested.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "ops server shutdown failed")
	}
}

func startQueueWorkers(
	ctx context.Context,
	storage queue.Storage,
	cfg *config.Config,
	log *logger.Logger,
	m *metrics.Metrics,
	proc *processor.Processor,
	emailWorker *worker.EmailWorker,
	pushWorker *worker.PushWorker,
) []*queue.Worker {
	specs := []struct {
		name    string
		cfg     config.QueueConfig
		handler queue.Handler
	}{
		{queue.QueueOrchestration, cfg.Queues.Orchestration, proc.Handler()},
		{queue.QueueEmail, cfg.Queues.Email, emailWorker.Handler()},
		{queue.QueuePush, cfg.Queues.Push, pushWorker.Handler()},
	}

	workers := make([]*queue.Worker, 0, len(specs))
	for _, spec := range specs {
		w, err := queue.NewWorker(storage, queue.WorkerConfig{
			Queue:        spec.name,
			Concurrency:  spec.cfg.Concurrency,
			RatePerMin:   spec.cfg.RatePerMin,
			PollInterval: spec.cfg.PollInterval,
			LockTimeout:  spec.cfg.LockTimeout,
		}, log, m)
		if err != nil {
			log.Fatal(err, "failed to create queue worker", "queue", spec.name)
		}
		w.RegisterHandler(spec.handler)
		if err := w.Start(ctx); err != nil {
			log.Fatal(err, "failed to start queue worker", "queue", spec.name)
		}
		workers = append(workers, w)
	}
	return workers
}

func startOpsServer(
	cfg *config.Config,
	db *sqlx.DB,
	broker ops.Pinger,
	storage queue.Storage,
	deliveries repository.DeliveryRepository,
	log *logger.Logger,
) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	ops.NewHandler(db, broker, storage, deliveries).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:      router,
		ReadTimeout:  cfg.Ops.ReadTimeout,
		WriteTimeout: cfg.Ops.WriteTimeout,
	}

	go func() {
		log.Info("ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "ops server failed")
		}
	}()

	return srv
}

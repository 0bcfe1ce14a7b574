package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/api"
	"github.com/lalithlochan/teamalerts/internal/app"
	"github.com/lalithlochan/teamalerts/internal/authz"
	"github.com/lalithlochan/teamalerts/internal/config"
	"github.com/lalithlochan/teamalerts/internal/jobs"
	"github.com/lalithlochan/teamalerts/internal/observ"
	"github.com/lalithlochan/teamalerts/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger("gateway", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting teamalerts gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("timezone", cfg.Timezone),
	)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Cron triggers
	scheduler := jobs.NewScheduler(a.Runner, cfg.JobTimeout, logger)
	if err := scheduler.Add(jobs.JobStage, cfg.StageCron); err != nil {
		return err
	}
	if err := scheduler.Add(jobs.JobSend, cfg.SendCron); err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	logger.Info("job scheduler started",
		zap.Int("entries", scheduler.Len()),
		zap.String("stage_cron", cfg.StageCron),
		zap.String("send_cron", cfg.SendCron),
	)

	// Queue triggers
	triggerCtx, triggerCancel := context.WithCancel(context.Background())
	defer triggerCancel()

	if cfg.TriggerQueueURL != "" {
		client, err := sqs.NewClient(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.TriggerQueueURL,
			Endpoint: cfg.AWSEndpointURL,
		})
		if err != nil {
			logger.Warn("sqs unavailable, queue triggers disabled", zap.Error(err))
		} else {
			consumer := sqs.NewConsumer(client, cfg.TriggerQueueURL, logger)
			go jobs.NewTriggerHandler(consumer, a.Runner, logger).Start(triggerCtx)
			logger.Info("trigger handler started", zap.String("queue_url", cfg.TriggerQueueURL))
		}
	}

	handler := api.NewHandler(logger, a.Alerts, a.Repo, a.Runner)
	router := api.NewRouter(api.RouterConfig{
		Handler:     handler,
		Authorizer:  authz.NewDirectoryAuthorizer(a.Repo, logger),
		RateLimiter: a.RateLimiter(),
		Database:    a.DB,
		Breakers:    a.Breakers,
		Logger:      logger,
	})

	// Job endpoints run a full pass inside the request.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		triggerCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

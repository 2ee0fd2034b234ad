package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ppjudge/core"
)

func main() {
	_ = godotenv.Load()
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	var bus core.EventBus = core.LogBus{}
	if cfg.RabbitURL != "" {
		rb, err := core.NewRabbitBus(cfg.RabbitURL, true)
		if err != nil {
			log.Fatalf("failed to connect rabbitmq: %v", err)
		}
		bus = rb
	}
	bus = core.NewPgEventLog(db, bus)
	defer bus.Close()

	subRepo := core.NewPgSubmissionRepository(db)
	queueRepo := core.NewPgQueueRepository(db)
	execRepo := core.NewPgCodeExecutionRepository(db)

	// Problem bundles on disk override the catalog tables (local mode).
	var catalog core.Catalog = core.NewPgCatalog(db)
	if cfg.ProblemDir != "" {
		fsCatalog, err := core.NewFSCatalog(cfg.ProblemDir)
		if err != nil {
			log.Fatalf("failed to load problem bundles from %s: %v", cfg.ProblemDir, err)
		}
		catalog = fsCatalog
	}
	sandbox := core.NewHTTPSandbox(cfg.SandboxURL)
	runner := core.NewCaseRunner(sandbox, cfg.CompileTimeLimitMS)

	workerID := core.NewWorkerID()
	log.Printf("judge worker started. id=%s concurrency=%d sandbox=%s",
		workerID, cfg.WorkerConcurrency, cfg.SandboxURL)

	heartbeat := core.NewHeartbeatState(workerID, cfg.WorkerConcurrency)
	go heartbeat.Start(ctx, redisClient)

	metrics := core.NewMetricsService(queueRepo, subRepo, redisClient)
	maintenance := core.NewMaintenance(queueRepo, subRepo, execRepo, bus, core.MaintenanceOptions{
		Interval:           cfg.MaintenanceInterval,
		StaleThreshold:     cfg.StaleThreshold,
		QueueRetention:     cfg.QueueRetention,
		ExecutionRetention: cfg.ExecutionRetention,
		Metrics:            metrics,
	})
	go maintenance.Run(ctx)

	dispatcher := core.NewDispatcher(queueRepo, subRepo, catalog, runner, bus, core.DispatcherOptions{
		WorkerIDBase:  workerID,
		Workers:       cfg.WorkerConcurrency,
		PollInterval:  cfg.PollInterval,
		ShutdownGrace: cfg.ShutdownGrace,
		Heartbeat:     heartbeat,
	})
	dispatcher.Run(ctx)

	log.Printf("judge worker %s stopped", workerID)
}

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"

	"ppjudge/core"
)

func main() {
	_ = godotenv.Load()
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "api.log")
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
	svc := core.NewJudgeService(subRepo, queueRepo, execRepo, catalog, runner, bus)
	metrics := core.NewMetricsService(queueRepo, subRepo, redisClient)

	userRepo := core.NewPgUserRepository(db)
	authService := core.NewRepositoryAuthService(userRepo)
	if err := core.BootstrapAdmin(ctx, userRepo, cfg); err != nil {
		log.Fatalf("bootstrap admin failed: %v", err)
	}

	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	router := core.NewRouter(cfg, store, authService, svc, metrics)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("starting judge api on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

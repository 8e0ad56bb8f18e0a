package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/lettora/crm-engine/internal/api"
	"github.com/lettora/crm-engine/internal/config"
	"github.com/lettora/crm-engine/internal/mailer"
	"github.com/lettora/crm-engine/internal/metrics"
	"github.com/lettora/crm-engine/internal/pkg/distlock"
	"github.com/lettora/crm-engine/internal/pkg/logger"
	"github.com/lettora/crm-engine/internal/repository/postgres"
	"github.com/lettora/crm-engine/internal/service/audience"
	"github.com/lettora/crm-engine/internal/service/campaign"
	"github.com/lettora/crm-engine/internal/service/dispatch"
	"github.com/lettora/crm-engine/internal/service/engagement"
	"github.com/lettora/crm-engine/internal/service/leads"
	"github.com/lettora/crm-engine/internal/track"
	"github.com/lettora/crm-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unavailable, using pg advisory locks", "error", err)
			redisClient = nil
		}
		defer func() {
			if redisClient != nil {
				redisClient.Close()
			}
		}()
	}

	// Repositories
	campaignRepo := postgres.NewCampaignRepo(db)
	emailRepo := postgres.NewEmailRepo(db)
	leadRepo := postgres.NewLeadRepo(db)
	contactRepo := postgres.NewContactRepo(db)
	templateRepo := postgres.NewTemplateRepo(db)
	taskRepo := postgres.NewTaskRepo(db)

	// Instrumentation
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Mailer transport
	mail, err := mailer.New(cfg)
	if err != nil {
		log.Fatalf("configure mailer: %v", err)
	}
	logger.Info("mailer configured", "provider", cfg.Mailer.Provider)

	// Services
	leadSvc := leads.NewService(leadRepo, taskRepo, nil, cfg.Scoring.FollowUpDueHours)
	resolver := audience.NewResolver(leadRepo, contactRepo)
	pipeline := dispatch.NewPipeline(
		emailRepo, campaignRepo, templateRepo, mail,
		dispatch.TrackingURLs{BaseURL: cfg.Tracking.BaseURL},
		m, nil,
		dispatch.Config{
			BatchSize:          cfg.Dispatch.BatchSize,
			PauseCheckInterval: cfg.Dispatch.PauseCheckInterval,
		},
	)
	locks := distlock.NewFactory(redisClient, db)
	campaignSvc := campaign.NewService(campaignRepo, resolver, pipeline, locks, nil)
	engagementSvc := engagement.NewService(emailRepo, leadSvc, m, nil)

	// Scheduler
	if cfg.Scheduler.Enabled {
		scheduler := worker.NewScheduler(campaignRepo, campaignSvc, nil, cfg.Scheduler.PollCronExpr)
		if err := scheduler.Start(context.Background()); err != nil {
			log.Fatalf("start scheduler: %v", err)
		}
		defer scheduler.Stop()
	}

	// Management API, with the tracking endpoints on the same mux so a
	// single-binary deployment works out of the box.
	handlers := api.NewHandlers(campaignSvc, leadSvc, engagementSvc, pipeline, templateRepo)
	router := api.SetupRoutes(handlers, metrics.Handler(registry))
	trackHandler := track.NewHandler(engagementSvc)
	router.Get("/track/open/{id}", trackHandler.HandleOpen)
	router.Get("/track/click/{id}", trackHandler.HandleClick)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	srv := api.NewServer(addr, router)

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

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

	"github.com/lettora/crm-engine/internal/config"
	"github.com/lettora/crm-engine/internal/metrics"
	"github.com/lettora/crm-engine/internal/pkg/logger"
	"github.com/lettora/crm-engine/internal/repository/postgres"
	"github.com/lettora/crm-engine/internal/service/engagement"
	"github.com/lettora/crm-engine/internal/service/leads"
	"github.com/lettora/crm-engine/internal/track"
)

// The tracking binary serves only the public pixel and redirect
// endpoints, so the high-traffic surface can be scaled and firewalled
// separately from the management API.
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

	emailRepo := postgres.NewEmailRepo(db)
	leadRepo := postgres.NewLeadRepo(db)
	taskRepo := postgres.NewTaskRepo(db)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	leadSvc := leads.NewService(leadRepo, taskRepo, nil, cfg.Scoring.FollowUpDueHours)
	engagementSvc := engagement.NewService(emailRepo, leadSvc, m, nil)

	router := track.NewHandler(engagementSvc).Routes()
	router.Method(http.MethodGet, "/metrics", metrics.Handler(registry))

	addr := fmt.Sprintf(":%d", cfg.Tracking.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tracking service listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

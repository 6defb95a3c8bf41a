package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lunara-app/service-cycle-go/internal/config"
	"github.com/lunara-app/service-cycle-go/internal/cycle"
	cyclerepo "github.com/lunara-app/service-cycle-go/internal/cycle/repo"
	"github.com/lunara-app/service-cycle-go/internal/notification"
	"github.com/lunara-app/service-cycle-go/internal/observability"
	"github.com/lunara-app/service-cycle-go/internal/relationship"
	"github.com/lunara-app/service-cycle-go/internal/router"
	"github.com/lunara-app/service-cycle-go/internal/scheduler"
	"github.com/lunara-app/service-cycle-go/pkg/database"
	"github.com/lunara-app/service-cycle-go/pkg/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.InitLogger(utilities.LogConfig{
		Level: cfg.Log.Level,
		Dev:   cfg.Log.Dev,
		File:  cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-cycle-go")

	// pick the storage substrate
	var store cycle.Store
	switch cfg.Database.Driver {
	case "memory":
		sugar.Warn("using in-memory store; data will not survive restarts")
		store = cycle.NewMemoryStore()
	default:
		sqlDB, err := database.Connect(database.Config{
			Driver:   cfg.Database.Driver,
			DSN:      cfg.Database.DSN,
			MaxConns: cfg.Database.MaxConns,
			Timeout:  5 * time.Second,
		})
		if err != nil {
			sugar.Fatalf("db connect: %v", err)
		}
		defer sqlDB.Close()

		sqlxDB := sqlx.NewDb(sqlDB, cfg.Database.Driver)
		sqlStore := cyclerepo.NewSQLStore(sqlxDB)
		if cfg.Database.Driver == "sqlite" {
			// sqlite dev mode runs without cmd/migrate
			if err := sqlStore.EnsureSchema(context.Background()); err != nil {
				sugar.Fatalf("ensure schema: %v", err)
			}
		}
		store = sqlStore
	}

	var peers relationship.Directory
	if cfg.Relationship.BaseURL != "" {
		peers = relationship.NewHTTPDirectory(cfg.Relationship.BaseURL)
	} else {
		peers = relationship.NewStaticDirectory(cfg.Relationship.StaticPeers)
	}

	var notifier notification.Notifier
	if cfg.Notification.BaseURL != "" {
		notifier = notification.NewHTTPNotifier(cfg.Notification.BaseURL, sugar)
	} else {
		notifier = notification.NoopNotifier{}
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	svc := cycle.NewService(store, peers, notifier, metrics, sugar)
	handler := cycle.NewHandler(svc, sugar)

	if cfg.Reminder.Enabled {
		reminders := scheduler.New(store, notifier, sugar)
		runner, err := reminders.Start(cfg.Reminder.Cron)
		if err != nil {
			sugar.Fatalf("reminder scheduler: %v", err)
		}
		defer runner.Stop()
		sugar.Infow("reminder scheduler started", "cron", cfg.Reminder.Cron)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router.RegisterRoutes(sugar, handler, cfg.JWTSecret),
	}

	go func() {
		sugar.Infow("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"stakan-guard/internal/analytics"
	"stakan-guard/internal/bot"
	"stakan-guard/internal/config"
	"stakan-guard/internal/modules/audit"
	"stakan-guard/internal/storage"
	"stakan-guard/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.Open(startCtx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		startCancel()
		logger.Fatal("storage init failed", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(startCtx); err != nil {
		startCancel()
		logger.Fatal("migrations failed", zap.Error(err))
	}
	startCancel()

	shutdownTracing, err := telemetry.InitTracing(cfg.Tracing.ServiceName, version, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, logger)
	if err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	auditLogger := audit.NewLogger(store, logger, nil)
	reports := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, auditLogger, reports)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("version", version), zap.String("language", cfg.Language))

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle(cfg.Health.MetricsPath, promhttp.Handler())
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr), zap.String("metrics", cfg.Health.MetricsPath))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	if err := botSvc.Close(ctx); err != nil {
		logger.Warn("bot shutdown incomplete", zap.Error(err))
	}
}

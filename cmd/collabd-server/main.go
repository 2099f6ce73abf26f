// Command collabd-server runs the collaboration engine's HTTP and
// websocket surface: env-driven config, optional SQLite persistence, a
// background sweep/persist loop, and graceful shutdown on SIGTERM/SIGINT.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/collabd/collabd/internal/auth"
	"github.com/collabd/collabd/internal/cluster"
	"github.com/collabd/collabd/internal/config"
	"github.com/collabd/collabd/internal/metrics"
	"github.com/collabd/collabd/internal/repository"
	"github.com/collabd/collabd/pkg/logger"
	"github.com/collabd/collabd/pkg/server"
	"github.com/collabd/collabd/pkg/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.ErrorErr(err, "failed to load configuration")
		os.Exit(1)
	}

	logger.Info("starting collabd", "port", cfg.Port, "expiry_days", cfg.ExpiryDays)

	m := metrics.New()

	var repo repository.DocumentRepository
	if cfg.SQLiteURI != "" {
		sqliteRepo, err := repository.Open(cfg.SQLiteURI)
		if err != nil {
			logger.ErrorErr(err, "failed to open document repository")
			os.Exit(1)
		}
		defer sqliteRepo.Close()
		repo = sqliteRepo
		logger.Info("document repository", "uri", cfg.SQLiteURI)
	} else {
		logger.Info("document repository disabled, running in-memory only")
	}

	var bus cluster.Bus = cluster.NoopBus{}
	if cfg.NATSURL != "" {
		originID := fmt.Sprintf("collabd-%d", os.Getpid())
		natsBus, err := cluster.Connect(cfg.NATSURL, originID, m)
		if err != nil {
			logger.ErrorErr(err, "failed to connect to cluster bus")
			os.Exit(1)
		}
		defer natsBus.Close()
		bus = natsBus
		logger.Info("cluster bus connected", "url", cfg.NATSURL)
	}

	authenticator := auth.NewJWTAuthenticator(cfg.JWTSecret)
	registry := server.NewRegistry(repo, bus, m, cfg.MaxDocumentSizeBytes, cfg.RetentionEntries, cfg.IdleGracePeriod)
	sessionCfg := session.Config{
		ReadTimeout:        cfg.WSReadTimeout,
		WriteTimeout:       cfg.WSWriteTimeout,
		OutboundBufferSize: cfg.BroadcastBufferSize,
		RateLimitPerSecond: cfg.OperationRateLimitPerSecond,
		RateLimitBurst:     cfg.OperationRateLimitBurst,
	}
	srv := server.New(registry, authenticator, authenticator, repo, sessionCfg, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.StartBackgroundLoops(ctx, time.Minute, 3*time.Second)

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: srv}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorErr(err, "metrics server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.ErrorErr(err, "server failed")
		os.Exit(1)
	}
}

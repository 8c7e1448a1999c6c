package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"staffnotify/internal/config"
	"staffnotify/internal/dispatch"
	"staffnotify/internal/httpserver"
	"staffnotify/internal/logging"
	"staffnotify/internal/observability"
	"staffnotify/internal/providers/smsprosto"
	"staffnotify/internal/scheduler"
	"staffnotify/internal/store/pg"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	store := pg.New(db)

	provider := &smsprosto.Client{
		BaseURL: cfg.SMSAPIURL,
		APIKey:  cfg.SMSAPIKey,
		Sender:  cfg.SMSSender,
		HTTP:    &http.Client{Timeout: time.Duration(cfg.SMSTimeoutSec) * time.Second},
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.SMSRPSPerPod), cfg.SMSBurst)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sms-prosto",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= cfg.SMSBreakerTrip },
	})

	dispatcher := &dispatch.Dispatcher{
		Store:   store,
		Sender:  provider,
		Limiter: limiter,
		Breaker: breaker,
	}

	if cfg.SchedulerEnabled {
		sched := &scheduler.Scheduler{
			Store:           store,
			Provider:        provider,
			PromoteInterval: time.Duration(cfg.PromoteIntervalSec) * time.Second,
			ConfirmInterval: time.Duration(cfg.ConfirmIntervalSec) * time.Second,
		}
		if err := sched.Start(ctx); err != nil {
			slog.Error("scheduler start failed", "err", err)
			os.Exit(1)
		}
	}

	s := httpserver.New()
	api := &httpserver.API{
		Dispatcher: dispatcher,
		Store:      store,
		Provider:   provider,
	}
	api.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	}))

	handler := httpserver.Logging(httpserver.Metrics(observability.APIRequests)(s.Mux))
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		slog.Info("metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port, "scheduler", cfg.SchedulerEnabled)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}

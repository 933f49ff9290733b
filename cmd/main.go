package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/keytempo/fanout/internal/adapters/http/api"
	app "github.com/keytempo/fanout/internal/app"
	"github.com/keytempo/fanout/internal/config"
	"github.com/keytempo/fanout/pkg/logger"
	"github.com/keytempo/fanout/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Drop the default Go collectors; the service publishes its own
	// system metrics on the custom registry.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := app.New(
		app.WithLogger(log),
		app.WithPendingBounds(cfg.MaxPendingKeys, cfg.MaxAccumulated),
		app.WithFlushIntervals(
			time.Duration(cfg.PassiveFlushMS)*time.Millisecond,
			time.Duration(cfg.ObserverFlushMS)*time.Millisecond,
		),
		app.WithRecencyWindows(
			time.Duration(cfg.ActiveWindowMS)*time.Millisecond,
			time.Duration(cfg.PassiveWindowMS)*time.Millisecond,
		),
		app.WithLedgerPruneInterval(time.Duration(cfg.LedgerPruneMS)*time.Millisecond),
		app.WithSubscriberBuffer(cfg.SubscriberBuffer),
	)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop(context.Background())

	go startSystemMetricsUpdater(ctx)

	apiServer := api.NewServer(svc, svc, api.WithIngestLimit(cfg.IngestRPS, cfg.IngestBurst))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Router(ctx),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		// No WriteTimeout: /subscribe streams for the connection lifetime.
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
}

// startSystemMetricsUpdater periodically publishes process-level metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			metrics.UpdateSystemMemoryUsage(m.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		}
	}
}

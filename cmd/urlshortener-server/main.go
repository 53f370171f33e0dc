package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/ndajr/urlshortener-analytics/internal/config"
	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/ndajr/urlshortener-analytics/internal/datastore"
	"github.com/ndajr/urlshortener-analytics/internal/httpserver"
	"github.com/ndajr/urlshortener-analytics/internal/rpcserver"
	"github.com/ndajr/urlshortener-analytics/internal/shortener"
	"github.com/ndajr/urlshortener-analytics/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

var (
	version   = "dev"
	gitCommit = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Error("failed to parse flags", "error", err)
		os.Exit(2)
	}
	v, err := config.Load(flags)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, shutdown := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer shutdown()

	appCfg, storeCfg, tracingCfg := config.GetSettings(v)
	logger.Info("starting urlshortener service", "version", version, "commit", gitCommit, "store", storeCfg.Driver)

	if tracingCfg.ServiceVersion == "dev" {
		tracingCfg.ServiceVersion = version
	}
	shutdownTracing, err := telemetry.Setup(ctx, logger, tracingCfg)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	store, err := datastore.New(ctx, logger, storeCfg, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to connect to datastore", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	svc := shortener.NewService(logger, store, core.NewGenerator(appCfg.MaxAttempts))

	var wg sync.WaitGroup

	grpcSrv := rpcserver.NewServer(logger, store)
	if runErr := grpcSrv.Run(ctx, appCfg.GrpcEndpoint, &wg); runErr != nil {
		logger.Error("failed to run gRPC server", "error", runErr)
		os.Exit(1)
	}

	httpSrv, err := httpserver.NewServer(logger, svc, httpserver.Config{
		Addr:              appCfg.HttpEndpoint,
		TrustProxyHeaders: appCfg.TrustProxyHeaders,
		ShutdownTimeout:   appCfg.ShutdownTimeout,
	}, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		logger.Error("failed to create HTTP server", "error", err)
		os.Exit(1)
	}
	if runErr := httpSrv.Run(ctx, &wg); runErr != nil {
		logger.Error("failed to run HTTP server", "error", runErr)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("powering down urlshortener service")
	wg.Wait()
}

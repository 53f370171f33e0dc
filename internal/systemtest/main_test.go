package systemtest

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ndajr/urlshortener-analytics/internal/config"
	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/ndajr/urlshortener-analytics/internal/datastore"
	"github.com/ndajr/urlshortener-analytics/internal/httpserver"
	"github.com/ndajr/urlshortener-analytics/internal/rpcserver"
	"github.com/ndajr/urlshortener-analytics/internal/shortener"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	baseURL      string
	httpClient   *http.Client
	healthClient healthpb.HealthClient
)

// TestMain runs the service against the memory store unless
// URLSHORTENER_STORE_DRIVER selects another backend.
func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	v, err := config.Load(nil)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	appCfg, storeCfg, _ := config.GetSettings(v)
	if os.Getenv("URLSHORTENER_STORE_DRIVER") == "" {
		storeCfg.Driver = config.DriverMemory
	}

	reg := prometheus.NewRegistry()
	store, err := datastore.New(ctx, logger, storeCfg, reg)
	if err != nil {
		logger.Error("datastore was unable to start", "error", err)
		return 1
	}
	defer store.Close()

	svc := shortener.NewService(logger, store, core.NewGenerator(appCfg.MaxAttempts))
	httpSrv, err := httpserver.NewServer(logger, svc, httpserver.Config{ShutdownTimeout: time.Second}, reg, reg)
	if err != nil {
		logger.Error("failed to create http server", "error", err)
		return 1
	}

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Error("failed to listen", "error", err)
		return 1
	}
	if err := httpSrv.Serve(ctx, httpLis, &wg); err != nil {
		logger.Error("http server failed during test", "error", err)
		return 1
	}
	baseURL = "http://" + httpLis.Addr().String()

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Error("failed to listen", "error", err)
		return 1
	}
	grpcSrv := rpcserver.NewServer(logger, store)
	if err := grpcSrv.Serve(ctx, grpcLis, &wg); err != nil {
		logger.Error("gRPC server failed during test", "error", err)
		return 1
	}

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Error("failed to connect to gRPC server", "error", err)
		return 1
	}
	defer conn.Close()
	healthClient = healthpb.NewHealthClient(conn)

	httpClient = &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return m.Run()
}

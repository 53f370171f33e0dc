package httpserver

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/ndajr/urlshortener-analytics/internal/shortener"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerui "github.com/swaggest/swgui/v5emb"
)

const docsURL = "/docs/"

// maxBodyBytes caps the shorten request body.
const maxBodyBytes = 1 << 16

//go:embed apidocs.swagger.json
var swaggerJSON []byte

type Config struct {
	Addr string
	// TrustProxyHeaders makes the server take the visitor address and the
	// scheme of returned short URLs from X-Forwarded-* headers.
	TrustProxyHeaders bool
	ShutdownTimeout   time.Duration
}

type Server struct {
	server   *http.Server
	logger   *slog.Logger
	svc      *shortener.Service
	cfg      Config
	metrics  Metrics
	gatherer prometheus.Gatherer
	validate *validator.Validate
}

func NewServer(logger *slog.Logger, svc *shortener.Service, cfg Config, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Server, error) {
	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("httpserver: failed to register metrics: %w", err)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		logger:   logger,
		svc:      svc,
		cfg:      cfg,
		metrics:  metrics,
		gatherer: gatherer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routing tree of the service.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.accessLog)
	r.Use(traceRequest)
	r.Use(middleware.Recoverer)

	r.Get("/", s.indexHandler())
	r.Post("/shorten", s.shortenHandler())
	r.Get("/analytics/{short_code}", s.analyticsHandler())
	r.Get("/{short_code}", s.redirectHandler())

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(swaggerJSON); err != nil {
			s.logger.Error("failed to respond with swagger.json content", "error", err)
		}
	})
	r.Handle(docsURL+"*", swaggerui.New("URL Shortener API", "/swagger.json", docsURL))

	return r
}

func (s *Server) Run(ctx context.Context, wg *sync.WaitGroup) error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, lis, wg)
}

// Serve accepts connections on lis until ctx is done, then drains in-flight
// requests for at most the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, lis net.Listener, wg *sync.WaitGroup) error {
	go func() {
		s.logger.Info("starting urlshortener http service", "addr", lis.Addr().String())
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed to serve", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server graceful shutdown failed", "error", err)
		}
	}()

	return nil
}

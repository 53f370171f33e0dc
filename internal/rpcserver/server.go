package rpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/ndajr/urlshortener-analytics/internal/datastore"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server is the admin gRPC endpoint. It serves the standard health protocol
// so orchestrators can probe the store behind the HTTP API.
type Server struct {
	logger     *slog.Logger
	grpcServer *grpc.Server

	HealthService HealthService
}

func NewServer(logger *slog.Logger, store datastore.Pinger) Server {
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	)

	srv := Server{
		logger:        logger,
		grpcServer:    grpcServer,
		HealthService: NewHealthService(logger, store),
	}

	srv.registerServices(grpcServer)
	grpc_prometheus.Register(grpcServer)
	return srv
}

func (s *Server) registerServices(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.HealthService)
	reflection.Register(srv)
}

func (s *Server) Run(ctx context.Context, address string, wg *sync.WaitGroup) error {
	conn, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, conn, wg)
}

// Serve accepts connections on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener, wg *sync.WaitGroup) error {
	go func() {
		s.logger.Info("starting urlshortener gRPC admin service", "addr", lis.Addr().String())
		if serveErr := s.grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server failed to serve", "error", serveErr)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.logger.Info("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	return nil
}

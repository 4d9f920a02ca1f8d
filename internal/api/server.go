// Package api hosts the varengine-server listeners: the HTTP API from
// httpapi and the gRPC risk service, with the standard gRPC health service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"varengine/internal/config"
)

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	log      *slog.Logger

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	mu      sync.Mutex
	httpLis net.Listener
	grpcLis net.Listener
}

// NewServer creates a Server configured from the given Config. handler
// serves HTTP; svc is registered on the gRPC server.
func NewServer(cfg *config.Config, handler http.Handler, svc RiskServiceServer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "api")

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoveryInterceptor(log),
		loggingInterceptor(log),
	))
	RegisterRiskService(gs, svc)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		httpAddr: net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port)),
		grpcAddr: net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.GRPCPort)),
		log:      log,
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc:   gs,
		health: hs,
	}
}

// GRPC returns the underlying gRPC server so tests can serve it on their
// own listener.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs. On cancellation it shuts
// both servers down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	grpcLis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
	}
	return s.Serve(ctx, httpLis, grpcLis)
}

// Serve runs both servers on the given listeners.
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	s.mu.Lock()
	s.httpLis, s.grpcLis = httpLis, grpcLis
	s.mu.Unlock()

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("http listening", "addr", httpLis.Addr().String())
		if err := s.http.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		s.log.Info("grpc listening", "addr", grpcLis.Addr().String())
		if err := s.grpc.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(shutdownCtx)
		return err
	}
}

// Addrs returns the bound HTTP and gRPC addresses once serving.
func (s *Server) Addrs() (httpAddr, grpcAddr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLis != nil {
		httpAddr = s.httpLis.Addr().String()
	}
	if s.grpcLis != nil {
		grpcAddr = s.grpcLis.Addr().String()
	}
	return httpAddr, grpcAddr
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	err := s.http.Shutdown(ctx)

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	s.log.Info("servers stopped")
	return err
}

// Package healthcheck serves the gRPC health protocol and keeps its status in
// step with the database.
package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported next to the overall ("") status.
const ServiceName = "vulnshop"

// DefaultInterval is how often the store is pinged.
const DefaultInterval = 15 * time.Second

const pingTimeout = 3 * time.Second

// Pinger is implemented by store.Repository.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server couples a gRPC server with the standard health service.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	logger   *slog.Logger
	last     healthpb.HealthCheckResponse_ServingStatus
}

// New registers the health service on a fresh gRPC server. Status starts
// NOT_SERVING until the first check.
func New(pinger Pinger, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		pinger:   pinger,
		interval: interval,
		logger:   logger,
		last:     healthpb.HealthCheckResponse_NOT_SERVING,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Check pings the store once and publishes the result.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.pinger.Ping(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if s.last != status {
			s.logger.Warn("store ping failed, reporting not serving", "error", err)
		}
	} else if s.last != status {
		s.logger.Info("store reachable, reporting serving")
	}
	s.last = status
	s.setStatus(status)
	return status
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Watch checks the store every interval until ctx is done.
func (s *Server) Watch(ctx context.Context) {
	s.Check(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Serve blocks serving gRPC on lis.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains open streams.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// ListenAndServe listens on addr, watches the store and serves until ctx
// is done.
func ListenAndServe(ctx context.Context, addr string, pinger Pinger, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s := New(pinger, DefaultInterval, logger)
	go s.Watch(ctx)
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	s.logger.Info("grpc health listening", "addr", lis.Addr().String())
	return s.Serve(lis)
}

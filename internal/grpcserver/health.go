package grpcserver

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-engine/internal/observability"
)

const pingTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable. *sqlx.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthServer serves grpc.health.v1 for the whole server ("") and for
// the named service. Status follows a periodic ping of the database.
type HealthServer struct {
	service  string
	pinger   Pinger
	interval time.Duration

	server *grpc.Server
	health *health.Server

	stop chan struct{}
	once sync.Once
}

func NewHealthServer(service string, pinger Pinger, interval time.Duration) *HealthServer {
	s := &HealthServer{
		service:  service,
		pinger:   pinger,
		interval: interval,
		server: grpc.NewServer(
			grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
		),
		health: health.NewServer(),
		stop:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve blocks until Stop. The first ping runs before accepting calls.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.Refresh(context.Background())
	go s.watch()
	log.Printf("grpc health listening addr=%s", lis.Addr())
	return s.server.Serve(lis)
}

// Refresh pings once and updates the status.
func (s *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.pinger.PingContext(ctx); err != nil {
		log.Printf("health ping failed: %v", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.set(status)
	return status
}

func (s *HealthServer) watch() {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Refresh(context.Background())
		}
	}
}

func (s *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *HealthServer) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		s.server.GracefulStop()
	})
}

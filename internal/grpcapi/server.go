// Package grpcapi serves the standard gRPC health protocol so orchestrators
// can probe the access service the same way they probe the HTTP /readyz.
package grpcapi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"
)

// ServiceName is the health service key reported alongside the overall "".
const ServiceName = "clinica.access"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Server mirrors a ReadinessChecker into a grpc health server.
type Server struct {
	health   *health.Server
	ready    ReadinessChecker
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	serving bool
}

func NewServer(ready ReadinessChecker, interval time.Duration, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &Server{
		health:   health.NewServer(),
		ready:    ready,
		interval: interval,
		log:      log,
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register attaches the health service to gs.
func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
}

// Probe runs one readiness check and publishes the result.
func (s *Server) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	var err error
	if s.ready != nil {
		err = s.ready.Check(ctx)
	}
	ok := err == nil

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok != s.serving {
		if ok {
			s.log.Info("grpc health serving")
		} else {
			s.log.Warn("grpc health not serving", zap.Error(err))
		}
	}
	s.serving = ok
	if ok {
		s.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Run probes every interval until ctx is done, then marks the service as
// shutting down so watchers drain before the listener closes.
func (s *Server) Run(ctx context.Context) {
	s.Probe(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-t.C:
			s.Probe(ctx)
		}
	}
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// UnaryLogger logs each unary call with its status code.
func UnaryLogger(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("grpc_call",
			zap.String("method", info.FullMethod),
			zap.String("code", codeString(err)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return resp, err
	}
}

func codeString(err error) string {
	return grpcstatus.Code(err).String()
}

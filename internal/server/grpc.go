package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/tracing"
)

// ServiceName is the health service name reported next to the overall status
const ServiceName = "webterm"

// healthServer exposes grpc.health.v1 for orchestrator health checks
type healthServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func newHealthServer(tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *zap.Logger) *healthServer {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			tracing.GRPCUnaryInterceptor(tracer),
			metricsInterceptor(metrics),
		),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)

	hs := &healthServer{grpc: srv, health: h, logger: logger.Named("health")}
	hs.setServing(false)
	return hs
}

func (h *healthServer) serve(lis net.Listener) error {
	if err := h.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

func (h *healthServer) setServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(ServiceName, st)
	h.logger.Debug("health status changed", zap.String("status", st.String()))
}

func (h *healthServer) stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}

// metricsInterceptor records every served unary call
func metricsInterceptor(metrics *monitoring.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		metrics.RecordGRPCCall(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// Check asks the health service at addr whether the server is serving
func Check(ctx context.Context, addr string, tracer *tracing.Tracer) (healthpb.HealthCheckResponse_ServingStatus, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if tracer != nil {
		opts = append(opts, grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor(tracer)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}

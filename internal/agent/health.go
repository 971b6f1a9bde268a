package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/rafaeljc/heimdall-sdk/internal/logger"
)

// ServiceName is the gRPC health service name reported next to the
// server-wide "" entry.
const ServiceName = "heimdall.agent"

// HealthServer serves grpc.health.v1.Health. Both entries report SERVING
// while ready returns true.
type HealthServer struct {
	logger *slog.Logger
	ready  func() bool
	grpc   *grpc.Server
	health *health.Server
}

func NewHealthServer(log *slog.Logger, ready func() bool) *HealthServer {
	if ready == nil {
		panic("agent: ready func cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &HealthServer{
		logger: log,
		ready:  ready,
		grpc:   grpc.NewServer(grpc.ChainUnaryInterceptor(RequestLoggerInterceptor(log))),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	reflection.Register(h.grpc)
	h.update()
	return h
}

// Watch re-evaluates readiness every interval until ctx is done.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.update()
		}
	}
}

func (h *HealthServer) update() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if h.ready() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(ServiceName, st)
}

// Serve blocks serving on lis.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info("starting grpc health server", slog.String("addr", lis.Addr().String()))
	return h.grpc.Serve(lis)
}

// Listen binds addr and serves in the background.
func (h *HealthServer) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	go func() {
		if err := h.Serve(lis); err != nil {
			h.logger.Error("grpc health server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown marks every service NOT_SERVING and stops gracefully, forcing
// the stop when ctx ends first.
func (h *HealthServer) Shutdown(ctx context.Context) {
	h.health.Shutdown()

	done := make(chan struct{})
	go func() {
		h.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.grpc.Stop()
	}
}

// RequestLoggerInterceptor logs every unary call with an x-request-id taken
// from metadata or generated, and stores the call logger in the context.
func RequestLoggerInterceptor(base *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		reqID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get("x-request-id"); len(ids) > 0 {
				reqID = ids[0]
			}
		}
		if reqID == "" {
			reqID = uuid.NewString()
		}

		rpcLogger := base.With(
			slog.String("request_id", reqID),
			slog.String("rpc_method", info.FullMethod),
		)
		ctx = logger.WithContext(ctx, rpcLogger)

		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := slog.LevelDebug
		switch code {
		case codes.Internal, codes.Unavailable, codes.DataLoss, codes.Unknown:
			level = slog.LevelError
		case codes.DeadlineExceeded, codes.Unimplemented:
			level = slog.LevelWarn
		}
		rpcLogger.Log(ctx, level, "grpc request completed",
			slog.String("code", code.String()),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

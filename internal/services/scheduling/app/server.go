package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/timeouts"
)

// HealthServiceName is the health key reported for the scheduling core.
const HealthServiceName = "scheduling.v1.SchedulingService"

var errNotBuilt = errors.New("server is not built")

// Server hosts the scheduling runtime behind a gRPC listener.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	runtime    *Runtime
	logger     *logging.Logger
}

// New builds the runtime and binds the listener.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Server, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	rt, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(HealthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		runtime:    rt,
		logger:     logger.Named("server"),
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Runtime returns the wired components.
func (s *Server) Runtime() *Runtime {
	if s == nil {
		return nil
	}
	return s.runtime
}

// Run builds a server and serves until ctx ends.
func Run(ctx context.Context, cfg Config, logger *logging.Logger) error {
	server, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the publisher, the outbox worker and the gRPC server until ctx
// ends or one of them fails. Shutdown stops accepting requests first, then
// drains queued deliveries before stopping the workers.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil || s.runtime == nil {
		return errNotBuilt
	}
	defer s.runtime.Close()

	rt := s.runtime
	if rt.catchUp {
		if err := rt.CatchUp(ctx); err != nil {
			_ = s.listener.Close()
			return err
		}
	}

	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()
	group, groupCtx := errgroup.WithContext(workCtx)

	group.Go(func() error {
		return rt.dispatcher.Run(groupCtx)
	})
	if rt.outbox != nil {
		group.Go(func() error {
			return rt.outbox.Run(groupCtx)
		})
	}
	group.Go(func() error {
		s.logger.Info("scheduling server listening", "addr", s.Addr())
		if err := s.grpcServer.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		select {
		case <-ctx.Done():
		case <-groupCtx.Done():
		}
		s.shutdown(rt)
		stopWork()
		return nil
	})

	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(HealthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return group.Wait()
}

func (s *Server) shutdown(rt *Runtime) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeouts.Shutdown):
		s.logger.Warn("graceful stop timed out")
		s.grpcServer.Stop()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), timeouts.PublisherDrain)
	defer cancel()
	if err := rt.dispatcher.Drain(drainCtx); err != nil {
		s.logger.Warn("publisher drain incomplete", "pending", rt.dispatcher.Stats().Pending, "error", err)
	}
}

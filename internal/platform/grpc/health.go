package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
)

const (
	healthCallTimeout  = time.Second
	healthInitialDelay = 100 * time.Millisecond
	healthMaxDelay     = time.Second
)

var errNotServing = errors.New("health status is not SERVING")

// WaitForHealth blocks until the health check for service reports SERVING or
// ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logger *logging.Logger) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	client := grpc_health_v1.NewHealthClient(conn)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = healthInitialDelay
	policy.MaxInterval = healthMaxDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, healthCallTimeout)
		defer cancel()
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return struct{}{}, err
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			return struct{}{}, fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("waiting for gRPC health", "service", service, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("wait for gRPC health: %w", err)
	}
	return nil
}

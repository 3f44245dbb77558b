package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/mammo-check/internal/logging"
)

// Serve exposes the monitor's health service on addr until ctx ends.
func Serve(ctx context.Context, addr string, m *Monitor, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return logging.NewOperationError("healthcheck.listen", "", err)
	}
	return ServeListener(ctx, lis, m, logger)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, lis net.Listener, m *Monitor, logger *zap.Logger) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, m.HealthServer())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC health service listening", zap.String("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		srv.GracefulStop()
		<-errCh
		return nil
	}
}

// DialOption customises DialHealth.
type DialOption = grpc.DialOption

// DialHealth connects to a gRPC health service.
func DialHealth(ctx context.Context, addr string, logger *zap.Logger, opts ...DialOption) (healthpb.HealthClient, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("healthcheck.dial_health", "", err)
		logger.Error("failed to dial health service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return healthpb.NewHealthClient(conn), conn, nil
}

// CheckService asks a health service for the status of service.
func CheckService(ctx context.Context, client healthpb.HealthClient, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("check %q: %w", service, err)
	}
	return resp.GetStatus(), nil
}

package healthcheck

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/mammo-check/internal/prediction"
)

type stubChecker struct {
	mu      sync.Mutex
	results []*prediction.Health
	errs    []error
	calls   int
}

func (s *stubChecker) Health(context.Context) (*prediction.Health, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], s.errs[i]
}

func healthy() *prediction.Health {
	return &prediction.Health{Status: "healthy", ModelsLoaded: true}
}

func checkStatus(t *testing.T, m *Monitor, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := m.HealthServer().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestMonitorStartsNotServing(t *testing.T) {
	m := NewMonitor(&stubChecker{}, time.Second, zap.NewNop())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, m, ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, m, ""))
}

func TestMonitorFollowsBackend(t *testing.T) {
	checker := &stubChecker{
		results: []*prediction.Health{healthy(), {Status: "healthy", ModelsLoaded: false}, nil},
		errs:    []error{nil, nil, errors.New("connection refused")},
	}
	m := NewMonitor(checker, time.Second, zap.NewNop())

	status := m.Check(context.Background())
	assert.True(t, status.Serving())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, m, ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, m, ""))

	status = m.Check(context.Background())
	assert.ErrorIs(t, status.Err, ErrNotReady)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, m, ServiceName))

	status = m.Check(context.Background())
	assert.EqualError(t, status.Err, "connection refused")
	assert.Equal(t, status, m.Last())
}

func TestWaitReady(t *testing.T) {
	t.Run("returns once backend is ready", func(t *testing.T) {
		checker := &stubChecker{
			results: []*prediction.Health{nil, {Status: "loading"}, healthy()},
			errs:    []error{errors.New("refused"), nil, nil},
		}
		err := WaitReady(context.Background(), checker, 10*time.Second, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, 3, checker.calls)
	})

	t.Run("gives up after max wait", func(t *testing.T) {
		checker := &stubChecker{results: []*prediction.Health{nil}, errs: []error{errors.New("refused")}}
		err := WaitReady(context.Background(), checker, 300*time.Millisecond, zap.NewNop())
		assert.EqualError(t, err, "refused")
	})

	t.Run("disabled when max wait is zero", func(t *testing.T) {
		checker := &stubChecker{}
		require.NoError(t, WaitReady(context.Background(), checker, 0, zap.NewNop()))
		assert.Equal(t, 0, checker.calls)
	})
}

func TestServeListenerAnswersHealthChecks(t *testing.T) {
	checker := &stubChecker{results: []*prediction.Health{healthy()}, errs: []error{nil}}
	m := NewMonitor(checker, time.Hour, zap.NewNop())
	m.Check(context.Background())

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, lis, m, zap.NewNop()) }()

	client, conn, err := DialHealth(context.Background(), "bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)

	status, err := CheckService(context.Background(), client, ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	require.NoError(t, conn.Close())
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

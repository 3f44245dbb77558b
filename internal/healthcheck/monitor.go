// Package healthcheck tracks inference backend health and exposes it through the
// standard gRPC health service.
package healthcheck

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/mammo-check/internal/prediction"
)

// ServiceName is the gRPC health service name reported for the prediction backend.
const ServiceName = "mammocheck.Prediction"

// DefaultInterval is how often Run polls the backend.
const DefaultInterval = 30 * time.Second

// ErrNotReady is returned when the backend answers but has no model loaded.
var ErrNotReady = errors.New("prediction backend not ready")

// HealthChecker reports backend health.
type HealthChecker interface {
	Health(ctx context.Context) (*prediction.Health, error)
}

// Status is the outcome of the latest check.
type Status struct {
	Health    *prediction.Health
	Err       error
	CheckedAt time.Time
}

// Serving reports whether the last check found a ready backend.
func (s Status) Serving() bool {
	return s.Err == nil && s.Health.Healthy()
}

// Monitor polls a HealthChecker and mirrors the result into a gRPC health server.
type Monitor struct {
	checker  HealthChecker
	interval time.Duration
	server   *health.Server
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last Status
}

// NewMonitor creates a monitor. Both the named and the overall service start as
// NOT_SERVING until the first check.
func NewMonitor(checker HealthChecker, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		checker:  checker,
		interval: interval,
		server:   health.NewServer(),
		logger:   logger.Named("healthcheck"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	m.setServing(false)
	return m
}

// HealthServer returns the gRPC health implementation driven by this monitor.
func (m *Monitor) HealthServer() *health.Server {
	return m.server
}

// Check polls the backend once.
func (m *Monitor) Check(ctx context.Context) Status {
	h, err := m.checker.Health(ctx)
	if err == nil && !h.Healthy() {
		err = ErrNotReady
	}
	status := Status{Health: h, Err: err, CheckedAt: m.now()}

	m.mu.Lock()
	previous := m.last
	m.last = status
	m.mu.Unlock()

	serving := status.Serving()
	m.setServing(serving)
	if previous.CheckedAt.IsZero() || previous.Serving() != serving {
		if serving {
			m.logger.Info("prediction backend serving")
		} else {
			m.logger.Warn("prediction backend not serving", zap.Error(err))
		}
	}
	return status
}

// Last returns the most recent status without polling.
func (m *Monitor) Last() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run checks immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) setServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}

// WaitReady blocks until checker reports a ready backend, backing off
// exponentially, or until maxWait elapses. A non-positive maxWait returns at once.
func WaitReady(ctx context.Context, checker HealthChecker, maxWait time.Duration, logger *zap.Logger) error {
	if maxWait <= 0 {
		return nil
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.MaxInterval = 5 * time.Second
	exp.MaxElapsedTime = maxWait

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		h, err := checker.Health(ctx)
		if err != nil {
			return err
		}
		if !h.Healthy() {
			return ErrNotReady
		}
		logger.Info("prediction backend ready", zap.Int("attempt", attempt))
		return nil
	}, backoff.WithContext(exp, ctx), func(err error, wait time.Duration) {
		logger.Info("waiting for prediction backend", zap.Error(err), zap.Duration("retry_in", wait))
	})
}

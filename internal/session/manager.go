package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/predictclient"
	"github.com/example/mammo-check/internal/preview"
)

// Manager owns one Machine per browser session.
type Manager struct {
	predictor predictclient.Predictor
	previews  preview.Store
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Machine
}

// NewManager creates an empty registry. Every machine it creates shares predictor
// and previews.
func NewManager(predictor predictclient.Predictor, previews preview.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		predictor: predictor,
		previews:  previews,
		logger:    logger.Named("session"),
		now:       func() time.Time { return time.Now().UTC() },
		sessions:  make(map[string]*Machine),
	}
}

// Create registers a new idle session.
func (m *Manager) Create() *Machine {
	machine := newMachine(uuid.NewString(), m.predictor, m.previews, m.logger, m.now)

	m.mu.Lock()
	m.sessions[machine.ID()] = machine
	m.mu.Unlock()

	m.logger.Debug("session created", zap.String("session_id", machine.ID()))
	return machine
}

// Get looks a session up.
func (m *Manager) Get(id string) (*Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return machine, nil
}

// Close tears a session down and forgets it.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	machine, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return machine.Close(ctx)
}

// CloseAll tears every session down, used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Machine)
	m.mu.Unlock()

	for _, machine := range sessions {
		_ = machine.Close(ctx)
	}
}

// EvictIdle closes sessions that have not changed state for longer than ttl and
// returns how many were closed. Sessions with a pending analysis are kept.
func (m *Manager) EvictIdle(ctx context.Context, ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	var stale []*Machine
	for id, machine := range m.sessions {
		since, evictable := machine.IdleSince()
		if evictable && since.Before(cutoff) {
			stale = append(stale, machine)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, machine := range stale {
		_ = machine.Close(ctx)
	}
	if len(stale) > 0 {
		m.logger.Info("evicted idle sessions", zap.Int("count", len(stale)), zap.Duration("ttl", ttl))
	}
	return len(stale)
}

// RunSweeper calls EvictIdle every interval until ctx ends.
func (m *Manager) RunSweeper(ctx context.Context, ttl, interval time.Duration) error {
	if ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.EvictIdle(ctx, ttl)
		}
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Package session implements the per-browser upload/result lifecycle.
//
// A Machine moves between four states:
//
//	idle --submit--> analyzing --success--> result
//	                           --failure--> failed
//	result|failed --reset--> idle
//	result|failed --submit--> analyzing
//
// Every submission stores a preview of the image; the previous preview is
// released when it is replaced, on reset and when the session is closed.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/logging"
	"github.com/example/mammo-check/internal/predictclient"
	"github.com/example/mammo-check/internal/prediction"
	"github.com/example/mammo-check/internal/preview"
	"github.com/example/mammo-check/internal/upload"
)

// State is the lifecycle position of a session.
type State string

const (
	StateIdle      State = "idle"
	StateAnalyzing State = "analyzing"
	StateResult    State = "result"
	StateFailed    State = "failed"
)

var (
	// ErrAnalysisInProgress rejects a submission while a prediction is pending.
	ErrAnalysisInProgress = errors.New("analysis already in progress")
	// ErrClosed is returned by every operation on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrNotFound is returned by the Manager for unknown session ids.
	ErrNotFound = errors.New("session not found")

	errEmptyResult = errors.New("prediction returned no result")
)

// Snapshot is an immutable view of a Machine for rendering.
type Snapshot struct {
	SessionID string
	State     State
	FileName  string
	Preview   *preview.Handle
	Result    *prediction.Result
	Err       error
	UpdatedAt time.Time
}

// Machine is the upload/result state machine of a single session. It is safe for
// concurrent use; at most one prediction is in flight at a time.
type Machine struct {
	id        string
	predictor predictclient.Predictor
	previews  preview.Store
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	state      State
	fileName   string
	preview    *preview.Handle
	result     *prediction.Result
	err        error
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool
	updatedAt  time.Time
}

// NewMachine creates a machine in the idle state.
func NewMachine(id string, predictor predictclient.Predictor, previews preview.Store, logger *zap.Logger) *Machine {
	return newMachine(id, predictor, previews, logger, func() time.Time { return time.Now().UTC() })
}

func newMachine(id string, predictor predictclient.Predictor, previews preview.Store, logger *zap.Logger, now func() time.Time) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		id:        id,
		predictor: predictor,
		previews:  previews,
		logger:    logger.With(zap.String("session_id", id)),
		now:       now,
		state:     StateIdle,
		updatedAt: now(),
	}
}

// ID returns the session id.
func (m *Machine) ID() string {
	return m.id
}

// Submit validates file and starts an analysis. A nil file is ignored. A rejected
// file leaves the machine untouched and returns the *upload.ValidationError.
// The preview is stored before the machine is locked; a submission that loses a
// race with another one releases its own preview.
// The prediction runs detached from ctx so it outlives the submitting request;
// Reset and Close cancel it.
func (m *Machine) Submit(ctx context.Context, file *upload.File) error {
	if file == nil {
		return nil
	}
	if err := upload.Validate(file); err != nil {
		return err
	}

	m.mu.Lock()
	err := m.admitLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	handle, err := m.previews.Put(ctx, m.id, file)
	if err != nil {
		return logging.NewOperationError("session.store_preview", m.id, err)
	}

	m.mu.Lock()
	if err := m.admitLocked(); err != nil {
		m.mu.Unlock()
		m.discardPreview(ctx, handle.ID)
		return err
	}
	defer m.mu.Unlock()
	m.releaseLocked(ctx)

	m.generation++
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.state = StateAnalyzing
	m.fileName = file.Name
	m.preview = &handle
	m.result = nil
	m.err = nil
	m.cancel = cancel
	m.done = make(chan struct{})
	m.updatedAt = m.now()

	m.logger.Info("analysis started",
		zap.String("file", file.Name),
		zap.String("content_type", file.ContentType),
		zap.Int64("size", file.Size),
		zap.Uint64("generation", m.generation),
	)
	go m.run(runCtx, m.generation, file)
	return nil
}

func (m *Machine) admitLocked() error {
	if m.closed {
		return ErrClosed
	}
	if m.state == StateAnalyzing {
		return ErrAnalysisInProgress
	}
	return nil
}

func (m *Machine) run(ctx context.Context, generation uint64, file *upload.File) {
	started := time.Now()
	result, err := m.predictor.Predict(ctx, file)
	if err == nil && result == nil {
		err = errEmptyResult
	}
	m.complete(generation, result, err, time.Since(started))
}

func (m *Machine) complete(generation uint64, result *prediction.Result, err error, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation || m.state != StateAnalyzing {
		m.logger.Debug("dropping stale completion", zap.Uint64("generation", generation))
		return
	}

	if err != nil {
		m.state = StateFailed
		m.err = err
		m.logger.Warn("analysis failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	} else {
		m.state = StateResult
		m.result = result
		m.logger.Info("analysis completed",
			zap.String("prediction", string(result.Prediction)),
			zap.String("risk_category", string(result.RiskCategory)),
			zap.Duration("elapsed", elapsed),
		)
	}
	m.finishLocked()
}

// Reset returns the machine to idle and releases the preview. A pending analysis
// is cancelled and its completion discarded. Reset on an idle machine does nothing.
func (m *Machine) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.state == StateIdle {
		return nil
	}
	m.clearLocked(ctx)
	m.logger.Info("session reset")
	return nil
}

// Close cancels any pending analysis, releases the preview and makes the machine
// unusable. Closing twice is a no-op.
func (m *Machine) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.clearLocked(ctx)
	m.closed = true
	return nil
}

// Await blocks until the machine is not analyzing or ctx ends.
func (m *Machine) Await(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.state != StateAnalyzing {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, nil
	}
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return m.Snapshot(), nil
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// IdleSince reports when the machine last changed state, and whether it may be
// evicted. Analyzing and closed machines are never evictable.
func (m *Machine) IdleSince() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatedAt, m.state != StateAnalyzing && !m.closed
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: m.id,
		State:     m.state,
		FileName:  m.fileName,
		Result:    m.result,
		Err:       m.err,
		UpdatedAt: m.updatedAt,
	}
	if m.preview != nil {
		h := *m.preview
		snap.Preview = &h
	}
	return snap
}

func (m *Machine) clearLocked(ctx context.Context) {
	if m.state == StateAnalyzing {
		m.generation++
		m.finishLocked()
	}
	m.releaseLocked(ctx)
	m.state = StateIdle
	m.fileName = ""
	m.result = nil
	m.err = nil
	m.updatedAt = m.now()
}

// finishLocked ends the analyzing phase: stops the prediction and wakes waiters.
func (m *Machine) finishLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.updatedAt = m.now()
}

// releaseLocked drops the current preview. The handle is cleared first so each
// preview is released exactly once.
func (m *Machine) releaseLocked(ctx context.Context) {
	if m.preview == nil {
		return
	}
	id := m.preview.ID
	m.preview = nil
	m.discardPreview(ctx, id)
}

func (m *Machine) discardPreview(ctx context.Context, id string) {
	if err := m.previews.Release(ctx, id); err != nil {
		fields := append(logging.ErrorFields(err), zap.String("preview_id", id))
		m.logger.Warn("failed to release preview", fields...)
	}
}

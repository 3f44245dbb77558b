package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/logging"
	"github.com/example/mammo-check/internal/predictclient"
	"github.com/example/mammo-check/internal/prediction"
	"github.com/example/mammo-check/internal/repository"
	"github.com/example/mammo-check/internal/upload"
)

// Sources recorded with each audit entry.
const (
	SourceSession = "session"
	SourceAPI     = "api"
	SourceCLI     = "cli"
)

// ErrAuditDisabled is returned by metrics calls when no database is configured.
var ErrAuditDisabled = errors.New("audit log disabled")

// ErrAnalysisNotFound is returned when no audit entry has the requested id.
var ErrAnalysisNotFound = errors.New("analysis not found")

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	FindByRequestID(ctx context.Context, requestID string) (*repository.AnalysisLog, error)
}

type contextKey string

const (
	sessionIDKey contextKey = "sessionID"
	sourceKey    contextKey = "source"
	requestIDKey contextKey = "requestID"
)

// WithSessionID tags ctx so the audit entry can be tied to a browser session.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithSource tags ctx with where the analysis was requested from.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// WithRequestID sets the id the audit entry is stored under. Without it Predict
// generates one.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func fromContext(ctx context.Context, key contextKey, fallback string) string {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v
	}
	return fallback
}

// AnalysisUseCase wraps a prediction strategy and writes an audit entry for every
// call. It satisfies predictclient.Predictor, so sessions and handlers use it in
// place of the bare strategy. Audit failures are logged and never fail a prediction.
type AnalysisUseCase struct {
	predictor predictclient.Predictor
	repo      AnalysisRepository
	logger    *zap.Logger
	now       func() time.Time
}

// NewAnalysisUseCase constructs a new use case instance. repo may be nil, which
// disables auditing.
func NewAnalysisUseCase(predictor predictclient.Predictor, repo AnalysisRepository, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		predictor: predictor,
		repo:      repo,
		logger:    logger.Named("analysis_usecase"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AuditEnabled reports whether a repository is attached.
func (uc *AnalysisUseCase) AuditEnabled() bool {
	return uc.repo != nil
}

// Predict runs the prediction and records its outcome.
func (uc *AnalysisUseCase) Predict(ctx context.Context, file *upload.File) (*prediction.Result, error) {
	requestID := fromContext(ctx, requestIDKey, "")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	sessionID := fromContext(ctx, sessionIDKey, "")
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", sessionID).With(zap.String("request_id", requestID))

	started := uc.now()
	result, err := uc.predictor.Predict(ctx, file)
	latency := uc.now().Sub(started)

	if err != nil {
		opLogger.Warn("prediction failed", zap.Error(err), zap.Duration("latency", latency))
	} else {
		opLogger.Info("prediction completed",
			zap.String("prediction", string(result.Prediction)),
			zap.Float64("risk_score", result.RiskScore),
			zap.Duration("latency", latency),
		)
	}

	uc.audit(ctx, opLogger, buildLog(requestID, sessionID, fromContext(ctx, sourceKey, SourceAPI), file, result, err, latency, started))
	return result, err
}

// GetAnalysis returns the audit entry recorded for requestID.
func (uc *AnalysisUseCase) GetAnalysis(ctx context.Context, requestID string) (*repository.AnalysisLog, error) {
	if uc.repo == nil {
		return nil, ErrAuditDisabled
	}
	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAnalysisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find analysis %s: %w", requestID, err)
	}
	return log, nil
}

func (uc *AnalysisUseCase) audit(ctx context.Context, opLogger *zap.Logger, log *repository.AnalysisLog) {
	if uc.repo == nil {
		return
	}
	// Saved even when ctx was cancelled.
	if err := uc.repo.SaveLog(context.WithoutCancel(ctx), log); err != nil {
		opLogger.Error("failed to persist analysis log", logging.ErrorFields(err)...)
	}
}

func buildLog(requestID, sessionID, source string, file *upload.File, result *prediction.Result, err error, latency time.Duration, at time.Time) *repository.AnalysisLog {
	log := &repository.AnalysisLog{
		RequestID: requestID,
		SessionID: sessionID,
		Source:    source,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: at,
	}
	if file != nil {
		sum := sha256.Sum256(file.Data)
		log.FileName = file.Name
		log.ContentType = file.ContentType
		log.SizeBytes = file.Size
		log.SHA256Hash = hex.EncodeToString(sum[:])
	}

	if err != nil {
		kind, ok := predictclient.KindOf(err)
		if !ok {
			kind = "internal"
		}
		log.ErrorKind = string(kind)
		log.Details = err.Error()
		return log
	}

	log.Success = true
	log.Prediction = string(result.Prediction)
	log.RiskScore = result.RiskScore
	log.RiskCategory = string(result.RiskCategory)
	log.ModelUsed = result.ModelUsed
	log.Details = fmt.Sprintf("prediction:%s confidence:%f risk:%f", result.Prediction, result.Confidence, result.RiskScore)
	return log
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/mammo-check/internal/retry"
)

// AnalysisLog is the audit record of one analysis. It holds outcome metadata
// only; image bytes and results are never kept for display.
type AnalysisLog struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	RequestID    string    `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	SessionID    string    `gorm:"column:session_id;index;size:64" json:"session_id,omitempty"`
	Source       string    `gorm:"column:source;size:16" json:"source"`
	FileName     string    `gorm:"column:file_name;size:255" json:"file_name"`
	ContentType  string    `gorm:"column:content_type;size:64" json:"content_type"`
	SizeBytes    int64     `gorm:"column:size_bytes" json:"size_bytes"`
	SHA256Hash   string    `gorm:"column:sha256_hash;index;size:64" json:"sha256"`
	Success      bool      `gorm:"column:success" json:"success"`
	Prediction   string    `gorm:"column:prediction;size:16" json:"prediction,omitempty"`
	RiskScore    float64   `gorm:"column:risk_score" json:"risk_score"`
	RiskCategory string    `gorm:"column:risk_category;size:32" json:"risk_category,omitempty"`
	ModelUsed    string    `gorm:"column:model_used;size:128" json:"model_used,omitempty"`
	ErrorKind    string    `gorm:"column:error_kind;size:16" json:"error_kind,omitempty"`
	Details      string    `gorm:"column:details;type:text" json:"details"`
	LatencyMs    int64     `gorm:"column:latency_ms" json:"latency_ms"`
	CreatedAt    time.Time `gorm:"column:created_at;index" json:"created_at"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "analysis_logs"
}

// ErrNotFound is returned when no audit record matches.
var ErrNotFound = errors.New("analysis log not found")

// MetricsAggregation is the raw aggregate over all audit records.
type MetricsAggregation struct {
	TotalCount       int64
	SuccessCount     int64
	MalignantCount   int64
	AverageRiskScore float64
	AverageLatencyMs float64
	ByRiskCategory   map[string]int64
}

// AnalysisRepository persists audit records in PostgreSQL.
type AnalysisRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// Open connects to PostgreSQL.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:     db,
		logger: logger.Named("analysis_repository"),
		policy: missingRecordPolicy(retry.DefaultPolicy()),
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
	})
}

// SaveLog persists an audit record.
func (r *AnalysisRepository) SaveLog(ctx context.Context, log *AnalysisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.SessionID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves one audit record. A missing record yields ErrNotFound.
func (r *AnalysisRepository) FindByRequestID(ctx context.Context, requestID string) (*AnalysisLog, error) {
	var log AnalysisLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", "", func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

type categoryCount struct {
	RiskCategory string
	Count        int64
}

// AggregateMetrics summarises every audit record.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg struct {
		TotalCount       int64
		SuccessCount     int64
		MalignantCount   int64
		AverageRiskScore float64
		AverageLatencyMs float64
	}
	var categories []categoryCount

	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		if err := r.db.WithContext(ctx).Model(&AnalysisLog{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(SUM(CASE WHEN success AND prediction = 'malignant' THEN 1 ELSE 0 END), 0) AS malignant_count, " +
				"COALESCE(AVG(CASE WHEN success THEN risk_score END), 0) AS average_risk_score, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms",
		).Scan(&agg).Error; err != nil {
			return err
		}
		categories = categories[:0]
		return r.db.WithContext(ctx).Model(&AnalysisLog{}).
			Select("risk_category, COUNT(*) AS count").
			Where("success = ?", true).
			Group("risk_category").
			Scan(&categories).Error
	})
	if err != nil {
		return nil, err
	}

	result := &MetricsAggregation{
		TotalCount:       agg.TotalCount,
		SuccessCount:     agg.SuccessCount,
		MalignantCount:   agg.MalignantCount,
		AverageRiskScore: agg.AverageRiskScore,
		AverageLatencyMs: agg.AverageLatencyMs,
		ByRiskCategory:   make(map[string]int64, len(categories)),
	}
	for _, c := range categories {
		result.ByRiskCategory[c.RiskCategory] = c.Count
	}
	return result, nil
}

// missingRecordPolicy treats gorm.ErrRecordNotFound as an ordinary lookup miss.
func missingRecordPolicy(p retry.Policy) retry.Policy {
	p.Expected = func(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
	return p
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	return retry.Do(ctx, r.policy, r.logger, operation, sessionID, fn)
}

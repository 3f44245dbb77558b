package repository

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openSQLiteRepository(t *testing.T) *AnalysisRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewAnalysisRepository(db, zap.NewNop())
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func TestAggregateMetricsOnEmptyTable(t *testing.T) {
	repo := openSQLiteRepository(t)

	agg, err := repo.AggregateMetrics(context.Background())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCount != 0 || agg.SuccessCount != 0 || agg.MalignantCount != 0 {
		t.Fatalf("expected zero counts, got %+v", agg)
	}
	if agg.AverageRiskScore != 0 || agg.AverageLatencyMs != 0 {
		t.Fatalf("expected zero averages, got %+v", agg)
	}
	if len(agg.ByRiskCategory) != 0 {
		t.Fatalf("expected no categories, got %v", agg.ByRiskCategory)
	}
}

func TestAggregateMetricsOverSavedLogs(t *testing.T) {
	repo := openSQLiteRepository(t)
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	logs := []*AnalysisLog{
		{RequestID: "req-1", Source: "api", Success: true, Prediction: "benign", RiskScore: 20, RiskCategory: "Low Risk", LatencyMs: 100, CreatedAt: created},
		{RequestID: "req-2", Source: "api", Success: true, Prediction: "malignant", RiskScore: 80, RiskCategory: "High Risk", LatencyMs: 200, CreatedAt: created},
		{RequestID: "req-3", Source: "session", Success: true, Prediction: "malignant", RiskScore: 90, RiskCategory: "High Risk", LatencyMs: 300, CreatedAt: created},
		{RequestID: "req-4", Source: "api", Success: false, ErrorKind: "transport", RiskScore: 0, LatencyMs: 400, CreatedAt: created},
	}
	for _, l := range logs {
		if err := repo.SaveLog(ctx, l); err != nil {
			t.Fatalf("save %s: %v", l.RequestID, err)
		}
	}

	agg, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCount != 4 {
		t.Fatalf("expected 4 records, got %d", agg.TotalCount)
	}
	if agg.SuccessCount != 3 {
		t.Fatalf("expected 3 successes, got %d", agg.SuccessCount)
	}
	if agg.MalignantCount != 2 {
		t.Fatalf("expected 2 malignant, got %d", agg.MalignantCount)
	}
	// failed analyses do not count towards the risk average
	if math.Abs(agg.AverageRiskScore-190.0/3) > 1e-9 {
		t.Fatalf("unexpected average risk score: %v", agg.AverageRiskScore)
	}
	if agg.AverageLatencyMs != 250 {
		t.Fatalf("unexpected average latency: %v", agg.AverageLatencyMs)
	}
	if agg.ByRiskCategory["High Risk"] != 2 || agg.ByRiskCategory["Low Risk"] != 1 {
		t.Fatalf("unexpected categories: %v", agg.ByRiskCategory)
	}
	if _, ok := agg.ByRiskCategory[""]; ok {
		t.Fatalf("failed analyses must not appear as a category: %v", agg.ByRiskCategory)
	}
}

func TestFindByRequestID(t *testing.T) {
	repo := openSQLiteRepository(t)
	ctx := context.Background()

	saved := &AnalysisLog{
		RequestID:    "req-42",
		SessionID:    "sess-1",
		Source:       "session",
		FileName:     "scan.png",
		Success:      true,
		Prediction:   "benign",
		RiskScore:    12.5,
		RiskCategory: "Low Risk",
		CreatedAt:    time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	if err := repo.SaveLog(ctx, saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.FindByRequestID(ctx, "req-42")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.SessionID != "sess-1" || got.FileName != "scan.png" || got.RiskScore != 12.5 {
		t.Fatalf("unexpected record: %+v", got)
	}

	_, err = repo.FindByRequestID(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

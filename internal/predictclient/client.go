package predictclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/prediction"
	"github.com/example/mammo-check/internal/upload"
)

// Predictor analyses a single image.
type Predictor interface {
	Predict(ctx context.Context, file *upload.File) (*prediction.Result, error)
}

// Backend is the full surface of an inference backend.
type Backend interface {
	Predictor
	BatchPredict(ctx context.Context, files []*upload.File) (json.RawMessage, error)
	ModelInfo(ctx context.Context) (*prediction.ModelInfo, error)
	Health(ctx context.Context) (*prediction.Health, error)
}

// Strategy selects how predictions are produced.
type Strategy string

const (
	StrategyRemote Strategy = "remote"
	StrategyMock   Strategy = "mock"
)

// Options configures the strategy returned by New.
type Options struct {
	Strategy          Strategy
	BaseURL           string
	ModelName         string
	Timeout           time.Duration
	RequestsPerSecond float64
	MockDelay         time.Duration
}

// New builds the configured strategy.
func New(opts Options, logger *zap.Logger) (Backend, error) {
	switch opts.Strategy {
	case StrategyMock:
		logger.Info("using mock prediction strategy", zap.Duration("delay", opts.MockDelay))
		return NewMockClient(opts.MockDelay), nil
	case StrategyRemote:
		client, err := NewRemoteClient(opts.BaseURL,
			WithModelName(opts.ModelName),
			WithTimeout(opts.Timeout),
			WithRateLimit(opts.RequestsPerSecond),
			WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		logger.Info("using remote prediction strategy", zap.String("base_url", client.BaseURL()))
		return client, nil
	default:
		return nil, fmt.Errorf("unknown prediction strategy %q", opts.Strategy)
	}
}

// Package config loads service settings from the environment and an optional
// .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/example/mammo-check/internal/logging"
	"github.com/example/mammo-check/internal/predictclient"
)

// Environment keys.
const (
	KeyHTTPAddr              = "HTTP_ADDR"
	KeyPredictionStrategy    = "PREDICTION_STRATEGY"
	KeyPredictionAPIURL      = "PREDICTION_API_URL"
	KeyPredictionModelName   = "PREDICTION_MODEL_NAME"
	KeyPredictionTimeout     = "PREDICTION_TIMEOUT"
	KeyPredictionRateLimit   = "PREDICTION_RATE_LIMIT"
	KeyMockDelay             = "MOCK_DELAY"
	KeyBackendWait           = "BACKEND_WAIT"
	KeyBackendHealthInterval = "BACKEND_HEALTH_INTERVAL"
	KeyRedisAddr             = "REDIS_ADDR"
	KeyPreviewTTL            = "PREVIEW_TTL"
	KeyDatabaseDSN           = "DATABASE_DSN"
	KeyJWTSecret             = "JWT_SECRET"
	KeyJWTAudience           = "JWT_AUDIENCE"
	KeyCORSAllowedOrigins    = "CORS_ALLOWED_ORIGINS"
	KeyGRPCHealthAddr        = "GRPC_HEALTH_ADDR"
	KeyOTLPEndpoint          = "OTEL_EXPORTER_OTLP_ENDPOINT"
	KeySessionIdleTTL        = "SESSION_IDLE_TTL"
	KeyShutdownTimeout       = "SHUTDOWN_TIMEOUT"
	KeyLogLevel              = "LOG_LEVEL"
	KeyLogFormat             = "LOG_FORMAT"
)

// StrategyAuto picks remote when a backend URL is configured and mock otherwise.
const StrategyAuto = "auto"

// Config is the full service configuration.
type Config struct {
	HTTPAddr   string
	Prediction PredictionConfig

	RedisAddr  string
	PreviewTTL time.Duration

	DatabaseDSN string

	JWTSecret   string
	JWTAudience string

	CORSAllowedOrigins []string
	GRPCHealthAddr     string
	OTLPEndpoint       string

	SessionIdleTTL  time.Duration
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// PredictionConfig selects and tunes the prediction strategy.
type PredictionConfig struct {
	Strategy       predictclient.Strategy
	APIURL         string
	ModelName      string
	Timeout        time.Duration
	RateLimit      float64
	MockDelay      time.Duration
	BackendWait    time.Duration
	HealthInterval time.Duration
}

// ClientOptions converts the settings for predictclient.New.
func (p PredictionConfig) ClientOptions() predictclient.Options {
	return predictclient.Options{
		Strategy:          p.Strategy,
		BaseURL:           p.APIURL,
		ModelName:         p.ModelName,
		Timeout:           p.Timeout,
		RequestsPerSecond: p.RateLimit,
		MockDelay:         p.MockDelay,
	}
}

// Load reads .env from the working directory, if present, then the environment.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with an explicit directory for the .env file.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(".env")
	v.SetConfigType("dotenv")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	v.AutomaticEnv()
	setDefaults(v)

	apiURL := strings.TrimSpace(v.GetString(KeyPredictionAPIURL))
	strategy, err := resolveStrategy(v.GetString(KeyPredictionStrategy), apiURL)
	if err != nil {
		return nil, err
	}
	if apiURL == "" {
		apiURL = predictclient.DefaultBaseURL
	}

	cfg := &Config{
		HTTPAddr: v.GetString(KeyHTTPAddr),
		Prediction: PredictionConfig{
			Strategy:       strategy,
			APIURL:         apiURL,
			ModelName:      v.GetString(KeyPredictionModelName),
			Timeout:        v.GetDuration(KeyPredictionTimeout),
			RateLimit:      v.GetFloat64(KeyPredictionRateLimit),
			MockDelay:      v.GetDuration(KeyMockDelay),
			BackendWait:    v.GetDuration(KeyBackendWait),
			HealthInterval: v.GetDuration(KeyBackendHealthInterval),
		},
		RedisAddr:          strings.TrimSpace(v.GetString(KeyRedisAddr)),
		PreviewTTL:         v.GetDuration(KeyPreviewTTL),
		DatabaseDSN:        strings.TrimSpace(v.GetString(KeyDatabaseDSN)),
		JWTSecret:          v.GetString(KeyJWTSecret),
		JWTAudience:        v.GetString(KeyJWTAudience),
		CORSAllowedOrigins: splitList(v.GetString(KeyCORSAllowedOrigins)),
		GRPCHealthAddr:     strings.TrimSpace(v.GetString(KeyGRPCHealthAddr)),
		OTLPEndpoint:       strings.TrimSpace(v.GetString(KeyOTLPEndpoint)),
		SessionIdleTTL:     v.GetDuration(KeySessionIdleTTL),
		ShutdownTimeout:    v.GetDuration(KeyShutdownTimeout),
		LogLevel:           v.GetString(KeyLogLevel),
		LogFormat:          v.GetString(KeyLogFormat),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyPredictionStrategy, StrategyAuto)
	v.SetDefault(KeyPredictionModelName, predictclient.DefaultModelName)
	v.SetDefault(KeyPredictionTimeout, predictclient.DefaultTimeout)
	v.SetDefault(KeyPredictionRateLimit, 5)
	v.SetDefault(KeyMockDelay, predictclient.DefaultMockDelay)
	v.SetDefault(KeyBackendWait, 0)
	v.SetDefault(KeyBackendHealthInterval, 30*time.Second)
	v.SetDefault(KeyPreviewTTL, 30*time.Minute)
	v.SetDefault(KeyCORSAllowedOrigins, "*")
	v.SetDefault(KeySessionIdleTTL, time.Hour)
	v.SetDefault(KeyShutdownTimeout, 15*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, logging.FormatJSON)
}

func resolveStrategy(raw, apiURL string) (predictclient.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", StrategyAuto:
		if apiURL != "" {
			return predictclient.StrategyRemote, nil
		}
		return predictclient.StrategyMock, nil
	case string(predictclient.StrategyRemote):
		return predictclient.StrategyRemote, nil
	case string(predictclient.StrategyMock):
		return predictclient.StrategyMock, nil
	default:
		return "", fmt.Errorf("%s: unknown strategy %q", KeyPredictionStrategy, raw)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyHTTPAddr))
	}
	if u, err := url.Parse(c.Prediction.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("%s must be an http(s) URL, got %q", KeyPredictionAPIURL, c.Prediction.APIURL))
	}
	if c.Prediction.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyPredictionTimeout))
	}
	if c.Prediction.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyPredictionRateLimit))
	}
	if c.Prediction.MockDelay < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyMockDelay))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyShutdownTimeout))
	}
	switch strings.ToLower(c.LogFormat) {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q", KeyLogFormat, logging.FormatJSON, logging.FormatConsole))
	}
	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

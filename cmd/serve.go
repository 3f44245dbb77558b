package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/example/mammo-check/internal/auth"
	"github.com/example/mammo-check/internal/config"
	"github.com/example/mammo-check/internal/handlers"
	"github.com/example/mammo-check/internal/healthcheck"
	"github.com/example/mammo-check/internal/predictclient"
	"github.com/example/mammo-check/internal/preview"
	"github.com/example/mammo-check/internal/repository"
	"github.com/example/mammo-check/internal/session"
	"github.com/example/mammo-check/internal/telemetry"
	"github.com/example/mammo-check/internal/usecase"
)

const connectTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the analysis API",
	Long: `Runs the analysis API. Predictions come from the inference backend at
PREDICTION_API_URL or, without one, from the built-in mock.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, done := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer done()

		if err := runServer(ctx, cfg, logger, nil); err != nil {
			logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	},
}

// runServer wires every component and blocks until ctx ends or one of them
// fails. A nil listener listens on cfg.HTTPAddr.
func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, listener net.Listener) error {
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, serviceName, version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	backend, err := predictclient.New(cfg.Prediction.ClientOptions(), logger)
	if err != nil {
		return err
	}
	if cfg.Prediction.Strategy == predictclient.StrategyRemote && cfg.Prediction.BackendWait > 0 {
		if err := healthcheck.WaitReady(ctx, backend, cfg.Prediction.BackendWait, logger); err != nil {
			logger.Warn("starting without a ready backend", zap.Error(err))
		}
	}

	previews, closePreviews, err := openPreviewStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePreviews()

	analyzer, closeRepo, err := openAnalyzer(ctx, cfg, backend, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	sessions := session.NewManager(analyzer, previews, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		sessions.CloseAll(closeCtx)
	}()

	h := handlers.New(handlers.Deps{
		Sessions: sessions,
		Analyzer: analyzer,
		Backend:  backend,
		Previews: previews,
		Strategy: cfg.Prediction.Strategy,
		Logger:   logger,
	})
	router := handlers.NewRouter(h, handlers.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AuthMiddleware: auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience),
		Logger:         logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	monitor := healthcheck.NewMonitor(backend, cfg.Prediction.HealthInterval, logger)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := cfg.HTTPAddr
		if listener != nil {
			addr = listener.Addr().String()
		}
		logger.Info("analysis API listening",
			zap.String("addr", addr),
			zap.String("strategy", string(cfg.Prediction.Strategy)),
		)
		return serveHTTP(gCtx, server, cfg.ShutdownTimeout, logger, listener)
	})
	g.Go(func() error {
		defer logger.Debug("exiting session sweeper")
		return sessions.RunSweeper(gCtx, cfg.SessionIdleTTL, 0)
	})
	g.Go(func() error {
		defer logger.Debug("exiting backend monitor")
		return monitor.Run(gCtx)
	})
	if cfg.GRPCHealthAddr != "" {
		g.Go(func() error {
			return healthcheck.Serve(gCtx, cfg.GRPCHealthAddr, monitor, logger)
		})
	}

	return g.Wait()
}

// openPreviewStore uses Redis when REDIS_ADDR is set and process memory otherwise.
func openPreviewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (preview.Store, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("keeping previews in memory")
		return preview.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	cache := preview.NewRedisCache(client)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("keeping previews in redis", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.PreviewTTL))
	return preview.NewRedisStore(cache, cfg.PreviewTTL, logger), func() { _ = client.Close() }, nil
}

// openAnalyzer wraps backend with the audit log when DATABASE_DSN is set.
func openAnalyzer(ctx context.Context, cfg *config.Config, backend predictclient.Predictor, logger *zap.Logger) (*usecase.AnalysisUseCase, func(), error) {
	if cfg.DatabaseDSN == "" {
		logger.Info("audit log disabled")
		return usecase.NewAnalysisUseCase(backend, nil, logger), func() {}, nil
	}

	db, err := repository.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	closeDB := func() { _ = sqlDB.Close() }

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	repo := repository.NewAnalysisRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("auto migrate failed: %w", err)
	}
	return usecase.NewAnalysisUseCase(backend, repo, logger), closeDB, nil
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/mammo-check/internal/healthcheck"
	"github.com/example/mammo-check/internal/predictclient"
)

var healthGRPCAddr string

func init() {
	healthCmd.Flags().StringVar(&healthGRPCAddr, "grpc", "", "also query a running server's gRPC health service at this address")
	rootCmd.AddCommand(modelInfoCmd, healthCmd)
}

var modelInfoCmd = &cobra.Command{
	Use:   "model-info",
	Short: "Prints the prediction model description",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		backend, err := predictclient.New(cfg.Prediction.ClientOptions(), logger)
		if err != nil {
			return err
		}
		info, err := backend.ModelInfo(cmd.Context())
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), info)
	},
}

var errUnhealthy = errors.New("unhealthy")

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Checks the prediction backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		backend, err := predictclient.New(cfg.Prediction.ClientOptions(), logger)
		if err != nil {
			return err
		}
		health, err := backend.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "backend (%s): %s, models loaded: %t\n", cfg.Prediction.Strategy, health.Status, health.ModelsLoaded)
		healthy := health.Healthy()

		if healthGRPCAddr != "" {
			client, conn, err := healthcheck.DialHealth(ctx, healthGRPCAddr, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			status, err := healthcheck.CheckService(ctx, client, healthcheck.ServiceName)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "server %s: %s\n", healthGRPCAddr, status)
			healthy = healthy && status == healthpb.HealthCheckResponse_SERVING
		}

		if !healthy {
			return errUnhealthy
		}
		return nil
	},
}

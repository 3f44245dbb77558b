package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/config"
	"github.com/example/mammo-check/internal/logging"
)

// Set at build time with -ldflags "-X github.com/example/mammo-check/cmd.version=...".
var version = "dev"

const serviceName = "mammo-check"

var envDir string

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "mammo-check analyzes mammography images for malignancy risk",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.ErrOrStderr(), "No subcommand given")
		_ = cmd.Usage()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envDir, "env-dir", ".", "directory holding an optional .env file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Exit with a nonzero exit code if the command fails with an error
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRuntime reads the configuration and builds the logger every command shares.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFrom(envDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

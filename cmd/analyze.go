package cmd

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/predictclient"
	"github.com/example/mammo-check/internal/prediction"
	"github.com/example/mammo-check/internal/present"
	"github.com/example/mammo-check/internal/upload"
	"github.com/example/mammo-check/internal/usecase"
)

var (
	analyzeJSON   bool
	analyzeBase64 bool
)

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the result as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeBase64, "base64", false, "send the image as a base64 data URL (remote strategy only)")
	rootCmd.AddCommand(analyzeCmd)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Analyzes a single mammogram",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		ctx := cmd.Context()

		file, err := upload.FromPath(args[0])
		if err != nil {
			return err
		}
		if err := upload.Validate(file); err != nil {
			return fmt.Errorf("%s: %w", file.Name, err)
		}

		backend, err := predictclient.New(cfg.Prediction.ClientOptions(), logger)
		if err != nil {
			return err
		}

		var result *prediction.Result
		if analyzeBase64 {
			remote, ok := backend.(*predictclient.RemoteClient)
			if !ok {
				return errors.New("--base64 requires the remote prediction strategy")
			}
			dataURL := "data:" + file.ContentType + ";base64," + base64.StdEncoding.EncodeToString(file.Data)
			result, err = remote.AnalyzeBase64(ctx, dataURL)
		} else {
			analyzer, closeRepo, openErr := openAnalyzer(ctx, cfg, backend, logger)
			if openErr != nil {
				return openErr
			}
			defer closeRepo()
			result, err = analyzer.Predict(usecase.WithSource(ctx, usecase.SourceCLI), file)
		}
		if err != nil {
			logger.Debug("analysis failed", zap.String("file", file.Name), zap.Error(err))
			return err
		}
		return printResult(cmd.OutOrStdout(), result, analyzeJSON)
	},
}

type analyzeOutput struct {
	Result *prediction.Result `json:"result"`
	View   present.View       `json:"view"`
}

func printResult(w io.Writer, result *prediction.Result, asJSON bool) error {
	view := present.Build(result)
	if asJSON {
		return writeJSON(w, analyzeOutput{Result: result, View: view})
	}
	_, err := io.WriteString(w, present.RenderText(view))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/config"
	"github.com/example/mammo-check/internal/predictclient"
	"github.com/example/mammo-check/internal/prediction"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// mockEnv points configuration at the instant mock strategy with every optional
// dependency switched off, and returns a directory without a .env file.
func mockEnv(t *testing.T) string {
	t.Helper()
	t.Setenv(config.KeyPredictionStrategy, "mock")
	t.Setenv(config.KeyPredictionAPIURL, "")
	t.Setenv(config.KeyMockDelay, "0s")
	t.Setenv(config.KeyRedisAddr, "")
	t.Setenv(config.KeyDatabaseDSN, "")
	t.Setenv(config.KeyGRPCHealthAddr, "")
	t.Setenv(config.KeyOTLPEndpoint, "")
	t.Setenv(config.KeyLogLevel, "error")
	return t.TempDir()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		analyzeJSON = false
		analyzeBase64 = false
		healthGRPCAddr = ""
		envDir = "."
	})

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeImage(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "scan.png")
	require.NoError(t, os.WriteFile(path, pngBytes, 0o600))
	return path
}

func TestAnalyzeCommandJSON(t *testing.T) {
	dir := mockEnv(t)
	path := writeImage(t, dir)

	out, err := execute(t, "analyze", path, "--json", "--env-dir", dir)
	require.NoError(t, err)

	var decoded struct {
		Result prediction.Result `json:"result"`
		View   struct {
			Label     string `json:"label"`
			ModelUsed string `json:"model_used"`
		} `json:"view"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, predictclient.MockModelName, decoded.Result.ModelUsed)
	assert.Equal(t, predictclient.MockModelName, decoded.View.ModelUsed)
	assert.Contains(t, []string{"Benign", "Malignant"}, decoded.View.Label)
}

func TestAnalyzeCommandText(t *testing.T) {
	dir := mockEnv(t)
	path := writeImage(t, dir)

	out, err := execute(t, "analyze", path, "--env-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Prediction:")
	assert.Contains(t, out, "Recommendations:")
}

func TestAnalyzeCommandRejectsNonImage(t *testing.T) {
	dir := mockEnv(t)
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just some text"), 0o600))

	_, err := execute(t, "analyze", path, "--env-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an image")
}

func TestAnalyzeBase64RequiresRemote(t *testing.T) {
	dir := mockEnv(t)
	path := writeImage(t, dir)

	_, err := execute(t, "analyze", path, "--base64", "--env-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote prediction strategy")
}

func TestModelInfoAndHealthCommands(t *testing.T) {
	dir := mockEnv(t)

	out, err := execute(t, "model-info", "--env-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"model_name": "EfficientNetB3 (Demo)"`)

	out, err = execute(t, "health", "--env-dir", dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "backend (mock): healthy"), out)
}

func TestRunServerServesUntilCancelled(t *testing.T) {
	dir := mockEnv(t)
	cfg, err := config.LoadFrom(dir)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, cfg, zap.NewNop(), listener)
	}()

	addr := "http://" + listener.Addr().String()
	waitForServer(t, listener.Addr().String())

	resp, err := http.Get(addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(addr+"/api/sessions", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

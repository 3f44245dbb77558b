package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupDisabled(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Setup(context.Background(), "", "mammo-check", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupRejectsBadEndpoint(t *testing.T) {
	_, err := Setup(context.Background(), "ftp://collector:4318", "mammo-check", "test")
	assert.Error(t, err)

	_, err = Setup(context.Background(), "http://", "mammo-check", "test")
	assert.Error(t, err)
}

func TestSetupInstallsProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := Setup(context.Background(), "127.0.0.1:4318/custom/traces", "mammo-check", "test")
	require.NoError(t, err)
	assert.NotEqual(t, before, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestExporterOptions(t *testing.T) {
	opts, err := exporterOptions("https://collector.example.com")
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	opts, err = exporterOptions("http://collector:4318/v1/traces/")
	require.NoError(t, err)
	assert.Len(t, opts, 3)
}

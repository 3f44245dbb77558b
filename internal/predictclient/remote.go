package predictclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/mammo-check/internal/prediction"
	"github.com/example/mammo-check/internal/upload"
)

const (
	DefaultBaseURL   = "http://localhost:8000"
	DefaultModelName = "efficientnet"
	DefaultTimeout   = 30 * time.Second

	// Name given to images decoded from a data URL.
	base64FileName = "mammogram.jpg"
)

const tracerName = "github.com/example/mammo-check/internal/predictclient"

// RemoteClient talks to the inference backend over HTTP.
type RemoteClient struct {
	baseURL    string
	modelName  string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
	tracer     trace.Tracer
	HTTPClient *http.Client
}

// RemoteOption customises a RemoteClient.
type RemoteOption func(*RemoteClient)

// WithModelName sets the model_name form field sent with predictions.
func WithModelName(name string) RemoteOption {
	return func(c *RemoteClient) {
		if strings.TrimSpace(name) != "" {
			c.modelName = name
		}
	}
}

// WithTimeout bounds every call. Zero or negative disables the bound.
func WithTimeout(d time.Duration) RemoteOption {
	return func(c *RemoteClient) {
		c.timeout = d
	}
}

// WithRateLimit throttles outbound requests. Zero or negative disables throttling.
func WithRateLimit(perSecond float64) RemoteOption {
	return func(c *RemoteClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RemoteOption {
	return func(c *RemoteClient) {
		if logger != nil {
			c.logger = logger.Named("predictclient")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(c *RemoteClient) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

// NewRemoteClient creates a client for the backend at baseURL. An empty baseURL
// falls back to DefaultBaseURL.
func NewRemoteClient(baseURL string, opts ...RemoteOption) (*RemoteClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse prediction api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("prediction api url must be http(s): %q", baseURL)
	}

	c := &RemoteClient{
		baseURL:    strings.TrimRight(parsed.String(), "/"),
		modelName:  DefaultModelName,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
		HTTPClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalised backend URL.
func (c *RemoteClient) BaseURL() string {
	return c.baseURL
}

// Predict uploads a single image to /api/predict.
func (c *RemoteClient) Predict(ctx context.Context, file *upload.File) (*prediction.Result, error) {
	if file == nil {
		return nil, ErrNoFile
	}
	ctx, span := c.tracer.Start(ctx, "predictclient.Predict", trace.WithAttributes(
		attribute.String("file.name", file.Name),
		attribute.String("file.content_type", file.ContentType),
		attribute.Int64("file.size", file.Size),
		attribute.String("model.name", c.modelName),
	))
	defer span.End()

	body, contentType, err := buildMultipart(func(w *multipart.Writer) error {
		if err := writeFilePart(w, "file", file); err != nil {
			return err
		}
		return w.WriteField("model_name", c.modelName)
	})
	if err != nil {
		return nil, endSpan(span, err)
	}

	var result prediction.Result
	if err := c.do(ctx, http.MethodPost, "/api/predict", body, contentType, MsgAnalyzeFailed, &result); err != nil {
		c.logger.Warn("prediction failed", zap.String("file", file.Name), zap.Error(err))
		return nil, endSpan(span, err)
	}
	if result.Prediction != prediction.LabelBenign && result.Prediction != prediction.LabelMalignant {
		err := &PredictionError{Kind: KindParse, Err: fmt.Errorf("unexpected prediction label %q", result.Prediction)}
		return nil, endSpan(span, err)
	}

	span.SetAttributes(
		attribute.String("prediction.label", string(result.Prediction)),
		attribute.Float64("prediction.risk_score", result.RiskScore),
	)
	return &result, nil
}

// AnalyzeBase64 decodes a base64 data URL and predicts on the resulting image.
func (c *RemoteClient) AnalyzeBase64(ctx context.Context, dataURL string) (*prediction.Result, error) {
	file, err := DecodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	return c.Predict(ctx, file)
}

// BatchPredict uploads several images to /api/batch-predict and returns the
// backend's payload untouched.
func (c *RemoteClient) BatchPredict(ctx context.Context, files []*upload.File) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "predictclient.BatchPredict", trace.WithAttributes(
		attribute.Int("batch.size", len(files)),
	))
	defer span.End()

	body, contentType, err := buildMultipart(func(w *multipart.Writer) error {
		for _, f := range files {
			if f == nil {
				return ErrNoFile
			}
			if err := writeFilePart(w, "files", f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, endSpan(span, err)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/batch-predict", body, contentType, MsgBatchFailed, &raw); err != nil {
		return nil, endSpan(span, err)
	}
	return raw, nil
}

// ModelInfo fetches /api/model-info.
func (c *RemoteClient) ModelInfo(ctx context.Context) (*prediction.ModelInfo, error) {
	ctx, span := c.tracer.Start(ctx, "predictclient.ModelInfo")
	defer span.End()

	var info prediction.ModelInfo
	if err := c.do(ctx, http.MethodGet, "/api/model-info", nil, "", MsgModelInfo, &info); err != nil {
		return nil, endSpan(span, err)
	}
	return &info, nil
}

// Health fetches /health.
func (c *RemoteClient) Health(ctx context.Context) (*prediction.Health, error) {
	ctx, span := c.tracer.Start(ctx, "predictclient.Health")
	defer span.End()

	var health prediction.Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, "", MsgHealthFailed, &health); err != nil {
		return nil, endSpan(span, err)
	}
	return &health, nil
}

func (c *RemoteClient) do(ctx context.Context, method, path string, body io.Reader, contentType, fallback string, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return transportError(ctx, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, err)
	}
	c.logger.Debug("backend responded",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(resp.StatusCode, payload, fallback)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &PredictionError{Kind: KindParse, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

// DecodeDataURL turns "data:<mime>;base64,<payload>" into an upload. A bare base64
// string is accepted and assumed to be a JPEG.
func DecodeDataURL(dataURL string) (*upload.File, error) {
	contentType := "image/jpeg"
	encoded := strings.TrimSpace(dataURL)
	if header, rest, ok := strings.Cut(encoded, ","); ok {
		encoded = rest
		if mt, _, found := strings.Cut(strings.TrimPrefix(header, "data:"), ";"); found && mt != "" {
			contentType = mt
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return upload.NewFile(base64FileName, contentType, data), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFilePart(w *multipart.Writer, field string, f *upload.File) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Name)))
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f.Reader())
	return err
}

func buildMultipart(fill func(*multipart.Writer) error) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := fill(writer); err != nil {
		return nil, "", fmt.Errorf("build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

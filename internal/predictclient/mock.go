package predictclient

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/example/mammo-check/internal/prediction"
	"github.com/example/mammo-check/internal/upload"
)

const (
	DefaultMockDelay = 2 * time.Second
	MockModelName    = "EfficientNetB3 (Demo)"

	// r1 above this draws a malignant result, 40% of the time.
	malignantCutoff = 0.6
	minConfidence   = 0.75
	confidenceSpan  = 0.2
)

var (
	malignantRecommendations = []string{
		"Immediate follow-up with radiologist recommended",
		"Consider additional imaging (ultrasound or MRI)",
		"Biopsy consultation may be necessary",
		"Schedule appointment within 1-2 weeks",
	}
	benignRecommendations = []string{
		"Continue routine annual screening",
		"Maintain healthy lifestyle practices",
		"Report any changes in breast tissue immediately",
	}
)

// MockClient synthesises results locally after a fixed delay. It is used when no
// backend is configured.
type MockClient struct {
	delay time.Duration
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// MockOption customises a MockClient.
type MockOption func(*MockClient)

// WithRandSource makes draws reproducible.
func WithRandSource(src rand.Source) MockOption {
	return func(m *MockClient) {
		m.rng = rand.New(src)
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) MockOption {
	return func(m *MockClient) {
		m.now = now
	}
}

// NewMockClient returns a mock strategy that answers after delay.
func NewMockClient(delay time.Duration, opts ...MockOption) *MockClient {
	if delay < 0 {
		delay = 0
	}
	m := &MockClient{
		delay: delay,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Delay returns the simulated latency.
func (m *MockClient) Delay() time.Duration {
	return m.delay
}

// Predict waits for the simulated latency and returns a synthetic result. It only
// fails when ctx ends first.
func (m *MockClient) Predict(ctx context.Context, _ *upload.File) (*prediction.Result, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	r1, r2 := m.draw()
	return Synthesize(r1, r2, m.now()), nil
}

type mockBatchItem struct {
	Filename string             `json:"filename"`
	Result   *prediction.Result `json:"result"`
}

type mockBatchResponse struct {
	Results []mockBatchItem `json:"results"`
	Total   int             `json:"total"`
}

// BatchPredict synthesises one result per file after a single delay.
func (m *MockClient) BatchPredict(ctx context.Context, files []*upload.File) (json.RawMessage, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	resp := mockBatchResponse{Results: make([]mockBatchItem, 0, len(files)), Total: len(files)}
	for _, f := range files {
		r1, r2 := m.draw()
		resp.Results = append(resp.Results, mockBatchItem{Filename: f.Name, Result: Synthesize(r1, r2, m.now())})
	}
	return json.Marshal(resp)
}

// ModelInfo describes the demo model.
func (m *MockClient) ModelInfo(context.Context) (*prediction.ModelInfo, error) {
	return &prediction.ModelInfo{
		ModelName:       MockModelName,
		InputShape:      []int{300, 300, 3},
		OutputShape:     []int{2},
		TotalParameters: 10783535,
		Classes:         []string{string(prediction.LabelBenign), string(prediction.LabelMalignant)},
		Preprocessing: prediction.Preprocessing{
			TargetSize:    []int{300, 300},
			Normalization: "imagenet",
			CLAHE:         true,
		},
	}, nil
}

// Health always reports the demo model as loaded.
func (m *MockClient) Health(context.Context) (*prediction.Health, error) {
	now := prediction.NewTimestamp(m.now())
	return &prediction.Health{Status: "healthy", ModelsLoaded: true, Timestamp: &now}, nil
}

// Synthesize derives a mock result from two uniform draws in [0,1).
func Synthesize(r1, r2 float64, at time.Time) *prediction.Result {
	isMalignant := r1 > malignantCutoff
	confidence := minConfidence + r2*confidenceSpan

	probs := prediction.Probabilities{Benign: confidence, Malignant: 1 - confidence}
	label := prediction.LabelBenign
	recommendations := benignRecommendations
	if isMalignant {
		probs = prediction.Probabilities{Benign: 1 - confidence, Malignant: confidence}
		label = prediction.LabelMalignant
		recommendations = malignantRecommendations
	}

	riskScore := probs.Malignant * confidence
	return &prediction.Result{
		Prediction:      label,
		Confidence:      confidence,
		Probabilities:   probs,
		RiskScore:       riskScore,
		RiskCategory:    prediction.Categorize(riskScore),
		Recommendations: append([]string(nil), recommendations...),
		Timestamp:       prediction.NewTimestamp(at),
		ModelUsed:       MockModelName,
	}
}

func (m *MockClient) wait(ctx context.Context) error {
	if m.delay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *MockClient) draw() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rng == nil {
		return rand.Float64(), rand.Float64()
	}
	return m.rng.Float64(), m.rng.Float64()
}

package prediction

// Label is the binary classification produced for an image.
type Label string

const (
	LabelBenign    Label = "benign"
	LabelMalignant Label = "malignant"
)

// Probabilities holds the per-class scores. Remote backends are not required to
// return values that sum to one.
type Probabilities struct {
	Benign    float64 `json:"benign"`
	Malignant float64 `json:"malignant"`
}

// Result is the outcome of analysing a single mammogram.
type Result struct {
	Prediction      Label         `json:"prediction"`
	Confidence      float64       `json:"confidence"`
	Probabilities   Probabilities `json:"probabilities"`
	RiskScore       float64       `json:"risk_score"`
	RiskCategory    RiskCategory  `json:"risk_category"`
	Recommendations []string      `json:"recommendations"`
	Timestamp       Timestamp     `json:"timestamp"`
	ModelUsed       string        `json:"model_used"`
}

// IsMalignant reports whether the predicted label is malignant.
func (r *Result) IsMalignant() bool {
	return r != nil && r.Prediction == LabelMalignant
}

// Preprocessing describes how the backend prepares images before inference.
type Preprocessing struct {
	TargetSize    []int  `json:"target_size"`
	Normalization string `json:"normalization"`
	CLAHE         bool   `json:"clahe"`
}

// ModelInfo describes the model served by the inference backend.
type ModelInfo struct {
	ModelName       string        `json:"model_name"`
	InputShape      []int         `json:"input_shape"`
	OutputShape     []int         `json:"output_shape"`
	TotalParameters int64         `json:"total_parameters"`
	Classes         []string      `json:"classes"`
	Preprocessing   Preprocessing `json:"preprocessing"`
}

// Health is the backend health payload.
type Health struct {
	Status       string     `json:"status"`
	ModelsLoaded bool       `json:"models_loaded"`
	Timestamp    *Timestamp `json:"timestamp,omitempty"`
}

// Healthy reports whether the backend is able to serve predictions.
func (h *Health) Healthy() bool {
	if h == nil || !h.ModelsLoaded {
		return false
	}
	switch h.Status {
	case "ok", "healthy", "up", "serving":
		return true
	default:
		return false
	}
}

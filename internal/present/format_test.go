package present

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/example/mammo-check/internal/prediction"
)

func TestFormatPercent(t *testing.T) {
	cases := []struct {
		value    float64
		decimals int
		want     string
	}{
		{0.83, 1, "83.0%"},
		{0.83, 2, "83.00%"},
		{0.1234, 1, "12.3%"},
		{1, 0, "100%"},
		{0, 2, "0.00%"},
		{math.NaN(), 1, "n/a"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatPercent(tc.value, tc.decimals), "%v/%d", tc.value, tc.decimals)
	}
}

func TestGaugePercent(t *testing.T) {
	assert.Equal(t, 14, GaugePercent(0.14))
	assert.Equal(t, 72, GaugePercent(0.7225))
	assert.Equal(t, 0, GaugePercent(-0.3))
	assert.Equal(t, 100, GaugePercent(1.7))
	assert.Equal(t, 0, GaugePercent(math.NaN()))
}

func TestColors(t *testing.T) {
	assert.Equal(t, ColorGreen, ColorForCategory(prediction.RiskLow))
	assert.Equal(t, ColorYellow, ColorForCategory(prediction.RiskModerate))
	assert.Equal(t, ColorOrange, ColorForCategory("high risk"))
	assert.Equal(t, ColorRed, ColorForCategory(prediction.RiskVeryHigh))
	assert.Equal(t, ColorBlue, ColorForCategory("Unknown"))

	assert.Equal(t, ColorGreen, ColorForScore(0.199999))
	assert.Equal(t, ColorYellow, ColorForScore(0.2))
	assert.Equal(t, ColorOrange, ColorForScore(0.5))
	assert.Equal(t, ColorRed, ColorForScore(0.75))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 1, 1, 13, 4, 5, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2025-01-01 12:04:05 UTC", FormatTimestamp(ts))
	assert.Equal(t, "", FormatTimestamp(time.Time{}))
}

func TestBuild(t *testing.T) {
	r := &prediction.Result{
		Prediction:      prediction.LabelBenign,
		Confidence:      0.83,
		Probabilities:   prediction.Probabilities{Benign: 0.83, Malignant: 0.17},
		RiskScore:       0.14,
		RiskCategory:    prediction.RiskLow,
		Recommendations: []string{"Continue routine annual screening"},
		Timestamp:       prediction.NewTimestamp(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		ModelUsed:       "EfficientNetB3",
	}

	v := Build(r)
	assert.Equal(t, View{
		Label:                "Benign",
		Confidence:           "83.0%",
		RiskScore:            "14.0%",
		GaugePercent:         14,
		RiskCategory:         "Low Risk",
		CategoryColor:        ColorGreen,
		BarColor:             ColorGreen,
		BenignProbability:    "83.00%",
		MalignantProbability: "17.00%",
		Recommendations:      []string{"Continue routine annual screening"},
		ModelUsed:            "EfficientNetB3",
		Timestamp:            "2025-01-01 00:00:00 UTC",
		Date:                 "2025-01-01",
	}, v)

	assert.Equal(t, View{}, Build(nil))
}

func TestBuildKeepsRemoteCategoryButBucketsBarByScore(t *testing.T) {
	v := Build(&prediction.Result{
		Prediction:   prediction.LabelMalignant,
		RiskScore:    0.6,
		RiskCategory: "Very High Risk",
	})
	assert.Equal(t, "Malignant", v.Label)
	assert.True(t, v.Malignant)
	assert.Equal(t, ColorRed, v.CategoryColor)
	assert.Equal(t, ColorOrange, v.BarColor)
}

func TestRenderText(t *testing.T) {
	out := RenderText(View{
		Label:           "Malignant",
		Confidence:      "90.0%",
		RiskScore:       "81.0%",
		RiskCategory:    "Very High Risk",
		Recommendations: []string{"first", "second"},
	})
	assert.Contains(t, out, "Prediction:  Malignant")
	assert.Contains(t, out, "81.0% (Very High Risk)")
	assert.Contains(t, out, "  1. first\n  2. second\n")
	assert.NotContains(t, out, "Analyzed:")
}

func TestBuildWithBackendTimestampText(t *testing.T) {
	v := Build(&prediction.Result{Timestamp: prediction.ParseTimestamp("2025-03-04T05:06:07.123456")})
	assert.Equal(t, "2025-03-04 05:06:07 UTC", v.Timestamp)
	assert.Equal(t, "2025-03-04", v.Date)

	v = Build(&prediction.Result{Timestamp: prediction.ParseTimestamp("sometime")})
	assert.Equal(t, "sometime", v.Timestamp)
	assert.Equal(t, "", v.Date)
}

// Package present turns prediction results into display-ready values for the
// browser and the CLI.
package present

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/mammo-check/internal/prediction"
)

// Color is a display bucket. Renderers map it to their own palette.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorOrange Color = "orange"
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
)

const (
	TimestampLayout = "2006-01-02 15:04:05 MST"
	DateLayout      = "2006-01-02"
)

// View is a formatted PredictionResult.
type View struct {
	Label                string   `json:"label"`
	Malignant            bool     `json:"malignant"`
	Confidence           string   `json:"confidence"`
	RiskScore            string   `json:"risk_score"`
	GaugePercent         int      `json:"gauge_percent"`
	RiskCategory         string   `json:"risk_category"`
	CategoryColor        Color    `json:"category_color"`
	BarColor             Color    `json:"bar_color"`
	BenignProbability    string   `json:"benign_probability"`
	MalignantProbability string   `json:"malignant_probability"`
	Recommendations      []string `json:"recommendations"`
	ModelUsed            string   `json:"model_used"`
	Timestamp            string   `json:"timestamp"`
	Date                 string   `json:"date"`
}

// Build formats r. A nil result yields the zero View.
func Build(r *prediction.Result) View {
	if r == nil {
		return View{}
	}
	label := "Benign"
	if r.IsMalignant() {
		label = "Malignant"
	}
	v := View{
		Label:                label,
		Malignant:            r.IsMalignant(),
		Confidence:           FormatPercent(r.Confidence, 1),
		RiskScore:            FormatPercent(r.RiskScore, 1),
		GaugePercent:         GaugePercent(r.RiskScore),
		RiskCategory:         string(r.RiskCategory),
		CategoryColor:        ColorForCategory(r.RiskCategory),
		BarColor:             ColorForScore(r.RiskScore),
		BenignProbability:    FormatPercent(r.Probabilities.Benign, 2),
		MalignantProbability: FormatPercent(r.Probabilities.Malignant, 2),
		Recommendations:      append([]string(nil), r.Recommendations...),
		ModelUsed:            r.ModelUsed,
		Timestamp:            FormatTimestamp(r.Timestamp.Time()),
	}
	if at := r.Timestamp.Time(); !at.IsZero() {
		v.Date = at.UTC().Format(DateLayout)
	} else {
		// Unparsable backend text is shown as sent.
		v.Timestamp = r.Timestamp.String()
	}
	return v
}

// FormatPercent renders a fraction as a percentage, 0.83 -> "83.0%".
func FormatPercent(v float64, decimals int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	if decimals < 0 {
		decimals = 0
	}
	return strconv.FormatFloat(v*100, 'f', decimals, 64) + "%"
}

// GaugePercent is the risk score as a whole percentage clamped to [0,100].
func GaugePercent(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	p := int(math.Round(score * 100))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// FormatTimestamp renders t in UTC. The zero time renders empty.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ColorForCategory picks the bucket for a category label, including labels sent
// verbatim by a backend. Unknown labels are blue.
func ColorForCategory(c prediction.RiskCategory) Color {
	parsed, err := prediction.ParseRiskCategory(string(c))
	if err != nil {
		return ColorBlue
	}
	switch parsed {
	case prediction.RiskLow:
		return ColorGreen
	case prediction.RiskModerate:
		return ColorYellow
	case prediction.RiskHigh:
		return ColorOrange
	default:
		return ColorRed
	}
}

// ColorForScore buckets a raw score with prediction.Categorize.
func ColorForScore(score float64) Color {
	return ColorForCategory(prediction.Categorize(score))
}

// RenderText writes a plain-text report of v.
func RenderText(v View) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Prediction:\t%s\n", v.Label)
	fmt.Fprintf(tw, "Confidence:\t%s\n", v.Confidence)
	fmt.Fprintf(tw, "Risk score:\t%s (%s)\n", v.RiskScore, v.RiskCategory)
	fmt.Fprintf(tw, "Benign:\t%s\n", v.BenignProbability)
	fmt.Fprintf(tw, "Malignant:\t%s\n", v.MalignantProbability)
	fmt.Fprintf(tw, "Model:\t%s\n", v.ModelUsed)
	if v.Timestamp != "" {
		fmt.Fprintf(tw, "Analyzed:\t%s\n", v.Timestamp)
	}
	_ = tw.Flush()

	if len(v.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for i, rec := range v.Recommendations {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, rec)
		}
	}
	return b.String()
}

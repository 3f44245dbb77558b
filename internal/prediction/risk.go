package prediction

import (
	"fmt"
	"strings"
)

// RiskCategory is an ordinal bucket derived from a risk score.
type RiskCategory string

const (
	RiskLow      RiskCategory = "Low Risk"
	RiskModerate RiskCategory = "Moderate Risk"
	RiskHigh     RiskCategory = "High Risk"
	RiskVeryHigh RiskCategory = "Very High Risk"
)

// Lower bounds of each bucket above Low Risk.
const (
	ModerateThreshold = 0.2
	HighThreshold     = 0.5
	VeryHighThreshold = 0.75
)

// Categorize maps a risk score to its category. It is total: NaN and negative
// scores are Low Risk, anything at or above 0.75 is Very High Risk.
func Categorize(score float64) RiskCategory {
	switch {
	case score >= VeryHighThreshold:
		return RiskVeryHigh
	case score >= HighThreshold:
		return RiskHigh
	case score >= ModerateThreshold:
		return RiskModerate
	default:
		return RiskLow
	}
}

// ParseRiskCategory accepts a category label, ignoring case and surrounding space.
func ParseRiskCategory(s string) (RiskCategory, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, c := range []RiskCategory{RiskLow, RiskModerate, RiskHigh, RiskVeryHigh} {
		if strings.ToLower(string(c)) == normalized {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown risk category: %q", s)
}

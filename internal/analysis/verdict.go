package analysis

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	VerdictReal = "REAL"
	VerdictFake = "FAKE"
)

// Verdict is the service's classification of one media sample.
type Verdict struct {
	Verdict     string  `json:"verdict"`
	Probability float64 `json:"probability"`
	RiskLevel   string  `json:"risk_level"`
}

// Fake reports whether the sample was classified as manipulated.
func (v Verdict) Fake() bool { return v.Verdict == VerdictFake }

func (v Verdict) String() string {
	return fmt.Sprintf("%s (%.1f%%, risk %s)", v.Verdict, v.Probability*100, v.RiskLevel)
}

var upper = cases.Upper(language.Und)

// normalize canonicalises labels and checks the verdict is usable.
func (v Verdict) normalize() (Verdict, error) {
	v.Verdict = upper.String(strings.TrimSpace(v.Verdict))
	v.RiskLevel = upper.String(strings.TrimSpace(v.RiskLevel))
	switch v.Verdict {
	case VerdictReal, VerdictFake:
	default:
		return Verdict{}, fmt.Errorf("unknown verdict %q", v.Verdict)
	}
	if math.IsNaN(v.Probability) || v.Probability < 0 || v.Probability > 1 {
		return Verdict{}, fmt.Errorf("probability %v outside [0,1]", v.Probability)
	}
	return v, nil
}

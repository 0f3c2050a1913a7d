package scoring

import "math"

// Risk type constants returned in assessments.
const (
	RiskTypeScam       = "scam"
	RiskTypeSuspicious = "suspicious"
	RiskTypeSafe       = "safe"
)

// Level strings shown to callers alongside the risk type.
const (
	LevelHigh   = "High Risk (AI voice)"
	LevelMedium = "Medium Risk (Suspicious)"
	LevelLow    = "Low Risk (Human)"
)

// Assessment is the verdict derived from classifier probabilities.
type Assessment struct {
	Level        string  `json:"level"`
	Trustability float64 `json:"trustability"`
	RiskType     string  `json:"riskType"`
}

// Assess maps human/nonhuman probabilities to a risk verdict. Inputs must
// already be validated to [0,1]; the classifier client rejects anything else.
func Assess(nonhuman, human float64) Assessment {
	var level, riskType string
	switch {
	case nonhuman >= 0.8:
		level = LevelHigh
		riskType = RiskTypeScam
	case nonhuman >= 0.4:
		level = LevelMedium
		riskType = RiskTypeSuspicious
	default:
		level = LevelLow
		riskType = RiskTypeSafe
	}

	return Assessment{
		Level:        level,
		Trustability: round2(human * 100),
		RiskType:     riskType,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package actionable

import (
	"fmt"

	"english-eval-go/internal/types"
)

type Band string

const (
	BandPoor      Band = "Poor"
	BandAverage   Band = "Average"
	BandGood      Band = "Good"
	BandExcellent Band = "Excellent"
)

// BandFor maps a 0-100 score: Poor <40, Average 40-59, Good 60-79, Excellent 80+.
func BandFor(score int) Band {
	switch {
	case score < 40:
		return BandPoor
	case score < 60:
		return BandAverage
	case score < 80:
		return BandGood
	default:
		return BandExcellent
	}
}

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// Generate points at the weakest dimension of a validated report. Ties go
// to the earlier dimension in the fixed order.
func Generate(r types.Report) ActionCard {
	weakest := types.Dimensions[0]
	for _, d := range types.Dimensions[1:] {
		if r.DimensionScores[d].Score < r.DimensionScores[weakest].Score {
			weakest = d
		}
	}
	ws := r.DimensionScores[weakest]

	action := "Keep practising across all dimensions"
	for _, a := range r.ActionPlan {
		if a.Item != "" {
			action = a.Item
			break
		}
	}

	if BandFor(ws.Score) == BandExcellent {
		return ActionCard{
			Insight: fmt.Sprintf("All dimensions excellent; lowest is %s (%d)", weakest, ws.Score),
			Action:  action,
			Impact:  "Maintain current level",
		}
	}
	return ActionCard{
		Insight: fmt.Sprintf("Weakest dimension: %s (%d, %s)", weakest, ws.Score, BandFor(ws.Score)),
		Action:  action,
		Impact:  fmt.Sprintf("Raising %s lifts the overall score the most", weakest),
	}
}

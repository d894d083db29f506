package aggregator

import (
	"fmt"
	"math"

	"english-eval-go/internal/types"
)

const (
	MethodMean     = "mean"
	MethodWeighted = "weighted"
)

// Rule turns the five dimension scores into the overall score.
type Rule struct {
	Method  string
	Weights map[types.Dimension]float64
}

// NewRule validates a configured rule. Weighted rules need a non-negative
// weight for every dimension and a positive total; missing weights count as 1.
func NewRule(method string, weights map[string]float64) (Rule, error) {
	switch method {
	case "", MethodMean:
		return Rule{Method: MethodMean}, nil
	case MethodWeighted:
	default:
		return Rule{}, fmt.Errorf("unknown aggregation method %q", method)
	}
	w := make(map[types.Dimension]float64, len(types.Dimensions))
	for name := range weights {
		if !types.IsDimension(name) {
			return Rule{}, fmt.Errorf("weight for unknown dimension %q", name)
		}
	}
	total := 0.0
	for _, d := range types.Dimensions {
		v, ok := weights[string(d)]
		if !ok {
			v = 1
		}
		if v < 0 {
			return Rule{}, fmt.Errorf("negative weight for %s", d)
		}
		w[d] = v
		total += v
	}
	if total == 0 {
		return Rule{}, fmt.Errorf("weights sum to zero")
	}
	return Rule{Method: MethodWeighted, Weights: w}, nil
}

// Aggregate computes the overall score, rounded half away from zero.
func (r Rule) Aggregate(scores map[types.Dimension]types.DimensionScore) (int, error) {
	sum, total := 0.0, 0.0
	for _, d := range types.Dimensions {
		s, ok := scores[d]
		if !ok {
			return 0, fmt.Errorf("dimension %s missing", d)
		}
		w := 1.0
		if r.Method == MethodWeighted {
			w = r.Weights[d]
		}
		sum += float64(s.Score) * w
		total += w
	}
	return int(math.Round(sum / total)), nil
}

package actionable

import (
	"testing"

	"english-eval-go/internal/types"
	"github.com/stretchr/testify/require"
)

func TestBandFor(t *testing.T) {
	tests := []struct {
		score int
		want  Band
	}{
		{0, BandPoor},
		{39, BandPoor},
		{40, BandAverage},
		{59, BandAverage},
		{60, BandGood},
		{79, BandGood},
		{80, BandExcellent},
		{100, BandExcellent},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, BandFor(tt.score), "score %d", tt.score)
	}
}

func report(vals ...int) types.Report {
	r := types.Report{DimensionScores: map[types.Dimension]types.DimensionScore{}}
	for i, d := range types.Dimensions {
		r.DimensionScores[d] = types.DimensionScore{Score: vals[i]}
	}
	return r
}

func TestGenerate(t *testing.T) {
	t.Run("weakest dimension", func(t *testing.T) {
		r := report(80, 55, 78, 82, 70)
		r.ActionPlan = []types.ActionItem{{Item: "Daily grammar drills"}}

		card := Generate(r)
		require.Equal(t, "Weakest dimension: grammar (55, Average)", card.Insight)
		require.Equal(t, "Daily grammar drills", card.Action)
	})

	t.Run("tie goes to first dimension", func(t *testing.T) {
		card := Generate(report(60, 70, 60, 70, 70))
		require.Contains(t, card.Insight, "fluency")
	})

	t.Run("all excellent", func(t *testing.T) {
		card := Generate(report(90, 85, 95, 88, 81))
		require.Contains(t, card.Insight, "All dimensions excellent")
		require.Contains(t, card.Insight, "structure (81)")
		require.Equal(t, "Maintain current level", card.Impact)
	})
}

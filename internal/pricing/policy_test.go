package pricing

import (
	"testing"

	"demper-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func int64Ptr(v int64) *int64 { return &v }

func TestDecideUndercutsCompetitor(t *testing.T) {
	// currentPrice=10000, competitor=9500, floor=9000, step=50 -> 9450
	d := Decide(10000, int64Ptr(9500), 9000, nil, 50)

	assert.Equal(t, int64(9450), d.NewPrice)
	assert.Equal(t, models.ReasonCompetitorMatch, d.Reason)
	assert.True(t, d.Changed())
}

func TestDecideClampsToFloor(t *testing.T) {
	// Same but floor=9480: undercut would land below, clamp to floor exactly
	d := Decide(10000, int64Ptr(9500), 9480, nil, 50)

	assert.Equal(t, int64(9480), d.NewPrice)
	assert.Equal(t, models.ReasonMarginFloorHit, d.Reason)
}

func TestDecideNoCompetitor(t *testing.T) {
	d := Decide(10000, nil, 9000, nil, 50)

	assert.Equal(t, int64(10000), d.NewPrice)
	assert.Equal(t, models.ReasonNoChange, d.Reason)
	assert.False(t, d.Changed())
}

func TestDecideAlreadyAtTarget(t *testing.T) {
	d := Decide(9450, int64Ptr(9500), 9000, nil, 50)

	assert.Equal(t, int64(9450), d.NewPrice)
	assert.Equal(t, models.ReasonNoChange, d.Reason)
}

func TestDecideCompetitorAtOrBelowFloor(t *testing.T) {
	tests := []struct {
		name       string
		competitor int64
	}{
		{"competitor below floor", 8500},
		{"competitor exactly at floor", 9000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(10000, int64Ptr(tt.competitor), 9000, nil, 50)
			assert.Equal(t, int64(9000), d.NewPrice)
			assert.Equal(t, models.ReasonMarginFloorHit, d.Reason)
		})
	}
}

func TestDecideRespectsCeiling(t *testing.T) {
	// Competitor is far above; raising stops at the configured ceiling
	d := Decide(10000, int64Ptr(20000), 9000, int64Ptr(12000), 50)

	assert.Equal(t, int64(12000), d.NewPrice)
	assert.Equal(t, models.ReasonCompetitorMatch, d.Reason)
}

func TestDecideRoundsOntoStepGrid(t *testing.T) {
	// raw target 9475-50=9425 is off the grid anchored at 9000; snaps down
	// to 9400
	d := Decide(10000, int64Ptr(9475), 9000, nil, 50)

	assert.Equal(t, int64(9400), d.NewPrice)
	assert.Zero(t, (d.NewPrice-9000)%50)
}

func TestDecideCanRaisePrice(t *testing.T) {
	// All competitors moved up: target above current is allowed
	d := Decide(9000, int64Ptr(9500), 8000, nil, 50)

	assert.Equal(t, int64(9450), d.NewPrice)
	assert.Equal(t, models.ReasonCompetitorMatch, d.Reason)
}

func TestDecideCeilingBelowFloorStaysOnFloor(t *testing.T) {
	// A misconfigured ceiling below the margin floor must not pull the
	// price under the floor; the floor wins
	d := Decide(10000, int64Ptr(9500), 9000, int64Ptr(8000), 50)

	assert.Equal(t, int64(9000), d.NewPrice)
	assert.Equal(t, models.ReasonMarginFloorHit, d.Reason)
}

func TestDecideIsPure(t *testing.T) {
	comp := int64Ptr(9500)
	first := Decide(10000, comp, 9000, int64Ptr(11000), 50)
	second := Decide(10000, comp, 9000, int64Ptr(11000), 50)

	assert.Equal(t, first, second)
}

func TestDecideOutputAlwaysWithinBounds(t *testing.T) {
	competitors := []int64{1, 500, 8999, 9000, 9001, 9050, 9475, 9500, 15000, 1000000}
	steps := []int64{1, 7, 50, 500}
	ceilings := []*int64{nil, int64Ptr(8000), int64Ptr(9700), int64Ptr(12000)}

	for _, comp := range competitors {
		for _, step := range steps {
			for _, max := range ceilings {
				d := Decide(10000, int64Ptr(comp), 9000, max, step)

				assert.GreaterOrEqual(t, d.NewPrice, int64(9000),
					"price %d below floor (comp=%d step=%d)", d.NewPrice, comp, step)
				if max != nil && *max >= 9000 {
					assert.LessOrEqual(t, d.NewPrice, *max)
				}
				assert.Zero(t, (d.NewPrice-9000)%step,
					"price %d not on step grid (step=%d)", d.NewPrice, step)
			}
		}
	}
}

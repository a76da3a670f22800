// Package estimate derives the resource estimates attached to a prediction:
// ambulances to dispatch and structural damage cost.
package estimate

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	deathWeight  = decimal.RequireFromString("0.3")
	injuryWeight = decimal.RequireFromString("0.5")
	rescueWeight = decimal.RequireFromString("0.8")
)

// Ambulances returns ceil(0.3*deaths + 0.5*injuries + 0.8*rescueTimeHours),
// at least 1 when any input is positive and never negative. Arithmetic is
// exact decimal so sums like 2*0.3 + 3*0.8 land on the integer.
func Ambulances(deaths, injuries int, rescueTimeHours float64) int {
	if math.IsNaN(rescueTimeHours) || math.IsInf(rescueTimeHours, 0) {
		rescueTimeHours = 0
	}
	total := deathWeight.Mul(decimal.NewFromInt(int64(deaths))).
		Add(injuryWeight.Mul(decimal.NewFromInt(int64(injuries)))).
		Add(rescueWeight.Mul(decimal.NewFromFloat(rescueTimeHours)))

	n := int(total.Ceil().IntPart())
	if n <= 0 {
		if deaths > 0 || injuries > 0 || rescueTimeHours > 0 {
			return 1
		}
		return 0
	}
	return n
}

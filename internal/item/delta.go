package item

import (
	"fmt"
	"math"

	trackererrors "sjsage522/pricetracker/pkg/errors"
)

// ComputeDelta returns the percentage change from previous to current,
// negative for a drop, rounded to one decimal place.
func ComputeDelta(previous, current float64) (float64, error) {
	if math.IsNaN(previous) || previous <= 0 {
		return 0, trackererrors.NewArithmetic("item_prices",
			fmt.Sprintf("delta undefined for previous price %v", previous))
	}

	delta := math.Round((current/previous-1)*100*10) / 10
	if delta == 0 {
		// drop the sign of negative zero
		delta = 0
	}
	return delta, nil
}

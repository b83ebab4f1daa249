package pricing

import "demper-service/internal/models"

// Decision is the outcome of one policy evaluation
type Decision struct {
	NewPrice int64
	Reason   string
}

// Changed reports whether the decision moves the price at all
func (d Decision) Changed() bool {
	return d.Reason != models.ReasonNoChange
}

// Decide computes the allowed new price for a product. Pure function, no
// side effects.
//
// competitor is nil when observation failed or no competitor is listed.
// maxPrice is nil when no ceiling is configured. step must be >= 1.
//
// Rules, in priority order:
//  1. no competitor price -> keep current price
//  2. undercut the competitor by exactly one step, unless the competitor
//     is already at or below the floor, in which case sit on the floor
//  3. clamp to [minPrice, maxPrice]
//  4. round down onto the step grid anchored at minPrice
//  5. unchanged target -> no_change
//  6. a decrease that lands exactly on the floor is margin_floor_hit
func Decide(currentPrice int64, competitor *int64, minPrice int64, maxPrice *int64, step int64) Decision {
	if competitor == nil {
		return Decision{NewPrice: currentPrice, Reason: models.ReasonNoChange}
	}

	var target int64
	if *competitor > minPrice {
		target = *competitor - step
	} else {
		target = minPrice
	}

	if maxPrice != nil && target > *maxPrice {
		target = *maxPrice
	}
	// Floor clamp last: a ceiling misconfigured below the floor must never
	// drag the price under the margin floor
	if target < minPrice {
		target = minPrice
	}

	// Snap down onto the step grid above the floor, never below it.
	if target > minPrice {
		target = minPrice + ((target-minPrice)/step)*step
	}

	if target == currentPrice {
		return Decision{NewPrice: currentPrice, Reason: models.ReasonNoChange}
	}

	reason := models.ReasonCompetitorMatch
	if target < currentPrice && target == minPrice {
		reason = models.ReasonMarginFloorHit
	}

	return Decision{NewPrice: target, Reason: reason}
}

package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/casewatch/internal/models"
)

var hundred = decimal.NewFromInt(100)

// PercentChange returns (current-previous)*100/previous, or nil when previous is
// missing or zero. Scaling before dividing keeps the full division precision.
func PercentChange(previous *decimal.Decimal, current decimal.Decimal) *decimal.Decimal {
	if previous == nil || previous.IsZero() {
		return nil
	}
	change := current.Sub(*previous).Mul(hundred).Div(*previous)
	return &change
}

// Nearest scans history for the point with the smallest distance to target.
// Points after now are never considered. On equal distance the earlier entry in
// history wins.
func Nearest(history []models.PricePoint, target, now time.Time) (models.PricePoint, bool) {
	var best models.PricePoint
	var bestDist time.Duration
	found := false
	for _, p := range history {
		if p.Timestamp.After(now) {
			continue
		}
		d := p.Timestamp.Sub(target)
		if d < 0 {
			d = -d
		}
		if !found || d < bestDist {
			best, bestDist, found = p, d, true
		}
	}
	return best, found
}
